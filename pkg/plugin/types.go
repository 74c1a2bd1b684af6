package plugin

// Type represents the functional category of a plugin.
type Type string

const (
	// TypeHandlers plugins contribute task handlers.
	TypeHandlers Type = "handlers"
	// TypePredicates plugins contribute condition predicates.
	TypePredicates Type = "predicates"
	// TypeMixed plugins contribute both.
	TypeMixed Type = "mixed"
)

// Capability expresses optional features a plugin's handlers may need.
type Capability string

const (
	CapabilityFilesystem Capability = "filesystem"
	CapabilityNetwork    Capability = "network"
	CapabilityExecution  Capability = "execution"
)

// Info contains descriptive metadata for a plugin implementation.
type Info struct {
	ID           string
	Name         string
	Description  string
	Author       string
	Version      string
	Category     Type
	Capabilities []Capability
}

// State represents the lifecycle position of a plugin instance.
type State string

const (
	StateRegistered  State = "registered"
	StateInitialised State = "initialised"
	StateInstalled   State = "installed"
	StateStopped     State = "stopped"
)
