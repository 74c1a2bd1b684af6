package plugin

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ManagerConfig describes how the plugin manager should behave.
type ManagerConfig struct {
	PluginDir string                  `json:"plugin_dir" yaml:"plugin_dir"`
	Defaults  IsolationPolicy         `json:"defaults" yaml:"defaults"`
	Plugins   map[string]PluginConfig `json:"plugins" yaml:"plugins"`
}

// PluginConfig is the configuration block for a single plugin instance.
type PluginConfig struct {
	Enabled bool             `json:"enabled" yaml:"enabled"`
	Path    string           `json:"path" yaml:"path"`
	Config  map[string]any   `json:"config" yaml:"config"`
	Policy  *IsolationPolicy `json:"policy" yaml:"policy"`
}

// IsolationPolicy governs which capabilities a plugin may declare and how
// many handlers and predicates it may contribute. Zero means no limit.
type IsolationPolicy struct {
	AllowedCapabilities []Capability `json:"allowed_capabilities" yaml:"allowed_capabilities"`
	DeniedCapabilities  []Capability `json:"denied_capabilities" yaml:"denied_capabilities"`
	MaxContributions    int          `json:"max_contributions" yaml:"max_contributions"`
}

// Merge returns a new policy using values from other when not present.
func (p IsolationPolicy) Merge(other IsolationPolicy) IsolationPolicy {
	if len(p.AllowedCapabilities) == 0 {
		p.AllowedCapabilities = other.AllowedCapabilities
	}
	if len(p.DeniedCapabilities) == 0 {
		p.DeniedCapabilities = other.DeniedCapabilities
	}
	if p.MaxContributions == 0 {
		p.MaxContributions = other.MaxContributions
	}
	return p
}

// LoadManagerConfig reads a YAML file into a ManagerConfig.
func LoadManagerConfig(path string) (ManagerConfig, error) {
	var cfg ManagerConfig
	if path == "" {
		return cfg, errors.New("config path cannot be empty")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read plugin config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal plugin config: %w", err)
	}
	if cfg.Plugins == nil {
		cfg.Plugins = map[string]PluginConfig{}
	}
	return cfg, nil
}

// Validate ensures the manager configuration is internally consistent.
func (c ManagerConfig) Validate() error {
	for id, plugin := range c.Plugins {
		if id == "" {
			return errors.New("plugin id cannot be empty")
		}
		if strings.ContainsAny(id, ". ") {
			return fmt.Errorf("plugin id %q cannot contain dots or spaces", id)
		}
		if !plugin.Enabled {
			continue
		}
		if plugin.Path == "" {
			return fmt.Errorf("plugin %s path cannot be empty when enabled", id)
		}
	}
	return nil
}
