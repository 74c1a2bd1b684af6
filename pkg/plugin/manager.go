package plugin

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"Orchestra-Engine/internal/orchestration"
	"Orchestra-Engine/internal/plan"
)

// Manager keeps track of registered handler packs and installs their
// contributions into a host registry.
type Manager struct {
	mu        sync.RWMutex
	registry  map[string]*instance
	loader    Loader
	isolation IsolationStrategy
	resources map[string]any
	defaults  IsolationPolicy
}

type instance struct {
	mu       sync.Mutex
	Plugin   Plugin
	Info     Info
	State    State
	Config   map[string]any
	Policy   IsolationPolicy
	Source   string
	Provides []string
}

// NewManager constructs a manager and loads every enabled plugin from cfg.
func NewManager(cfg ManagerConfig, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		registry:  make(map[string]*instance),
		loader:    GoPluginLoader{},
		isolation: NewIsolationStrategy(nil),
		resources: make(map[string]any),
		defaults:  cfg.Defaults,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.isolation = NewIsolationStrategy(m.isolation)
	if err := m.loadConfigured(cfg); err != nil {
		return nil, err
	}
	return m, nil
}

// Register registers a plugin instance directly with the manager.
func (m *Manager) Register(id string, p Plugin, cfg map[string]any, policy IsolationPolicy) error {
	if id == "" {
		return errors.New("plugin id cannot be empty")
	}
	if strings.ContainsAny(id, ". ") {
		return fmt.Errorf("plugin id %q cannot contain dots or spaces", id)
	}
	if p == nil {
		return errors.New("plugin implementation cannot be nil")
	}
	info := p.Info()
	if err := ValidatePackInfo(info); err != nil {
		return fmt.Errorf("register plugin %s: %w", id, err)
	}
	if info.ID != "" && info.ID != id {
		return fmt.Errorf("plugin id mismatch: %s != %s", info.ID, id)
	}
	policy = MergePolicies(m.defaults, &policy)
	if err := EnsurePolicy(info, policy); err != nil {
		return err
	}
	if err := m.isolation.Validate(info, policy); err != nil {
		return err
	}
	if cfg == nil {
		cfg = map[string]any{}
	}
	if err := p.Configure(cfg); err != nil {
		return fmt.Errorf("configure plugin %s: %w", id, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.registry[id]; exists {
		return fmt.Errorf("plugin %s already registered", id)
	}
	m.registry[id] = &instance{Plugin: p, Info: mergeInfo(info, id), State: StateRegistered, Config: cfg, Policy: policy, Source: "manual"}
	return nil
}

// Load loads a plugin implementation from disk and registers it with the manager.
func (m *Manager) Load(id string, path string, cfg map[string]any, policy IsolationPolicy) error {
	if path == "" {
		return errors.New("plugin path cannot be empty")
	}
	p, err := m.loader.Load(path)
	if err != nil {
		return fmt.Errorf("load plugin from %s: %w", path, err)
	}
	if err := m.Register(id, p, cfg, policy); err != nil {
		return err
	}
	m.mu.Lock()
	m.registry[id].Source = path
	m.mu.Unlock()
	return nil
}

// Install initialises a plugin and registers its handlers and predicates
// into reg under the "<id>." prefix.
func (m *Manager) Install(ctx context.Context, id string, reg Registrar) error {
	inst, err := m.get(id)
	if err != nil {
		return err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.State == StateInstalled {
		return nil
	}
	execCtx := &ExecutionContext{C: ctx, Config: inst.Config, Resources: m.resources}
	if inst.State == StateRegistered || inst.State == StateStopped {
		if err := inst.Plugin.Init(execCtx.Clone()); err != nil {
			return fmt.Errorf("initialise plugin %s: %w", id, err)
		}
		inst.State = StateInitialised
	}
	if err := m.isolation.Prepare(inst.Info); err != nil {
		return fmt.Errorf("prepare isolation for %s: %w", id, err)
	}
	ns := &namespaced{prefix: id + ".", target: reg, info: inst.Info, policy: inst.Policy, isolation: m.isolation}
	if err := inst.Plugin.Register(ns); err != nil {
		_ = m.isolation.Cleanup(inst.Info)
		return fmt.Errorf("register plugin %s: %w", id, err)
	}
	inst.Provides = ns.names
	inst.State = StateInstalled
	return nil
}

// Stop releases a plugin's resources. Handlers it contributed stay in the
// registry and may fail once their resources are gone.
func (m *Manager) Stop(ctx context.Context, id string) error {
	inst, err := m.get(id)
	if err != nil {
		return err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.State != StateInstalled && inst.State != StateInitialised {
		return nil
	}
	execCtx := &ExecutionContext{C: ctx, Config: inst.Config, Resources: m.resources}
	if err := inst.Plugin.Stop(execCtx.Clone()); err != nil {
		return fmt.Errorf("stop plugin %s: %w", id, err)
	}
	if err := m.isolation.Cleanup(inst.Info); err != nil {
		return fmt.Errorf("cleanup isolation for %s: %w", id, err)
	}
	inst.State = StateStopped
	return nil
}

// InstallAll installs every registered plugin in id order.
func (m *Manager) InstallAll(ctx context.Context, reg Registrar) error {
	for _, id := range m.IDs() {
		if err := m.Install(ctx, id, reg); err != nil {
			return err
		}
	}
	return nil
}

// StopAll stops all installed plugins and reports every failure.
func (m *Manager) StopAll(ctx context.Context) error {
	var errs []error
	for _, id := range m.IDs() {
		if err := m.Stop(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// IDs returns the registered plugin ids, sorted.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.registry))
	for id := range m.registry {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// State returns the lifecycle state of a plugin.
func (m *Manager) State(id string) (State, error) {
	inst, err := m.get(id)
	if err != nil {
		return "", err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.State, nil
}

// Provides returns the fully qualified names a plugin installed.
func (m *Manager) Provides(id string) ([]string, error) {
	inst, err := m.get(id)
	if err != nil {
		return nil, err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return append([]string(nil), inst.Provides...), nil
}

func (m *Manager) get(id string) (*instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.registry[id]
	if !ok {
		return nil, fmt.Errorf("plugin %s not registered", id)
	}
	return inst, nil
}

func (m *Manager) loadConfigured(cfg ManagerConfig) error {
	for id, pluginCfg := range cfg.Plugins {
		if !pluginCfg.Enabled {
			continue
		}
		path := pluginCfg.Path
		if !filepath.IsAbs(path) && cfg.PluginDir != "" {
			path = filepath.Join(cfg.PluginDir, path)
		}
		policy := MergePolicies(cfg.Defaults, pluginCfg.Policy)
		if err := m.Load(id, path, cloneConfig(pluginCfg.Config), policy); err != nil {
			return err
		}
	}
	return nil
}

// namespaced admits, prefixes and records every contribution.
type namespaced struct {
	prefix    string
	target    Registrar
	info      Info
	policy    IsolationPolicy
	isolation IsolationStrategy
	names     []string
}

func (n *namespaced) admit(kind ContributionKind, name string) error {
	return n.isolation.Admit(n.info, n.policy, Contribution{Kind: kind, Name: name, Admitted: len(n.names)})
}

func (n *namespaced) RegisterHandler(name string, handler orchestration.TaskHandler) error {
	if err := n.admit(ContributionHandler, name); err != nil {
		return err
	}
	if err := n.target.RegisterHandler(n.prefix+name, handler); err != nil {
		return err
	}
	n.names = append(n.names, n.prefix+name)
	return nil
}

func (n *namespaced) RegisterPredicate(name string, factory plan.PredicateFactory) error {
	if err := n.admit(ContributionPredicate, name); err != nil {
		return err
	}
	if err := n.target.RegisterPredicate(n.prefix+name, factory); err != nil {
		return err
	}
	n.names = append(n.names, n.prefix+name)
	return nil
}

func mergeInfo(info Info, id string) Info {
	if info.ID == "" {
		info.ID = id
	}
	if info.Name == "" {
		info.Name = id
	}
	return info
}

func cloneConfig(cfg map[string]any) map[string]any {
	if cfg == nil {
		return map[string]any{}
	}
	cp := make(map[string]any, len(cfg))
	for k, v := range cfg {
		cp[k] = v
	}
	return cp
}
