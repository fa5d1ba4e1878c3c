package agent

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/nestorlabs/nestor/pkg/capability"
	"github.com/nestorlabs/nestor/pkg/config"
	"github.com/nestorlabs/nestor/pkg/logger"
	"github.com/nestorlabs/nestor/pkg/mediator"
	"github.com/nestorlabs/nestor/pkg/registry"
)

// mediatorAware is satisfied by every variant through BaseAgent.
type mediatorAware interface {
	SetMediator(*mediator.Mediator)
}

// AgentRegistry owns the agent instances and the capability index the
// mediator routes on. It is the AgentSource behind the message bus.
type AgentRegistry struct {
	reg  *registry.BaseRegistry[Agent]
	deps Deps
	med  *mediator.Mediator
	log  *slog.Logger

	mu       sync.RWMutex
	capIndex map[capability.Capability][]string
}

// NewRegistry builds all enabled agents from config and wires the mediator
// through them. A variant that fails to construct fails the whole registry;
// half a team is worse than an error at startup.
func NewRegistry(cfgs map[string]*config.AgentConfig, medCfg *config.MediatorConfig, deps Deps) (*AgentRegistry, error) {
	r := &AgentRegistry{
		reg:      registry.NewBaseRegistry[Agent](),
		deps:     deps,
		log:      logger.Component("agent.registry"),
		capIndex: map[capability.Capability][]string{},
	}

	for name, cfg := range cfgs {
		if cfg.Enabled != nil && !*cfg.Enabled {
			continue
		}
		a, err := New(name, cfg, deps)
		if err != nil {
			return nil, err
		}
		if err := r.reg.Register(name, a); err != nil {
			return nil, fmt.Errorf("[agent] registering %s: %w", name, err)
		}
	}
	if r.reg.Count() == 0 {
		return nil, fmt.Errorf("[agent] no agents enabled")
	}
	r.rebuildCapabilityIndex()

	if medCfg == nil {
		medCfg = &config.MediatorConfig{}
		medCfg.SetDefaults()
	}
	r.med = mediator.New(medCfg, r, deps.Metrics)
	for _, a := range r.reg.List() {
		if aware, ok := a.(mediatorAware); ok {
			aware.SetMediator(r.med)
		}
	}
	r.log.Info("agent registry ready", "agents", r.reg.Names())
	return r, nil
}

// Mediator returns the message bus owned by this registry.
func (r *AgentRegistry) Mediator() *mediator.Mediator { return r.med }

// Get resolves an agent by name.
func (r *AgentRegistry) Get(name string) (Agent, bool) { return r.reg.Get(name) }

// Agent implements mediator.AgentSource.
func (r *AgentRegistry) Agent(name string) (mediator.Agent, bool) {
	a, ok := r.reg.Get(name)
	if !ok {
		return nil, false
	}
	return a, true
}

// AgentNames implements mediator.AgentSource.
func (r *AgentRegistry) AgentNames() []string { return r.reg.Names() }

// AgentsWithCapability implements mediator.AgentSource via the index, so
// routing does not walk every agent per message.
func (r *AgentRegistry) AgentsWithCapability(cap capability.Capability) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := r.capIndex[cap]
	out := make([]string, len(names))
	copy(out, names)
	return out
}

func (r *AgentRegistry) rebuildCapabilityIndex() {
	index := map[capability.Capability][]string{}
	for _, name := range r.reg.Names() {
		a, ok := r.reg.Get(name)
		if !ok {
			continue
		}
		for _, c := range a.Capabilities().Sorted() {
			index[c] = append(index[c], name)
		}
	}
	r.mu.Lock()
	r.capIndex = index
	r.mu.Unlock()
}

// UpdateConfig applies a reloaded agent section. Tunable fields change in
// place; added or removed agents are handled structurally. Returns a
// human-readable list of what changed.
func (r *AgentRegistry) UpdateConfig(cfgs map[string]*config.AgentConfig) []string {
	var changes []string

	for name, cfg := range cfgs {
		enabled := cfg.Enabled == nil || *cfg.Enabled
		existing, present := r.reg.Get(name)

		switch {
		case present && !enabled:
			_ = existing.Close()
			_ = r.reg.Remove(name)
			changes = append(changes, fmt.Sprintf("removed %s", name))

		case present:
			cur := existing.Config()
			if cfg.Type != "" && cfg.Type != cur.Type {
				// Type changes need a rebuild; applying them live would leave
				// the old variant's state behind.
				changes = append(changes, fmt.Sprintf("ignored type change for %s (restart required)", name))
				continue
			}
			if cfg.Temperature != nil {
				cur.Temperature = cfg.Temperature
				changes = append(changes, fmt.Sprintf("updated %s temperature", name))
			}
			if cfg.MaxIterations > 0 && cfg.MaxIterations != cur.MaxIterations {
				cur.MaxIterations = cfg.MaxIterations
				changes = append(changes, fmt.Sprintf("updated %s max_iterations", name))
			}
			if cfg.Thinking != nil {
				cur.Thinking = cfg.Thinking
				changes = append(changes, fmt.Sprintf("updated %s thinking", name))
			}

		case enabled:
			a, err := New(name, cfg, r.deps)
			if err != nil {
				r.log.Warn("skipping new agent from reload", "name", name, "error", err)
				continue
			}
			if aware, ok := a.(mediatorAware); ok {
				aware.SetMediator(r.med)
			}
			if err := r.reg.Register(name, a); err == nil {
				changes = append(changes, fmt.Sprintf("added %s", name))
			}
		}
	}

	// Agents dropped from the config entirely.
	for _, name := range r.reg.Names() {
		if _, ok := cfgs[name]; !ok {
			if a, present := r.reg.Get(name); present {
				_ = a.Close()
				_ = r.reg.Remove(name)
				changes = append(changes, fmt.Sprintf("removed %s", name))
			}
		}
	}

	if len(changes) > 0 {
		r.rebuildCapabilityIndex()
		r.log.Info("agent config reloaded", "changes", changes)
	}
	return changes
}

// Shutdown stops the mediator first so no new work reaches agents that are
// closing.
func (r *AgentRegistry) Shutdown() {
	if r.med != nil {
		r.med.Shutdown()
	}
	for _, a := range r.reg.List() {
		if err := a.Close(); err != nil {
			r.log.Warn("agent close failed", "agent", a.Name(), "error", err)
		}
	}
}
