package agent

import (
	"fmt"
	"plugin"
	"sync"

	"go.uber.org/zap"

	"github.com/yahoo/ychaos/ychaoserr"
)

// Registry maps each agent-type tag in a plan to a Factory producing an
// Agent instance from a validated config. Built-in agent types are
// registered by an explicit builtins.Register call (see agent/builtins);
// contrib agent types are loaded at runtime via LoadContrib.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	logger    *zap.Logger
}

// NewRegistry constructs an empty Registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		factories: make(map[string]Factory),
		logger:    logger,
	}
}

// Register adds factory under tag. Re-registering an existing tag
// overwrites it, matching a plan-reload workflow where a contrib agent
// may be recompiled and reloaded.
func (r *Registry) Register(tag string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[tag] = factory
	r.logger.Debug("registered agent type", zap.String("type", tag))
}

// LoadContrib opens a compiled Go plugin at soPath and registers its
// exported "NewAgent" symbol under tag. This is the Go analogue of the
// original's importlib-based dynamic agent loading.
func (r *Registry) LoadContrib(tag, soPath string) error {
	p, err := plugin.Open(soPath)
	if err != nil {
		return ychaoserr.NewConfigError(tag, fmt.Errorf("open contrib plugin %q: %w", soPath, err))
	}
	sym, err := p.Lookup("NewAgent")
	if err != nil {
		return ychaoserr.NewConfigError(tag, fmt.Errorf("contrib plugin %q missing NewAgent: %w", soPath, err))
	}
	factory, ok := sym.(func(map[string]any) (Config, Body, error))
	if !ok {
		return ychaoserr.NewConfigError(tag, fmt.Errorf("contrib plugin %q: NewAgent has wrong signature", soPath))
	}
	r.Register(tag, Factory(factory))
	return nil
}

// New instantiates an Agent for tag from raw config, returning
// ErrPluginNotFound wrapped as a ConfigError if tag has no registered
// factory.
func (r *Registry) New(tag string, raw map[string]any, logger *zap.Logger) (*Agent, error) {
	r.mu.RLock()
	factory, ok := r.factories[tag]
	r.mu.RUnlock()
	if !ok {
		return nil, ychaoserr.NewConfigError(tag, ychaoserr.ErrPluginNotFound)
	}
	config, body, err := factory(raw)
	if err != nil {
		return nil, ychaoserr.NewConfigError(tag, err)
	}
	return New(config, body, logger), nil
}

// Tags returns every currently registered type tag.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.factories))
	for t := range r.factories {
		tags = append(tags, t)
	}
	return tags
}
