// Package plugin manages the lifecycle of LLM provider plugins: named
// bindings between a plugin_id and the llm.Provider factory that
// implements it. Registration and initialization are separate phases, so
// factories are cheap to register at wiring time and only pay their
// construction cost (credential resolution, SDK setup) when initialized.
package plugin

import (
	"context"
	"sync"

	"github.com/llmgateway/core/pkg/llm"

	gwerrors "github.com/llmgateway/core/pkg/errors"
)

// State is a plugin's lifecycle stage.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateReady         State = "ready"
	StateFailed        State = "failed"
	StateShuttingDown  State = "shutting_down"
	StateShutDown      State = "shut_down"
)

// transitions enumerates the legal state machine edges.
var transitions = map[State][]State{
	StateUninitialized: {StateInitializing},
	StateInitializing:  {StateReady, StateFailed},
	StateReady:         {StateShuttingDown},
	StateFailed:        {StateInitializing},
	StateShuttingDown:  {StateShutDown},
	StateShutDown:      {},
}

func allowed(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// entry tracks one registered plugin's factory, state, and (once ready)
// its instantiated llm.Provider.
type entry struct {
	factory  llm.ProviderFactory
	state    State
	provider llm.Provider
	err      error
}

// Registry tracks plugin factories and their lifecycle state. A plugin
// becomes callable only after Initialize succeeds and moves it to
// StateReady.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]*entry
	order   []string
}

// NewRegistry creates an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]*entry)}
}

// RegisterFactory registers a plugin factory under pluginID in
// StateUninitialized. Re-registering an already-registered ID is always
// an error, even if that plugin previously failed or was shut down; a
// plugin id is a one-time binding to a factory for the registry's life.
func (r *Registry) RegisterFactory(pluginID string, factory llm.ProviderFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.plugins[pluginID]; ok {
		return &gwerrors.ConflictError{Resource: "plugin", ID: pluginID}
	}
	r.plugins[pluginID] = &entry{factory: factory, state: StateUninitialized}
	r.order = append(r.order, pluginID)
	return nil
}

// InitAll initializes every registered plugin in registration order,
// resolving each plugin's credentials via credsFor. A plugin whose
// initializer fails lands in StateFailed and is refused by Get, but
// InitAll continues initializing the remaining plugins. The
// returned map contains one entry per plugin that failed to initialize,
// keyed by plugin id; a nil map means every plugin reached StateReady.
func (r *Registry) InitAll(ctx context.Context, credsFor func(pluginID string) llm.Credentials) map[string]error {
	r.mu.RLock()
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	r.mu.RUnlock()

	var failures map[string]error
	for _, id := range ids {
		if err := r.Initialize(ctx, id, credsFor(id)); err != nil {
			if failures == nil {
				failures = make(map[string]error)
			}
			failures[id] = err
		}
	}
	return failures
}

// ShutdownAll shuts down every ready plugin in reverse registration order,
// matching the order resources were brought up. Plugins that never
// reached StateReady (uninitialized or failed) are left as-is since they
// have no provider instance to release.
func (r *Registry) ShutdownAll() map[string]error {
	r.mu.RLock()
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	r.mu.RUnlock()

	var failures map[string]error
	for i := len(ids) - 1; i >= 0; i-- {
		id := ids[i]
		r.mu.RLock()
		e, ok := r.plugins[id]
		state := e.state
		r.mu.RUnlock()
		if !ok || state != StateReady {
			continue
		}
		if err := r.Shutdown(id); err != nil {
			if failures == nil {
				failures = make(map[string]error)
			}
			failures[id] = err
		}
	}
	return failures
}

// Initialize transitions pluginID to StateInitializing, invokes its
// factory with creds, and lands it in StateReady on success or StateFailed
// on error. Returns the factory's error verbatim on failure.
func (r *Registry) Initialize(ctx context.Context, pluginID string, creds llm.Credentials) error {
	r.mu.Lock()
	e, ok := r.plugins[pluginID]
	if !ok {
		r.mu.Unlock()
		return &gwerrors.NotFoundError{Resource: "plugin", ID: pluginID}
	}
	if !allowed(e.state, StateInitializing) {
		from := e.state
		r.mu.Unlock()
		return &gwerrors.InvalidStateTransitionError{ID: pluginID, From: string(from), To: string(StateInitializing)}
	}
	e.state = StateInitializing
	factory := e.factory
	r.mu.Unlock()

	provider, err := factory(creds)

	r.mu.Lock()
	defer r.mu.Unlock()
	e = r.plugins[pluginID]
	if err != nil {
		e.state = StateFailed
		e.err = err
		return err
	}
	e.state = StateReady
	e.provider = provider
	e.err = nil
	return nil
}

// Factory returns the registered factory for pluginID without touching
// its lifecycle state. Callers that need one provider instance per
// credential (the router) build their own instances from this rather
// than going through Initialize/Get, which track a single canonical
// instance per plugin ID.
func (r *Registry) Factory(pluginID string) (llm.ProviderFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.plugins[pluginID]
	if !ok {
		return nil, &gwerrors.NotFoundError{Resource: "plugin", ID: pluginID}
	}
	return e.factory, nil
}

// Get returns the ready provider for pluginID, a NotFoundError if it is not
// registered, or a ConfigError if it isn't ready.
func (r *Registry) Get(pluginID string) (llm.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.plugins[pluginID]
	if !ok {
		return nil, &gwerrors.NotFoundError{Resource: "plugin", ID: pluginID}
	}
	if e.state != StateReady {
		return nil, &gwerrors.ConfigError{Key: pluginID, Reason: "plugin is not ready (state: " + string(e.state) + ")"}
	}
	return e.provider, nil
}

// State returns the current lifecycle state of pluginID.
func (r *Registry) State(pluginID string) (State, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.plugins[pluginID]
	if !ok {
		return "", &gwerrors.NotFoundError{Resource: "plugin", ID: pluginID}
	}
	return e.state, nil
}

// Health runs the provider's HealthCheckable implementation if present,
// otherwise reports it as healthy if the plugin is ready.
func (r *Registry) Health(ctx context.Context, pluginID string) (llm.HealthCheckResult, error) {
	provider, err := r.Get(pluginID)
	if err != nil {
		return llm.HealthCheckResult{}, err
	}
	if checkable, ok := provider.(llm.HealthCheckable); ok {
		return checkable.HealthCheck(ctx), nil
	}
	return llm.HealthCheckResult{Installed: true, Authenticated: true, Working: true}, nil
}

// Shutdown transitions pluginID through StateShuttingDown to StateShutDown.
// Once shut down a plugin cannot be initialized again, and its ID cannot be
// registered again.
func (r *Registry) Shutdown(pluginID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.plugins[pluginID]
	if !ok {
		return &gwerrors.NotFoundError{Resource: "plugin", ID: pluginID}
	}
	if !allowed(e.state, StateShuttingDown) {
		return &gwerrors.InvalidStateTransitionError{ID: pluginID, From: string(e.state), To: string(StateShuttingDown)}
	}
	e.state = StateShuttingDown
	e.state = StateShutDown
	e.provider = nil
	return nil
}

// List returns the IDs of all registered plugins.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.plugins))
	for id := range r.plugins {
		ids = append(ids, id)
	}
	return ids
}
