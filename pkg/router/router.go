// Package router maps a logical model ID to a live llm.Provider instance,
// keyed by (plugin_id, credential_id) so the same plugin activated with
// two different credentials gets two independent provider instances.
// Routes carry an ordered fallback chain; retryable provider failures
// advance to the next pair, gated by a per-pair circuit breaker, and a
// singleflight instance cache ensures concurrent requests for a cold
// (plugin, credential) pair share one rebuild instead of racing the
// plugin registry.
package router

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	gwerrors "github.com/llmgateway/core/pkg/errors"
	"github.com/llmgateway/core/pkg/credential"
	"github.com/llmgateway/core/pkg/llm"
	"github.com/llmgateway/core/pkg/plugin"
)

// ErrAllPairsFailed indicates every fallback pair for a model was tried
// and none succeeded.
var ErrAllPairsFailed = errors.New("all provider fallback pairs failed")

// FallbackPair names one plugin/credential combination to try for a
// logical model, in priority order.
type FallbackPair struct {
	PluginID     string
	CredentialID string
}

// ModelRoute maps a logical model ID to an ordered list of fallback
// pairs to attempt.
type ModelRoute struct {
	ModelID  string
	Fallback []FallbackPair
}

// Config configures circuit breaker sensitivity for the router.
type Config struct {
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration
}

// instanceKey identifies one cached provider instance.
type instanceKey struct {
	pluginID     string
	credentialID string
}

// Router resolves a logical model ID to a live llm.Provider, rebuilding
// and caching provider instances per (plugin_id, credential_id) pair and
// falling over to the next pair in a route on a retryable failure.
type Router struct {
	plugins   *plugin.Registry
	resolver  *credential.Resolver
	routes    map[string]ModelRoute
	circuit   *circuitBreaker
	group     singleflight.Group

	mu        sync.RWMutex
	instances map[instanceKey]cachedInstance
}

// cachedInstance pairs a built provider with the credential version it
// was built against, so a rotation detected via the resolver's version
// counter forces a rebuild even when the instance itself is still live.
type cachedInstance struct {
	provider llm.Provider
	version  uint64
}

// New creates a Router over plugins and a credential resolver. routes
// should be populated with AddRoute before Complete/Stream is called.
func New(plugins *plugin.Registry, resolver *credential.Resolver, cfg Config) *Router {
	r := &Router{
		plugins:   plugins,
		resolver:  resolver,
		routes:    make(map[string]ModelRoute),
		instances: make(map[instanceKey]cachedInstance),
	}
	if cfg.CircuitBreakerThreshold > 0 {
		r.circuit = newCircuitBreaker(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerTimeout)
	}
	return r
}

// AddRoute registers the fallback chain for a logical model ID.
func (r *Router) AddRoute(route ModelRoute) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[route.ModelID] = route
}

// CircuitBreakerStatus returns the current breaker state for every
// fallback pair that has seen at least one success or failure.
func (r *Router) CircuitBreakerStatus() map[string]Status {
	if r.circuit == nil {
		return nil
	}
	return r.circuit.Status()
}

// InvalidateCredential drops every cached instance keyed to credentialID
// and bumps the credential resolver's version, forcing the next request
// to rebuild with freshly resolved credentials.
func (r *Router) InvalidateCredential(credentialID string) {
	r.resolver.Invalidate(credentialID)

	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.instances {
		if k.credentialID == credentialID {
			delete(r.instances, k)
		}
	}
}

// instanceFor returns the cached provider for key, building (and caching)
// it via the plugin registry + credential resolver on a miss. A cached
// instance whose credential version no longer matches the resolver's is
// treated as a miss and rebuilt. Concurrent misses for the same key
// coalesce onto a single rebuild.
func (r *Router) instanceFor(ctx context.Context, key instanceKey) (llm.Provider, error) {
	currentVersion := r.resolver.Version(key.credentialID)

	r.mu.RLock()
	inst, ok := r.instances[key]
	r.mu.RUnlock()
	if ok && inst.version == currentVersion {
		return inst.provider, nil
	}

	groupKey := key.pluginID + "|" + key.credentialID
	v, err, _ := r.group.Do(groupKey, func() (any, error) {
		version := r.resolver.Version(key.credentialID)
		creds, err := r.resolver.Resolve(ctx, key.credentialID)
		if err != nil {
			return nil, err
		}
		factory, err := r.plugins.Factory(key.pluginID)
		if err != nil {
			return nil, err
		}
		provider, err := factory(creds)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.instances[key] = cachedInstance{provider: provider, version: version}
		r.mu.Unlock()
		return provider, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(llm.Provider), nil
}

// Complete resolves modelID's route and tries each fallback pair in
// order, respecting the circuit breaker and failing over on retryable
// errors.
func (r *Router) Complete(ctx context.Context, modelID string, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	r.mu.RLock()
	route, ok := r.routes[modelID]
	r.mu.RUnlock()
	if !ok {
		return nil, &gwerrors.NotFoundError{Resource: "model_route", ID: modelID}
	}

	var lastErr error
	var tried []string
	for _, pair := range route.Fallback {
		label := pair.PluginID + ":" + pair.CredentialID
		if r.circuit != nil && !r.circuit.allowRequest(label) {
			lastErr = fmt.Errorf("%w: %s", ErrCircuitOpen, label)
			tried = append(tried, label)
			continue
		}

		provider, err := r.instanceFor(ctx, instanceKey{pluginID: pair.PluginID, credentialID: pair.CredentialID})
		if err != nil {
			lastErr = err
			tried = append(tried, label)
			if isCredentialError(err) {
				continue // try next fallback pair rather than counting against the circuit
			}
			if r.circuit != nil {
				r.circuit.recordFailure(label)
			}
			continue
		}

		resp, err := provider.Complete(ctx, req)
		if err == nil {
			if r.circuit != nil {
				r.circuit.recordSuccess(label)
			}
			return resp, nil
		}

		if r.circuit != nil {
			r.circuit.recordFailure(label)
		}
		lastErr = err
		tried = append(tried, label)

		if !shouldFailover(err) {
			return nil, fmt.Errorf("plugin %s: %w", pair.PluginID, err)
		}
	}

	var provErr *gwerrors.ProviderError
	if !errors.As(lastErr, &provErr) {
		return nil, &gwerrors.ProviderError{
			Provider:   "router",
			Message:    fmt.Sprintf("all fallback pairs failed (tried: %v)", tried),
			Suggestion: "Check plugin health and credential validity",
			Cause:      lastErr,
		}
	}
	return nil, fmt.Errorf("all fallback pairs failed (tried: %v): %w", tried, lastErr)
}

// Stream behaves like Complete but returns a streaming channel.
func (r *Router) Stream(ctx context.Context, modelID string, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	r.mu.RLock()
	route, ok := r.routes[modelID]
	r.mu.RUnlock()
	if !ok {
		return nil, &gwerrors.NotFoundError{Resource: "model_route", ID: modelID}
	}

	var lastErr error
	var tried []string
	for _, pair := range route.Fallback {
		label := pair.PluginID + ":" + pair.CredentialID
		if r.circuit != nil && !r.circuit.allowRequest(label) {
			lastErr = fmt.Errorf("%w: %s", ErrCircuitOpen, label)
			tried = append(tried, label)
			continue
		}

		provider, err := r.instanceFor(ctx, instanceKey{pluginID: pair.PluginID, credentialID: pair.CredentialID})
		if err != nil {
			lastErr = err
			tried = append(tried, label)
			if isCredentialError(err) {
				continue
			}
			if r.circuit != nil {
				r.circuit.recordFailure(label)
			}
			continue
		}

		chunks, err := provider.Stream(ctx, req)
		if err == nil {
			if r.circuit != nil {
				r.circuit.recordSuccess(label)
			}
			return chunks, nil
		}

		if r.circuit != nil {
			r.circuit.recordFailure(label)
		}
		lastErr = err
		tried = append(tried, label)

		if !shouldFailover(err) {
			return nil, fmt.Errorf("plugin %s: %w", pair.PluginID, err)
		}
	}

	return nil, fmt.Errorf("%w (tried: %v): %v", ErrAllPairsFailed, tried, lastErr)
}

func isCredentialError(err error) bool {
	var credErr *gwerrors.CredentialError
	return errors.As(err, &credErr)
}

// shouldFailover classifies which errors advance to the next pair: retry
// on server errors, rate limiting, and timeouts; never on 401/403.
func shouldFailover(err error) bool {
	if err == nil {
		return false
	}

	var provErr *gwerrors.ProviderError
	if errors.As(err, &provErr) {
		if provErr.StatusCode == http.StatusUnauthorized || provErr.StatusCode == http.StatusForbidden {
			return false
		}
		return provErr.StatusCode >= 500 ||
			provErr.StatusCode == http.StatusTooManyRequests ||
			provErr.StatusCode == http.StatusRequestTimeout ||
			provErr.Retryable
	}

	var timeoutErr *gwerrors.TimeoutError
	if errors.As(err, &timeoutErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, ErrCircuitOpen) {
		return true
	}

	type temporary interface{ Temporary() bool }
	if temp, ok := err.(temporary); ok {
		return temp.Temporary()
	}
	return false
}
