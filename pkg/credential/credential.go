// Package credential resolves credential IDs to llm.Credentials values,
// backed by a pluggable Backend (environment, vault, file, ...) with a
// TTL cache and request-coalescing refresh. A per-ID version counter lets
// a rotated credential be invalidated deliberately instead of only
// expiring on TTL.
package credential

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	gwerrors "github.com/llmgateway/core/pkg/errors"
	"github.com/llmgateway/core/pkg/llm"
)

// StoredCredential is the raw, backend-specific representation of a
// credential before it's decoded into a concrete llm.Credentials type.
type StoredCredential struct {
	ID       string
	Provider string // selects the Decoder registered under this name, e.g. "anthropic"
	Fields   map[string]string
}

// Backend loads the current StoredCredential for an ID. Implementations
// might read environment variables, a secrets manager, or a config file.
type Backend interface {
	Load(ctx context.Context, id string) (StoredCredential, error)
}

// Decoder turns a StoredCredential into the concrete llm.Credentials type
// its Provider field names.
type Decoder func(StoredCredential) (llm.Credentials, error)

type cacheEntry struct {
	creds   llm.Credentials
	version uint64
	expires time.Time
}

// Resolver resolves credential IDs to llm.Credentials, caching results
// for ttl and coalescing concurrent resolutions of the same ID via
// singleflight so a cache-miss stampede only hits the backend once.
type Resolver struct {
	backend  Backend
	decoders map[string]Decoder
	ttl      time.Duration

	mu       sync.RWMutex
	cache    map[string]cacheEntry
	versions map[string]uint64
	group    singleflight.Group
}

// NewResolver creates a Resolver backed by backend, decoding StoredCredential
// values with the decoder registered for each provider type.
func NewResolver(backend Backend, ttl time.Duration) *Resolver {
	return &Resolver{
		backend:  backend,
		decoders: make(map[string]Decoder),
		ttl:      ttl,
		cache:    make(map[string]cacheEntry),
		versions: make(map[string]uint64),
	}
}

// RegisterDecoder registers how StoredCredentials for providerType decode
// into a concrete llm.Credentials.
func (r *Resolver) RegisterDecoder(providerType string, decode Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[providerType] = decode
}

// Resolve returns the llm.Credentials for id, serving from cache when
// fresh and not superseded by Invalidate.
func (r *Resolver) Resolve(ctx context.Context, id string) (llm.Credentials, error) {
	r.mu.RLock()
	entry, ok := r.cache[id]
	currentVersion := r.versions[id]
	r.mu.RUnlock()

	if ok && entry.version == currentVersion && time.Now().Before(entry.expires) {
		return entry.creds, nil
	}

	v, err, _ := r.group.Do(id, func() (any, error) {
		return r.refresh(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(llm.Credentials), nil
}

// refresh loads and decodes id from the backend and repopulates the
// cache, stamping the entry with the version current at load time.
func (r *Resolver) refresh(ctx context.Context, id string) (llm.Credentials, error) {
	stored, err := r.backend.Load(ctx, id)
	if err != nil {
		if _, alreadyTyped := err.(*gwerrors.CredentialError); alreadyTyped {
			return nil, err
		}
		return nil, &gwerrors.CredentialError{CredentialID: id, Reason: "load failed", Cause: err}
	}

	r.mu.RLock()
	decode, ok := r.decoders[stored.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, &gwerrors.CredentialError{CredentialID: id, Reason: "no decoder registered for provider type " + stored.Provider}
	}

	creds, err := decode(stored)
	if err != nil {
		return nil, &gwerrors.CredentialError{CredentialID: id, Reason: "decode failed", Cause: err}
	}
	if err := creds.Validate(); err != nil {
		return nil, &gwerrors.CredentialError{CredentialID: id, Reason: "validation failed", Cause: err}
	}

	r.mu.Lock()
	version := r.versions[id]
	r.cache[id] = cacheEntry{creds: creds, version: version, expires: time.Now().Add(r.ttl)}
	r.mu.Unlock()

	return creds, nil
}

// Invalidate bumps id's version so the next Resolve call bypasses the
// cache and re-loads from the backend, regardless of remaining TTL. Used
// when a credential is known to have rotated.
func (r *Resolver) Invalidate(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.versions[id]++
}

// Version returns id's current monotonic version counter. The router
// compares this against the version it built a provider instance with to
// detect a rotation without waiting for TTL expiry.
func (r *Resolver) Version(id string) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.versions[id]
}
