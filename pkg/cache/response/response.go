// Package response implements the LLM response cache: an exact-match
// fingerprint cache and a semantic (embedding similarity) cache layered
// on top of the generic cache.Cache contract. The exact layer is
// consulted first; only on a miss does the semantic layer pay for an
// embedding call.
package response

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/llmgateway/core/pkg/cache"
	"github.com/llmgateway/core/pkg/embedding"
	"github.com/llmgateway/core/pkg/llm"

	gwerrors "github.com/llmgateway/core/pkg/errors"
)

// CachedResponse is a stored completion response plus the fingerprint
// metadata needed to serve it back out.
type CachedResponse struct {
	Response    llm.CompletionResponse
	CachedAt    time.Time
	ModelID     string
	Fingerprint string

	// HitCount is a monotonically non-decreasing read counter, tracked in
	// a sibling cache key so it can be incremented without a
	// read-modify-write of the response payload itself. Best-effort: a
	// lost increment on process crash is acceptable.
	HitCount int64
}

// FingerprintOptions controls which sampling parameters participate in
// the exact-cache key. Excluding temperature lets responses generated at
// different temperatures share one cache slot; the same for max_tokens.
type FingerprintOptions struct {
	IncludeTemperature bool
	IncludeMaxTokens   bool
}

// DefaultFingerprintOptions includes every output-affecting parameter.
func DefaultFingerprintOptions() FingerprintOptions {
	return FingerprintOptions{IncludeTemperature: true, IncludeMaxTokens: true}
}

// Fingerprint deterministically hashes the parts of a completion request
// that affect its output: model, messages, and sampling parameters.
// Canonical JSON (sorted map keys, via encoding/json's default map
// ordering) keeps the hash stable across equivalent requests.
func Fingerprint(modelID string, req llm.CompletionRequest) (string, error) {
	return FingerprintWithOptions(modelID, req, DefaultFingerprintOptions())
}

// FingerprintWithOptions is Fingerprint with explicit control over which
// sampling parameters enter the key.
func FingerprintWithOptions(modelID string, req llm.CompletionRequest, opts FingerprintOptions) (string, error) {
	type canonical struct {
		ModelID     string        `json:"model_id"`
		Messages    []llm.Message `json:"messages"`
		Temperature *float64      `json:"temperature,omitempty"`
		MaxTokens   *int          `json:"max_tokens,omitempty"`
		Tools       []llm.Tool    `json:"tools,omitempty"`
	}
	c := canonical{
		ModelID:  modelID,
		Messages: req.Messages,
		Tools:    req.Tools,
	}
	if opts.IncludeTemperature {
		c.Temperature = req.Temperature
	}
	if opts.IncludeMaxTokens {
		c.MaxTokens = req.MaxTokens
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return "", &gwerrors.CacheError{Op: "fingerprint", Cause: err}
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// DefaultNamespace is the key prefix new exact caches use unless
// overridden, matching the response cache's default namespace.
const DefaultNamespace = "llm:responses"

// ExactCache serves completion responses by exact fingerprint match.
type ExactCache struct {
	store     cache.Cache
	ttl       time.Duration
	namespace string

	mu         sync.Mutex
	byModel    map[string]map[string]struct{} // modelID -> set of fingerprints, for InvalidateModel
}

// NewExactCache wraps store with a fixed TTL for every entry written,
// keyed under DefaultNamespace.
func NewExactCache(store cache.Cache, ttl time.Duration) *ExactCache {
	return NewExactCacheWithNamespace(store, ttl, DefaultNamespace)
}

// NewExactCacheWithNamespace is NewExactCache with an explicit key prefix,
// letting multiple cache instances share one underlying store.Cache
// without colliding.
func NewExactCacheWithNamespace(store cache.Cache, ttl time.Duration, namespace string) *ExactCache {
	return &ExactCache{store: store, ttl: ttl, namespace: namespace, byModel: make(map[string]map[string]struct{})}
}

func (c *ExactCache) key(fingerprint string) string {
	return c.namespace + ":exact:" + fingerprint
}

func (c *ExactCache) hitKey(fingerprint string) string {
	return c.namespace + ":exact:hits:" + fingerprint
}

// Get returns the cached response for the given fingerprint, if any. A hit
// increments a sibling hit-count key; the returned CachedResponse reflects
// the post-increment count.
func (c *ExactCache) Get(ctx context.Context, fingerprint string) (*CachedResponse, bool, error) {
	raw, ok, err := c.store.Get(ctx, c.key(fingerprint))
	if err != nil || !ok {
		return nil, ok, err
	}
	var cr CachedResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return nil, false, &gwerrors.CacheError{Op: "decode", Key: fingerprint, Cause: err}
	}
	if n, err := c.store.Increment(ctx, c.hitKey(fingerprint), 1); err == nil {
		cr.HitCount = n
	}
	return &cr, true, nil
}

// Put stores resp under fingerprint with the cache's default TTL using
// compare-and-set-if-absent semantics: the first writer for a given
// fingerprint wins and later concurrent writers become no-ops, per the
// cache's single-flight-on-write policy.
func (c *ExactCache) Put(ctx context.Context, fingerprint, modelID string, resp llm.CompletionResponse) error {
	return c.SetWithTTL(ctx, fingerprint, modelID, resp, c.ttl)
}

// SetWithTTL is Put with a caller-supplied TTL overriding the cache's
// default.
func (c *ExactCache) SetWithTTL(ctx context.Context, fingerprint, modelID string, resp llm.CompletionResponse, ttl time.Duration) error {
	cr := CachedResponse{Response: resp, CachedAt: time.Now(), ModelID: modelID, Fingerprint: fingerprint}
	raw, err := json.Marshal(cr)
	if err != nil {
		return &gwerrors.CacheError{Op: "encode", Key: fingerprint, Cause: err}
	}
	written, err := c.store.SetIfAbsent(ctx, c.key(fingerprint), raw, ttl)
	if err != nil {
		return err
	}
	if written {
		c.mu.Lock()
		if c.byModel[modelID] == nil {
			c.byModel[modelID] = make(map[string]struct{})
		}
		c.byModel[modelID][fingerprint] = struct{}{}
		c.mu.Unlock()
	}
	return nil
}

// Invalidate evicts the entry for fingerprint, if any. A subsequent Get
// for the same fingerprint observes a miss.
func (c *ExactCache) Invalidate(ctx context.Context, fingerprint string) error {
	if err := c.store.Delete(ctx, c.key(fingerprint)); err != nil {
		return err
	}
	return c.store.Delete(ctx, c.hitKey(fingerprint))
}

// InvalidateModel evicts every entry written for modelID.
func (c *ExactCache) InvalidateModel(ctx context.Context, modelID string) error {
	c.mu.Lock()
	fingerprints := make([]string, 0, len(c.byModel[modelID]))
	for fp := range c.byModel[modelID] {
		fingerprints = append(fingerprints, fp)
	}
	delete(c.byModel, modelID)
	c.mu.Unlock()

	for _, fp := range fingerprints {
		if err := c.Invalidate(ctx, fp); err != nil {
			return err
		}
	}
	return nil
}

// InvalidateAll evicts every entry in this cache's namespace.
func (c *ExactCache) InvalidateAll(ctx context.Context) error {
	c.mu.Lock()
	c.byModel = make(map[string]map[string]struct{})
	c.mu.Unlock()

	_, err := c.store.DeletePattern(ctx, c.namespace+":*")
	return err
}

// Stats is a point-in-time snapshot of the exact cache's occupancy.
type Stats struct {
	// Entries is the number of fingerprint->response keys this ExactCache
	// has written and not invalidated, excluding their sibling hit-count
	// keys. Entries whose TTL has lapsed in the store are still counted.
	Entries int
}

// Stats reports the current number of cached entries.
func (c *ExactCache) Stats(ctx context.Context) (Stats, error) {
	c.mu.Lock()
	n := 0
	for _, fps := range c.byModel {
		n += len(fps)
	}
	c.mu.Unlock()
	return Stats{Entries: n}, nil
}

// semanticEntry is one embedding-indexed response held in memory. The
// semantic index itself lives in process memory (nearest-neighbor scan
// over a modest working set); only the response payload round-trips
// through cache.Cache so it can be evicted/shared via Redis.
type semanticEntry struct {
	key       string
	embedding []float64
	expires   time.Time
}

// SemanticCache serves cached responses whose query embedding is within
// a similarity threshold of a new request's embedding, avoiding an exact
// fingerprint match requirement for near-duplicate prompts.
type SemanticCache struct {
	store      cache.Cache
	embedder   embedding.Provider
	threshold  float64
	ttl        time.Duration
	maxEntries int

	mu      sync.RWMutex
	entries []semanticEntry
}

// NewSemanticCache wraps store with an embedding provider and acceptance
// threshold (cosine similarity in [0,1]; higher is stricter). A threshold
// outside [0, 1] is clamped into range rather than rejected. The in-memory
// similarity index is unbounded; use NewSemanticCacheWithLimit to cap it.
func NewSemanticCache(store cache.Cache, embedder embedding.Provider, threshold float64, ttl time.Duration) *SemanticCache {
	return NewSemanticCacheWithLimit(store, embedder, threshold, ttl, 0)
}

// NewSemanticCacheWithLimit is NewSemanticCache with an explicit cap on
// the number of embeddings held in the in-memory similarity index; the
// oldest entry is evicted once the cap is exceeded.
func NewSemanticCacheWithLimit(store cache.Cache, embedder embedding.Provider, threshold float64, ttl time.Duration, maxEntries int) *SemanticCache {
	if threshold < 0 {
		threshold = 0
	} else if threshold > 1 {
		threshold = 1
	}
	return &SemanticCache{store: store, embedder: embedder, threshold: threshold, ttl: ttl, maxEntries: maxEntries}
}

// Invalidate drops key from the in-memory similarity index and the
// underlying store, if present.
func (c *SemanticCache) Invalidate(ctx context.Context, key string) error {
	c.mu.Lock()
	live := c.entries[:0]
	for _, e := range c.entries {
		if e.key != key {
			live = append(live, e)
		}
	}
	c.entries = live
	c.mu.Unlock()
	return c.store.Delete(ctx, key)
}

// InvalidateAll clears the entire semantic index and its backing entries.
func (c *SemanticCache) InvalidateAll(ctx context.Context) error {
	c.mu.Lock()
	keys := make([]string, len(c.entries))
	for i, e := range c.entries {
		keys[i] = e.key
	}
	c.entries = nil
	c.mu.Unlock()

	for _, k := range keys {
		if err := c.store.Delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

// Get embeds query and returns the best cached response whose similarity
// meets the configured threshold, if any.
func (c *SemanticCache) Get(ctx context.Context, query string) (*CachedResponse, bool, error) {
	vec, err := c.embedder.Embed(ctx, query)
	if err != nil {
		return nil, false, &gwerrors.CacheError{Op: "embed", Cause: err}
	}

	c.mu.RLock()
	best := -1.0
	var bestKey string
	now := time.Now()
	for _, e := range c.entries {
		if now.After(e.expires) {
			continue
		}
		sim := cosineSimilarity(vec, e.embedding)
		if sim > best {
			best = sim
			bestKey = e.key
		}
	}
	c.mu.RUnlock()

	if best < c.threshold {
		return nil, false, nil
	}

	raw, ok, err := c.store.Get(ctx, bestKey)
	if err != nil || !ok {
		return nil, false, err
	}
	var cr CachedResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return nil, false, &gwerrors.CacheError{Op: "decode", Key: bestKey, Cause: err}
	}
	if n, err := c.store.Increment(ctx, "hits:"+bestKey, 1); err == nil {
		cr.HitCount = n
	}
	return &cr, true, nil
}

// Put embeds query, stores resp under a fresh key, and indexes the
// embedding for future similarity lookups.
func (c *SemanticCache) Put(ctx context.Context, query, modelID string, resp llm.CompletionResponse) error {
	vec, err := c.embedder.Embed(ctx, query)
	if err != nil {
		return &gwerrors.CacheError{Op: "embed", Cause: err}
	}

	fingerprint, err := Fingerprint(modelID, llm.CompletionRequest{Messages: []llm.Message{{Role: llm.MessageRoleUser, Content: query}}})
	if err != nil {
		return err
	}
	key := "semantic:" + fingerprint

	cr := CachedResponse{Response: resp, CachedAt: time.Now(), ModelID: modelID, Fingerprint: fingerprint}
	raw, err := json.Marshal(cr)
	if err != nil {
		return &gwerrors.CacheError{Op: "encode", Key: key, Cause: err}
	}
	written, err := c.store.SetIfAbsent(ctx, key, raw, c.ttl)
	if err != nil {
		return err
	}
	if !written {
		return nil
	}

	c.mu.Lock()
	c.entries = append(c.entries, semanticEntry{key: key, embedding: vec, expires: time.Now().Add(c.ttl)})
	c.pruneLocked()
	c.mu.Unlock()
	return nil
}

// pruneLocked drops expired entries and, if maxEntries is set, the
// oldest surviving entries beyond the cap; callers must hold c.mu.
func (c *SemanticCache) pruneLocked() {
	now := time.Now()
	live := c.entries[:0]
	for _, e := range c.entries {
		if now.Before(e.expires) {
			live = append(live, e)
		}
	}
	if c.maxEntries > 0 && len(live) > c.maxEntries {
		live = live[len(live)-c.maxEntries:]
	}
	c.entries = live
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// PromptText concatenates a request's messages, in order, into the text a
// semantic cache embeds and compares; exported so callers building a
// CompletionRequest share the exact same text-extraction rule as
// SemanticCache.Get/Put.
func PromptText(req llm.CompletionRequest) string {
	out := ""
	for i, m := range req.Messages {
		if i > 0 {
			out += "\n"
		}
		out += m.Content
	}
	return out
}
