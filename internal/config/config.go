// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the core engine's own settings: cache TTLs and
// thresholds, operation retention, router fallback ordering, and HTTP
// client timeouts for provider plugins. It does not configure the
// collaborator surfaces (HTTP routing, auth, CLI) that embed this engine.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	gwerrors "github.com/llmgateway/core/pkg/errors"
)

// Config is the complete core engine configuration.
type Config struct {
	Cache     CacheConfig     `yaml:"cache"`
	Router    RouterConfig    `yaml:"router"`
	Operation OperationConfig `yaml:"operation"`
	HTTP      HTTPConfig      `yaml:"http"`
}

// CacheConfig configures the response cache layer.
type CacheConfig struct {
	// ExactTTL is how long exact-match cache entries live.
	ExactTTL time.Duration `yaml:"exact_ttl"`

	// SemanticTTL is how long semantic cache entries live.
	SemanticTTL time.Duration `yaml:"semantic_ttl"`

	// SemanticThreshold is the minimum cosine similarity score for a
	// semantic cache hit, in [0, 1].
	SemanticThreshold float64 `yaml:"semantic_threshold"`

	// RedisAddr, when set, switches the KV cache backend from in-memory
	// to Redis. Empty means in-memory.
	RedisAddr string `yaml:"redis_addr,omitempty"`
}

// RouterConfig configures the provider router.
type RouterConfig struct {
	// CircuitBreakerThreshold is consecutive transient failures before a
	// (plugin_id, credential_id) pair is skipped in fallback chains. 0 disables it.
	CircuitBreakerThreshold int `yaml:"circuit_breaker_threshold"`

	// CircuitBreakerTimeout is how long a tripped pair is skipped before
	// being retried.
	CircuitBreakerTimeout time.Duration `yaml:"circuit_breaker_timeout"`
}

// OperationConfig configures the async operation manager.
type OperationConfig struct {
	// Retention is how long completed/failed/cancelled operations are kept
	// before cleanup_old removes them.
	Retention time.Duration `yaml:"retention"`
}

// HTTPConfig configures the shared HTTP client used by provider plugins
// and http_request workflow steps.
type HTTPConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	RetryAttempts  int           `yaml:"retry_attempts"`
	RetryMinBackoff time.Duration `yaml:"retry_min_backoff"`
}

// Default returns the engine's built-in defaults.
func Default() *Config {
	return &Config{
		Cache: CacheConfig{
			ExactTTL:          1 * time.Hour,
			SemanticTTL:       1 * time.Hour,
			SemanticThreshold: 0.92,
		},
		Router: RouterConfig{
			CircuitBreakerThreshold: 5,
			CircuitBreakerTimeout:   30 * time.Second,
		},
		Operation: OperationConfig{
			Retention: 24 * time.Hour,
		},
		HTTP: HTTPConfig{
			Timeout:         60 * time.Second,
			RetryAttempts:   2,
			RetryMinBackoff: 250 * time.Millisecond,
		},
	}
}

// Load reads a YAML config file and overlays the built-in defaults,
// then applies environment variable overrides via ApplyEnv.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnv(cfg)
			return cfg, nil
		}
		return nil, &gwerrors.ConfigError{Key: path, Reason: "reading config file", Cause: err}
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &gwerrors.ConfigError{Key: path, Reason: "parsing config file", Cause: err}
	}

	ApplyEnv(cfg)
	return cfg, nil
}

// ApplyEnv overlays environment variable overrides onto cfg. Supported
// variables:
//   - GATEWAY_CACHE_SEMANTIC_THRESHOLD: float, e.g. "0.9"
//   - GATEWAY_CACHE_REDIS_ADDR: string
//   - GATEWAY_ROUTER_CIRCUIT_BREAKER_THRESHOLD: int
//   - GATEWAY_OPERATION_RETENTION: Go duration string, e.g. "48h"
//   - GATEWAY_HTTP_TIMEOUT: Go duration string
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("GATEWAY_CACHE_SEMANTIC_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Cache.SemanticThreshold = f
		}
	}
	if v := os.Getenv("GATEWAY_CACHE_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("GATEWAY_ROUTER_CIRCUIT_BREAKER_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Router.CircuitBreakerThreshold = n
		}
	}
	if v := os.Getenv("GATEWAY_OPERATION_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Operation.Retention = d
		}
	}
	if v := os.Getenv("GATEWAY_HTTP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.HTTP.Timeout = d
		}
	}
}

// Validate checks the configuration for internally-inconsistent values.
func (c *Config) Validate() error {
	if c.Cache.SemanticThreshold < 0 || c.Cache.SemanticThreshold > 1 {
		return &gwerrors.ConfigError{
			Key:    "cache.semantic_threshold",
			Reason: fmt.Sprintf("must be in [0, 1], got %v", c.Cache.SemanticThreshold),
		}
	}
	if c.Router.CircuitBreakerThreshold < 0 {
		return &gwerrors.ConfigError{
			Key:    "router.circuit_breaker_threshold",
			Reason: "must be >= 0",
		}
	}
	if c.HTTP.Timeout <= 0 {
		return &gwerrors.ConfigError{
			Key:    "http.timeout",
			Reason: "must be positive",
		}
	}
	return nil
}

// redactedEnvKeys lists env vars this package reads, for diagnostics that
// want to print which overrides were in play without leaking secret values.
var redactedEnvKeys = []string{
	"GATEWAY_CACHE_SEMANTIC_THRESHOLD",
	"GATEWAY_CACHE_REDIS_ADDR",
	"GATEWAY_ROUTER_CIRCUIT_BREAKER_THRESHOLD",
	"GATEWAY_OPERATION_RETENTION",
	"GATEWAY_HTTP_TIMEOUT",
}

// ActiveOverrides returns the names of environment variables from
// redactedEnvKeys that are currently set, without their values.
func ActiveOverrides() []string {
	var active []string
	for _, k := range redactedEnvKeys {
		if _, ok := os.LookupEnv(k); ok {
			active = append(active, k)
		}
	}
	return active
}

// String renders a human-readable one-line summary, useful in startup logs.
func (c *Config) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "cache(exact_ttl=%s semantic_ttl=%s threshold=%.2f) ", c.Cache.ExactTTL, c.Cache.SemanticTTL, c.Cache.SemanticThreshold)
	fmt.Fprintf(&b, "router(cb_threshold=%d cb_timeout=%s) ", c.Router.CircuitBreakerThreshold, c.Router.CircuitBreakerTimeout)
	fmt.Fprintf(&b, "operation(retention=%s) ", c.Operation.Retention)
	fmt.Fprintf(&b, "http(timeout=%s retries=%d)", c.HTTP.Timeout, c.HTTP.RetryAttempts)
	return b.String()
}
