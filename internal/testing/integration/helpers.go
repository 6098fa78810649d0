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

package integration

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	gwerrors "github.com/llmgateway/core/pkg/errors"
)

// RetryConfig configures retry behavior for transient failures.
type RetryConfig struct {
	// MaxAttempts is the maximum number of retry attempts (default 3).
	MaxAttempts int

	// InitialDelay is the delay before the first retry (default 2s).
	InitialDelay time.Duration

	// MaxDelay is the maximum delay between retries (default 8s).
	MaxDelay time.Duration

	// Multiplier is the backoff multiplier (default 2.0 for exponential).
	Multiplier float64

	// ShouldRetry determines if an error is retryable (default: checks common transient errors).
	ShouldRetry func(error) bool
}

// DefaultRetryConfig returns sensible defaults for integration test retries.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 2 * time.Second,
		MaxDelay:     8 * time.Second,
		Multiplier:   2.0,
		ShouldRetry:  IsTransientError,
	}
}

// Retry executes fn with exponential backoff on transient failures.
// Returns the last error if all attempts fail.
func Retry(ctx context.Context, fn func() error, cfg RetryConfig) error {
	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry aborted: %w", err)
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !cfg.ShouldRetry(err) {
			return fmt.Errorf("non-retryable error: %w", err)
		}

		if attempt < cfg.MaxAttempts {
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry aborted during backoff: %w", ctx.Err())
			case <-time.After(delay):
				delay = time.Duration(float64(delay) * cfg.Multiplier)
				if delay > cfg.MaxDelay {
					delay = cfg.MaxDelay
				}
			}
		}
	}

	return fmt.Errorf("max retry attempts (%d) exceeded: %w", cfg.MaxAttempts, lastErr)
}

// IsTransientError checks if an error is likely transient and retryable:
// network timeouts, provider errors with status 429, 500 or 503, and
// provider errors marked Retryable.
// Context timeouts and authentication failures are never transient.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	var provErr *gwerrors.ProviderError
	if errors.As(err, &provErr) {
		return provErr.StatusCode == http.StatusTooManyRequests ||
			provErr.StatusCode == http.StatusServiceUnavailable ||
			provErr.StatusCode == http.StatusInternalServerError ||
			provErr.Retryable
	}

	return false
}

// IsPermanentError checks if an error is permanent (authentication, not found, etc).
func IsPermanentError(err error) bool {
	if err == nil {
		return false
	}

	var provErr *gwerrors.ProviderError
	if errors.As(err, &provErr) {
		return provErr.StatusCode == http.StatusUnauthorized ||
			provErr.StatusCode == http.StatusForbidden ||
			provErr.StatusCode == http.StatusNotFound
	}

	return false
}

// WaitForServer waits for an HTTP server to become available.
// Returns an error if the server doesn't respond within the timeout.
func WaitForServer(ctx context.Context, url string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	client := &http.Client{Timeout: 1 * time.Second}

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("server did not become available: %w", ctx.Err())
		case <-ticker.C:
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				continue
			}
			resp, err := client.Do(req)
			if err == nil {
				resp.Body.Close()
				return nil
			}
		}
	}
}
