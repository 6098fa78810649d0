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

package errors

import (
	"fmt"
	"time"
)

// ValidationError represents user input validation failures.
// Use this for invalid user input, malformed data, or constraint violations.
type ValidationError struct {
	// Field identifies which input field failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// ErrorType implements ErrorClassifier.
func (e *ValidationError) ErrorType() string { return "validation" }

// IsRetryable implements ErrorClassifier. Validation failures never succeed on retry.
func (e *ValidationError) IsRetryable() bool { return false }

// NotFoundError represents a resource not found error.
// Use this when a requested resource does not exist.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "workflow", "credential", "operation")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrorType implements ErrorClassifier.
func (e *NotFoundError) ErrorType() string { return "not_found" }

// IsRetryable implements ErrorClassifier.
func (e *NotFoundError) IsRetryable() bool { return false }

// ConflictError represents a creation that collides with an existing key.
type ConflictError struct {
	// Resource is the type of resource (e.g., "workflow", "credential")
	Resource string

	// ID is the identifier that already exists
	ID string
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s already exists: %s", e.Resource, e.ID)
}

// ErrorType implements ErrorClassifier.
func (e *ConflictError) ErrorType() string { return "conflict" }

// IsRetryable implements ErrorClassifier.
func (e *ConflictError) IsRetryable() bool { return false }

// InvalidStateTransitionError represents a rejected operation-manager state transition.
type InvalidStateTransitionError struct {
	// ID is the operation identifier.
	ID string

	// From is the current state.
	From string

	// To is the rejected target state.
	To string
}

// Error implements the error interface.
func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("operation %s: invalid transition %s -> %s", e.ID, e.From, e.To)
}

// ErrorType implements ErrorClassifier.
func (e *InvalidStateTransitionError) ErrorType() string { return "invalid_state_transition" }

// IsRetryable implements ErrorClassifier.
func (e *InvalidStateTransitionError) IsRetryable() bool { return false }

// VariableResolutionError represents a workflow template reference that
// could not be resolved and had no default.
type VariableResolutionError struct {
	// Step is the workflow step where the reference appeared.
	Step string

	// Reference is the raw ${...} expression that failed to resolve.
	Reference string
}

// Error implements the error interface.
func (e *VariableResolutionError) Error() string {
	return fmt.Sprintf("step %q: unresolved variable %q", e.Step, e.Reference)
}

// ErrorType implements ErrorClassifier.
func (e *VariableResolutionError) ErrorType() string { return "variable_resolution" }

// IsRetryable implements ErrorClassifier.
func (e *VariableResolutionError) IsRetryable() bool { return false }

// SchemaValidationError represents an input/output JSON schema mismatch.
type SchemaValidationError struct {
	// Subject identifies what was validated (e.g. "workflow input", "step foo output").
	Subject string

	// Cause is the underlying schema validator error.
	Cause error
}

// Error implements the error interface.
func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("schema validation failed for %s: %v", e.Subject, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *SchemaValidationError) Unwrap() error { return e.Cause }

// ErrorType implements ErrorClassifier.
func (e *SchemaValidationError) ErrorType() string { return "schema_validation" }

// IsRetryable implements ErrorClassifier.
func (e *SchemaValidationError) IsRetryable() bool { return false }

// ProviderError represents LLM provider failures.
// Use this for errors originating from external LLM providers.
type ProviderError struct {
	// Provider is the name of the LLM provider (e.g., "anthropic", "openai")
	Provider string

	// Code is the provider-specific error code
	Code int

	// StatusCode is the HTTP status code (if applicable)
	StatusCode int

	// Message is the human-readable error message
	Message string

	// Suggestion provides actionable guidance for resolution
	Suggestion string

	// RequestID correlates this error with provider logs
	RequestID string

	// Retryable marks this error as transient versus fatal. Set by the
	// provider/transport layer that classified the failure; the router
	// only fails over on transient errors.
	Retryable bool

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("provider %s error", e.Provider)

	if e.Code > 0 {
		msg = fmt.Sprintf("%s (%d)", msg, e.Code)
	}

	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s [HTTP %d]", msg, e.StatusCode)
	}

	msg = fmt.Sprintf("%s: %s", msg, e.Message)

	if e.RequestID != "" {
		msg = fmt.Sprintf("%s (request-id: %s)", msg, e.RequestID)
	}

	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *ProviderError) ErrorType() string { return "provider" }

// IsRetryable implements ErrorClassifier.
func (e *ProviderError) IsRetryable() bool { return e.Retryable }

// CredentialError represents a credential resolution failure (not found,
// disabled, expired, or the upstream secret store being unreachable).
type CredentialError struct {
	// CredentialID is the credential that failed to resolve.
	CredentialID string

	// Reason is a short machine-checkable reason, e.g. "disabled", "expired", "not_found".
	Reason string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *CredentialError) Error() string {
	return fmt.Sprintf("credential %s: %s", e.CredentialID, e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CredentialError) Unwrap() error { return e.Cause }

// ErrorType implements ErrorClassifier.
func (e *CredentialError) ErrorType() string { return "credential" }

// IsRetryable implements ErrorClassifier. Credential errors are not retried
// locally; the router tries the next fallback pair instead.
func (e *CredentialError) IsRetryable() bool { return false }

// CacheError represents a cache read or write failure. Per the core's
// propagation policy these are always recovered locally: a read failure
// is treated as a miss, a write failure is dropped. The type exists so
// callers can log it without treating it as a request failure.
type CacheError struct {
	// Op is the cache operation that failed (e.g. "get", "set").
	Op string

	// Key is the cache key involved, if any.
	Key string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *CacheError) Error() string {
	return fmt.Sprintf("cache %s %q: %v", e.Op, e.Key, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CacheError) Unwrap() error { return e.Cause }

// ErrorType implements ErrorClassifier.
func (e *CacheError) ErrorType() string { return "cache" }

// IsRetryable implements ErrorClassifier.
func (e *CacheError) IsRetryable() bool { return false }

// StorageError represents a persistence failure. Unlike CacheError this
// always propagates to the caller.
type StorageError struct {
	// Op is the storage operation that failed (e.g. "get", "create", "update", "delete").
	Op string

	// Entity is the entity kind (e.g. "workflow", "credential").
	Entity string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Entity, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *StorageError) Unwrap() error { return e.Cause }

// ErrorType implements ErrorClassifier.
func (e *StorageError) ErrorType() string { return "storage" }

// IsRetryable implements ErrorClassifier.
func (e *StorageError) IsRetryable() bool { return false }

// ConfigError represents configuration problems.
// Use this for configuration file errors, missing settings, or invalid config values.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "api_key", "database.host")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// TimeoutError represents operation timeouts.
// Use this when an operation exceeds its configured timeout.
type TimeoutError struct {
	// Operation describes what timed out (e.g., "LLM request", "workflow step")
	Operation string

	// Duration is how long the operation ran before timing out
	Duration time.Duration

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s operation timed out after %v", e.Operation, e.Duration)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *TimeoutError) ErrorType() string { return "timeout" }

// IsRetryable implements ErrorClassifier. Step timeouts are local failures;
// the executor does not retry, so this reports false even though the
// underlying operation may succeed on a fresh attempt.
func (e *TimeoutError) IsRetryable() bool { return false }
