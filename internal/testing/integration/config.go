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
	"os"
	"testing"
)

// TestConfig holds configuration for integration tests loaded from environment.
type TestConfig struct {
	// AnthropicAPIKey is the API key for Anthropic provider tests.
	AnthropicAPIKey string

	// OpenAIAPIKey is the API key for OpenAI provider tests.
	OpenAIAPIKey string

	// RedisAddr is the address of a Redis server for cache backend tests.
	RedisAddr string
}

// LoadConfig loads test configuration from environment variables.
// Does not fail if keys are missing - individual tests should use SkipWithoutEnv.
func LoadConfig() *TestConfig {
	return &TestConfig{
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
	}
}

// SkipWithoutEnv skips the test if the specified environment variable is not set.
// This allows tests to run conditionally based on available configuration.
func SkipWithoutEnv(t *testing.T, envVar string) {
	t.Helper()

	if os.Getenv(envVar) == "" {
		t.Skipf("Skipping test: %s not set", envVar)
	}
}

// RequireEnv fails the test if the specified environment variable is not set.
// Use this for tests that should always run in CI but may skip locally.
func RequireEnv(t *testing.T, envVar string) string {
	t.Helper()

	value := os.Getenv(envVar)
	if value == "" {
		t.Fatalf("Required environment variable %s not set", envVar)
	}
	return value
}
