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

// Package integration provides shared helpers for integration tests that
// exercise real provider APIs: environment-gated skipping, token budget
// tracking, retry with backoff for transient failures, and request
// fixtures. These tests live behind the "integration" build tag and are
// excluded from ordinary test runs.
package integration
