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

package observability

import (
	"context"

	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the counters and histograms the core engine's components
// emit into. Construction does not wire an exporter to an external
// collector — exporting metrics out of process is a collaborator concern;
// this type only makes the instrumented meter provider available for one
// to scrape.
type Metrics struct {
	provider *sdkmetric.MeterProvider
	meter    metric.Meter

	ProviderCallDuration metric.Float64Histogram
	ProviderCallTotal    metric.Int64Counter
	CacheHitTotal        metric.Int64Counter
	CacheMissTotal       metric.Int64Counter
	OperationTransitions metric.Int64Counter
}

// NewMetrics constructs a meter provider backed by a Prometheus exporter
// and registers the core engine's instruments on it.
func NewMetrics() (*Metrics, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("llmgateway.core")

	m := &Metrics{provider: provider, meter: meter}

	m.ProviderCallDuration, err = meter.Float64Histogram(
		"provider_call_duration_seconds",
		metric.WithDescription("Latency of LLM provider plugin calls"),
	)
	if err != nil {
		return nil, err
	}

	m.ProviderCallTotal, err = meter.Int64Counter(
		"provider_call_total",
		metric.WithDescription("Count of LLM provider plugin calls by outcome"),
	)
	if err != nil {
		return nil, err
	}

	m.CacheHitTotal, err = meter.Int64Counter(
		"response_cache_hit_total",
		metric.WithDescription("Count of response cache hits by cache kind"),
	)
	if err != nil {
		return nil, err
	}

	m.CacheMissTotal, err = meter.Int64Counter(
		"response_cache_miss_total",
		metric.WithDescription("Count of response cache misses by cache kind"),
	)
	if err != nil {
		return nil, err
	}

	m.OperationTransitions, err = meter.Int64Counter(
		"operation_transition_total",
		metric.WithDescription("Count of async operation state transitions"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// Shutdown flushes and releases the underlying meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}
