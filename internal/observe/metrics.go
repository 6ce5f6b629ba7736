// Package observe provides application-wide observability primitives for
// tonearm: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all tonearm metrics.
const meterName = "github.com/tonearm/tonearm"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks LLM inference latency.
	LLMDuration metric.Float64Histogram

	// FingerprintDuration tracks fingerprint provider latency.
	FingerprintDuration metric.Float64Histogram

	// CascadeDuration tracks end-to-end identification cascade latency.
	CascadeDuration metric.Float64Histogram

	// JobDuration tracks worker job processing latency.
	JobDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// RecallsSubmitted counts accepted recall submissions. Use with attributes:
	//   attribute.String("input_type", ...), attribute.String("intent", ...)
	RecallsSubmitted metric.Int64Counter

	// RateLimited counts submissions rejected by the rate limiter. Use with
	// attribute: attribute.String("scope", "user"|"addr")
	RateLimited metric.Int64Counter

	// CascadeOutcomes counts cascade completions. Use with attribute:
	//   attribute.String("outcome", "accepted"|"fallback"|"no_candidates")
	CascadeOutcomes metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveCaptures tracks the number of live capture sessions.
	ActiveCaptures metric.Int64UpDownCounter

	// ActiveJobs tracks the number of jobs currently being processed.
	ActiveJobs metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...),
	// attribute.Int("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are the explicit histogram boundaries (seconds) shared by the
// pipeline stage histograms. Tuned for sub-second provider calls with a tail
// for slow cascade runs.
var latencyBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// NewMetrics creates a [Metrics] instance with all instruments registered on
// the supplied provider. Use this in tests with a sdk/metric ManualReader to
// make assertions about recorded values.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	m := provider.Meter(meterName)
	met := &Metrics{}
	var err error

	// Latency histograms.
	if met.STTDuration, err = m.Float64Histogram("tonearm.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("tonearm.llm.duration",
		metric.WithDescription("Latency of LLM inference."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FingerprintDuration, err = m.Float64Histogram("tonearm.fingerprint.duration",
		metric.WithDescription("Latency of fingerprint provider calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CascadeDuration, err = m.Float64Histogram("tonearm.cascade.duration",
		metric.WithDescription("End-to-end identification cascade latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.JobDuration, err = m.Float64Histogram("tonearm.job.duration",
		metric.WithDescription("Worker job processing latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("tonearm.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.RecallsSubmitted, err = m.Int64Counter("tonearm.recalls.submitted",
		metric.WithDescription("Total accepted recall submissions by input type and intent."),
	); err != nil {
		return nil, err
	}
	if met.RateLimited, err = m.Int64Counter("tonearm.recalls.rate_limited",
		metric.WithDescription("Total submissions rejected by the rate limiter, by scope."),
	); err != nil {
		return nil, err
	}
	if met.CascadeOutcomes, err = m.Int64Counter("tonearm.cascade.outcomes",
		metric.WithDescription("Total cascade completions by outcome."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("tonearm.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCaptures, err = m.Int64UpDownCounter("tonearm.active_captures",
		metric.WithDescription("Number of live capture sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveJobs, err = m.Int64UpDownCounter("tonearm.active_jobs",
		metric.WithDescription("Number of jobs currently being processed."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("tonearm.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordRecallSubmitted is a convenience method that records an accepted
// submission with its input type and detected intent.
func (m *Metrics) RecordRecallSubmitted(ctx context.Context, inputType, intent string) {
	m.RecallsSubmitted.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("input_type", inputType),
			attribute.String("intent", intent),
		),
	)
}

// RecordRateLimited is a convenience method that records a rate-limited
// submission for the given scope ("user" or "addr").
func (m *Metrics) RecordRateLimited(ctx context.Context, scope string) {
	m.RateLimited.Add(ctx, 1,
		metric.WithAttributes(attribute.String("scope", scope)),
	)
}

// RecordCascadeOutcome is a convenience method that records a cascade
// completion outcome.
func (m *Metrics) RecordCascadeOutcome(ctx context.Context, outcome string) {
	m.CascadeOutcomes.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
