// Package observe provides application-wide observability primitives for
// vadscribe: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
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

// meterName is the instrumentation scope name used for all vadscribe metrics.
const meterName = "github.com/MrWong99/vadscribe"

// Metrics holds all OpenTelemetry metric instruments for the application.
// The underlying OTel types handle their own synchronisation.
type Metrics struct {
	// --- Segmentation ---

	// Chunks counts scored chunks. Use with attribute:
	//   attribute.Bool("speech", ...)
	Chunks metric.Int64Counter

	// Segments counts emitted segments. Use with attribute:
	//   attribute.String("reason", ...)
	Segments metric.Int64Counter

	// SegmentDuration tracks the audio length of emitted segments.
	SegmentDuration metric.Float64Histogram

	// --- Latency histograms per pipeline stage ---

	// ScorerDuration tracks per-chunk speech scoring latency.
	ScorerDuration metric.Float64Histogram

	// SinkDuration tracks segment delivery latency. Use with attribute:
	//   attribute.String("kind", ...)
	SinkDuration metric.Float64Histogram

	// STTDuration tracks speech-to-text transcription latency per segment.
	STTDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// --- Error counters ---

	// SinkErrors counts failed segment deliveries. Use with attribute:
	//   attribute.String("kind", ...)
	SinkErrors metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveStreams tracks the number of audio streams being segmented.
	ActiveStreams metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// scoring, delivery and transcription latencies.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// segmentBuckets defines histogram bucket boundaries (in seconds) for the
// audio length of speech segments.
var segmentBuckets = []float64{
	0.5, 1, 2, 3, 5, 10, 20, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Segmentation.
	if met.Chunks, err = m.Int64Counter("vadscribe.chunks",
		metric.WithDescription("Total scored audio chunks by speech decision."),
	); err != nil {
		return nil, err
	}
	if met.Segments, err = m.Int64Counter("vadscribe.segments",
		metric.WithDescription("Total emitted speech segments by cut reason."),
	); err != nil {
		return nil, err
	}
	if met.SegmentDuration, err = m.Float64Histogram("vadscribe.segment.duration",
		metric.WithDescription("Audio length of emitted speech segments."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(segmentBuckets...),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.ScorerDuration, err = m.Float64Histogram("vadscribe.scorer.duration",
		metric.WithDescription("Latency of per-chunk speech scoring."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SinkDuration, err = m.Float64Histogram("vadscribe.sink.duration",
		metric.WithDescription("Latency of segment delivery by sink kind."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.STTDuration, err = m.Float64Histogram("vadscribe.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("vadscribe.provider.requests",
		metric.WithDescription("Total provider requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.SinkErrors, err = m.Int64Counter("vadscribe.sink.errors",
		metric.WithDescription("Total failed segment deliveries by sink kind."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("vadscribe.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveStreams, err = m.Int64UpDownCounter("vadscribe.active_streams",
		metric.WithDescription("Number of audio streams currently being segmented."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("vadscribe.http.request.duration",
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

// RecordChunk records one scored chunk.
func (m *Metrics) RecordChunk(ctx context.Context, speech bool) {
	m.Chunks.Add(ctx, 1, metric.WithAttributes(attribute.Bool("speech", speech)))
}

// RecordSegment records an emitted segment with its cut reason and audio
// length in seconds.
func (m *Metrics) RecordSegment(ctx context.Context, reason string, seconds float64) {
	attrs := metric.WithAttributes(attribute.String("reason", reason))
	m.Segments.Add(ctx, 1, attrs)
	m.SegmentDuration.Record(ctx, seconds, attrs)
}

// RecordSinkError records a failed delivery to a sink of the given kind.
func (m *Metrics) RecordSinkError(ctx context.Context, kind string) {
	m.SinkErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
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
