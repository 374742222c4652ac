// Package observe provides application-wide observability primitives for
// Phonotrail: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all Phonotrail metrics.
const meterName = "github.com/fluentkids/phonotrail"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TickDuration tracks how long a single game-loop tick takes to process.
	TickDuration metric.Float64Histogram

	// UploadDuration tracks analysis upload latency. Use with attributes:
	//   attribute.String("exercise", ...), attribute.String("status", ...)
	UploadDuration metric.Float64Histogram

	// --- Counters ---

	// UploadRetries counts analysis upload retry attempts. Use with attribute:
	//   attribute.String("exercise", ...)
	UploadRetries metric.Int64Counter

	// AnalysisResults counts completed analyses. Use with attributes:
	//   attribute.String("exercise", ...), attribute.String("status", ...)
	AnalysisResults metric.Int64Counter

	// StarsAwarded counts star ratings handed out. Use with attribute:
	//   attribute.Int("stars", ...)
	StarsAwarded metric.Int64Counter

	// QueuedAttempts counts attempts diverted to the offline queue. Use with
	// attribute: attribute.String("reason", ...)
	QueuedAttempts metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live game sessions.
	ActiveSessions metric.Int64UpDownCounter

	// QueueDepth tracks the number of attempts waiting in the offline queue.
	QueueDepth metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// tickBuckets defines histogram bucket boundaries (in seconds) sized around
// the 16.67 ms frame budget of the 60 Hz loop.
var tickBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.0167, 0.025, 0.05, 0.1,
}

// uploadBuckets defines histogram bucket boundaries (in seconds) for network
// round-trips to the analysis service.
var uploadBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TickDuration, err = m.Float64Histogram("phonotrail.tick.duration",
		metric.WithDescription("Processing time of a single game-loop tick."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(tickBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UploadDuration, err = m.Float64Histogram("phonotrail.upload.duration",
		metric.WithDescription("Latency of analysis uploads by exercise and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(uploadBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.UploadRetries, err = m.Int64Counter("phonotrail.upload.retries",
		metric.WithDescription("Total analysis upload retry attempts by exercise."),
	); err != nil {
		return nil, err
	}
	if met.AnalysisResults, err = m.Int64Counter("phonotrail.analysis.results",
		metric.WithDescription("Total completed analyses by exercise and status."),
	); err != nil {
		return nil, err
	}
	if met.StarsAwarded, err = m.Int64Counter("phonotrail.stars.awarded",
		metric.WithDescription("Total star ratings awarded, by star count."),
	); err != nil {
		return nil, err
	}
	if met.QueuedAttempts, err = m.Int64Counter("phonotrail.queue.enqueued",
		metric.WithDescription("Total attempts diverted to the offline queue by reason."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("phonotrail.active_sessions",
		metric.WithDescription("Number of live game sessions."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64UpDownCounter("phonotrail.queue.depth",
		metric.WithDescription("Number of attempts waiting in the offline queue."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("phonotrail.http.request.duration",
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

// RecordUpload is a convenience method that records one analysis upload with
// its latency and outcome.
func (m *Metrics) RecordUpload(ctx context.Context, exercise, status string, seconds float64) {
	m.UploadDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("exercise", exercise),
			attribute.String("status", status),
		),
	)
}

// RecordUploadRetry is a convenience method that records one upload retry.
func (m *Metrics) RecordUploadRetry(ctx context.Context, exercise string) {
	m.UploadRetries.Add(ctx, 1,
		metric.WithAttributes(attribute.String("exercise", exercise)),
	)
}

// RecordAnalysisResult is a convenience method that records a completed
// analysis counter increment with the standard attribute set.
func (m *Metrics) RecordAnalysisResult(ctx context.Context, exercise, status string) {
	m.AnalysisResults.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("exercise", exercise),
			attribute.String("status", status),
		),
	)
}

// RecordStars is a convenience method that records a star award counter
// increment.
func (m *Metrics) RecordStars(ctx context.Context, stars int) {
	m.StarsAwarded.Add(ctx, 1,
		metric.WithAttributes(attribute.Int("stars", stars)),
	)
}

// RecordQueued is a convenience method that records one attempt entering the
// offline queue and bumps the depth gauge.
func (m *Metrics) RecordQueued(ctx context.Context, reason string) {
	m.QueuedAttempts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
	m.QueueDepth.Add(ctx, 1)
}
