// Package observe provides the observability primitives for vigil:
// OpenTelemetry metrics, tracing, trace-aware logging, and the HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed
// for scraping through a Prometheus exporter bridge set up by
// [InitProvider]. Tests should build their own [Metrics] with [NewMetrics]
// and a manual reader to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all vigil metrics.
const meterName = "github.com/MrWong99/vigil"

// Drop reasons recorded on [Metrics.EventsDropped].
const (
	DropBufferFull  = "buffer_full"
	DropWriteFailed = "write_failed"
	DropCircuitOpen = "circuit_open"
	DropClosed      = "closed"
)

// Metrics holds all OpenTelemetry instruments for the application.
type Metrics struct {
	// EventsEmitted counts detector events handed to the sink. Attribute:
	//   attribute.String("type", ...)
	EventsEmitted metric.Int64Counter

	// EventsDropped counts events that were never persisted. Attribute:
	//   attribute.String("reason", ...)
	EventsDropped metric.Int64Counter

	// EventWriteDuration tracks event log append latency.
	EventWriteDuration metric.Float64Histogram

	// SignalSamples counts snapshots taken per detector loop. Attribute:
	//   attribute.String("detector", ...)
	SignalSamples metric.Int64Counter

	// IntegrityScore records the score of every report computed.
	IntegrityScore metric.Int64Histogram

	// ActiveSessions tracks started but not yet ended sessions.
	ActiveSessions metric.Int64UpDownCounter

	// AttachedSessions tracks sessions with running detector loops.
	AttachedSessions metric.Int64UpDownCounter

	// BreakerTransitions counts event-write circuit breaker state changes.
	// Attribute: attribute.String("to", ...)
	BreakerTransitions metric.Int64Counter

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	//   attribute.String("method", ...), attribute.String("route", ...),
	//   attribute.Int("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// writeBuckets are histogram boundaries in seconds for storage writes.
var writeBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

// scoreBuckets are histogram boundaries for integrity scores. Every
// reachable score is a multiple of 5.
var scoreBuckets = []float64{60, 65, 70, 75, 80, 85, 90, 95, 100}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.EventsEmitted, err = m.Int64Counter("vigil.events.emitted",
		metric.WithDescription("Detector events handed to the event sink, by type."),
	); err != nil {
		return nil, err
	}
	if met.EventsDropped, err = m.Int64Counter("vigil.events.dropped",
		metric.WithDescription("Detector events that were not persisted, by reason."),
	); err != nil {
		return nil, err
	}
	if met.EventWriteDuration, err = m.Float64Histogram("vigil.event_write.duration",
		metric.WithDescription("Latency of event log appends."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(writeBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SignalSamples, err = m.Int64Counter("vigil.signal.samples",
		metric.WithDescription("Signal snapshots sampled, by detector."),
	); err != nil {
		return nil, err
	}
	if met.IntegrityScore, err = m.Int64Histogram("vigil.integrity_score",
		metric.WithDescription("Integrity scores of computed reports."),
		metric.WithExplicitBucketBoundaries(scoreBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("vigil.active_sessions",
		metric.WithDescription("Sessions started and not yet ended."),
	); err != nil {
		return nil, err
	}
	if met.AttachedSessions, err = m.Int64UpDownCounter("vigil.attached_sessions",
		metric.WithDescription("Sessions with running detector loops."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("vigil.breaker.transitions",
		metric.WithDescription("Event write circuit breaker transitions, by target state."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("vigil.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, created on
// first call from [otel.GetMeterProvider]. Call it after [InitProvider] so
// the instruments bind to the exporting provider.
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

// RecordEventEmitted increments the emitted counter for typ.
func (m *Metrics) RecordEventEmitted(ctx context.Context, typ string) {
	m.EventsEmitted.Add(ctx, 1, metric.WithAttributes(attribute.String("type", typ)))
}

// RecordEventDropped increments the dropped counter for reason.
func (m *Metrics) RecordEventDropped(ctx context.Context, reason string) {
	m.EventsDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordSample increments the sample counter for detector.
func (m *Metrics) RecordSample(ctx context.Context, detector string) {
	m.SignalSamples.Add(ctx, 1, metric.WithAttributes(attribute.String("detector", detector)))
}

// RecordScore records one computed integrity score.
func (m *Metrics) RecordScore(ctx context.Context, score int) {
	m.IntegrityScore.Record(ctx, int64(score))
}

// RecordBreakerTransition increments the transition counter for the target
// state name.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("to", to)))
}
