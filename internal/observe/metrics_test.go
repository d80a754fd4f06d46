package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumByAttr returns the int64 sum data point value whose attribute key has
// the given value, and whether it was found.
func sumByAttr(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) (int64, bool) {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value, true
		}
	}
	return 0, false
}

func TestCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordEventEmitted(ctx, "no_face")
	m.RecordEventEmitted(ctx, "no_face")
	m.RecordEventEmitted(ctx, "phone_detected")
	m.RecordEventDropped(ctx, DropBufferFull)
	m.RecordSample(ctx, "audio")
	m.RecordBreakerTransition(ctx, "open")

	rm := collect(t, reader)
	tests := []struct {
		metric, key, value string
		want               int64
	}{
		{"vigil.events.emitted", "type", "no_face", 2},
		{"vigil.events.emitted", "type", "phone_detected", 1},
		{"vigil.events.dropped", "reason", DropBufferFull, 1},
		{"vigil.signal.samples", "detector", "audio", 1},
		{"vigil.breaker.transitions", "to", "open", 1},
	}
	for _, tc := range tests {
		got, ok := sumByAttr(t, rm, tc.metric, tc.key, tc.value)
		if !ok {
			t.Errorf("%s{%s=%s}: data point not found", tc.metric, tc.key, tc.value)
			continue
		}
		if got != tc.want {
			t.Errorf("%s{%s=%s} = %d, want %d", tc.metric, tc.key, tc.value, got, tc.want)
		}
	}
}

func TestHistograms(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.EventWriteDuration.Record(ctx, 0.002)
	m.EventWriteDuration.Record(ctx, 0.004)
	m.RecordScore(ctx, 80)

	rm := collect(t, reader)

	met := findMetric(rm, "vigil.event_write.duration")
	if met == nil {
		t.Fatal("vigil.event_write.duration not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) == 0 || hist.DataPoints[0].Count != 2 {
		t.Errorf("vigil.event_write.duration: unexpected data %+v", met.Data)
	}

	met = findMetric(rm, "vigil.integrity_score")
	if met == nil {
		t.Fatal("vigil.integrity_score not found")
	}
	scores, ok := met.Data.(metricdata.Histogram[int64])
	if !ok || len(scores.DataPoints) == 0 {
		t.Fatalf("vigil.integrity_score: unexpected data %+v", met.Data)
	}
	if dp := scores.DataPoints[0]; dp.Count != 1 || dp.Sum != 80 {
		t.Errorf("vigil.integrity_score: count=%d sum=%d, want 1/80", dp.Count, dp.Sum)
	}
}

func TestGauges(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)
	m.AttachedSessions.Add(ctx, 3)

	rm := collect(t, reader)
	for name, want := range map[string]int64{
		"vigil.active_sessions":   1,
		"vigil.attached_sessions": 3,
	} {
		met := findMetric(rm, name)
		if met == nil {
			t.Fatalf("metric %q not found", name)
		}
		sum, ok := met.Data.(metricdata.Sum[int64])
		if !ok || len(sum.DataPoints) == 0 {
			t.Fatalf("metric %q has no sum data", name)
		}
		if got := sum.DataPoints[0].Value; got != want {
			t.Errorf("%s = %d, want %d", name, got, want)
		}
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different pointers")
	}
}
