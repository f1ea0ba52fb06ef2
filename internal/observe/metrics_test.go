package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
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

// sumWhere returns the value of the data point of counter name carrying the
// attribute key=value.
func sumWhere(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if key == "" {
			return dp.Value
		}
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	t.Fatalf("metric %q has no data point with %s=%s", name, key, value)
	return 0
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTranscription(ctx, 300*time.Millisecond, "ok")
	m.RecordTranscription(ctx, 2*time.Second, "error")
	m.RecordGeneration(ctx, time.Second, "ok")
	m.RecordConnect(ctx, 400*time.Millisecond)

	rm := collect(t, reader)

	for name, want := range map[string]uint64{
		"lingua.transcription.duration": 2,
		"lingua.generation.duration":    1,
		"lingua.live.connect.duration":  1,
	} {
		t.Run(name, func(t *testing.T) {
			met := findMetric(rm, name)
			if met == nil {
				t.Fatalf("metric %q not found", name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", name)
			}
			var got uint64
			for _, dp := range hist.DataPoints {
				got += dp.Count
			}
			if got != want {
				t.Errorf("sample count = %d, want %d", got, want)
			}
		})
	}
}

func TestProviderRequestsCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "gemini", "transcribe", "ok")
	m.RecordProviderRequest(ctx, "gemini", "transcribe", "ok")
	m.RecordProviderRequest(ctx, "gemini", "transcribe", "error")

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "lingua.provider.requests", "status", "ok"); got != 2 {
		t.Errorf("ok requests = %d, want 2", got)
	}
	if got := sumWhere(t, rm, "lingua.provider.requests", "status", "error"); got != 1 {
		t.Errorf("error requests = %d, want 1", got)
	}
}

func TestSessionCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSessionStart(ctx, "ok")
	m.RecordSessionStart(ctx, "error")
	m.RecordSessionClose(ctx, true)
	m.RecordSessionClose(ctx, false)
	m.RecordSessionClose(ctx, false)
	m.RecordReconnect(ctx)
	m.SessionOpened(ctx)
	m.SessionOpened(ctx)
	m.SessionEnded(ctx)

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "lingua.session.starts", "status", "ok"); got != 1 {
		t.Errorf("starts ok = %d, want 1", got)
	}
	if got := sumWhere(t, rm, "lingua.session.closes", "kind", "terminal"); got != 2 {
		t.Errorf("terminal closes = %d, want 2", got)
	}
	if got := sumWhere(t, rm, "lingua.session.closes", "kind", "retryable"); got != 1 {
		t.Errorf("retryable closes = %d, want 1", got)
	}
	if got := sumWhere(t, rm, "lingua.live.reconnects", "", ""); got != 1 {
		t.Errorf("reconnects = %d, want 1", got)
	}
	if got := sumWhere(t, rm, "lingua.active_sessions", "", ""); got != 1 {
		t.Errorf("active sessions = %d, want 1", got)
	}
}

func TestQuestionWorkflowCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordToolCall(ctx, "give_score", "ok")
	m.RecordToolCall(ctx, "next_questions", "ok")
	m.RecordToolCall(ctx, "give_score", "error")
	m.RecordToolCancellation(ctx, 2)
	m.RecordQuestion(ctx, "tool")
	m.RecordQuestion(ctx, "transcription")
	m.RecordQuestion(ctx, "tool")
	m.RecordScore(ctx)
	m.RecordPlaybackStall(ctx)
	m.RecordCaptureDropped(ctx)

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "lingua.tool.calls", "tool", "next_questions"); got != 1 {
		t.Errorf("next_questions calls = %d, want 1", got)
	}
	if got := sumWhere(t, rm, "lingua.tool.cancellations", "", ""); got != 2 {
		t.Errorf("cancellations = %d, want 2", got)
	}
	if got := sumWhere(t, rm, "lingua.questions.recorded", "source", "tool"); got != 2 {
		t.Errorf("tool questions = %d, want 2", got)
	}
	if got := sumWhere(t, rm, "lingua.scores.recorded", "", ""); got != 1 {
		t.Errorf("scores = %d, want 1", got)
	}
	if got := sumWhere(t, rm, "lingua.playback.stalls", "", ""); got != 1 {
		t.Errorf("stalls = %d, want 1", got)
	}
	if got := sumWhere(t, rm, "lingua.capture.dropped_frames", "", ""); got != 1 {
		t.Errorf("dropped = %d, want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordSessionStart(ctx, "ok")
	m.SessionOpened(ctx)
	m.SessionEnded(ctx)
	m.RecordSessionClose(ctx, true)
	m.RecordReconnect(ctx)
	m.RecordConnect(ctx, time.Second)
	m.RecordToolCall(ctx, "give_score", "ok")
	m.RecordToolCancellation(ctx, 1)
	m.RecordQuestion(ctx, "tool")
	m.RecordScore(ctx)
	m.RecordTranscription(ctx, time.Second, "ok")
	m.RecordGeneration(ctx, time.Second, "ok")
	m.RecordPlaybackStall(ctx)
	m.RecordCaptureDropped(ctx)
	m.RecordProviderRequest(ctx, "gemini", "live", "ok")
}

func TestHTTPRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.HTTPRequestDuration.Record(ctx, 0.05,
		metric.WithAttributes(
			attribute.String("method", "GET"),
			attribute.String("route", "/status"),
			attribute.Int("status", 200),
		),
	)

	rm := collect(t, reader)
	met := findMetric(rm, "lingua.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := hist.DataPoints[0].Count; got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
