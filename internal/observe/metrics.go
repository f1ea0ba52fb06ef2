// Package observe provides application-wide observability primitives for
// lingua: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
//
// Every Record* method is safe to call on a nil *Metrics, so components can
// take an optional metrics dependency without guarding each call site.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all lingua metrics.
const meterName = "github.com/MrWong99/lingua"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TranscriptionDuration tracks how long question extraction from a
	// completed model turn takes.
	TranscriptionDuration metric.Float64Histogram

	// GenerationDuration tracks LLM question-generation latency.
	GenerationDuration metric.Float64Histogram

	// ConnectDuration tracks the time from dialling the live service to
	// setup completion.
	ConnectDuration metric.Float64Histogram

	// --- Counters ---

	// SessionStarts counts practice session starts. Use with attribute:
	//   attribute.String("status", ...)
	SessionStarts metric.Int64Counter

	// SessionCloses counts live sessions that ended on their own. Use with
	// attribute:
	//   attribute.String("kind", "retryable"|"terminal")
	SessionCloses metric.Int64Counter

	// Reconnects counts automatic reconnect attempts.
	Reconnects metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// ToolCancellations counts tool calls the model withdrew.
	ToolCancellations metric.Int64Counter

	// QuestionsRecorded counts questions appended to the store. Use with
	// attribute:
	//   attribute.String("source", "tool"|"transcription"|"prefetch")
	QuestionsRecorded metric.Int64Counter

	// ScoresRecorded counts scores attached to questions.
	ScoresRecorded metric.Int64Counter

	// PlaybackStalls counts watchdog restarts of the playback pipeline.
	PlaybackStalls metric.Int64Counter

	// CaptureDropped counts microphone frames discarded because the sender
	// fell behind.
	CaptureDropped metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live practice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks status surface latency. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...),
	//   attribute.Int("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for remote
// model calls.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histogram := func(name, desc string) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
	}

	if met.TranscriptionDuration, err = histogram("lingua.transcription.duration",
		"Latency of question extraction from model audio."); err != nil {
		return nil, err
	}
	if met.GenerationDuration, err = histogram("lingua.generation.duration",
		"Latency of LLM question generation."); err != nil {
		return nil, err
	}
	if met.ConnectDuration, err = histogram("lingua.live.connect.duration",
		"Time from dial to setup completion of a live session."); err != nil {
		return nil, err
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.SessionStarts, "lingua.session.starts", "Practice session starts by status."},
		{&met.SessionCloses, "lingua.session.closes", "Live sessions closed by the remote side, by kind."},
		{&met.Reconnects, "lingua.live.reconnects", "Automatic live session reconnect attempts."},
		{&met.ToolCalls, "lingua.tool.calls", "Tool invocations by tool name and status."},
		{&met.ToolCancellations, "lingua.tool.cancellations", "Tool calls withdrawn by the model."},
		{&met.QuestionsRecorded, "lingua.questions.recorded", "Questions appended to the store by source."},
		{&met.ScoresRecorded, "lingua.scores.recorded", "Scores attached to questions."},
		{&met.PlaybackStalls, "lingua.playback.stalls", "Playback pipeline restarts by the stall watchdog."},
		{&met.CaptureDropped, "lingua.capture.dropped_frames", "Microphone frames dropped because the sender fell behind."},
		{&met.ProviderRequests, "lingua.provider.requests", "Provider API requests by provider, kind, and status."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("lingua.active_sessions",
		metric.WithDescription("Number of live practice sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("lingua.http.request.duration",
		metric.WithDescription("Status surface request latency by method, route and status."),
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

// RecordSessionStart counts one session start with its outcome.
func (m *Metrics) RecordSessionStart(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.SessionStarts.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// SessionOpened increments the active session gauge.
func (m *Metrics) SessionOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, 1)
}

// SessionEnded decrements the active session gauge.
func (m *Metrics) SessionEnded(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, -1)
}

// RecordSessionClose counts a remote-initiated close.
func (m *Metrics) RecordSessionClose(ctx context.Context, retryable bool) {
	if m == nil {
		return
	}
	kind := "terminal"
	if retryable {
		kind = "retryable"
	}
	m.SessionCloses.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordReconnect counts one automatic reconnect.
func (m *Metrics) RecordReconnect(ctx context.Context) {
	if m == nil {
		return
	}
	m.Reconnects.Add(ctx, 1)
}

// RecordConnect records the dial-to-setup latency.
func (m *Metrics) RecordConnect(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.ConnectDuration.Record(ctx, d.Seconds())
}

// RecordToolCall is a convenience method that records a tool call counter
// increment with the standard attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	if m == nil {
		return
	}
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordToolCancellation counts withdrawn tool calls.
func (m *Metrics) RecordToolCancellation(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.ToolCancellations.Add(ctx, int64(n))
}

// RecordQuestion counts one recorded question by where it came from.
func (m *Metrics) RecordQuestion(ctx context.Context, source string) {
	if m == nil {
		return
	}
	m.QuestionsRecorded.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// RecordScore counts one recorded score.
func (m *Metrics) RecordScore(ctx context.Context) {
	if m == nil {
		return
	}
	m.ScoresRecorded.Add(ctx, 1)
}

// RecordTranscription records the latency of one question extraction.
func (m *Metrics) RecordTranscription(ctx context.Context, d time.Duration, status string) {
	if m == nil {
		return
	}
	m.TranscriptionDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("status", status)))
}

// RecordGeneration records the latency of one question-generation call.
func (m *Metrics) RecordGeneration(ctx context.Context, d time.Duration, status string) {
	if m == nil {
		return
	}
	m.GenerationDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("status", status)))
}

// RecordPlaybackStall counts one watchdog restart.
func (m *Metrics) RecordPlaybackStall(ctx context.Context) {
	if m == nil {
		return
	}
	m.PlaybackStalls.Add(ctx, 1)
}

// RecordCaptureDropped counts one dropped microphone frame.
func (m *Metrics) RecordCaptureDropped(ctx context.Context) {
	if m == nil {
		return
	}
	m.CaptureDropped.Add(ctx, 1)
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	if m == nil {
		return
	}
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}
