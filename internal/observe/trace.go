package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the lingua tracer.
const tracerName = "github.com/MrWong99/lingua"

// Span attributes describing the practice session a span belongs to.
const (
	AttrNativeLanguage = attribute.Key("lingua.native_language")
	AttrLearnLanguage  = attribute.Key("lingua.learn_language")
	AttrDifficulty     = attribute.Key("lingua.difficulty")
	AttrSource         = attribute.Key("lingua.question_source")
)

// Tracer returns the lingua tracer from the globally registered
// [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span and returns the updated context and span. The
// caller must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// SessionAttrs returns the span attributes for a session practising learn
// from native at difficulty.
func SessionAttrs(native, learn, difficulty string) trace.SpanStartOption {
	return trace.WithAttributes(
		AttrNativeLanguage.String(native),
		AttrLearnLanguage.String(learn),
		AttrDifficulty.String(difficulty),
	)
}

// Fail records err on span and marks the span failed. A nil err is ignored.
func Fail(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// TraceID returns the hex trace ID of the span in ctx, or "" without one.
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with trace_id and span_id of the span in
// ctx attached. Without a span it is the default logger unchanged.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
