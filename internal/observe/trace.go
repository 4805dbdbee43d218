package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/vocalis"

// Span attributes of a practice attempt.
const (
	AttrMode    = attribute.Key("vocalis.mode")
	AttrWord    = attribute.Key("vocalis.word")
	AttrSeq     = attribute.Key("vocalis.attempt.seq")
	AttrOverall = attribute.Key("vocalis.attempt.overall")
	AttrSuccess = attribute.Key("vocalis.attempt.success")
)

// Tracer returns the Vocalis tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named name. The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartAttemptSpan starts the span covering one submitted attempt. Gateway
// and provider spans started from the returned context become its children.
func StartAttemptSpan(ctx context.Context, mode, word string, seq uint64) (context.Context, trace.Span) {
	return StartSpan(ctx, "session.attempt", trace.WithAttributes(
		AttrMode.String(mode),
		AttrWord.String(word),
		AttrSeq.Int64(int64(seq)),
	))
}

// RecordScore annotates the span in ctx with the grade of the attempt.
func RecordScore(ctx context.Context, overall int, success bool) {
	trace.SpanFromContext(ctx).SetAttributes(AttrOverall.Int(overall), AttrSuccess.Bool(success))
}

// EndSpan ends span. A non-nil err is recorded and marks the span failed
// with status, or with the error text when status is empty.
func EndSpan(span trace.Span, err error, status string) {
	if err != nil {
		span.RecordError(err)
		if status == "" {
			status = err.Error()
		}
		span.SetStatus(codes.Error, status)
	}
	span.End()
}

// CorrelationID returns the trace ID of the span in ctx, or "". The HTTP
// middleware echoes it as X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger is [LoggerFrom] applied to the default logger.
func Logger(ctx context.Context) *slog.Logger {
	return LoggerFrom(ctx, slog.Default())
}

// LoggerFrom adds trace_id and span_id to base when ctx carries a span.
func LoggerFrom(ctx context.Context, base *slog.Logger) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return base
	}
	return base.With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
