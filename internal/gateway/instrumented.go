package gateway

import (
	"context"
	"time"

	"github.com/MrWong99/vocalis/internal/observe"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Instrumented records latency, error kinds and a span around every call to
// the wrapped gateway.
type Instrumented struct {
	next    Gateway
	name    string
	metrics *observe.Metrics
}

var _ Gateway = (*Instrumented)(nil)

// Instrument wraps g. name labels the metrics ("provider" or "remote").
// A nil m uses [observe.DefaultMetrics].
func Instrument(g Gateway, name string, m *observe.Metrics) *Instrumented {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Instrumented{next: g, name: name, metrics: m}
}

// Transcribe implements [Gateway].
func (i *Instrumented) Transcribe(ctx context.Context, req Request) (Result, error) {
	ctx, span := observe.StartSpan(ctx, "gateway.transcribe",
		trace.WithAttributes(
			attribute.String("gateway", i.name),
			attribute.String("audio.encoding", string(req.Audio.Encoding)),
			attribute.Int("audio.bytes", len(req.Audio.Data)),
		),
	)

	start := time.Now()
	res, err := i.next.Transcribe(ctx, req)
	defer observe.EndSpan(span, err, Kind(err))
	i.metrics.GatewayDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("gateway", i.name)))

	if err != nil {
		kind := Kind(err)
		i.metrics.RecordGatewayError(ctx, i.name, kind)
		observe.Logger(ctx).Warn("transcription failed", "gateway", i.name, "kind", kind, "err", err)
		return Result{}, err
	}
	span.SetAttributes(attribute.Float64("transcript.confidence", res.Confidence))
	return res, nil
}
