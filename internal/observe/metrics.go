// Package observe provides application-wide observability primitives for
// Vocalis: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so that metrics can be
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

// meterName is the instrumentation scope name used for all Vocalis metrics.
const meterName = "github.com/MrWong99/vocalis"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// GatewayDuration tracks transcription gateway latency. Use with attribute:
	//   attribute.String("gateway", ...)
	GatewayDuration metric.Float64Histogram

	// TTSDuration tracks hint synthesis latency.
	TTSDuration metric.Float64Histogram

	// --- Counters ---

	// Attempts counts evaluated attempts. Use with attributes:
	//   attribute.String("mode", ...), attribute.String("outcome", ...)
	Attempts metric.Int64Counter

	// GatewayErrors counts failed transcriptions. Use with attributes:
	//   attribute.String("gateway", ...), attribute.String("kind", ...)
	GatewayErrors metric.Int64Counter

	// LedgerWrites counts mastery record upserts. Use with attribute:
	//   attribute.String("status", ...)
	LedgerWrites metric.Int64Counter

	// HintRequests counts hint playbacks. Use with attribute:
	//   attribute.String("status", ...)
	HintRequests metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attributes: attribute.String("provider", ...), attribute.String("state", ...)
	BreakerTransitions metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live practice sessions. Use with
	// attribute: attribute.String("mode", ...)
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for speech
// service round-trips.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.GatewayDuration, err = m.Float64Histogram("vocalis.gateway.duration",
		metric.WithDescription("Latency of speech transcription per attempt."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("vocalis.tts.duration",
		metric.WithDescription("Latency of hint speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Attempts, err = m.Int64Counter("vocalis.attempts",
		metric.WithDescription("Total evaluated attempts by mode and outcome."),
	); err != nil {
		return nil, err
	}
	if met.GatewayErrors, err = m.Int64Counter("vocalis.gateway.errors",
		metric.WithDescription("Total transcription failures by gateway and kind."),
	); err != nil {
		return nil, err
	}
	if met.LedgerWrites, err = m.Int64Counter("vocalis.ledger.writes",
		metric.WithDescription("Total mastery record writes by status."),
	); err != nil {
		return nil, err
	}
	if met.HintRequests, err = m.Int64Counter("vocalis.hint.requests",
		metric.WithDescription("Total hint playbacks by status."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("vocalis.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by provider and new state."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("vocalis.active_sessions",
		metric.WithDescription("Number of live practice sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("vocalis.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
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
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// RecordAttempt counts one evaluated attempt.
func (m *Metrics) RecordAttempt(ctx context.Context, mode, outcome string) {
	m.Attempts.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("mode", mode),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordGatewayError counts one failed transcription.
func (m *Metrics) RecordGatewayError(ctx context.Context, gateway, kind string) {
	m.GatewayErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("gateway", gateway),
			attribute.String("kind", kind),
		),
	)
}

// RecordLedgerWrite counts one mastery record write.
func (m *Metrics) RecordLedgerWrite(ctx context.Context, err error) {
	m.LedgerWrites.Add(ctx, 1, metric.WithAttributes(statusAttr(err)))
}

// RecordHint counts one hint request.
func (m *Metrics) RecordHint(ctx context.Context, err error) {
	m.HintRequests.Add(ctx, 1, metric.WithAttributes(statusAttr(err)))
}

// RecordBreakerChange counts a circuit breaker transition. Its signature
// matches the resilience state-change hook once the state is stringified.
func (m *Metrics) RecordBreakerChange(provider, state string) {
	m.BreakerTransitions.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("state", state),
		),
	)
}

func statusAttr(err error) attribute.KeyValue {
	if err != nil {
		return attribute.String("status", "error")
	}
	return attribute.String("status", "ok")
}
