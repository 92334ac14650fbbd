package telemetry

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName scopes tracers and meters created by this module.
const InstrumentationName = "github.com/DevGitPit/supertonic"

// Outcomes recorded on request metrics.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Instruments are the request-level metrics shared by the host and the bridge.
type Instruments struct {
	tracer   trace.Tracer
	requests metric.Int64Counter
	duration metric.Float64Histogram
	samples  metric.Int64Counter
}

// NewInstruments creates instruments from the global providers. Instruments
// that fail to register are logged and skipped.
func NewInstruments(prefix string, logger *slog.Logger) *Instruments {
	meter := otel.Meter(InstrumentationName)
	inst := &Instruments{tracer: otel.Tracer(InstrumentationName)}

	var err error
	inst.requests, err = meter.Int64Counter(prefix+".requests",
		metric.WithDescription("Requests handled, by command and outcome"))
	if err != nil {
		logger.Warn("failed to create request counter", slog.String("error", err.Error()))
	}
	inst.duration, err = meter.Float64Histogram(prefix+".request.duration",
		metric.WithDescription("Request handling time"),
		metric.WithUnit("ms"))
	if err != nil {
		logger.Warn("failed to create duration histogram", slog.String("error", err.Error()))
	}
	inst.samples, err = meter.Int64Counter(prefix+".audio.samples",
		metric.WithDescription("Audio samples returned to callers"))
	if err != nil {
		logger.Warn("failed to create samples counter", slog.String("error", err.Error()))
	}
	return inst
}

// Start opens a span for one request.
func (i *Instruments) Start(ctx context.Context, name string) (context.Context, trace.Span) {
	if i == nil || i.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return i.tracer.Start(ctx, name)
}

// Record reports one finished request.
func (i *Instruments) Record(ctx context.Context, command, outcome string, elapsed time.Duration) {
	if i == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("command", command),
		attribute.String("outcome", outcome),
	)
	if i.requests != nil {
		i.requests.Add(ctx, 1, attrs)
	}
	if i.duration != nil {
		i.duration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
	}
}

// AddSamples counts audio samples delivered.
func (i *Instruments) AddSamples(ctx context.Context, n int) {
	if i == nil || i.samples == nil {
		return
	}
	i.samples.Add(ctx, int64(n))
}
