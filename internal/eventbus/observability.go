package eventbus

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/nerrad567/homecore/internal/eventbus"

// Observability records OpenTelemetry metrics and spans for the bus.
// A nil *Observability is valid and records nothing.
type Observability struct {
	tracer trace.Tracer
	meter  metric.Meter

	fireCounter      metric.Int64Counter
	listenerErrors   metric.Int64Counter
	listenerDuration metric.Float64Histogram
}

// ObservabilityOption configures Observability.
type ObservabilityOption func(*Observability)

// WithMeterProvider sets a custom meter provider.
func WithMeterProvider(provider metric.MeterProvider) ObservabilityOption {
	return func(o *Observability) {
		o.meter = provider.Meter(instrumentationName)
	}
}

// WithTracerProvider sets a custom tracer provider.
func WithTracerProvider(provider trace.TracerProvider) ObservabilityOption {
	return func(o *Observability) {
		o.tracer = provider.Tracer(instrumentationName)
	}
}

// NewObservability creates the bus instruments. Without options the global
// providers are used, which are no-ops until the host installs real ones.
func NewObservability(opts ...ObservabilityOption) (*Observability, error) {
	o := &Observability{
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}
	for _, opt := range opts {
		opt(o)
	}

	var err error
	o.fireCounter, err = o.meter.Int64Counter(
		"homecore.eventbus.fire.count",
		metric.WithDescription("Number of events fired"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	o.listenerErrors, err = o.meter.Int64Counter(
		"homecore.eventbus.listener.errors",
		metric.WithDescription("Number of listener errors and panics"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	o.listenerDuration, err = o.meter.Float64Histogram(
		"homecore.eventbus.listener.duration",
		metric.WithDescription("Listener execution duration"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return o, nil
}

// fireStarted opens a span for one Fire call and counts it. The returned
// func ends the span.
func (o *Observability) fireStarted(ctx context.Context, eventType string) (context.Context, func()) {
	if o == nil {
		return ctx, func() {}
	}

	attrs := attribute.String("event.type", eventType)
	ctx, span := o.tracer.Start(ctx, "eventbus.fire: "+eventType, trace.WithAttributes(attrs))
	o.fireCounter.Add(ctx, 1, metric.WithAttributes(attrs))
	return ctx, func() { span.End() }
}

func (o *Observability) listenerDone(ctx context.Context, eventType string, d time.Duration, err error) {
	if o == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("event.type", eventType))
	o.listenerDuration.Record(ctx, float64(d.Microseconds())/1000, attrs)

	if err != nil {
		o.listenerErrors.Add(ctx, 1, attrs)
		span := trace.SpanFromContext(ctx)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
