package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Observability owns the OpenTelemetry meter and tracer providers.
type Observability struct {
	meterProvider  *metric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	meter          otelmetric.Meter
	tracer         trace.Tracer

	jobCounter    otelmetric.Int64Counter
	jobDuration   otelmetric.Float64Histogram
	opCounter     otelmetric.Int64Counter
	opErrors      otelmetric.Int64Counter
	opDuration    otelmetric.Float64Histogram
	cacheRequests otelmetric.Int64Counter
}

// New wires a prometheus-backed MeterProvider and an in-process TracerProvider
// and registers both globally.
func New(serviceName string) (*Observability, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, err
	}

	mp := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(mp)

	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(0.1))))
	otel.SetTracerProvider(tp)

	o := &Observability{
		meterProvider:  mp,
		tracerProvider: tp,
		meter:          mp.Meter(serviceName),
		tracer:         tp.Tracer(serviceName),
	}
	o.initInstruments()
	return o, nil
}

// NewNoop returns an Observability whose instruments discard everything.
func NewNoop() *Observability {
	o := &Observability{
		meter:  noop.NewMeterProvider().Meter("noop"),
		tracer: tracenoop.NewTracerProvider().Tracer("noop"),
	}
	o.initInstruments()
	return o
}

func (o *Observability) initInstruments() {
	o.jobCounter, _ = o.meter.Int64Counter(
		"jobs.processed",
		otelmetric.WithDescription("Number of jobs processed"),
	)
	o.jobDuration, _ = o.meter.Float64Histogram(
		"jobs.duration",
		otelmetric.WithDescription("Job processing duration"),
		otelmetric.WithUnit("ms"),
	)
	o.opCounter, _ = o.meter.Int64Counter(
		"templates.operations",
		otelmetric.WithDescription("Template service operations"),
	)
	o.opErrors, _ = o.meter.Int64Counter(
		"templates.operation_errors",
		otelmetric.WithDescription("Template service operations that returned an error"),
	)
	o.opDuration, _ = o.meter.Float64Histogram(
		"templates.operation_duration",
		otelmetric.WithDescription("Template service operation duration"),
		otelmetric.WithUnit("ms"),
	)
	o.cacheRequests, _ = o.meter.Int64Counter(
		"templates.cache_requests",
		otelmetric.WithDescription("Template lookup cache requests by result"),
	)
}

// Tracer returns the service tracer.
func (o *Observability) Tracer() trace.Tracer {
	return o.tracer
}

func (o *Observability) RecordJobProcessed(ctx context.Context, taskType string) {
	if o.jobCounter != nil {
		o.jobCounter.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("task_type", taskType)))
	}
}

func (o *Observability) RecordJobDuration(ctx context.Context, duration time.Duration, taskType string) {
	if o.jobDuration != nil {
		o.jobDuration.Record(ctx, float64(duration.Milliseconds()), otelmetric.WithAttributes(
			attribute.String("task_type", taskType),
		))
	}
}

// ObserveOperation records one template service call.
func (o *Observability) ObserveOperation(ctx context.Context, op string, d time.Duration, err error) {
	attrs := otelmetric.WithAttributes(attribute.String("operation", op))
	if o.opCounter != nil {
		o.opCounter.Add(ctx, 1, attrs)
	}
	if o.opDuration != nil {
		o.opDuration.Record(ctx, float64(d.Microseconds())/1000, attrs)
	}
	if err != nil && o.opErrors != nil {
		o.opErrors.Add(ctx, 1, attrs)
	}
}

// ObserveCache records a lookup cache hit or miss.
func (o *Observability) ObserveCache(ctx context.Context, op string, hit bool) {
	if o.cacheRequests == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	o.cacheRequests.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("result", result),
	))
}

func (o *Observability) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if o.meterProvider != nil {
		_ = o.meterProvider.Shutdown(ctx)
	}
	if o.tracerProvider != nil {
		_ = o.tracerProvider.Shutdown(ctx)
	}
}
