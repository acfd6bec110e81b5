package converse

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/mdevan/converse"
)

// otelInstrumentation holds OpenTelemetry instrumentation for the service.
type otelInstrumentation struct {
	enabled bool

	// Tracing
	tracingEnabled bool
	tracer         trace.Tracer

	// Metrics
	metricsEnabled bool

	// Delivery operations
	deliverLatency metric.Float64Histogram
	deliverCount   metric.Int64Counter
	deliverErrors  metric.Int64Counter

	// Receipt flag mutations (read/unread, trash, delete)
	mutateLatency metric.Float64Histogram
	mutateCount   metric.Int64Counter
	mutateErrors  metric.Int64Counter

	// Conversation listings
	listLatency metric.Float64Histogram
	listCount   metric.Int64Counter
	listErrors  metric.Int64Counter

	// Cascade destroys
	destroyLatency metric.Float64Histogram
	destroyCount   metric.Int64Counter
	destroyErrors  metric.Int64Counter
}

// newOtelInstrumentation creates new OTel instrumentation from options.
func newOtelInstrumentation(opts *options) (*otelInstrumentation, error) {
	o := &otelInstrumentation{
		enabled:        opts.tracingEnabled || opts.metricsEnabled,
		tracingEnabled: opts.tracingEnabled,
		metricsEnabled: opts.metricsEnabled,
	}

	if !o.enabled {
		return o, nil
	}

	// Initialize tracer
	if opts.tracingEnabled {
		tp := opts.tracerProvider
		if tp == nil {
			tp = otel.GetTracerProvider()
		}
		o.tracer = tp.Tracer(instrumentationName)
	}

	// Initialize metrics
	if opts.metricsEnabled {
		mp := opts.meterProvider
		if mp == nil {
			mp = otel.GetMeterProvider()
		}
		if err := o.initMetrics(mp); err != nil {
			return nil, err
		}
	}

	return o, nil
}

// initMetrics initializes all metric instruments.
func (o *otelInstrumentation) initMetrics(mp metric.MeterProvider) error {
	meter := mp.Meter(instrumentationName)

	var err error

	// Deliver metrics
	o.deliverLatency, err = meter.Float64Histogram(
		"converse.deliver.duration",
		metric.WithDescription("Duration of delivery operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.deliverCount, err = meter.Int64Counter(
		"converse.deliver.count",
		metric.WithDescription("Number of messages delivered"),
	)
	if err != nil {
		return err
	}

	o.deliverErrors, err = meter.Int64Counter(
		"converse.deliver.errors",
		metric.WithDescription("Number of delivery errors"),
	)
	if err != nil {
		return err
	}

	// Mutation metrics
	o.mutateLatency, err = meter.Float64Histogram(
		"converse.mutate.duration",
		metric.WithDescription("Duration of receipt flag mutations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.mutateCount, err = meter.Int64Counter(
		"converse.mutate.count",
		metric.WithDescription("Number of receipt flag mutations"),
	)
	if err != nil {
		return err
	}

	o.mutateErrors, err = meter.Int64Counter(
		"converse.mutate.errors",
		metric.WithDescription("Number of receipt flag mutation errors"),
	)
	if err != nil {
		return err
	}

	// List metrics
	o.listLatency, err = meter.Float64Histogram(
		"converse.list.duration",
		metric.WithDescription("Duration of conversation listings"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.listCount, err = meter.Int64Counter(
		"converse.list.count",
		metric.WithDescription("Number of conversation listings"),
	)
	if err != nil {
		return err
	}

	o.listErrors, err = meter.Int64Counter(
		"converse.list.errors",
		metric.WithDescription("Number of conversation listing errors"),
	)
	if err != nil {
		return err
	}

	// Destroy metrics
	o.destroyLatency, err = meter.Float64Histogram(
		"converse.destroy.duration",
		metric.WithDescription("Duration of cascade destroy operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.destroyCount, err = meter.Int64Counter(
		"converse.destroy.count",
		metric.WithDescription("Number of conversations destroyed"),
	)
	if err != nil {
		return err
	}

	o.destroyErrors, err = meter.Int64Counter(
		"converse.destroy.errors",
		metric.WithDescription("Number of cascade destroy errors"),
	)
	if err != nil {
		return err
	}

	return nil
}

// startSpan starts a new span if tracing is enabled.
// Caller should call the returned func with the operation error when done.
func (o *otelInstrumentation) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if !o.tracingEnabled || o.tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := o.tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// recordDeliver records delivery operation metrics.
func (o *otelInstrumentation) recordDeliver(ctx context.Context, duration time.Duration, recipientCount int, system bool, err error) {
	if !o.metricsEnabled {
		return
	}

	attrs := metric.WithAttributes(
		attribute.Int("recipient_count", recipientCount),
		attribute.Bool("system", system),
	)

	o.deliverLatency.Record(ctx, duration.Seconds(), attrs)
	o.deliverCount.Add(ctx, 1, attrs)
	if err != nil {
		o.deliverErrors.Add(ctx, 1, attrs)
	}
}

// recordMutate records receipt flag mutation metrics.
func (o *otelInstrumentation) recordMutate(ctx context.Context, duration time.Duration, operation string, err error) {
	if !o.metricsEnabled {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
	)

	o.mutateLatency.Record(ctx, duration.Seconds(), attrs)
	o.mutateCount.Add(ctx, 1, attrs)
	if err != nil {
		o.mutateErrors.Add(ctx, 1, attrs)
	}
}

// recordList records conversation listing metrics.
func (o *otelInstrumentation) recordList(ctx context.Context, duration time.Duration, scope string, resultCount int, err error) {
	if !o.metricsEnabled {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.Int("result_count", resultCount),
	)

	o.listLatency.Record(ctx, duration.Seconds(), attrs)
	o.listCount.Add(ctx, 1, attrs)
	if err != nil {
		o.listErrors.Add(ctx, 1, attrs)
	}
}

// recordDestroy records cascade destroy metrics.
func (o *otelInstrumentation) recordDestroy(ctx context.Context, duration time.Duration, err error) {
	if !o.metricsEnabled {
		return
	}

	o.destroyLatency.Record(ctx, duration.Seconds())
	o.destroyCount.Add(ctx, 1)
	if err != nil {
		o.destroyErrors.Add(ctx, 1)
	}
}
