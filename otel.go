package stowaway

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/zoobzio/stowaway"
)

// otelInstrumentation holds OpenTelemetry instrumentation for an Embedded provider.
// Every method is safe on a disabled instance.
type otelInstrumentation struct {
	tracingEnabled bool
	tracer         trace.Tracer

	metricsEnabled bool

	embedCount       metric.Int64Counter
	embedErrors      metric.Int64Counter
	embedSize        metric.Int64Histogram
	extractCount     metric.Int64Counter
	extractMalformed metric.Int64Counter
}

// newOtelInstrumentation creates instrumentation from the configured providers.
// A nil provider falls back to the global one when its feature is enabled.
func newOtelInstrumentation(tracing bool, tp trace.TracerProvider, metrics bool, mp metric.MeterProvider) (*otelInstrumentation, error) {
	o := &otelInstrumentation{
		tracingEnabled: tracing,
		metricsEnabled: metrics,
	}

	if tracing {
		if tp == nil {
			tp = otel.GetTracerProvider()
		}
		o.tracer = tp.Tracer(instrumentationName)
	}

	if metrics {
		if mp == nil {
			mp = otel.GetMeterProvider()
		}
		if err := o.initMetrics(mp); err != nil {
			return nil, err
		}
	}

	return o, nil
}

func (o *otelInstrumentation) initMetrics(mp metric.MeterProvider) error {
	meter := mp.Meter(instrumentationName)

	var err error

	o.embedCount, err = meter.Int64Counter(
		"stowaway.embed.count",
		metric.WithDescription("Number of payloads built with embedded headers"),
	)
	if err != nil {
		return err
	}

	o.embedErrors, err = meter.Int64Counter(
		"stowaway.embed.errors",
		metric.WithDescription("Number of payloads rejected by the encoder"),
	)
	if err != nil {
		return err
	}

	o.embedSize, err = meter.Int64Histogram(
		"stowaway.embed.size",
		metric.WithDescription("Size of encoded payloads"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return err
	}

	o.extractCount, err = meter.Int64Counter(
		"stowaway.extract.count",
		metric.WithDescription("Number of payloads whose headers were extracted"),
	)
	if err != nil {
		return err
	}

	o.extractMalformed, err = meter.Int64Counter(
		"stowaway.extract.malformed",
		metric.WithDescription("Number of payloads that failed extraction"),
	)
	return err
}

// startSpan starts a span if tracing is enabled; the returned end func is never nil.
func (o *otelInstrumentation) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if o == nil || !o.tracingEnabled {
		return ctx, func(error) {}
	}
	ctx, span := o.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

func (o *otelInstrumentation) recordEmbed(ctx context.Context, headers, size int, err error) {
	if o == nil || !o.metricsEnabled {
		return
	}
	if err != nil {
		o.embedErrors.Add(ctx, 1)
		return
	}
	attrs := metric.WithAttributes(attribute.Int("headers", headers))
	o.embedCount.Add(ctx, 1, attrs)
	o.embedSize.Record(ctx, int64(size), attrs)
}

func (o *otelInstrumentation) recordExtract(ctx context.Context, err error) {
	if o == nil || !o.metricsEnabled {
		return
	}
	if err != nil {
		o.extractMalformed.Add(ctx, 1)
		return
	}
	o.extractCount.Add(ctx, 1)
}
