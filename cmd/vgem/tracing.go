package main

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// bootstrapTracing wires a real TracerProvider when an OTLP collector
// endpoint is configured, and a no-op (never-sample) one otherwise, the
// same enabled/disabled split as the teacher's own tracing bootstrap
// (pkg/tracing.Bootstrap), ported to the current otel/sdk API. The
// returned func flushes and shuts the provider down.
func bootstrapTracing(ctx context.Context, endpoint string) (func(context.Context) error, error) {
	if endpoint == "" {
		tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.NeverSample()))
		otel.SetTracerProvider(tp)
		return tp.Shutdown, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
