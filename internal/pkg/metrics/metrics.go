// Package metrics wires OpenTelemetry traces and metrics. Without an OTLP
// endpoint the global noop providers stay in place and every helper is free.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/ManuelReschke/PayRelay"

// Config configures the exporters
type Config struct {
	ServiceName    string
	ServiceVersion string
	OTLPEndpoint   string // host:port of an OTLP gRPC collector
	Insecure       bool
	ExportInterval time.Duration
}

// Setup installs global trace and meter providers exporting to cfg.OTLPEndpoint.
// The returned function flushes and stops them.
func Setup(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if cfg.OTLPEndpoint == "" {
		log.Info("[Metrics] No OTLP endpoint configured, telemetry disabled")
		return func(context.Context) error { return nil }, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "payrelay"
	}
	if cfg.ExportInterval <= 0 {
		cfg.ExportInterval = 30 * time.Second
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}

	traceExporter, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	metricExporter, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExporter),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(cfg.ExportInterval))),
	)
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	log.Infof("[Metrics] Exporting telemetry to %s", cfg.OTLPEndpoint)
	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

type instruments struct {
	received   metric.Int64Counter
	rejected   metric.Int64Counter
	processed  metric.Int64Counter
	dead       metric.Int64Counter
	records    metric.Int64Counter
	processDur metric.Float64Histogram
}

var (
	instOnce sync.Once
	inst     instruments
)

// get creates the instruments on the global meter. The global meter forwards
// to whichever provider Setup installs later.
func get() *instruments {
	instOnce.Do(func() {
		m := otel.Meter(instrumentationName)
		inst.received, _ = m.Int64Counter("payrelay.webhooks.received",
			metric.WithDescription("Webhook deliveries accepted after signature verification"))
		inst.rejected, _ = m.Int64Counter("payrelay.webhooks.rejected",
			metric.WithDescription("Webhook deliveries rejected at intake"))
		inst.processed, _ = m.Int64Counter("payrelay.events.processed",
			metric.WithDescription("Processing attempts by outcome"))
		inst.dead, _ = m.Int64Counter("payrelay.events.dead",
			metric.WithDescription("Events moved to the dead letter state"))
		inst.records, _ = m.Int64Counter("payrelay.reconciliation.records",
			metric.WithDescription("Reconciliation records written by status"))
		inst.processDur, _ = m.Float64Histogram("payrelay.events.process.duration",
			metric.WithDescription("Processing attempt duration"), metric.WithUnit("s"))
	})
	return &inst
}

func WebhookReceived(ctx context.Context, eventType string) {
	if c := get().received; c != nil {
		c.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
	}
}

func WebhookRejected(ctx context.Context, reason string) {
	if c := get().rejected; c != nil {
		c.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
}

// EventProcessed records one finished attempt
func EventProcessed(ctx context.Context, eventType, outcome string, took time.Duration) {
	i := get()
	attrs := metric.WithAttributes(attribute.String("event_type", eventType), attribute.String("outcome", outcome))
	if i.processed != nil {
		i.processed.Add(ctx, 1, attrs)
	}
	if i.processDur != nil {
		i.processDur.Record(ctx, took.Seconds(), attrs)
	}
}

func EventDead(ctx context.Context, eventType string) {
	if c := get().dead; c != nil {
		c.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
	}
}

func ReconciliationRecord(ctx context.Context, status, discrepancyType string) {
	if c := get().records; c != nil {
		c.Add(ctx, 1, metric.WithAttributes(
			attribute.String("status", status),
			attribute.String("discrepancy_type", discrepancyType),
		))
	}
}

// StartSpan starts a span on the global tracer
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, trace.WithAttributes(attrs...))
}
