// Package telemetry wraps OpenTelemetry trace and metric providers for
// the action engine. When disabled, every operation is a no-op.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/peter-hollis-orkastrate/engram-sub001/internal/config"
)

const (
	// TracerName is the instrumentation scope for engine traces.
	TracerName = "engram"
	// MeterName is the instrumentation scope for engine metrics.
	MeterName = "engram"
)

// Provider wraps the tracer and meter providers with cleanup.
type Provider struct {
	Tracer   trace.Tracer
	Meter    metric.Meter
	Metrics  *Metrics
	shutdown func(context.Context) error
}

// Metrics holds the engine's instruments.
type Metrics struct {
	IntentsDetected metric.Int64Counter
	IntentsRejected metric.Int64Counter
	TasksTerminal   metric.Int64Counter     // attribute: outcome
	ConfirmLatency  metric.Float64Histogram // seconds from enqueue to resolve
	SchedulerTicks  metric.Int64Counter
}

// Init sets up OpenTelemetry from the config. Disabled config yields a
// no-op provider; callers never branch on enablement.
func Init(ctx context.Context, cfg config.TelemetryConfig) (*Provider, error) {
	if !cfg.Enabled {
		meter := noop.NewMeterProvider().Meter(MeterName)
		m, _ := newMetrics(meter)
		return &Provider{
			Tracer:   nooptrace.NewTracerProvider().Tracer(TracerName),
			Meter:    meter,
			Metrics:  m,
			shutdown: func(context.Context) error { return nil },
		}, nil
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "engram"
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	var traceExporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case "", "stdout":
		traceExporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlp":
		opts := []otlptracehttp.Option{}
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithInsecure())
		}
		traceExporter, err = otlptracehttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unknown telemetry exporter %q", cfg.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 1.0
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRate))),
	)

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
	meter := mp.Meter(MeterName)
	m, err := newMetrics(meter)
	if err != nil {
		return nil, err
	}

	return &Provider{
		Tracer:  tp.Tracer(TracerName),
		Meter:   meter,
		Metrics: m,
		shutdown: func(ctx context.Context) error {
			terr := tp.Shutdown(ctx)
			merr := mp.Shutdown(ctx)
			if terr != nil {
				return terr
			}
			return merr
		},
	}, nil
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	var m Metrics
	var err error
	if m.IntentsDetected, err = meter.Int64Counter("engram.intents.detected",
		metric.WithDescription("Intents accepted by the detector")); err != nil {
		return nil, err
	}
	if m.IntentsRejected, err = meter.Int64Counter("engram.intents.rejected",
		metric.WithDescription("Intents dropped below the confidence threshold or deduplicated")); err != nil {
		return nil, err
	}
	if m.TasksTerminal, err = meter.Int64Counter("engram.tasks.terminal",
		metric.WithDescription("Tasks reaching a terminal status, by outcome")); err != nil {
		return nil, err
	}
	if m.ConfirmLatency, err = meter.Float64Histogram("engram.confirm.latency_seconds",
		metric.WithDescription("Seconds between confirmation enqueue and resolve")); err != nil {
		return nil, err
	}
	if m.SchedulerTicks, err = meter.Int64Counter("engram.scheduler.ticks",
		metric.WithDescription("Scheduler tick count")); err != nil {
		return nil, err
	}
	return &m, nil
}

// Shutdown flushes exporters. Safe to call on a no-op provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.shutdown == nil {
		return nil
	}
	return p.shutdown(ctx)
}

// RecordTerminal increments the terminal-task counter with its outcome.
func (m *Metrics) RecordTerminal(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.TasksTerminal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordConfirmLatency records the time a confirmation waited for a user.
func (m *Metrics) RecordConfirmLatency(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.ConfirmLatency.Record(ctx, d.Seconds())
}
