package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// DefaultMetricsInterval is how often OTLP metrics are pushed
const DefaultMetricsInterval = 60 * time.Second

// exporterSettings is what the trace and metric pipelines share: where to
// send data and which service it describes
type exporterSettings struct {
	endpoint string
	insecure bool
	resource *resource.Resource
}

func newExporterSettings(ctx context.Context, cfg *Config) (*exporterSettings, error) {
	// resource.New rather than resource.Default avoids schema URL conflicts
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.GetServiceName()),
			semconv.ServiceVersion(cfg.GetServiceVersion()),
		),
		resource.WithHost(),
		resource.WithTelemetrySDK(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if cfg.Insecure {
		slog.Warn("Telemetry is exported over plain HTTP; use only in development",
			"endpoint", cfg.GetEndpoint())
	}

	return &exporterSettings{
		endpoint: cfg.GetEndpoint(),
		insecure: cfg.Insecure,
		resource: res,
	}, nil
}

// newTracerProvider builds an OTLP tracer provider and installs it, with W3C
// trace context propagation, as the global provider. Disabled tracing gets a
// no-op provider.
func newTracerProvider(ctx context.Context, s *exporterSettings, tc *TracingConfig) (trace.TracerProvider, error) {
	if tc == nil || !tc.Enabled {
		slog.Debug("Tracing disabled")
		return tracenoop.NewTracerProvider(), nil
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(s.endpoint)}
	if s.insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	// Honour the caller's sampling decision so a watch and the relay
	// requests it causes end up in the same trace
	sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(tc.GetSampling()))

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(s.resource),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	slog.Info("Tracing initialized", "endpoint", s.endpoint, "sampling_ratio", tc.GetSampling())
	return tp, nil
}

// newMeterProvider builds a meter provider reading into either a Prometheus
// registry or a periodic OTLP exporter. Disabled metrics get a no-op provider.
func newMeterProvider(
	ctx context.Context,
	s *exporterSettings,
	mc *MetricsConfig,
	registerer prometheus.Registerer,
) (metric.MeterProvider, error) {
	if mc == nil || !mc.Enabled {
		slog.Debug("Metrics disabled")
		return metricnoop.NewMeterProvider(), nil
	}

	var reader sdkmetric.Reader
	switch mc.GetExporter() {
	case ExporterPrometheus:
		if registerer == nil {
			registerer = prometheus.DefaultRegisterer
		}
		exporter, err := otelprom.New(otelprom.WithRegisterer(registerer))
		if err != nil {
			return nil, fmt.Errorf("failed to create Prometheus metrics exporter: %w", err)
		}
		reader = exporter
	default:
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(s.endpoint)}
		if s.insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		exporter, err := otlpmetrichttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP metrics exporter: %w", err)
		}
		reader = sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(DefaultMetricsInterval))
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(s.resource),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	slog.Info("Metrics initialized", "exporter", mc.GetExporter(), "endpoint", s.endpoint)
	return mp, nil
}
