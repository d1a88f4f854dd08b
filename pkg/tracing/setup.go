package tracing

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Ramsey-B/fern/pkg/tracing/exporters"
)

// Config selects the span exporter. An empty Endpoint logs spans instead of shipping them.
type Config struct {
	ServiceName string
	Version     string
	Endpoint    string
	Protocol    string
	Insecure    bool
	// Headers uses the OTEL_EXPORTER_OTLP_HEADERS "k=v,k=v" form
	Headers string
}

// Setup installs a global tracer provider and the W3C propagator, and points StartSpan
// at it. The returned func flushes and shuts the provider down.
func Setup(ctx context.Context, cfg Config, logger ectologger.Logger) (func(context.Context) error, error) {
	var exporter sdktrace.SpanExporter
	if cfg.Endpoint == "" {
		exporter = exporters.NewConsoleExporter(logger)
	} else {
		headers, err := exporters.ParseHeaders(cfg.Headers)
		if err != nil {
			return nil, err
		}
		exp, err := exporters.NewOTLPExporter(ctx, exporters.OTLPConfig{
			Endpoint: cfg.Endpoint,
			Protocol: cfg.Protocol,
			Insecure: cfg.Insecure,
			Headers:  headers,
		})
		if err != nil {
			return nil, err
		}
		exporter = exp
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.Version),
	))
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	SetTracer(provider.Tracer(cfg.ServiceName))

	logger.WithFields(map[string]any{
		"endpoint": cfg.Endpoint,
		"protocol": cfg.Protocol,
	}).Info("Tracing configured")

	return provider.Shutdown, nil
}
