// Package observability configures OpenTelemetry tracing for the server:
// HTTP spans from otelgin, service spans, and GORM query spans all flow
// through the provider installed here.
package observability

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc/credentials"

	"github.com/tbourn/go-dm-backend/internal/config"
)

// ShutdownFunc flushes pending spans and stops the exporter.
type ShutdownFunc func(context.Context) error

// Test seams.
var (
	newOTLPClient = otlptracegrpc.NewClient

	newOTLPExporterFn = func(ctx context.Context, client otlptrace.Client) (*otlptrace.Exporter, error) {
		return otlptrace.New(ctx, client)
	}

	newServiceResourceFn = func(ctx context.Context, serviceName, version string) (*resource.Resource, error) {
		return resource.New(
			ctx,
			resource.WithAttributes(
				semconv.ServiceName(serviceName),
				semconv.ServiceVersion(version),
				// One process is one realtime node; the id tells them apart.
				attribute.String("service.instance.id", instanceID),
			),
		)
	}
)

// instanceID identifies this process in exported resources.
var instanceID = uuid.NewString()

// InstanceID returns the id reported as service.instance.id.
func InstanceID() string { return instanceID }

// exporterOptions maps cfg onto the OTLP/gRPC client. TLS uses the system
// roots unless the collector is marked insecure.
func exporterOptions(cfg config.OTELConfig) []otlptracegrpc.Option {
	transport := otlptracegrpc.WithInsecure()
	if !cfg.Insecure {
		transport = otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, ""))
	}
	return []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint), transport}
}

// SetupOTel installs a global tracer provider exporting over OTLP/gRPC and
// returns its shutdown. When tracing is disabled it returns a no-op and
// leaves the otel globals alone.
//
// Exporter errors surface through log instead of the otel default handler.
func SetupOTel(ctx context.Context, cfg config.OTELConfig, version string, log zerolog.Logger) (ShutdownFunc, error) {
	if !cfg.Enabled {
		log.Debug().Msg("tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	exp, err := newOTLPExporterFn(ctx, newOTLPClient(exporterOptions(cfg)...))
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}
	res, err := newServiceResourceFn(ctx, cfg.ServiceName, version)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("otel resource: %w", err), exp.Shutdown(ctx))
	}

	sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
		sdktrace.WithBatcher(exp),
	)

	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		log.Warn().Err(err).Str("component", "otel").Msg("telemetry error")
	}))
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	otel.SetTracerProvider(provider)

	log.Info().
		Str("endpoint", cfg.Endpoint).
		Bool("insecure", cfg.Insecure).
		Float64("sample_ratio", cfg.SampleRatio).
		Str("instance_id", instanceID).
		Msg("tracing enabled")

	return func(ctx context.Context) error {
		flushErr := provider.ForceFlush(ctx)
		return errors.Join(flushErr, provider.Shutdown(ctx))
	}, nil
}
