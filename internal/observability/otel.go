// Package observability sets up OpenTelemetry tracing for the allergen
// detector: an OTLP/gRPC exporter, a service resource describing this
// process and the product source it talks to, and the global propagator used
// by otelgin and the GORM tracing plugin.
package observability

import (
	"context"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc/credentials"

	"github.com/tbourn/go-allergen-backend/internal/config"
)

// DefaultServiceName is reported when OTEL_SERVICE_NAME is empty.
const DefaultServiceName = "allergen-detector"

// Resource attribute keys specific to this service.
const (
	AttrProductSource = attribute.Key("allergen.product_source")
	AttrDBDriver      = attribute.Key("allergen.db_driver")
)

// Test seams.
var (
	newOTLPClient = otlptracegrpc.NewClient

	newOTLPExporterFn = func(ctx context.Context, client otlptrace.Client) (*otlptrace.Exporter, error) {
		return otlptrace.New(ctx, client)
	}

	newServiceResourceFn = func(ctx context.Context, serviceName, version string, extra ...attribute.KeyValue) (*resource.Resource, error) {
		attrs := append([]attribute.KeyValue{
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		}, extra...)
		return resource.New(ctx, resource.WithAttributes(attrs...))
	}
)

// ServiceAttributes describes the deployment for the trace resource: the
// product source host (never the full URL) and the storage driver.
func ServiceAttributes(cfg config.Config) []attribute.KeyValue {
	var out []attribute.KeyValue
	if u, err := url.Parse(cfg.Products.BaseURL); err == nil && u.Host != "" {
		out = append(out, AttrProductSource.String(u.Host))
	}
	if cfg.DBDriver != "" {
		out = append(out, AttrDBDriver.String(cfg.DBDriver))
	}
	return out
}

// SetupOTel configures OpenTelemetry tracing and returns a shutdown function.
// When tracing is disabled the returned shutdown is a no-op and globals are
// left untouched. Exporter errors surface through zerolog.
func SetupOTel(ctx context.Context, cfg config.OTELConfig, version string, extra ...attribute.KeyValue) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	} else {
		creds := credentials.NewClientTLSFromCert(nil, "")
		opts = append(opts, otlptracegrpc.WithTLSCredentials(creds))
	}

	client := newOTLPClient(opts...)
	exp, err := newOTLPExporterFn(ctx, client)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = DefaultServiceName
	}
	res, err := newServiceResourceFn(ctx, name, version, extra...)
	if err != nil {
		_ = exp.Shutdown(ctx)
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		log.Warn().Err(err).Str("component", "otel").Msg("telemetry export error")
	}))

	return tp.Shutdown, nil
}

// sampler honours an incoming sampling decision and otherwise samples
// ratio of new traces.
func sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case ratio <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}
