package observability

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"google.golang.org/grpc/credentials"

	"github.com/tbourn/go-routine-backend/internal/config"
)

// Resource attribute keys describing the routine backend's collaborators.
const (
	AttrLLMProvider = attribute.Key("routine.llm.provider")
	AttrLLMModel    = attribute.Key("routine.llm.model")
	AttrStoreKind   = attribute.Key("routine.store.kind")
	AttrDBDriver    = attribute.Key("routine.db.driver")
)

// Deployment describes what this process runs against. It is stamped on
// every exported span.
type Deployment struct {
	Version     string
	LLMProvider string
	LLMModel    string
	// StoreKind is "redis" or "memory".
	StoreKind string
	DBDriver  string
}

var (
	newOTLPClient = otlptracegrpc.NewClient

	newOTLPExporterFn = func(ctx context.Context, client otlptrace.Client) (*otlptrace.Exporter, error) {
		return otlptrace.New(ctx, client)
	}

	newServiceResourceFn = func(ctx context.Context, attrs []attribute.KeyValue) (*resource.Resource, error) {
		return resource.New(ctx, resource.WithAttributes(attrs...))
	}
)

// resourceAttributes lists the resource attributes for cfg and d. Empty
// values are left out.
func resourceAttributes(cfg config.OTELConfig, d Deployment) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(d.Version),
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(cfg.Environment))
	}
	for _, kv := range []attribute.KeyValue{
		AttrLLMProvider.String(d.LLMProvider),
		AttrLLMModel.String(d.LLMModel),
		AttrStoreKind.String(d.StoreKind),
		AttrDBDriver.String(d.DBDriver),
	} {
		if kv.Value.AsString() != "" {
			attrs = append(attrs, kv)
		}
	}
	return attrs
}

// SetupOTel configures OpenTelemetry tracing and returns a shutdown function.
func SetupOTel(ctx context.Context, cfg config.OTELConfig, d Deployment) (func(context.Context) error, error) {
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

	res, err := newServiceResourceFn(ctx, resourceAttributes(cfg, d))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	return tp.Shutdown, nil
}

// TraceRequest reports whether r gets a server span. An untraced entry
// ending in "/" matches every path below it; others match exactly.
func TraceRequest(untraced ...string) otelgin.Filter {
	return func(r *http.Request) bool {
		p := r.URL.Path
		for _, u := range untraced {
			if p == u || (strings.HasSuffix(u, "/") && strings.HasPrefix(p, u)) {
				return false
			}
		}
		return true
	}
}

// HTTPTracing is the otelgin middleware for the API. A nil tp uses the
// global provider.
func HTTPTracing(service string, tp trace.TracerProvider, untraced ...string) gin.HandlerFunc {
	opts := []otelgin.Option{otelgin.WithFilter(TraceRequest(untraced...))}
	if tp != nil {
		opts = append(opts, otelgin.WithTracerProvider(tp))
	}
	return otelgin.Middleware(service, opts...)
}
