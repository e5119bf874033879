// Package tracing configures OpenTelemetry for the gateway. Spans cover the
// inbound request, every call to the analysis service and webhook deliveries.
package tracing

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc/credentials"
)

const defaultServiceName = "domainscan"

type Config struct {
	Enabled     bool
	ServiceName string
	Environment string

	OTLPEndpoint string
	OTLPInsecure bool

	SampleRatio float64
}

// Shutdown flushes pending spans.
type Shutdown func(context.Context) error

func noop(context.Context) error { return nil }

// Setup installs the global tracer provider and propagator. Exporter
// failures are logged and leave tracing off; they never stop the gateway.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) (Shutdown, error) {
	if logger == nil {
		logger = slog.Default()
	}
	otel.SetTextMapPropagator(inboundPropagator())
	if !cfg.Enabled {
		return noop, nil
	}

	endpoint := firstSet(cfg.OTLPEndpoint, os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"), "localhost:4317")
	exp, err := otlptracegrpc.New(ctx, exporterOptions(sanitizeEndpoint(endpoint), insecure(cfg))...)
	if err != nil {
		logger.Warn("otel exporter init failed; tracing disabled", "endpoint", endpoint, "err", err)
		return noop, nil
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(serviceResource(cfg, logger)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRatio(cfg.SampleRatio)))),
	)
	otel.SetTracerProvider(tp)
	logger.Info("tracing enabled", "endpoint", endpoint)
	return tp.Shutdown, nil
}

func exporterOptions(endpoint string, plain bool) []otlptracegrpc.Option {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
	if plain {
		return append(opts, otlptracegrpc.WithInsecure())
	}
	return append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
}

func serviceResource(cfg Config, logger *slog.Logger) *resource.Resource {
	if logger == nil {
		logger = slog.Default()
	}
	name := firstSet(cfg.ServiceName, os.Getenv("OTEL_SERVICE_NAME"), defaultServiceName)
	attrs := []attribute.KeyValue{semconv.ServiceName(name)}
	if env := strings.TrimSpace(cfg.Environment); env != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(env))
	}
	own := resource.NewWithAttributes(semconv.SchemaURL, attrs...)
	res, err := resource.Merge(resource.Default(), own)
	if err != nil {
		logger.Warn("otel resource merge failed; using service attributes only", "err", err)
		return own
	}
	return res
}

func insecure(cfg Config) bool {
	if v := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); v != "" {
		return parseBool(v)
	}
	return cfg.OTLPInsecure
}

func sampleRatio(r float64) float64 {
	if r <= 0 || r > 1 {
		return 1
	}
	return r
}

// inboundPropagator accepts trace context and baggage from browsers and the
// CLI.
func inboundPropagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
}

// outboundPropagator only carries TraceContext. Baggage never leaves the
// process: the analysis service and webhook receivers are third parties.
func outboundPropagator() propagation.TextMapPropagator {
	return propagation.TraceContext{}
}

// sanitizeEndpoint turns a URL style OTLP endpoint into the host:port the
// gRPC exporter expects.
func sanitizeEndpoint(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			return u.Host
		}
	}
	return strings.TrimSuffix(raw, "/")
}

func firstSet(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "y", "on":
		return true
	}
	return false
}

// InjectHeaders sets traceparent and tracestate on an outbound request.
func InjectHeaders(ctx context.Context, h http.Header) {
	if h == nil {
		return
	}
	outboundPropagator().Inject(ctx, propagation.HeaderCarrier(h))
}
