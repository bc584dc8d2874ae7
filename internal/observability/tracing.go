package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/signalsfoundry/gridworld-simulator/internal/logging"
)

// DefaultServiceName is reported as service.name when none is configured.
const DefaultServiceName = "gridworld"

// Span exporters understood by InitTracing.
const (
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// Environment keys read by TracingConfigFromLookup.
const (
	EnvTracingEnabled     = "GRID_TRACING_ENABLED"
	EnvTracingExporter    = "GRID_TRACING_EXPORTER"
	EnvTracingServiceName = "GRID_TRACING_SERVICE_NAME"
	EnvTracingSampleRatio = "GRID_TRACING_SAMPLE_RATIO"
	EnvOTLPEndpoint       = "GRID_OTLP_ENDPOINT"
)

const (
	defaultOTLPEndpoint = "localhost:4317"
	shutdownTimeout     = 5 * time.Second
)

// ErrTracingConfig reports a tracing setting InitTracing cannot honour.
var ErrTracingConfig = errors.New("tracing config")

// TracingConfig selects where World and request spans go.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Exporter    string
	// Endpoint is the OTLP/gRPC collector address.
	Endpoint    string
	SampleRatio float64

	// Output receives pretty-printed spans from the stdout exporter. It
	// defaults to stderr so simulate output on stdout stays parseable.
	Output io.Writer
}

// TracingConfigFromLookup builds a TracingConfig from lookup. Unset or
// unparsable values keep their defaults; a sample ratio outside [0,1] is
// ignored.
func TracingConfigFromLookup(lookup func(string) (string, bool)) TracingConfig {
	cfg := TracingConfig{
		ServiceName: DefaultServiceName,
		Exporter:    ExporterStdout,
		SampleRatio: 1,
	}
	value := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	if on, err := strconv.ParseBool(value(EnvTracingEnabled)); err == nil {
		cfg.Enabled = on
	}
	if v := strings.ToLower(value(EnvTracingExporter)); v != "" {
		cfg.Exporter = v
	}
	if v := value(EnvTracingServiceName); v != "" {
		cfg.ServiceName = v
	}
	if r, err := strconv.ParseFloat(value(EnvTracingSampleRatio), 64); err == nil && r >= 0 && r <= 1 {
		cfg.SampleRatio = r
	}
	cfg.Endpoint = value(EnvOTLPEndpoint)
	return cfg
}

// Validate rejects unknown exporters and out-of-range ratios. A disabled
// config is always valid.
func (c TracingConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch normaliseExporter(c.Exporter) {
	case ExporterStdout, ExporterOTLP:
	default:
		return fmt.Errorf("%w: unsupported exporter %q", ErrTracingConfig, c.Exporter)
	}
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return fmt.Errorf("%w: sample ratio %v outside [0,1]", ErrTracingConfig, c.SampleRatio)
	}
	return nil
}

func normaliseExporter(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", ExporterStdout:
		return ExporterStdout
	case ExporterOTLP, "otlpgrpc":
		return ExporterOTLP
	default:
		return name
	}
}

// InitTracing installs the global tracer provider and W3C propagators. When
// tracing is disabled a noop provider is installed so World spans cost
// nothing. The returned function flushes and stops the provider.
func InitTracing(ctx context.Context, cfg TracingConfig, log logging.Logger) (func(context.Context) error, error) {
	if log == nil {
		log = logging.Noop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		otel.SetTextMapPropagator(propagation.TraceContext{})
		log.Debug(ctx, "tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := newSpanExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.namespace", DefaultServiceName),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info(ctx, "tracing enabled",
		logging.String("exporter", normaliseExporter(cfg.Exporter)),
		logging.String("service_name", cfg.ServiceName),
		logging.Float64("sample_ratio", cfg.SampleRatio),
	)
	return tp.Shutdown, nil
}

func newSpanExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	if normaliseExporter(cfg.Exporter) == ExporterOTLP {
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = defaultOTLPEndpoint
		}
		return otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		))
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	return stdouttrace.New(
		stdouttrace.WithWriter(out),
		stdouttrace.WithPrettyPrint(),
		stdouttrace.WithoutTimestamps(),
	)
}

// ShutdownWithTimeout flushes spans through shutdown, giving up after a few
// seconds. Failures are logged, not returned.
func ShutdownWithTimeout(ctx context.Context, shutdown func(context.Context) error, log logging.Logger) {
	if shutdown == nil {
		return
	}
	if log == nil {
		log = logging.Noop()
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		log.Warn(ctx, "tracing shutdown failed", logging.Err(err))
	}
}
