// Package tracing sets up OpenTelemetry for the Shot On Me client and wraps
// checkout operations in spans.
package tracing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Exporter names accepted in Config.ExporterType.
const (
	ExporterOTLPHTTP = "otlp-http"
	ExporterOTLPGRPC = "otlp-grpc"
)

// serviceNamespace groups every Shot On Me component in the trace backend.
const serviceNamespace = "shotonme"

// exporterDialTimeout bounds exporter construction. A CLI run must not hang
// on an unreachable collector before the first command executes.
const exporterDialTimeout = 10 * time.Second

var (
	ErrMissingServiceName  = errors.New("tracing: service name is required")
	ErrInvalidSamplingRate = errors.New("tracing: sampling rate must be between 0 and 1")
	ErrUnknownExporter     = errors.New("tracing: unsupported exporter type")
)

// Config describes how client spans are exported.
type Config struct {
	ServiceName    string
	ServiceVersion string // reported as service.version, "dev" when empty
	Environment    string

	Enabled bool

	// ExporterType is ExporterOTLPHTTP (the default) or ExporterOTLPGRPC.
	ExporterType string
	OTLPEndpoint string
	InsecureMode bool

	// SamplingRate applies to root spans only. Child spans follow their parent.
	SamplingRate float64

	Logger *slog.Logger
}

func (c Config) validate() error {
	if c.ServiceName == "" {
		return ErrMissingServiceName
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return fmt.Errorf("%w, got %g", ErrInvalidSamplingRate, c.SamplingRate)
	}
	switch c.ExporterType {
	case "", ExporterOTLPHTTP, ExporterOTLPGRPC:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownExporter, c.ExporterType)
	}
}

// Provider owns the SDK tracer provider. A Provider built from a disabled
// Config is inert: Tracer falls back to the global no-op provider.
type Provider struct {
	tp      *sdktrace.TracerProvider
	enabled bool
	logger  *slog.Logger
}

// NewProvider installs a global tracer provider and W3C propagator when
// tracing is enabled.
func NewProvider(cfg Config) (*Provider, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.Enabled {
		logger.Debug("tracing disabled")
		return &Provider{logger: logger}, nil
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	res, err := clientResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build trace resource: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), exporterDialTimeout)
	defer cancel()
	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s exporter: %w", exporterName(cfg), err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(cfg.SamplingRate)),
		// Short-lived commands flush on Shutdown, so a small batch window is enough.
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(2*time.Second),
			sdktrace.WithMaxExportBatchSize(256),
		),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("tracing initialized",
		slog.String("service", cfg.ServiceName),
		slog.String("exporter", exporterName(cfg)),
		slog.String("endpoint", cfg.OTLPEndpoint),
		slog.Float64("sampling_rate", cfg.SamplingRate),
	)
	return &Provider{tp: tp, enabled: true, logger: logger}, nil
}

func exporterName(cfg Config) string {
	if cfg.ExporterType == "" {
		return ExporterOTLPHTTP
	}
	return cfg.ExporterType
}

func clientResource(cfg Config) (*resource.Resource, error) {
	version := cfg.ServiceVersion
	if version == "" {
		version = "dev"
	}
	return resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceNamespace(serviceNamespace),
			semconv.ServiceVersion(version),
			semconv.DeploymentEnvironment(cfg.Environment),
			attribute.String("client.os", runtime.GOOS),
		),
	)
}

func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	if cfg.ExporterType == ExporterOTLPGRPC {
		var opts []otlptracegrpc.Option
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.InsecureMode {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	}

	var opts []otlptracehttp.Option
	if cfg.OTLPEndpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(cfg.OTLPEndpoint))
	}
	if cfg.InsecureMode {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return otlptracehttp.New(ctx, opts...)
}

// newSampler keeps the caller's sampling decision for spans that continue a
// remote trace, and samples new roots at rate.
func newSampler(rate float64) sdktrace.Sampler {
	var root sdktrace.Sampler
	switch rate {
	case 1:
		root = sdktrace.AlwaysSample()
	case 0:
		root = sdktrace.NeverSample()
	default:
		root = sdktrace.TraceIDRatioBased(rate)
	}
	return sdktrace.ParentBased(root)
}

// Shutdown flushes buffered spans. It is a no-op for a disabled Provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	p.logger.Debug("flushing pending spans")
	if err := p.tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down tracer provider: %w", err)
	}
	return nil
}

// Tracer returns a named tracer from this provider, or from the global
// provider when tracing is disabled.
func (p *Provider) Tracer(name string) trace.Tracer {
	if p.tp == nil {
		return otel.Tracer(name)
	}
	return p.tp.Tracer(name)
}

func (p *Provider) IsEnabled() bool { return p.enabled }
