// Package tracing wires OpenTelemetry for deepwork. Every orchestrator
// operation runs inside a span started with StartOperation; spans go to a
// JSONL file, stdout, or an OTLP collector.
package tracing

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const defaultServiceName = "deepwork"

const serviceNameKey = attribute.Key("service.name")

// ExporterKind selects where spans are sent.
type ExporterKind string

const (
	ExporterNone   ExporterKind = "none"
	ExporterFile   ExporterKind = "file"
	ExporterStdout ExporterKind = "stdout"
	ExporterOTLP   ExporterKind = "otlp"
)

// Config configures tracing. With Enabled false a no-op tracer is used and
// nothing else is read.
type Config struct {
	Enabled      bool         `mapstructure:"enabled" yaml:"enabled"`
	Exporter     ExporterKind `mapstructure:"exporter" yaml:"exporter"`
	FilePath     string       `mapstructure:"file_path" yaml:"file_path"`         // file exporter output
	OTLPEndpoint string       `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint"` // host:port of the collector
	SampleRate   float64      `mapstructure:"sample_rate" yaml:"sample_rate"`     // fraction of root spans kept
	ServiceName  string       `mapstructure:"service_name" yaml:"service_name"`
}

// DefaultConfig returns tracing disabled with development defaults.
func DefaultConfig() Config {
	return Config{
		Exporter:     ExporterFile,
		OTLPEndpoint: "localhost:4317",
		SampleRate:   1.0,
		ServiceName:  defaultServiceName,
	}
}

// Validate checks the exporter name and sample rate, and, once tracing is
// enabled, that the chosen exporter has a destination.
func (c Config) Validate() error {
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", c.SampleRate)
	}
	switch c.Exporter {
	case "", ExporterNone, ExporterFile, ExporterStdout, ExporterOTLP:
	default:
		return fmt.Errorf("tracing.exporter must be none, file, stdout or otlp, got %q", c.Exporter)
	}
	if !c.Enabled {
		return nil
	}
	if c.Exporter == ExporterFile && c.FilePath == "" {
		return errors.New("tracing.file_path is required when exporter is file")
	}
	if c.Exporter == ExporterOTLP && c.OTLPEndpoint == "" {
		return errors.New("tracing.otlp_endpoint is required when exporter is otlp")
	}
	return nil
}

// Option adjusts NewProvider.
type Option func(*options)

type options struct {
	exporter sdktrace.SpanExporter
	attrs    []attribute.KeyValue
}

// WithExporter sends spans to exp instead of the configured exporter.
func WithExporter(exp sdktrace.SpanExporter) Option {
	return func(o *options) { o.exporter = exp }
}

// WithAttributes adds resource attributes, such as the build version.
func WithAttributes(attrs ...attribute.KeyValue) Option {
	return func(o *options) { o.attrs = append(o.attrs, attrs...) }
}

// Provider owns the tracer provider and its exporter.
type Provider struct {
	sdk    *sdktrace.TracerProvider
	tracer trace.Tracer
}

// NewProvider builds a provider from cfg. It also installs the W3C trace
// context propagator so incoming requests can continue a caller's trace.
func NewProvider(cfg Config, opts ...Option) (*Provider, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if !cfg.Enabled && o.exporter == nil {
		return &Provider{tracer: noop.NewTracerProvider().Tracer(defaultServiceName)}, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	exp := o.exporter
	if exp == nil {
		var err error
		if exp, err = newExporter(cfg); err != nil {
			return nil, err
		}
	}

	name := cfg.ServiceName
	if name == "" {
		name = defaultServiceName
	}
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = 1
	}

	sdkOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(resource.NewSchemaless(append(o.attrs, serviceNameKey.String(name))...)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))),
	}
	if exp != nil {
		sdkOpts = append(sdkOpts, sdktrace.WithBatcher(exp))
	}
	sdk := sdktrace.NewTracerProvider(sdkOpts...)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return &Provider{sdk: sdk, tracer: sdk.Tracer(name)}, nil
}

func newExporter(cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case ExporterFile:
		exp, err := NewFileExporter(cfg.FilePath)
		if err != nil {
			return nil, fmt.Errorf("create file exporter: %w", err)
		}
		return exp, nil
	case ExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create stdout exporter: %w", err)
		}
		return exp, nil
	case ExporterOTLP:
		// The gRPC client connects lazily; this does not block on the collector.
		exp, err := otlptracegrpc.New(context.Background(),
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("create otlp exporter: %w", err)
		}
		return exp, nil
	default:
		return nil, nil
	}
}

// Tracer returns the tracer for creating spans. It is never nil.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Enabled reports whether spans are recorded.
func (p *Provider) Enabled() bool {
	return p.sdk != nil
}

// ForceFlush exports every span ended so far without closing the exporter.
func (p *Provider) ForceFlush(ctx context.Context) error {
	if p.sdk == nil {
		return nil
	}
	return p.sdk.ForceFlush(ctx)
}

// Shutdown flushes pending spans and closes the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.sdk == nil {
		return nil
	}
	return p.sdk.Shutdown(ctx)
}
