// Package tracing installs the OpenTelemetry tracer provider the domain
// packages report their spans to.
package tracing

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

type settings struct {
	exporter    string
	endpoint    string
	serviceName string
	out         io.Writer
	sampleRatio float64
}

// Option customises New.
type Option func(*settings)

// WithExporter selects none, stdout or otlp.
func WithExporter(name string) Option {
	return func(s *settings) { s.exporter = strings.ToLower(strings.TrimSpace(name)) }
}

// WithEndpoint sets the OTLP/HTTP collector address, e.g. "localhost:4318".
func WithEndpoint(endpoint string) Option {
	return func(s *settings) { s.endpoint = endpoint }
}

// WithServiceName sets the service.name resource attribute.
func WithServiceName(name string) Option {
	return func(s *settings) { s.serviceName = name }
}

// WithOutput redirects the stdout exporter.
func WithOutput(w io.Writer) Option {
	return func(s *settings) {
		if w != nil {
			s.out = w
		}
	}
}

// WithSampleRatio keeps the given fraction of root traces.
func WithSampleRatio(ratio float64) Option {
	return func(s *settings) { s.sampleRatio = ratio }
}

// Provider owns the installed tracer provider. The zero exporter ("none")
// yields a Provider whose methods do nothing.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// New builds the provider for the selected exporter and installs it as the
// global one.
func New(ctx context.Context, opts ...Option) (*Provider, error) {
	s := settings{exporter: ExporterNone, serviceName: "pointage", out: os.Stdout, sampleRatio: 1}
	for _, opt := range opts {
		opt(&s)
	}

	var (
		exp sdktrace.SpanExporter
		err error
	)
	switch s.exporter {
	case ExporterNone, "":
		return &Provider{}, nil
	case ExporterStdout:
		exp, err = stdouttrace.New(stdouttrace.WithWriter(s.out))
	case ExporterOTLP:
		var hopts []otlptracehttp.Option
		if s.endpoint != "" {
			hopts = append(hopts, otlptracehttp.WithEndpoint(s.endpoint), otlptracehttp.WithInsecure())
		}
		exp, err = otlptracehttp.New(ctx, hopts...)
	default:
		return nil, fmt.Errorf("unknown tracing exporter: %s", s.exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s exporter: %w", s.exporter, err)
	}

	res := resource.NewSchemaless(attribute.String("service.name", s.serviceName))
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(s.sampleRatio))),
	)
	otel.SetTracerProvider(tp)
	return &Provider{tp: tp}, nil
}

// Enabled reports whether spans are exported.
func (p *Provider) Enabled() bool { return p != nil && p.tp != nil }

// Flush exports the spans buffered so far.
func (p *Provider) Flush(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}
	return p.tp.ForceFlush(ctx)
}

// Shutdown flushes and stops the exporter. Spans started afterwards are dropped.
func (p *Provider) Shutdown(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}
	return p.tp.Shutdown(ctx)
}
