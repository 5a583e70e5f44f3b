// Package telemetry installs the process-wide OpenTelemetry tracer provider.
// Spans are exported over OTLP/HTTP when telemetry.endpoint is set; otherwise
// the global no-op provider stays in place.
package telemetry

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"framestack/internal/config"
)

const defaultOTLPPort = "4318"

type Provider struct {
	tp *sdktrace.TracerProvider
}

// Enabled reports whether spans leave the process.
func (p *Provider) Enabled() bool {
	return p != nil && p.tp != nil
}

// Shutdown flushes buffered spans. Safe on a disabled provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}
	if err := p.tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("telemetry: shutdown tracer provider: %w", err)
	}
	return nil
}

type target struct {
	endpoint string
	path     string
	insecure bool
}

// resolveTarget accepts host, host:port or an http(s) URL with an optional
// path. Bare hosts are plain HTTP on the collector's default port.
func resolveTarget(raw string) (target, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return target{}, fmt.Errorf("telemetry: empty endpoint")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return target{}, fmt.Errorf("telemetry: parse endpoint: %w", err)
	}
	if u.Host == "" {
		return target{}, fmt.Errorf("telemetry: endpoint %q has no host", raw)
	}

	t := target{endpoint: u.Host, path: strings.TrimSuffix(u.Path, "/")}
	switch strings.ToLower(u.Scheme) {
	case "http":
		t.insecure = true
	case "https":
	default:
		return target{}, fmt.Errorf("telemetry: unsupported scheme %q", u.Scheme)
	}
	if u.Port() == "" {
		t.endpoint = net.JoinHostPort(u.Hostname(), defaultOTLPPort)
	}
	return t, nil
}

// Setup builds the tracer provider described by cfg and installs it as the
// global provider. The returned Provider must be shut down on exit.
func Setup(ctx context.Context, cfg config.TelemetryConfig, log zerolog.Logger) (*Provider, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		log.Debug().Msg("tracing disabled")
		return &Provider{}, nil
	}

	t, err := resolveTarget(cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(t.endpoint),
		otlptracehttp.WithTimeout(10 * time.Second),
	}
	if t.insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if t.path != "" {
		opts = append(opts, otlptracehttp.WithURLPath(t.path))
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: start trace exporter: %w", err)
	}

	tp, err := newTracerProvider(ctx, cfg, sdktrace.WithBatcher(exporter))
	if err != nil {
		_ = exporter.Shutdown(ctx)
		return nil, err
	}
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	log.Info().
		Str("endpoint", t.endpoint).
		Str("path", t.path).
		Bool("insecure", t.insecure).
		Float64("sample_ratio", cfg.SampleRatio).
		Msg("tracing enabled")
	return &Provider{tp: tp}, nil
}

func newTracerProvider(ctx context.Context, cfg config.TelemetryConfig, opts ...sdktrace.TracerProviderOption) (*sdktrace.TracerProvider, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "framestack"
	}
	res, err := resource.New(ctx,
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithAttributes(semconv.ServiceName(name)),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	opts = append([]sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	}, opts...)
	return sdktrace.NewTracerProvider(opts...), nil
}
