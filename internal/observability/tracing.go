// Package observability wires OpenTelemetry trace export.
//
// Spans are exported over OTLP/HTTP to a local collector or agent
// (anything that speaks OTLP: otel-collector, Jaeger, Grafana Alloy,
// Datadog Agent). Components create spans through the global tracer
// provider, so when tracing is disabled or the exporter cannot be
// built, spans degrade to no-ops and the pipeline runs unaffected.
//
// Configuration lives under the `tracing` key (see internal/config):
//
//	tracing:
//	  enabled: true
//	  agent_host: "localhost:4318"
//	  environment: "dev"
//	  service_name: "ragpipe"
package observability

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// DefaultAgentHost is the default OTLP/HTTP endpoint.
const DefaultAgentHost = "localhost:4318"

// shutdownTimeout bounds the final span flush.
const shutdownTimeout = 5 * time.Second

// Config for trace export.
type Config struct {
	// AgentHost is the OTLP/HTTP endpoint (default: localhost:4318).
	AgentHost string
	// Environment is the deployment environment tag (dev, staging, prod).
	Environment string
	// ServiceName appears on every exported span.
	ServiceName string
}

// Setup installs a tracer provider exporting to the configured OTLP
// endpoint and returns a shutdown function that flushes pending spans.
//
// Setup never fails the application over tracing: if the exporter
// cannot be built, it logs a warning and returns a no-op shutdown.
func Setup(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	agentHost := cfg.AgentHost
	if agentHost == "" {
		agentHost = DefaultAgentHost
	}
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "ragpipe"
	}

	// The agent endpoint is local, so TLS stays off.
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(agentHost),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		slog.Warn("failed to create trace exporter, tracing disabled", "error", err)
		return func(context.Context) error { return nil }, nil
	}

	res := sdkresource.NewSchemaless(
		attribute.String("service.name", serviceName),
		attribute.String("deployment.environment", cfg.Environment),
	)

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	slog.Debug("tracing enabled",
		"endpoint", agentHost,
		"service", serviceName,
		"environment", cfg.Environment,
	)

	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		return provider.Shutdown(ctx)
	}, nil
}
