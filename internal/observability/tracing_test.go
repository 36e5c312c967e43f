package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/signalsfoundry/sensornet-simulator/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestTracingConfigFromEnv(t *testing.T) {
	t.Setenv("SENSORNET_TRACING_ENABLED", "TRUE")
	t.Setenv("SENSORNET_TRACING_EXPORTER", "OTLP")
	t.Setenv("SENSORNET_TRACING_SAMPLE_RATIO", "0.25")
	t.Setenv("SENSORNET_OTLP_ENDPOINT", "collector:4317")

	cfg := TracingConfigFromEnv()
	if !cfg.Enabled || cfg.Exporter != "otlp" || cfg.SampleRatio != 0.25 || cfg.Endpoint != "collector:4317" {
		t.Fatalf("config = %+v", cfg)
	}
	if cfg.ServiceName != "sensornet-simulator" {
		t.Fatalf("ServiceName = %q", cfg.ServiceName)
	}
}

func TestTracingConfigIgnoresBadRatio(t *testing.T) {
	t.Setenv("SENSORNET_TRACING_SAMPLE_RATIO", "3")
	if cfg := TracingConfigFromEnv(); cfg.SampleRatio != 1 || cfg.Enabled {
		t.Fatalf("config = %+v", cfg)
	}
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, logging.Noop())
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	_, span := Tracer().Start(context.Background(), "noop")
	span.End()
	ShutdownWithTimeout(context.Background(), shutdown, nil)
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	if _, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin"}, nil); err == nil {
		t.Fatalf("expected unsupported exporter error")
	}
}

func TestInitTracingStdoutExportsRunSpan(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitTracing(context.Background(), TracingConfig{
		Enabled:     true,
		Exporter:    "stdout",
		SampleRatio: 1,
		Output:      &buf,
	}, logging.Noop())
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })

	_, span := Tracer().Start(context.Background(), "simulation.run")
	span.End()
	ShutdownWithTimeout(context.Background(), shutdown, nil)

	if !strings.Contains(buf.String(), "simulation.run") {
		t.Fatalf("exported spans missing simulation.run:\n%s", buf.String())
	}
	if !strings.Contains(buf.String(), "sensornet-simulator") {
		t.Fatalf("exported spans missing default service name:\n%s", buf.String())
	}
}
