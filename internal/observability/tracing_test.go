package observability

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/dudusoar/EvsSimulation-sub000/internal/config"
)

func TestTracingConfigFromEnv(t *testing.T) {
	t.Setenv("EVSIM_TRACING_ENABLED", "TRUE")
	t.Setenv("EVSIM_TRACING_EXPORTER", "OTLP")
	t.Setenv("EVSIM_TRACING_SERVICE_NAME", "")
	t.Setenv("EVSIM_TRACING_SAMPLE_RATIO", "0.5")
	t.Setenv("EVSIM_OTLP_ENDPOINT", "collector:4317")

	cfg := TracingConfigFromEnv()
	if !cfg.Enabled || cfg.Exporter != "otlp" || cfg.ServiceName != "evsim" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.SampleRatio != 0.5 || cfg.Endpoint != "collector:4317" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestTracingConfigIgnoresBadRatio(t *testing.T) {
	t.Setenv("EVSIM_TRACING_ENABLED", "")
	t.Setenv("EVSIM_TRACING_SAMPLE_RATIO", "2")

	cfg := TracingConfigFromEnv()
	if cfg.Enabled || cfg.SampleRatio != 0.01 || cfg.Exporter != "stdout" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestInitTracingDisabledIsNoop(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	ShutdownWithTimeout(context.Background(), shutdown, nil)
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	_, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin", SampleRatio: 1}, nil)
	if err == nil {
		t.Fatalf("expected error for unsupported exporter")
	}
}

func TestResourceCarriesScenario(t *testing.T) {
	cfg := config.Default()
	cfg.Location = "west_lafayette"
	cfg.Seed = 7
	cfg.TimeStep = 0.5
	cfg.VehicleCount = 12

	attrs := resourceAttributes(TracingConfig{ServiceName: "evsim", Scenario: ScenarioFromConfig(cfg)})
	got := make(map[attribute.Key]attribute.Value, len(attrs))
	for _, kv := range attrs {
		got[kv.Key] = kv.Value
	}
	if got["service.name"].AsString() != "evsim" || got["evsim.location"].AsString() != "west_lafayette" {
		t.Fatalf("attrs = %v", attrs)
	}
	if got["evsim.seed"].AsInt64() != 7 || got["evsim.vehicles"].AsInt64() != 12 {
		t.Fatalf("attrs = %v", attrs)
	}
	if got["evsim.tick_seconds"].AsFloat64() != (500 * time.Millisecond).Seconds() {
		t.Fatalf("tick_seconds = %v", got["evsim.tick_seconds"])
	}
}

func TestResourceWithoutScenario(t *testing.T) {
	if attrs := resourceAttributes(TracingConfig{ServiceName: "evsim"}); len(attrs) != 2 {
		t.Fatalf("attrs = %v, want service name and namespace only", attrs)
	}
}
