package otel

import (
	"context"
	"testing"
)

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" api-key = abc ,, bad, =skip,tenant=twap")
	if len(headers) != 2 {
		t.Fatalf("unexpected headers: %+v", headers)
	}
	if headers["api-key"] != "abc" || headers["tenant"] != "twap" {
		t.Fatalf("unexpected headers: %+v", headers)
	}
}

func TestConfigFromEnvDisabledWithoutEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.25")
	cfg := ConfigFromEnv("twapd", "test")
	if cfg.Enabled() {
		t.Fatalf("exporters should be disabled without endpoint: %+v", cfg)
	}
	if cfg.SampleRatio != 0.25 {
		t.Fatalf("unexpected sample ratio %v", cfg.SampleRatio)
	}
	shutdown, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestConfigFromEnvReadsExporterSettings(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", " collector:4318 ")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "false")
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "tenant=twap")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "")
	cfg := ConfigFromEnv("twapd", "prod")
	if !cfg.Enabled() || cfg.Endpoint != "collector:4318" {
		t.Fatalf("unexpected endpoint: %+v", cfg)
	}
	if cfg.Insecure {
		t.Fatalf("insecure should be disabled")
	}
	if cfg.SampleRatio != 1 || cfg.Headers["tenant"] != "twap" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestInitRequiresServiceName(t *testing.T) {
	if _, err := Init(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error without service name")
	}
}
