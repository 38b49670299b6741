package telemetry

import (
	"context"
	"testing"

	"github.com/coachpo/rmpay/config"
)

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	provider, shutdown, err := Init(context.Background(), config.TelemetryConfig{})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if provider == nil {
		t.Fatalf("expected a provider")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("noop shutdown must not fail: %v", err)
	}
}

func TestParseEndpoint(t *testing.T) {
	host, insecure, err := parseEndpoint("https://otlp.example.my:4318")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if host != "otlp.example.my:4318" || insecure {
		t.Fatalf("unexpected https endpoint parse: %q insecure=%v", host, insecure)
	}

	host, insecure, err = parseEndpoint("http://localhost:4318")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if host != "localhost:4318" || !insecure {
		t.Fatalf("unexpected http endpoint parse: %q insecure=%v", host, insecure)
	}
}
