package otel_test

import (
	"context"
	"testing"

	"github.com/louisbranch/venue/internal/platform/otel"
)

func TestSetup_NoopWhenEndpointEmpty(t *testing.T) {
	t.Setenv("VENUE_OTEL_ENDPOINT", "")
	t.Setenv("VENUE_OTEL_ENABLED", "")

	shutdown, err := otel.Setup(context.Background(), "test-service")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetup_NoopWhenExplicitlyDisabled(t *testing.T) {
	t.Setenv("VENUE_OTEL_ENDPOINT", "http://localhost:4318")
	t.Setenv("VENUE_OTEL_ENABLED", "false")

	shutdown, err := otel.Setup(context.Background(), "test-service")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetup_CreatesProviderWithRatioSampler(t *testing.T) {
	// Use a non-routable address so no actual export happens.
	t.Setenv("VENUE_OTEL_ENDPOINT", "http://192.0.2.1:4318")
	t.Setenv("VENUE_OTEL_ENABLED", "")
	t.Setenv("VENUE_OTEL_SAMPLE_RATIO", "0.25")

	shutdown, err := otel.Setup(context.Background(), "test-service")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestTracerReturnsUsableTracer(t *testing.T) {
	_, span := otel.Tracer("venue/test").Start(context.Background(), "noop")
	span.End()
}
