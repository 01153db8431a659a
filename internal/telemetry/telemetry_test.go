package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestSetupWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), Options{ServiceName: "test"})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if otel.GetTextMapPropagator() == nil {
		t.Fatal("propagator should be installed")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
