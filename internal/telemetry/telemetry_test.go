package telemetry

import (
	"context"
	"testing"
)

func TestSetup_NoopWhenEndpointEmpty(t *testing.T) {
	shutdown, err := Setup(context.Background(), "editor-bridge", "test", "")
	if err != nil {
		t.Fatalf("telemetry:telemetry_test - unexpected error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("telemetry:telemetry_test - noop shutdown should not error: %v", err)
	}
}

func TestSetup_CreatesProviderWhenEndpointSet(t *testing.T) {
	// Non-routable address; nothing is exported because no span is recorded.
	shutdown, err := Setup(context.Background(), "editor-bridge", "test", "http://192.0.2.1:4318")
	if err != nil {
		t.Fatalf("telemetry:telemetry_test - unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("telemetry:telemetry_test - shutdown error: %v", err)
	}
}
