package observability

import (
	"context"
	"testing"
)

func TestSetupDefaultAgentHost(t *testing.T) {
	t.Parallel()

	shutdown, err := Setup(context.Background(), Config{
		Environment: "test",
		ServiceName: "test-service",
	})
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if shutdown == nil {
		t.Fatal("Setup() returned nil shutdown")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown error = %v", err)
	}
}

func TestSetupCustomAgentHost(t *testing.T) {
	t.Parallel()

	shutdown, err := Setup(context.Background(), Config{
		AgentHost:   "custom-host:4318",
		Environment: "staging",
		ServiceName: "custom-service",
	})
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown error = %v", err)
	}
}

func TestSetupUnreachableAgentDegradesGracefully(t *testing.T) {
	t.Parallel()

	// Nothing listens here; exporting fails silently while span
	// creation keeps working.
	shutdown, err := Setup(context.Background(), Config{
		AgentHost:   "localhost:1",
		Environment: "test",
		ServiceName: "graceful-test",
	})
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if shutdown == nil {
		t.Fatal("Setup() returned nil shutdown")
	}
	_ = shutdown(context.Background())
}
