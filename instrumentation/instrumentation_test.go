package instrumentation

import (
	"context"
	"testing"
)

func TestNewDisabledUsesNoopProviders(t *testing.T) {
	inst, err := New(Config{Enabled: false})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer inst.Shutdown(context.Background()) //nolint:errcheck

	if inst.Metrics() == nil {
		t.Fatal("Metrics() should never be nil")
	}
	if inst.MeterProvider() == nil || inst.TracerProvider() == nil {
		t.Fatal("providers should fall back to no-op, not nil")
	}

	// Recording against no-op providers must not panic.
	ctx := context.Background()
	m := inst.Metrics()
	m.RecordTokenIssued(ctx, "client_credentials", false)
	m.RecordGrantRejected(ctx, "password", "invalid_grant")
	m.RecordTokenRevoked(ctx, "access")
	m.RecordTokenVerified(ctx, true, "")
	m.RecordTokenVerified(ctx, false, "invalid_token")
	m.RecordStorageOperation(ctx, "save_token", "success", 1.5)
	m.RecordHTTPRequest(ctx, "POST", "/token", 200, 12.0)
}

func TestNewAppliesDefaults(t *testing.T) {
	inst, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if inst.config.ServiceName != DefaultServiceName {
		t.Errorf("service name = %q, want %q", inst.config.ServiceName, DefaultServiceName)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordTokenIssued(ctx, "password", true)
	m.RecordRateLimitExceeded(ctx, "endpoint")
}

func TestShutdownIdempotent(t *testing.T) {
	inst, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := inst.Shutdown(context.Background()); err != nil {
		t.Errorf("first Shutdown() error: %v", err)
	}
	if err := inst.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown() error: %v", err)
	}
}
