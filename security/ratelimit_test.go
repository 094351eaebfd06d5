package security

import (
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(1, 2, testLogger())
	defer rl.Stop()

	if !rl.Allow("client-a") {
		t.Fatal("first request should be allowed")
	}
	if !rl.Allow("client-a") {
		t.Fatal("second request within burst should be allowed")
	}
	if rl.Allow("client-a") {
		t.Fatal("request beyond burst should be denied")
	}

	// Other identifiers get their own bucket.
	if !rl.Allow("client-b") {
		t.Fatal("fresh identifier should be allowed")
	}
}

func TestRateLimiterEviction(t *testing.T) {
	rl := NewRateLimiterWithConfig(10, 10, 3, testLogger())
	defer rl.Stop()

	for i := 0; i < 5; i++ {
		rl.Allow(fmt.Sprintf("client-%d", i))
	}
	if got := rl.Len(); got > 3 {
		t.Errorf("tracked identifiers = %d, want at most 3", got)
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(10, 10, testLogger())
	defer rl.Stop()

	rl.Allow("idle-client")
	if rl.Len() != 1 {
		t.Fatalf("expected 1 tracked identifier, got %d", rl.Len())
	}

	time.Sleep(5 * time.Millisecond)
	rl.Cleanup(time.Millisecond)
	if rl.Len() != 0 {
		t.Errorf("expected idle entry removed, %d remain", rl.Len())
	}
}

func TestRateLimiterStopIdempotent(t *testing.T) {
	rl := NewRateLimiter(1, 1, testLogger())
	rl.Stop()
	rl.Stop()
}
