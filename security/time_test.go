package security

import (
	"testing"
	"time"
)

func TestIsExpired(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		grace     time.Duration
		want      bool
	}{
		{"future expiry", now.Add(time.Hour), 0, false},
		{"exactly at expiry", now, 0, false},
		{"past expiry", now.Add(-time.Second), 0, true},
		{"past expiry within grace", now.Add(-3 * time.Second), 5 * time.Second, false},
		{"past expiry beyond grace", now.Add(-6 * time.Second), 5 * time.Second, true},
		{"zero expiry never expires", time.Time{}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsExpired(now, tt.expiresAt, tt.grace); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsExpiringSoon(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	if !IsExpiringSoon(now, now.Add(time.Minute), 5*time.Minute) {
		t.Error("expiry within threshold should report true")
	}
	if IsExpiringSoon(now, now.Add(time.Hour), 5*time.Minute) {
		t.Error("expiry beyond threshold should report false")
	}
	if IsExpiringSoon(now, time.Time{}, 5*time.Minute) {
		t.Error("zero expiry should report false")
	}
}
