package upstream

import (
	"testing"
	"time"
)

func TestConnectBackoff(t *testing.T) {
	tests := []struct {
		name   string
		reason byte
		want   time.Duration
	}{
		{"quota exceeded", 0x97, 60 * time.Second},
		{"not authorized", 0x87, 30 * time.Second},
		{"unspecified error", 0x80, 20 * time.Second},
		{"client id rejected", 0x85, 20 * time.Second},
		{"server unavailable", 0x88, 5 * time.Second},
		{"banned", 0x8A, 5 * time.Second},
		{"malformed packet", 0x81, 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ConnectBackoff(tt.reason); got != tt.want {
				t.Errorf("ConnectBackoff(0x%02x) = %v, want %v", tt.reason, got, tt.want)
			}
		})
	}
}

func TestBackoffClass(t *testing.T) {
	tests := []struct {
		reason byte
		want   string
	}{
		{0x97, "quota"},
		{0x87, "auth"},
		{0x80, "broker"},
		{0x85, "broker"},
		{0x88, "other"},
	}

	for _, tt := range tests {
		if got := BackoffClass(tt.reason); got != tt.want {
			t.Errorf("BackoffClass(0x%02x) = %q, want %q", tt.reason, got, tt.want)
		}
	}
}

func TestJitterBounds(t *testing.T) {
	base := 10 * time.Second
	for i := 0; i < 1000; i++ {
		got := Jitter(base)
		if got < base-250*time.Millisecond || got > base+250*time.Millisecond {
			t.Fatalf("Jitter(%v) = %v, outside ±250ms", base, got)
		}
	}
}

func TestFenceDeadline(t *testing.T) {
	now := int64(1_700_000_000)
	for _, delay := range []time.Duration{5 * time.Second, 20 * time.Second, 60 * time.Second} {
		want := now + int64(delay/time.Second)
		for i := 0; i < 100; i++ {
			got := FenceDeadline(now, delay)
			// Quantisation may shave at most one second off.
			if got < want-1 || got > want {
				t.Fatalf("FenceDeadline(%d, %v) = %d, want %d or %d", now, delay, got, want-1, want)
			}
		}
	}
}

func TestSettleDelayBounds(t *testing.T) {
	for i := 0; i < 1000; i++ {
		got := SettleDelay()
		if got < 1500*time.Millisecond || got >= 2000*time.Millisecond {
			t.Fatalf("SettleDelay() = %v, want [1.5s, 2s)", got)
		}
	}
}

func TestStaggerDelayBounds(t *testing.T) {
	for i := 0; i < 1000; i++ {
		got := StaggerDelay()
		if got < 100*time.Millisecond || got >= 300*time.Millisecond {
			t.Fatalf("StaggerDelay() = %v, want [100ms, 300ms)", got)
		}
	}
}
