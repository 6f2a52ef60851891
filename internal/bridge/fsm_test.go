package bridge

import (
	"context"
	"testing"
)

func TestTrackerLifecycle(t *testing.T) {
	ctx := context.Background()
	tr := newTracker()

	if got := tr.current(); got != stateIdle {
		t.Fatalf("initial state = %q, want %q", got, stateIdle)
	}

	steps := []struct {
		event string
		want  string
	}{
		{eventConnect, stateConnecting},
		{eventConnackOK, stateConnected},
		{eventConnectionLost, stateIdle},
		{eventConnect, stateConnecting},
		{eventConnackFail, stateBackingOff},
		{eventFenceOpen, stateIdle},
	}
	for _, s := range steps {
		tr.observe(ctx, s.event)
		if got := tr.current(); got != s.want {
			t.Errorf("after %s: state = %q, want %q", s.event, got, s.want)
		}
	}
}

func TestTrackerRefreshCycle(t *testing.T) {
	ctx := context.Background()
	tr := newTracker()
	tr.observe(ctx, eventConnect)
	tr.observe(ctx, eventConnackOK)

	steps := []struct {
		event string
		want  string
	}{
		{eventRefreshDue, stateRefreshing},
		{eventRefreshOK, stateRebuilding},
		{eventClientBuilt, stateConnecting},
		{eventConnackOK, stateConnected},
	}
	for _, s := range steps {
		tr.observe(ctx, s.event)
		if got := tr.current(); got != s.want {
			t.Errorf("after %s: state = %q, want %q", s.event, got, s.want)
		}
	}
}

func TestTrackerRefreshFailure(t *testing.T) {
	ctx := context.Background()
	tr := newTracker()

	tr.observe(ctx, eventRefreshDue)
	tr.observe(ctx, eventRefreshFail)
	if got := tr.current(); got != stateBackingOff {
		t.Fatalf("after failed refresh: state = %q, want %q", got, stateBackingOff)
	}
	tr.observe(ctx, eventFenceOpen)
	if got := tr.current(); got != stateIdle {
		t.Errorf("after fence opened: state = %q, want %q", got, stateIdle)
	}
}

func TestTrackerWatchdogPath(t *testing.T) {
	ctx := context.Background()
	tr := newTracker()

	tr.observe(ctx, eventConnect)
	tr.observe(ctx, eventWatchdogFired)
	if got := tr.current(); got != stateRebuilding {
		t.Fatalf("after watchdog: state = %q, want %q", got, stateRebuilding)
	}
	tr.observe(ctx, eventClientBuilt)
	tr.observe(ctx, eventConnackOK)
	if got := tr.current(); got != stateConnected {
		t.Errorf("after rebuild: state = %q, want %q", got, stateConnected)
	}
}

// Events arriving in a state that does not expect them must move the tracker
// to the event's destination instead of being dropped. The library can
// reconnect on its own, so the tracker has to follow the world, not gate it.
func TestTrackerResync(t *testing.T) {
	tests := []struct {
		name  string
		setup []string
		event string
		want  string
	}{
		{"connack while idle", nil, eventConnackOK, stateConnected},
		{"lost while backing off", []string{eventConnect, eventConnackFail}, eventConnectionLost, stateIdle},
		{"refresh result while idle", nil, eventRefreshOK, stateRebuilding},
	}

	ctx := context.Background()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTracker()
			for _, ev := range tt.setup {
				tr.observe(ctx, ev)
			}
			tr.observe(ctx, tt.event)
			if got := tr.current(); got != tt.want {
				t.Errorf("state = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTrackerRepeatedEvent(t *testing.T) {
	ctx := context.Background()
	tr := newTracker()

	tr.observe(ctx, eventConnect)
	tr.observe(ctx, eventConnackOK)
	tr.observe(ctx, eventConnackOK)
	if got := tr.current(); got != stateConnected {
		t.Errorf("repeated connack: state = %q, want %q", got, stateConnected)
	}
}
