package upstream

import (
	"testing"
)

func TestStateZeroValue(t *testing.T) {
	var st State

	if st.Connected() {
		t.Error("fresh state reports connected")
	}
	if got := st.LastConnectAttempt(); got != 0 {
		t.Errorf("LastConnectAttempt = %d, want 0", got)
	}
	if got := st.IdentityExpiry(); got != 0 {
		t.Errorf("IdentityExpiry = %d, want 0", got)
	}
	if !st.FenceOpen(1) {
		t.Error("fence should be open before any backoff is recorded")
	}
}

func TestStateFence(t *testing.T) {
	var st State
	now := int64(1_700_000_000)

	st.DeferConnectsUntil(now + 10)
	if st.FenceOpen(now) {
		t.Error("fence open immediately after deferral")
	}
	if st.FenceOpen(now + 9) {
		t.Error("fence open one second early")
	}
	if !st.FenceOpen(now + 10) {
		t.Error("fence closed at its own deadline")
	}

	// A later failure may move the fence further out; latest write wins.
	st.DeferConnectsUntil(now + 60)
	if st.FenceOpen(now + 10) {
		t.Error("fence open after a longer deferral replaced the first")
	}
}

func TestStateConnectAttempt(t *testing.T) {
	var st State

	st.StampConnectAttempt(42)
	if got := st.LastConnectAttempt(); got != 42 {
		t.Errorf("LastConnectAttempt = %d, want 42", got)
	}

	st.ClearConnectAttempt()
	if got := st.LastConnectAttempt(); got != 0 {
		t.Errorf("LastConnectAttempt after clear = %d, want 0", got)
	}
}

func TestStateConnected(t *testing.T) {
	var st State

	st.SetConnected(true)
	if !st.Connected() {
		t.Error("Connected() = false after SetConnected(true)")
	}
	st.SetConnected(false)
	if st.Connected() {
		t.Error("Connected() = true after SetConnected(false)")
	}
}

func TestStateIdentityExpiry(t *testing.T) {
	var st State

	st.SetIdentityExpiry(1_800_000_000)
	if got := st.IdentityExpiry(); got != 1_800_000_000 {
		t.Errorf("IdentityExpiry = %d, want 1800000000", got)
	}
}
