// Package upstream maintains the authenticated MQTT session against the
// vendor's streaming broker: connection lifecycle, CONNACK-driven backoff
// and the shared signal surface the supervisor decides from.
package upstream

import (
	"sync/atomic"
)

// State is the signal surface between the client callbacks and the
// supervisor. Callbacks record observations here; only the supervisor acts
// on them. All timestamps are unix seconds.
type State struct {
	connected          atomic.Bool
	lastConnectAttempt atomic.Int64
	nextConnectAfter   atomic.Int64
	identityExpiry     atomic.Int64
}

// Connected reports the last observed session state.
func (s *State) Connected() bool {
	return s.connected.Load()
}

// SetConnected records a connectivity transition.
func (s *State) SetConnected(v bool) {
	s.connected.Store(v)
}

// LastConnectAttempt returns when the most recent CONNECT was sent, or 0
// when no attempt is in flight.
func (s *State) LastConnectAttempt() int64 {
	return s.lastConnectAttempt.Load()
}

// StampConnectAttempt arms the CONNECT watchdog for the attempt now being
// made. Cleared by ClearConnectAttempt when the CONNACK arrives.
func (s *State) StampConnectAttempt(now int64) {
	s.lastConnectAttempt.Store(now)
}

// ClearConnectAttempt disarms the CONNECT watchdog.
func (s *State) ClearConnectAttempt() {
	s.lastConnectAttempt.Store(0)
}

// NextConnectAfter returns the backoff fence: no supervisor-driven connect
// or rebuild may happen before this time.
func (s *State) NextConnectAfter() int64 {
	return s.nextConnectAfter.Load()
}

// DeferConnectsUntil moves the backoff fence. The latest write wins, matching
// the rule that every failure classification re-decides the fence.
func (s *State) DeferConnectsUntil(ts int64) {
	s.nextConnectAfter.Store(ts)
}

// FenceOpen reports whether connect-class actions are currently allowed.
func (s *State) FenceOpen(now int64) bool {
	return now >= s.nextConnectAfter.Load()
}

// IdentityExpiry returns the exp of the identity token currently in use,
// or 0 when unknown.
func (s *State) IdentityExpiry() int64 {
	return s.identityExpiry.Load()
}

// SetIdentityExpiry records the exp of a newly adopted identity token.
func (s *State) SetIdentityExpiry(ts int64) {
	s.identityExpiry.Store(ts)
}
