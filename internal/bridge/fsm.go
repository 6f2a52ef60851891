package bridge

import (
	"context"

	"github.com/looplab/fsm"

	"github.com/opencardata/cardata-bridge/internal/pkg/metrics"
	fsmutil "github.com/opencardata/cardata-bridge/internal/pkg/util/fsm"
	"github.com/opencardata/cardata-bridge/pkg/log"
)

const (
	stateIdle       = "idle"
	stateConnecting = "connecting"
	stateConnected  = "connected"
	stateBackingOff = "backing_off"
	stateRefreshing = "refreshing"
	stateRebuilding = "rebuilding"
)

const (
	// eventConnect marks a supervisor-initiated connect attempt.
	eventConnect = "connect"
	// eventConnackOK marks a successful broker handshake.
	eventConnackOK = "connack_ok"
	// eventConnackFail marks a refused handshake that raised a fence.
	eventConnackFail = "connack_fail"
	// eventConnectionLost marks an established session dropping.
	eventConnectionLost = "connection_lost"
	// eventRefreshDue marks the start of a token refresh.
	eventRefreshDue = "refresh_due"
	// eventRefreshOK and eventRefreshFail end a refresh.
	eventRefreshOK   = "refresh_ok"
	eventRefreshFail = "refresh_fail"
	// eventWatchdogFired marks a hung CONNECT being torn down.
	eventWatchdogFired = "watchdog_fired"
	// eventClientBuilt marks a fresh client generation going live.
	eventClientBuilt = "client_built"
	// eventFenceOpen marks the backoff window elapsing.
	eventFenceOpen = "fence_open"
)

var allStates = []string{
	stateIdle, stateConnecting, stateConnected,
	stateBackingOff, stateRefreshing, stateRebuilding,
}

// eventDst lets observe resynchronise after out-of-band transitions: when an
// event arrives in a state that does not expect it, the tracker jumps to the
// event's destination instead of discarding the observation.
var eventDst = map[string]string{
	eventConnect:        stateConnecting,
	eventConnackOK:      stateConnected,
	eventConnackFail:    stateBackingOff,
	eventConnectionLost: stateIdle,
	eventRefreshDue:     stateRefreshing,
	eventRefreshOK:      stateRebuilding,
	eventRefreshFail:    stateBackingOff,
	eventWatchdogFired:  stateRebuilding,
	eventClientBuilt:    stateConnecting,
	eventFenceOpen:      stateIdle,
}

// tracker mirrors the supervisor's activity as a named state for logs, the
// session_state metric and the ops endpoint. It is purely observational:
// every decision comes from the clock and the shared session flags, so a
// missed or re-ordered event can never wedge the bridge.
type tracker struct {
	m *fsm.FSM
}

func newTracker() *tracker {
	t := &tracker{}

	events := fsm.Events{
		{Name: eventConnect, Src: []string{stateIdle, stateBackingOff}, Dst: stateConnecting},
		{Name: eventConnackOK, Src: []string{stateConnecting, stateRebuilding}, Dst: stateConnected},
		{Name: eventConnackFail, Src: []string{stateConnecting, stateIdle, stateRebuilding}, Dst: stateBackingOff},
		{Name: eventConnectionLost, Src: []string{stateConnected, stateConnecting}, Dst: stateIdle},
		{Name: eventRefreshDue, Src: []string{stateIdle, stateConnecting, stateConnected, stateBackingOff}, Dst: stateRefreshing},
		{Name: eventRefreshOK, Src: []string{stateRefreshing}, Dst: stateRebuilding},
		{Name: eventRefreshFail, Src: []string{stateRefreshing}, Dst: stateBackingOff},
		{Name: eventWatchdogFired, Src: []string{stateConnecting, stateIdle, stateBackingOff}, Dst: stateRebuilding},
		{Name: eventClientBuilt, Src: []string{stateRebuilding}, Dst: stateConnecting},
		{Name: eventFenceOpen, Src: []string{stateBackingOff}, Dst: stateIdle},
	}

	callbacks := fsm.Callbacks{
		"enter_state": func(_ context.Context, e *fsm.Event) {
			log.Debug("Session state changed", "from", e.Src, "to", e.Dst, "event", e.Event)
			setStateMetric(e.Dst)
		},
	}

	t.m = fsm.NewFSM(stateIdle, events, callbacks)
	setStateMetric(stateIdle)
	return t
}

// observe applies ev. An event the current state does not expect means the
// world moved without us (a library-driven reconnect, say); the tracker
// jumps to the event's destination rather than discarding the observation.
func (t *tracker) observe(ctx context.Context, ev string) {
	state, jumped := fsmutil.Observe(ctx, t.m, ev, eventDst)
	if jumped {
		log.Debug("Session state resynchronised", "event", ev, "to", state)
		// The jump skips callbacks, so the metric moves by hand.
		setStateMetric(state)
	}
}

func (t *tracker) current() string {
	return t.m.Current()
}

// setStateMetric keeps the session_state vector one-hot.
func setStateMetric(state string) {
	for _, s := range allStates {
		v := 0.0
		if s == state {
			v = 1.0
		}
		metrics.SessionState.WithLabelValues(s).Set(v)
	}
}
