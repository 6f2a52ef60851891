// Package fsm carries helpers around looplab/fsm for state machines that
// track an external process rather than drive it.
package fsm

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
)

// Observe applies event to m and reports the resulting state. When the
// current state does not accept the event, the machine is moved straight to
// dst[event] instead of discarding the observation: an observing machine
// must follow the world it mirrors, even when the world skipped a step
// (a library-driven reconnect, a callback that never fired).
//
// The returned bool is true when such a jump happened. Jumps bypass the
// machine's callbacks, so callers relying on enter_state hooks must handle
// the jump themselves.
func Observe(ctx context.Context, m *fsm.FSM, event string, dst map[string]string) (string, bool) {
	err := m.Event(ctx, event)
	if err == nil {
		return m.Current(), false
	}

	var invalid fsm.InvalidEventError
	if errors.As(err, &invalid) {
		d, ok := dst[event]
		if ok && d != m.Current() {
			m.SetState(d)
			return d, true
		}
	}

	return m.Current(), false
}
