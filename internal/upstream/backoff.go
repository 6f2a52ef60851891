package upstream

import (
	"math/rand/v2"
	"time"
)

// Backoff applied when the broker closes the transport or the attempt dies
// before a CONNACK arrives (TLS failure, unexpected EOF, dial timeout).
const TransportBackoff = 5 * time.Second

// Backoff applied after a failed token refresh before the next connect-class
// action may run.
const RefreshFailureBackoff = 15 * time.Second

// ConnectBackoff maps a CONNACK reason code to the delay before the next
// connect attempt. The vendor broker uses 0x97 for per-account connection
// quota and 0x87/0x85 for credential problems that a token refresh may fix.
func ConnectBackoff(reason byte) time.Duration {
	switch reason {
	case 0x97: // quota exceeded
		return 60 * time.Second
	case 0x87: // not authorized
		return 30 * time.Second
	case 0x80, 0x85: // unspecified error, client identifier rejected
		return 20 * time.Second
	default:
		return 5 * time.Second
	}
}

// BackoffClass names the failure class behind a CONNACK reason code, for
// logs and metrics.
func BackoffClass(reason byte) string {
	switch reason {
	case 0x97:
		return "quota"
	case 0x87:
		return "auth"
	case 0x80, 0x85:
		return "broker"
	default:
		return "other"
	}
}

// Jitter perturbs d by up to ±250ms so that several bridges sharing one
// account do not retry in lockstep.
func Jitter(d time.Duration) time.Duration {
	return d + time.Duration(rand.Int64N(501)-250)*time.Millisecond
}

// FenceDeadline converts a backoff delay into an absolute fence timestamp.
// The jitter is quantised to whole seconds, so at the current amplitude it
// mostly vanishes; it still decorrelates the millisecond sleeps taken
// elsewhere.
func FenceDeadline(now int64, d time.Duration) int64 {
	return now + int64(Jitter(d)/time.Second)
}

// SettleDelay is how long to wait between adopting fresh credentials and
// rebuilding the client, leaving the broker a moment to retire the old
// session.
func SettleDelay() time.Duration {
	return 1500*time.Millisecond + time.Duration(rand.Int64N(500))*time.Millisecond
}

// StaggerDelay is the short pause before a token refresh request, spreading
// refresh load when many bridges start together.
func StaggerDelay() time.Duration {
	return 100*time.Millisecond + time.Duration(rand.Int64N(200))*time.Millisecond
}
