package auth

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"time"
)

// FailureDelay pads rejected verifications to a floor plus random jitter so
// "no such method", "wrong code" and "replayed code" answer in similar time.
// Successful verifications are never delayed.
type FailureDelay struct {
	Floor  time.Duration
	Jitter time.Duration
}

// jitter returns a uniformly random duration in [0, max)
func jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return time.Duration(binary.BigEndian.Uint64(b[:]) % uint64(max))
}

// Pad blocks until at least Floor plus jitter has elapsed since start when
// the outcome was a failure. It returns early if ctx is cancelled.
func (d *FailureDelay) Pad(ctx context.Context, start time.Time, success bool) {
	if d == nil || success {
		return
	}
	remaining := d.Floor + jitter(d.Jitter) - time.Since(start)
	if remaining <= 0 {
		return
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
