package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// ============================================================================
// FailureDelay Tests (4 tests)
// ============================================================================

func TestFailureDelay_PadsFailureToFloor(t *testing.T) {
	d := &FailureDelay{Floor: 50 * time.Millisecond, Jitter: 20 * time.Millisecond}
	start := time.Now()

	d.Pad(context.Background(), start, false)

	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestFailureDelay_SuccessIsNotDelayed(t *testing.T) {
	d := &FailureDelay{Floor: time.Second}
	start := time.Now()

	d.Pad(context.Background(), start, true)

	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestFailureDelay_CountsElapsedWork(t *testing.T) {
	d := &FailureDelay{Floor: 50 * time.Millisecond}
	start := time.Now().Add(-time.Second)

	before := time.Now()
	d.Pad(context.Background(), start, false)

	assert.Less(t, time.Since(before), 20*time.Millisecond, "floor already passed")
}

func TestFailureDelay_StopsOnCancel(t *testing.T) {
	d := &FailureDelay{Floor: 5 * time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	d.Pad(ctx, start, false)

	assert.Less(t, time.Since(start), time.Second)
}
