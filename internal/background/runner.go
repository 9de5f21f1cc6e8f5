package background

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// Task is one unit of periodic work
type Task func(ctx context.Context)

// Runner calls a Task immediately on Start and then once per interval
// until stopped
type Runner struct {
	name     string
	task     Task
	interval time.Duration
	logger   *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	started  atomic.Bool
}

// NewRunner creates a new runner
func NewRunner(name string, interval time.Duration, task Task, logger *slog.Logger) *Runner {
	return &Runner{
		name:     name,
		task:     task,
		interval: interval,
		logger:   logger.With(slog.String("runner", name)),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the loop and blocks until Stop is called or ctx is done.
// Only the first call does anything.
func (r *Runner) Start(ctx context.Context) {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	defer close(r.done)

	select {
	case <-r.stopCh:
		return
	default:
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// Run immediately on startup
	r.run(ctx)

	for {
		select {
		case <-ticker.C:
			r.run(ctx)
		case <-r.stopCh:
			r.logger.Info("background runner stopped")
			return
		case <-ctx.Done():
			r.logger.Info("background runner context cancelled")
			return
		}
	}
}

// run executes one tick; a panicking task is logged and the loop goes on
func (r *Runner) run(ctx context.Context) {
	// Stop may race with a ready ticker; never tick once stopped
	select {
	case <-r.stopCh:
		return
	default:
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("background task panicked",
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	start := time.Now()
	r.task(ctx)
	r.logger.Debug("background task completed", slog.Duration("duration", time.Since(start)))
}

// Stop signals the loop to exit and waits for the current tick to finish
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	if r.started.Load() {
		<-r.done
	}
}
