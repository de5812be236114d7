package generic

import (
	"context"
	"sync"
	"time"
)

// BestEffort runs side effects whose failure must never change the outcome
// of the primary operation: audit rows, admin logs, notifications and
// participant registration. Failures (and panics) are logged and dropped.
type BestEffort struct {
	Logger Logger

	// Timeout bounds background tasks started with Go. Zero means 10s.
	Timeout time.Duration

	wg sync.WaitGroup
}

// NewBestEffort returns a runner logging to logger.
func NewBestEffort(logger Logger) *BestEffort {
	return &BestEffort{Logger: orNop(logger)}
}

// Do runs fn synchronously. It reports whether fn succeeded so callers can
// record it, but the caller must not turn a false into an error.
func (b *BestEffort) Do(ctx context.Context, name string, fn func(context.Context) error) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			b.logger().Printf("best-effort %s panicked: %v", name, r)
			ok = false
		}
	}()
	if err := fn(ctx); err != nil {
		LogEvent(b.logger(), "best_effort_failed", map[string]any{
			"task":  name,
			"error": err.Error(),
		})
		return false
	}
	return true
}

// Go runs fn in the background, detached from the caller's cancellation.
// The write still completes when the request that started it is gone.
func (b *BestEffort) Go(ctx context.Context, name string, fn func(context.Context) error) {
	timeout := b.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer cancel()
		b.Do(bg, name, fn)
	}()
}

// Wait blocks until every task started with Go has finished.
func (b *BestEffort) Wait() {
	b.wg.Wait()
}

func (b *BestEffort) logger() Logger {
	if b == nil || b.Logger == nil {
		return nopLogger{}
	}
	return b.Logger
}
