/*
scheduler.go - Balance invariant monitor

PURPOSE:
  Periodically scans every stored balance and reports rows where
  total != paid + free. The ledger always writes all three fields together,
  so any hit points at a write made outside this service.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Logs one structured event per inconsistent balance
  - Keeps the time and findings of the last run; GET /api/balances/inconsistent
    reports them next to its on-demand result

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewBalanceCheckScheduler(handler.Ledger, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: ListInconsistentBalances (on-demand check)
  - cash/ledger.go: Ledger.Inconsistent
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/slot-admin/cash"
	"github.com/warp/slot-admin/generic"
)

// BalanceCheckScheduler runs Ledger.Inconsistent on a ticker.
type BalanceCheckScheduler struct {
	Ledger        *cash.Ledger
	Logger        generic.Logger
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex

	lastMu  sync.Mutex
	lastRun time.Time
	last    []cash.Balance
}

// NewBalanceCheckScheduler creates a new scheduler.
func NewBalanceCheckScheduler(ledger *cash.Ledger, logger generic.Logger) *BalanceCheckScheduler {
	if logger == nil {
		logger = generic.NopLogger()
	}
	return &BalanceCheckScheduler{
		Ledger:        ledger,
		Logger:        logger,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (bs *BalanceCheckScheduler) Start() {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if !bs.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}
	if bs.ticker != nil {
		return
	}

	bs.ticker = time.NewTicker(bs.CheckInterval)
	bs.wg.Add(1)

	go bs.run()

	log.Printf("[Scheduler] Started with check interval: %v", bs.CheckInterval)
}

// Stop stops the scheduler.
func (bs *BalanceCheckScheduler) Stop() {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if bs.ticker != nil {
		bs.ticker.Stop()
		close(bs.stop)
		bs.wg.Wait()
		bs.ticker = nil
		log.Println("[Scheduler] Stopped")
	}
}

func (bs *BalanceCheckScheduler) run() {
	defer bs.wg.Done()

	// Run immediately on start
	bs.check()

	for {
		select {
		case <-bs.ticker.C:
			bs.check()
		case <-bs.stop:
			return
		}
	}
}

func (bs *BalanceCheckScheduler) check() []cash.Balance {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	now := bs.Ledger.Clock.Now()
	bad, err := bs.Ledger.Inconsistent(ctx)
	if err != nil {
		log.Printf("[Scheduler] Error checking balances: %v", err)
		return nil
	}

	for _, b := range bad {
		generic.LogEvent(bs.Logger, "balance_inconsistent", map[string]any{
			"user_id":       b.UserID,
			"paid_balance":  b.Paid,
			"free_balance":  b.Free,
			"total_balance": b.Total,
		})
	}
	if len(bad) > 0 {
		log.Printf("[Scheduler] Completed: %d inconsistent balances", len(bad))
	}

	bs.lastMu.Lock()
	bs.lastRun = now
	bs.last = bad
	bs.lastMu.Unlock()
	return bad
}

// RunNow triggers an immediate check (for testing/admin).
func (bs *BalanceCheckScheduler) RunNow() []cash.Balance {
	return bs.check()
}

// LastRun returns when the last check finished and what it found.
func (bs *BalanceCheckScheduler) LastRun() (time.Time, []cash.Balance) {
	bs.lastMu.Lock()
	defer bs.lastMu.Unlock()
	return bs.lastRun, bs.last
}

// GetNextRunTime returns when the next scheduled check will occur.
func (bs *BalanceCheckScheduler) GetNextRunTime() time.Time {
	if at, _ := bs.LastRun(); !at.IsZero() {
		return at.Add(bs.CheckInterval)
	}
	return time.Now().Add(bs.CheckInterval)
}
