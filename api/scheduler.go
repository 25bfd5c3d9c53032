/*
scheduler.go - Automated reconciliation scheduler

PURPOSE:
  Periodically runs the batch reconciler so receipts missing from earlier
  failures get issued and newly earned commission gets released without
  anyone pressing a button.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on Start
  - A tick that fires while the previous run is still going is skipped
  - Stop cancels the in-flight run's context and waits for it to return

CONFIGURATION:
  - CheckInterval: How often to run (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewReconciliationScheduler(service, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunReconciliation endpoint (manual run)
  - commission/reconcile.go: Reconciler
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/johnnyang0612/commission-system-sub001/commission"
)

// BatchRunner is the part of commission.Service the scheduler drives.
type BatchRunner interface {
	ReconcileAll(ctx context.Context) (commission.BatchResult, error)
}

// ReconciliationScheduler runs reconciliation batches on a ticker.
type ReconciliationScheduler struct {
	Runner        BatchRunner
	Logger        *zap.Logger
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	runMu  sync.Mutex
}

// NewReconciliationScheduler creates a new scheduler.
func NewReconciliationScheduler(runner BatchRunner, logger *zap.Logger) *ReconciliationScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconciliationScheduler{
		Runner:        runner,
		Logger:        logger.Named("scheduler"),
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
	}
}

// Start begins the scheduler. Calling Start twice is a no-op.
func (rs *ReconciliationScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.Logger.Info("disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	rs.cancel = cancel
	rs.stop = make(chan struct{})
	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.wg.Add(1)

	go rs.run(ctx)

	rs.Logger.Info("started", zap.Duration("interval", rs.CheckInterval))
}

// Stop stops the scheduler and waits for an in-flight run to finish.
func (rs *ReconciliationScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker == nil {
		return
	}
	rs.ticker.Stop()
	rs.cancel()
	close(rs.stop)
	rs.wg.Wait()
	rs.ticker = nil
	rs.Logger.Info("stopped")
}

// RunNow runs one batch synchronously. It reports false without running
// when another run is in progress.
func (rs *ReconciliationScheduler) RunNow(ctx context.Context) (commission.BatchResult, bool, error) {
	if !rs.runMu.TryLock() {
		return commission.BatchResult{}, false, nil
	}
	defer rs.runMu.Unlock()

	res, err := rs.Runner.ReconcileAll(ctx)
	return res, true, err
}

func (rs *ReconciliationScheduler) run(ctx context.Context) {
	defer rs.wg.Done()

	// Run immediately on start
	rs.checkAndProcess(ctx)

	for {
		select {
		case <-rs.ticker.C:
			rs.checkAndProcess(ctx)
		case <-rs.stop:
			return
		}
	}
}

func (rs *ReconciliationScheduler) checkAndProcess(ctx context.Context) {
	res, ran, err := rs.RunNow(ctx)
	switch {
	case !ran:
		rs.Logger.Info("previous run still in progress, skipping tick")
	case err != nil:
		rs.Logger.Error("reconciliation run failed", zap.Error(err))
	case res.Failed > 0:
		rs.Logger.Warn("reconciliation completed with errors",
			zap.String("run_id", string(res.RunID)),
			zap.Int("failed", res.Failed),
			zap.Int("succeeded", res.Succeeded))
	}
}
