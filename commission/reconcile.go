/*
reconcile.go - Batch reconciler

PURPOSE:
  Sweeps every entitlement and settles what can be settled:
    - payouts without a receipt get one
    - entitlements that are not fully paid release their available amount

SELECTION:
  An entitlement is worked on when it
    a) is not fully_paid and has available > 0, or
    b) has at least one payout without a receipt.
  Everything else is counted as skipped.

ISOLATION:
  Each entitlement is handled by exactly one goroutine, and the payout
  itself takes the entitlement lock, so no two payouts ever run against
  the same entitlement. A failing item is recorded as a
  ReconciliationItemError and the batch carries on.

RUN RECORD:
  A ReconciliationRun is saved as "running" before the sweep and updated
  with the final counts afterwards.

SEE ALSO:
  - api/scheduler.go: runs ReconcileAll on an interval
*/
package commission

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/johnnyang0612/commission-system-sub001/ledger"
	"github.com/johnnyang0612/commission-system-sub001/metrics"
)

// DefaultReconcileWorkers bounds parallelism when Workers is unset.
const DefaultReconcileWorkers = 4

// Item stages reported in ReconciliationItemError.
const (
	StageAvailability = "availability"
	StageReceipt      = "receipt"
	StagePayout       = "payout"
)

// BatchResult summarizes one ReconcileAll call.
type BatchResult struct {
	RunID     ledger.RunID
	Processed int
	Succeeded int
	Failed    int
	Skipped   int
	Errors    []*ledger.ReconciliationItemError

	Released       decimal.Decimal
	ReceiptsIssued int

	StartedAt   time.Time
	CompletedAt time.Time
}

// ReconcileRepository is the storage the reconciler scans.
type ReconcileRepository interface {
	ListEntitlements(ctx context.Context) ([]ledger.Entitlement, error)
	PayoutsWithoutReceipt(ctx context.Context, id ledger.EntitlementID) ([]ledger.Payout, error)
	SaveReconciliationRun(ctx context.Context, run ledger.ReconciliationRun) error
}

type Reconciler struct {
	Repo         ReconcileRepository
	Availability *AvailabilityCalculator
	Executor     *PayoutExecutor
	Receipts     *ReceiptGenerator
	Workers      int
	IDs          ledger.IDGenerator
	Now          func() time.Time
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
}

// itemOutcome is what one entitlement contributed to the batch.
type itemOutcome struct {
	skipped  bool
	released decimal.Decimal
	receipts int
	err      *ledger.ReconciliationItemError
}

// ReconcileAll runs one sweep. The returned error is only non-nil when the
// sweep itself could not run; item failures are reported in BatchResult.
func (r *Reconciler) ReconcileAll(ctx context.Context) (BatchResult, error) {
	started := r.now()
	result := BatchResult{
		RunID:     ledger.RunID(r.IDs.NewID("run")),
		StartedAt: started,
		Released:  decimal.Zero,
	}
	run := ledger.ReconciliationRun{
		ID:        result.RunID,
		Status:    ledger.RunRunning,
		StartedAt: started,
	}
	if err := r.Repo.SaveReconciliationRun(ctx, run); err != nil {
		return result, err
	}

	log := r.logger().With(zap.String("run_id", string(result.RunID)))
	log.Info("reconciliation started")

	entitlements, err := r.Repo.ListEntitlements(ctx)
	if err != nil {
		r.finish(ctx, log, &run, &result, fmt.Errorf("list entitlements: %w", err))
		return result, err
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(r.workers())
	for _, e := range entitlements {
		g.Go(func() error {
			out := r.reconcileOne(ctx, result.RunID, e)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case out.skipped:
				result.Skipped++
				r.Metrics.ObserveReconcileItem(metrics.ItemSkipped)
			case out.err != nil:
				result.Processed++
				result.Failed++
				result.Errors = append(result.Errors, out.err)
				r.Metrics.ObserveReconcileItem(metrics.ItemFailed)
			default:
				result.Processed++
				result.Succeeded++
				r.Metrics.ObserveReconcileItem(metrics.ItemSucceeded)
			}
			result.Released = result.Released.Add(out.released)
			result.ReceiptsIssued += out.receipts
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(result.Errors, func(i, j int) bool {
		return result.Errors[i].EntitlementID < result.Errors[j].EntitlementID
	})

	r.finish(ctx, log, &run, &result, ctx.Err())
	return result, nil
}

// reconcileOne settles a single entitlement.
func (r *Reconciler) reconcileOne(ctx context.Context, runID ledger.RunID, e ledger.Entitlement) itemOutcome {
	out := itemOutcome{released: decimal.Zero}
	fail := func(stage string, err error) itemOutcome {
		out.err = &ledger.ReconciliationItemError{EntitlementID: e.ID, Stage: stage, Err: err}
		return out
	}

	if err := ctx.Err(); err != nil {
		return fail(StageAvailability, err)
	}

	missing, err := r.Repo.PayoutsWithoutReceipt(ctx, e.ID)
	if err != nil {
		return fail(StageReceipt, err)
	}

	available := decimal.Zero
	if e.Status != ledger.EntitlementFullyPaid {
		a, err := r.Availability.Get(ctx, e.ID)
		if err != nil {
			return fail(StageAvailability, err)
		}
		available = a.AvailableAmount
	}

	if len(missing) == 0 && !available.IsPositive() {
		out.skipped = true
		return out
	}

	for _, p := range missing {
		res, err := r.Receipts.Issue(ctx, p, e.SalespersonID)
		if err != nil {
			return fail(StageReceipt, err)
		}
		if !res.AlreadyExisted {
			out.receipts++
		}
	}

	if available.IsPositive() {
		res, err := r.Executor.ReleaseAvailable(ctx, e.ID, PayoutMetadata{
			PaidOn: ledger.DateOf(r.now()),
			Notes:  "reconciliation " + string(runID),
		})
		switch {
		case errors.Is(err, ledger.ErrNothingAvailable):
			// Someone else paid it out between the scan and the lock.
		case err != nil:
			return fail(StagePayout, err)
		default:
			out.released = res.Payout.Amount
			out.receipts++
		}
	}
	return out
}

func (r *Reconciler) finish(ctx context.Context, log *zap.Logger, run *ledger.ReconciliationRun, result *BatchResult, runErr error) {
	result.CompletedAt = r.now()
	completed := result.CompletedAt

	run.Processed = result.Processed
	run.Succeeded = result.Succeeded
	run.Failed = result.Failed
	run.CompletedAt = &completed
	switch {
	case runErr != nil:
		run.Status = ledger.RunFailed
		run.Error = runErr.Error()
	case result.Failed > 0:
		run.Status = ledger.RunCompletedWithErrors
		run.Error = fmt.Sprintf("%d of %d items failed", result.Failed, result.Processed)
	default:
		run.Status = ledger.RunCompleted
	}

	// The run record must be written even when ctx was cancelled mid-sweep.
	saveCtx := context.WithoutCancel(ctx)
	if err := r.Repo.SaveReconciliationRun(saveCtx, *run); err != nil {
		log.Error("failed to save reconciliation run", zap.Error(err))
	}
	r.Metrics.ObserveReconcileRun(run.Status, result.CompletedAt.Sub(result.StartedAt))

	log.Info("reconciliation finished",
		zap.String("status", string(run.Status)),
		zap.Int("processed", result.Processed),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped),
		zap.Int("receipts_issued", result.ReceiptsIssued),
		zap.String("released", result.Released.String()),
	)
	for _, itemErr := range result.Errors {
		log.Warn("reconciliation item failed",
			zap.String("entitlement_id", string(itemErr.EntitlementID)),
			zap.String("stage", itemErr.Stage),
			zap.Error(itemErr.Err),
		)
	}
}

func (r *Reconciler) workers() int {
	if r.Workers > 0 {
		return r.Workers
	}
	return DefaultReconcileWorkers
}

func (r *Reconciler) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now().UTC()
}

func (r *Reconciler) logger() *zap.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return zap.NewNop()
}
