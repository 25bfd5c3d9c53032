/*
payout.go - Payout executor

PURPOSE:
  Commits a release of commission: the payout row, its labor receipt and
  the entitlement status change, all or nothing.

SEQUENCE (per entitlement, serialized):
  1. Acquire the entitlement lock
  2. Begin transaction
  3. Reload entitlement, contract, payments, payouts; recompute availability
  4. Reject amount <= 0 (ValidationError) or amount > available
     (InsufficientAvailableError carrying the available figure)
  5. Append payout
  6. Issue receipt (a failure here aborts the whole transaction)
  7. Update status with the version read in step 3
  8. Commit, release lock

  Step 7 is the optimistic re-check: if another writer committed a payout
  for this entitlement since step 3, the version no longer matches and the
  transaction rolls back with ErrConcurrentModification. With the lock in
  place this only happens when a distributed lock expired mid-flight.

STATUS:
  fully_paid      total - paid <= Epsilon
  partially_paid  otherwise
*/
package commission

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/johnnyang0612/commission-system-sub001/ledger"
	"github.com/johnnyang0612/commission-system-sub001/lock"
	"github.com/johnnyang0612/commission-system-sub001/metrics"
)

// PayoutMetadata describes a release. A zero PaidOn means today.
type PayoutMetadata struct {
	PaidOn ledger.Date
	Notes  string
}

// PayoutResult is what a committed payout produced.
type PayoutResult struct {
	Payout       ledger.Payout
	Receipt      ReceiptResult
	Entitlement  ledger.Entitlement // after the status update
	Availability Availability       // after the payout
}

type PayoutExecutor struct {
	Store    ledger.TxStore
	Locks    lock.Locker
	Rates    *RateBook
	Receipts *ReceiptGenerator
	IDs      ledger.IDGenerator
	Now      func() time.Time
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
}

// Execute releases exactly amount from the entitlement.
func (x *PayoutExecutor) Execute(ctx context.Context, id ledger.EntitlementID, amount decimal.Decimal, meta PayoutMetadata) (PayoutResult, error) {
	if !amount.IsPositive() {
		err := ledger.NewValidationError("amount", "must be positive, got %s", amount)
		x.Metrics.ObservePayout(amount, err)
		return PayoutResult{}, err
	}
	result, err := x.commit(ctx, id, meta, func(a Availability) (decimal.Decimal, error) {
		if amount.GreaterThan(a.AvailableAmount) {
			return decimal.Zero, &ledger.InsufficientAvailableError{
				EntitlementID: id,
				Requested:     amount,
				Available:     a.AvailableAmount,
			}
		}
		return amount, nil
	})
	x.Metrics.ObservePayout(amount, err)
	return result, err
}

// ReleaseAvailable releases whatever is available at commit time. Returns
// ErrNothingAvailable when that is zero.
func (x *PayoutExecutor) ReleaseAvailable(ctx context.Context, id ledger.EntitlementID, meta PayoutMetadata) (PayoutResult, error) {
	result, err := x.commit(ctx, id, meta, func(a Availability) (decimal.Decimal, error) {
		if !a.AvailableAmount.IsPositive() {
			return decimal.Zero, ledger.ErrNothingAvailable
		}
		return a.AvailableAmount, nil
	})
	if !errors.Is(err, ledger.ErrNothingAvailable) {
		x.Metrics.ObservePayout(result.Payout.Amount, err)
	}
	return result, err
}

// commit runs the locked transaction. decide picks the amount from the
// freshly computed availability or rejects the payout.
func (x *PayoutExecutor) commit(
	ctx context.Context,
	id ledger.EntitlementID,
	meta PayoutMetadata,
	decide func(Availability) (decimal.Decimal, error),
) (PayoutResult, error) {
	waitStart := time.Now()
	release, err := x.locker().Acquire(ctx, lock.EntitlementKey(string(id)))
	if err != nil {
		return PayoutResult{}, err
	}
	defer release()
	x.Metrics.ObserveLockWait(time.Since(waitStart))

	now := x.now()
	paidOn := meta.PaidOn
	if paidOn.IsZero() {
		paidOn = ledger.DateOf(now)
	}

	var result PayoutResult
	err = x.Store.WithTx(ctx, func(tx ledger.Store) error {
		snap, err := loadSnapshot(ctx, tx, x.Rates, id)
		if err != nil {
			return err
		}
		amount, err := decide(snap.Availability)
		if err != nil {
			return err
		}

		e := snap.Entitlement
		payout := ledger.Payout{
			ID:                 ledger.PayoutID(x.IDs.NewID("pay")),
			EntitlementID:      e.ID,
			Amount:             amount,
			PaidOn:             paidOn,
			BasisPaymentAmount: snap.Availability.ClientPaid,
			RatioOfEntitlement: ratioOf(amount, e.TotalAmount),
			Notes:              meta.Notes,
			CreatedAt:          now,
		}
		if err := tx.AppendPayout(ctx, payout); err != nil {
			return err
		}

		receipt, err := x.Receipts.withRepo(tx).Issue(ctx, payout, e.SalespersonID)
		if err != nil {
			return err
		}

		paid := snap.Availability.AlreadyPaid.Add(amount)
		status := ledger.EntitlementPartiallyPaid
		if e.TotalAmount.Sub(paid).LessThanOrEqual(ledger.Epsilon) {
			status = ledger.EntitlementFullyPaid
		}
		if err := tx.UpdateEntitlementStatus(ctx, e.ID, status, e.Version); err != nil {
			return err
		}
		e.Status = status
		e.Version++

		result = PayoutResult{
			Payout:       payout,
			Receipt:      receipt,
			Entitlement:  e,
			Availability: afterPayout(snap.Availability, amount),
		}
		return nil
	})
	if err != nil {
		level := zap.WarnLevel
		if errors.Is(err, ledger.ErrNothingAvailable) {
			level = zap.DebugLevel
		}
		x.logger().Log(level, "payout not committed",
			zap.String("entitlement_id", string(id)),
			zap.Error(err),
		)
		return PayoutResult{}, err
	}

	x.logger().Info("payout committed",
		zap.String("entitlement_id", string(id)),
		zap.String("payout_id", string(result.Payout.ID)),
		zap.String("amount", result.Payout.Amount.String()),
		zap.String("status", string(result.Entitlement.Status)),
	)
	return result, nil
}

// afterPayout adjusts a pre-payout availability for an amount just paid.
func afterPayout(a Availability, amount decimal.Decimal) Availability {
	a.AlreadyPaid = a.AlreadyPaid.Add(amount)
	a.Remaining = a.Remaining.Sub(amount)
	if a.Remaining.IsNegative() {
		a.Remaining = decimal.Zero
	}
	a.AvailableAmount = a.AvailableAmount.Sub(amount)
	if a.AvailableAmount.IsNegative() || a.Remaining.LessThanOrEqual(ledger.Epsilon) {
		a.AvailableAmount = decimal.Zero
	}
	return a
}

func ratioOf(amount, total decimal.Decimal) decimal.Decimal {
	if total.IsZero() {
		return decimal.Zero
	}
	return amount.DivRound(total, rateScale)
}

func (x *PayoutExecutor) locker() lock.Locker {
	if x.Locks != nil {
		return x.Locks
	}
	return noopLocker{}
}

func (x *PayoutExecutor) now() time.Time {
	if x.Now != nil {
		return x.Now()
	}
	return time.Now().UTC()
}

func (x *PayoutExecutor) logger() *zap.Logger {
	if x.Logger != nil {
		return x.Logger
	}
	return zap.NewNop()
}

// noopLocker leaves serialization to the version check alone.
type noopLocker struct{}

func (noopLocker) Acquire(context.Context, string) (func(), error) { return func() {}, nil }
