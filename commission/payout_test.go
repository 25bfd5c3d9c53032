package commission

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnnyang0612/commission-system-sub001/ledger"
	"github.com/johnnyang0612/commission-system-sub001/ledger/store"
)

// =============================================================================
// PAYOUT EXECUTOR TESTS
// =============================================================================

func TestExecutePayout_CommitsPayoutAndReceipt(t *testing.T) {
	// GIVEN: entitlement 250,000 with 600,000 of 1,000,000 paid
	ctx := context.Background()
	mem := store.NewMemory()
	svc := newTestService(t, mem)
	created := seedEntitlement(t, svc, "1000000", ledger.ContractNew, "600000")
	id := created.Entitlement.ID

	// WHEN: releasing 150,000
	res, err := svc.ExecutePayout(ctx, id, dec("150000"), PayoutMetadata{
		PaidOn: ledger.NewDate(2025, time.March, 1),
		Notes:  "Q1 release",
	})

	// THEN: payout, receipt and status are committed together
	require.NoError(t, err)
	assert.True(t, dec("150000").Equal(res.Payout.Amount))
	assert.True(t, dec("600000").Equal(res.Payout.BasisPaymentAmount))
	assert.True(t, dec("0.6").Equal(res.Payout.RatioOfEntitlement))
	assert.Equal(t, "Q1 release", res.Payout.Notes)
	assert.False(t, res.Receipt.AlreadyExisted)
	assert.True(t, dec("131835").Equal(res.Receipt.Receipt.NetAmount))
	assert.Equal(t, ledger.EntitlementPartiallyPaid, res.Entitlement.Status)
	assert.True(t, res.Availability.AvailableAmount.IsZero())
	assert.True(t, dec("100000").Equal(res.Availability.Remaining))

	stored, err := mem.GetEntitlement(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ledger.EntitlementPartiallyPaid, stored.Status)
	assert.Equal(t, int64(1), stored.Version)

	receipt, err := mem.ReceiptByPayout(ctx, res.Payout.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Receipt.Receipt.ID, receipt.ID)
}

func TestExecutePayout_InsufficientAvailable(t *testing.T) {
	// GIVEN: 150,000 available
	ctx := context.Background()
	mem := store.NewMemory()
	svc := newTestService(t, mem)
	created := seedEntitlement(t, svc, "1000000", ledger.ContractNew, "600000")

	// WHEN: requesting 150,001
	_, err := svc.ExecutePayout(ctx, created.Entitlement.ID, dec("150001"), PayoutMetadata{})

	// THEN: rejected with the actual available figure, nothing written
	var short *ledger.InsufficientAvailableError
	require.ErrorAs(t, err, &short)
	assert.True(t, dec("150000").Equal(short.Available))
	assert.True(t, dec("150001").Equal(short.Requested))
	assert.ErrorIs(t, err, ledger.ErrInsufficientAvailable)

	written, err := mem.PayoutsByEntitlement(ctx, created.Entitlement.ID)
	require.NoError(t, err)
	assert.Empty(t, written)
}

func TestExecutePayout_RejectsNonPositiveAmount(t *testing.T) {
	mem := store.NewMemory()
	svc := newTestService(t, mem)
	created := seedEntitlement(t, svc, "1000000", ledger.ContractNew, "600000")

	for _, amount := range []string{"0", "-1"} {
		_, err := svc.ExecutePayout(context.Background(), created.Entitlement.ID, dec(amount), PayoutMetadata{})
		assert.ErrorIs(t, err, ledger.ErrValidation, amount)
	}
}

func TestExecutePayout_UnknownEntitlement(t *testing.T) {
	svc := newTestService(t, store.NewMemory())

	_, err := svc.ExecutePayout(context.Background(), "ent_missing", dec("1"), PayoutMetadata{})

	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestExecutePayout_FullyPaidAfterLastRelease(t *testing.T) {
	// GIVEN: client has paid everything
	ctx := context.Background()
	svc := newTestService(t, store.NewMemory())
	created := seedEntitlement(t, svc, "1000000", ledger.ContractNew, "600000", "450000")
	id := created.Entitlement.ID

	// WHEN: releasing in two steps
	first, err := svc.ExecutePayout(ctx, id, dec("200000"), PayoutMetadata{})
	require.NoError(t, err)
	assert.Equal(t, ledger.EntitlementPartiallyPaid, first.Entitlement.Status)

	second, err := svc.ExecutePayout(ctx, id, dec("50000"), PayoutMetadata{})
	require.NoError(t, err)

	// THEN: the entitlement is settled and nothing more can go out
	assert.Equal(t, ledger.EntitlementFullyPaid, second.Entitlement.Status)
	assert.Equal(t, int64(2), second.Entitlement.Version)

	_, err = svc.ExecutePayout(ctx, id, dec("1"), PayoutMetadata{})
	assert.ErrorIs(t, err, ledger.ErrInsufficientAvailable)
}

func TestExecutePayout_ReceiptFailureRollsBack(t *testing.T) {
	// GIVEN: a store whose receipt insert fails inside transactions
	ctx := context.Background()
	mem := store.NewMemory()
	created := seedEntitlement(t, newTestService(t, mem), "1000000", ledger.ContractNew, "600000")
	boom := errors.New("receipt table locked")
	svc := newTestService(t, &failingReceipts{Memory: mem, err: boom})

	// WHEN: executing a payout
	_, err := svc.ExecutePayout(ctx, created.Entitlement.ID, dec("100000"), PayoutMetadata{})

	// THEN: the error surfaces and the payout was never committed
	require.ErrorIs(t, err, boom)

	written, err := mem.PayoutsByEntitlement(ctx, created.Entitlement.ID)
	require.NoError(t, err)
	assert.Empty(t, written)

	e, err := mem.GetEntitlement(ctx, created.Entitlement.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.EntitlementPending, e.Status)
	assert.Equal(t, int64(0), e.Version)

	a, err := svc.GetAvailablePayout(ctx, created.Entitlement.ID)
	require.NoError(t, err)
	assert.True(t, dec("150000").Equal(a.AvailableAmount))
}

func TestExecutePayout_ConcurrentRequestsNeverOverpay(t *testing.T) {
	// GIVEN: 150,000 available and 20 callers each asking for 10,000
	ctx := context.Background()
	mem := store.NewMemory()
	svc := newTestService(t, mem)
	created := seedEntitlement(t, svc, "1000000", ledger.ContractNew, "600000")
	id := created.Entitlement.ID

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ExecutePayout(ctx, id, dec("10000"), PayoutMetadata{})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ledger.ErrInsufficientAvailable):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	// THEN: exactly 15 succeed and the total never exceeds what was earned
	assert.Equal(t, 15, succeeded)
	assert.Equal(t, 5, rejected)

	written, err := mem.PayoutsByEntitlement(ctx, id)
	require.NoError(t, err)
	total := decimal.Zero
	for _, p := range written {
		total = total.Add(p.Amount)
	}
	assert.True(t, dec("150000").Equal(total), "released %s", total)

	e, err := mem.GetEntitlement(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(15), e.Version)
}

func TestExecutePayout_VersionConflictWithoutLock(t *testing.T) {
	// GIVEN: an executor whose transaction sees a stale entitlement version
	ctx := context.Background()
	mem := store.NewMemory()
	svc := newTestService(t, mem)
	created := seedEntitlement(t, svc, "1000000", ledger.ContractNew, "600000")
	id := created.Entitlement.ID

	stale := &staleVersionStore{Memory: mem}
	x := &PayoutExecutor{
		Store:    stale,
		Rates:    DefaultRateBook(),
		Receipts: newGenerator(t, mem, DefaultRateBook()),
		IDs:      &seqIDs{},
		Now:      fixedNow,
	}

	// WHEN: committing
	_, err := x.Execute(ctx, id, dec("1000"), PayoutMetadata{})

	// THEN: the optimistic check rejects and rolls back
	assert.ErrorIs(t, err, ledger.ErrConcurrentModification)
	assert.True(t, ledger.IsRetryable(err))
	written, err := mem.PayoutsByEntitlement(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, written)
}

// staleVersionStore bumps the entitlement version behind the executor's
// back, as a second writer without the lock would.
type staleVersionStore struct {
	*store.Memory
}

func (s *staleVersionStore) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	return s.Memory.WithTx(ctx, func(tx ledger.Store) error {
		return fn(staleVersionTx{Store: tx})
	})
}

type staleVersionTx struct {
	ledger.Store
}

func (s staleVersionTx) UpdateEntitlementStatus(ctx context.Context, id ledger.EntitlementID, status ledger.EntitlementStatus, expected int64) error {
	return s.Store.UpdateEntitlementStatus(ctx, id, status, expected+1)
}

func TestReleaseAvailable(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, store.NewMemory())
	created := seedEntitlement(t, svc, "1000000", ledger.ContractNew, "600000")
	id := created.Entitlement.ID

	res, err := svc.executor.ReleaseAvailable(ctx, id, PayoutMetadata{})
	require.NoError(t, err)
	assert.True(t, dec("150000").Equal(res.Payout.Amount))
	assert.Equal(t, ledger.DateOf(testNow), res.Payout.PaidOn, "zero PaidOn defaults to today")

	_, err = svc.executor.ReleaseAvailable(ctx, id, PayoutMetadata{})
	assert.ErrorIs(t, err, ledger.ErrNothingAvailable)
}
