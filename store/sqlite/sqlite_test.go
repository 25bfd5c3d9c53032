package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/johnnyang0612/commission-system-sub001/commission"
	"github.com/johnnyang0612/commission-system-sub001/ledger"
	"github.com/johnnyang0612/commission-system-sub001/lock"
)

// =============================================================================
// FIXTURES
// =============================================================================

var created = time.Date(2025, time.March, 1, 8, 30, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedContract(t *testing.T, s *Store, id ledger.ContractID) ledger.Entitlement {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.InsertContract(ctx, ledger.Contract{
		ID:              id,
		SalespersonID:   "sp_alice",
		Type:            ledger.ContractRenewal,
		BaseAmount:      ledger.MustDecimal("100000"),
		PaymentTemplate: "10",
		SignedOn:        ledger.NewDate(2025, time.January, 10),
		CreatedAt:       created,
	}))
	e := ledger.Entitlement{
		ID:            ledger.EntitlementID("ent_" + string(id)),
		ContractID:    id,
		SalespersonID: "sp_alice",
		Rate:          ledger.MustDecimal("0.15"),
		TotalAmount:   ledger.MustDecimal("15000"),
		RateVersion:   "2024-01",
		Status:        ledger.EntitlementPending,
		CreatedAt:     created,
	}
	require.NoError(t, s.InsertEntitlement(ctx, e))
	return e
}

func payout(id string, e ledger.EntitlementID, amount string) ledger.Payout {
	return ledger.Payout{
		ID:                 ledger.PayoutID(id),
		EntitlementID:      e,
		Amount:             ledger.MustDecimal(amount),
		PaidOn:             ledger.NewDate(2025, time.March, 2),
		BasisPaymentAmount: ledger.MustDecimal("50000"),
		RatioOfEntitlement: ledger.MustDecimal("0.333333"),
		CreatedAt:          created,
	}
}

func receiptFor(id string, p ledger.Payout) ledger.Receipt {
	return ledger.Receipt{
		ID:              ledger.ReceiptID(id),
		PayoutID:        p.ID,
		EntitlementID:   p.EntitlementID,
		SalespersonID:   "sp_alice",
		GrossAmount:     p.Amount,
		TaxAmount:       ledger.MustDecimal("500"),
		InsuranceAmount: ledger.MustDecimal("106"),
		NetAmount:       p.Amount.Sub(ledger.MustDecimal("606")),
		WithholdingRate: ledger.MustDecimal("0.10"),
		InsuranceRate:   ledger.MustDecimal("0.0211"),
		RateVersion:     "2024-01",
		Status:          ledger.ReceiptIssued,
		IssuedAt:        created,
	}
}

// =============================================================================
// CONTRACTS + INSTALLMENTS
// =============================================================================

func TestContract_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	rate := ledger.MustDecimal("0.18")

	in := ledger.Contract{
		ID:                  "ctr_1",
		SalespersonID:       "sp_bob",
		Type:                ledger.ContractNew,
		BaseAmount:          ledger.MustDecimal("250000.50"),
		TaxLast:             true,
		PaymentTemplate:     "3/3/4",
		FixedCommissionRate: &rate,
		SignedOn:            ledger.NewDate(2025, time.February, 3),
		CreatedAt:           created,
	}
	require.NoError(t, s.InsertContract(ctx, in))

	out, err := s.GetContract(ctx, "ctr_1")
	require.NoError(t, err)
	assert.Equal(t, ledger.ContractNew, out.Type)
	assert.True(t, in.BaseAmount.Equal(out.BaseAmount))
	assert.True(t, out.TaxLast)
	require.NotNil(t, out.FixedCommissionRate)
	assert.True(t, rate.Equal(*out.FixedCommissionRate))
	assert.Equal(t, "2025-02-03", out.SignedOn.String())
	assert.True(t, out.FirstDueDate.IsZero())
	assert.True(t, created.Equal(out.CreatedAt))

	assert.ErrorIs(t, s.InsertContract(ctx, in), ledger.ErrAlreadyExists)
	_, err = s.GetContract(ctx, "missing")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestInstallments_OrderedAndMarkedPaid(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedContract(t, s, "ctr_1")

	require.NoError(t, s.InsertInstallments(ctx, []ledger.Installment{
		{ContractID: "ctr_1", Sequence: 2, Amount: ledger.MustDecimal("45000"), DueDate: ledger.NewDate(2025, 2, 28)},
		{ContractID: "ctr_1", Sequence: 1, Amount: ledger.MustDecimal("60000"), DueDate: ledger.NewDate(2025, 1, 31)},
	}))
	require.NoError(t, s.MarkInstallmentsPaid(ctx, "ctr_1", []int{1}))

	got, err := s.InstallmentsByContract(ctx, "ctr_1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Sequence)
	assert.True(t, got[0].Paid)
	assert.False(t, got[1].Paid)
	assert.Equal(t, "2025-02-28", got[1].DueDate.String())

	err = s.InsertInstallments(ctx, []ledger.Installment{
		{ContractID: "ctr_1", Sequence: 1, Amount: ledger.MustDecimal("1"), DueDate: ledger.NewDate(2025, 1, 31)},
	})
	assert.ErrorIs(t, err, ledger.ErrAlreadyExists)
}

// =============================================================================
// ENTITLEMENTS
// =============================================================================

func TestEntitlement_OnePerContract(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	e := seedContract(t, s, "ctr_1")

	dup := e
	dup.ID = "ent_other"
	assert.ErrorIs(t, s.InsertEntitlement(ctx, dup), ledger.ErrAlreadyExists)

	got, err := s.EntitlementByContract(ctx, "ctr_1")
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
	assert.True(t, e.TotalAmount.Equal(got.TotalAmount))
}

func TestUpdateEntitlementStatus_VersionCheck(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	e := seedContract(t, s, "ctr_1")

	// GIVEN: a successful update from version 0
	require.NoError(t, s.UpdateEntitlementStatus(ctx, e.ID, ledger.EntitlementPartiallyPaid, 0))

	// WHEN: a writer still holding version 0 tries again
	err := s.UpdateEntitlementStatus(ctx, e.ID, ledger.EntitlementFullyPaid, 0)

	// THEN: it loses; the stored row keeps the first write
	assert.ErrorIs(t, err, ledger.ErrConcurrentModification)
	got, err := s.GetEntitlement(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.EntitlementPartiallyPaid, got.Status)
	assert.Equal(t, int64(1), got.Version)

	assert.ErrorIs(t, s.UpdateEntitlementStatus(ctx, "ent_missing", ledger.EntitlementFullyPaid, 0), ledger.ErrNotFound)
}

func TestListEntitlements_InsertionOrder(t *testing.T) {
	s := newTestStore(t)
	seedContract(t, s, "ctr_b")
	seedContract(t, s, "ctr_a")

	list, err := s.ListEntitlements(context.Background())

	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, ledger.EntitlementID("ent_ctr_b"), list[0].ID)
	assert.Equal(t, ledger.EntitlementID("ent_ctr_a"), list[1].ID)
}

// =============================================================================
// PAYMENTS + PAYOUTS + RECEIPTS
// =============================================================================

func TestPayments_AppendOnly(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedContract(t, s, "ctr_1")

	p := ledger.ClientPayment{
		ID: "cpay_1", ContractID: "ctr_1", Amount: ledger.MustDecimal("52500"),
		PaidOn: ledger.NewDate(2025, 2, 1), Reference: "wire-77", CreatedAt: created,
	}
	require.NoError(t, s.AppendPayment(ctx, p))
	assert.ErrorIs(t, s.AppendPayment(ctx, p), ledger.ErrAlreadyExists)

	got, err := s.PaymentsByContract(ctx, "ctr_1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "wire-77", got[0].Reference)

	_, err = s.db.ExecContext(ctx, `UPDATE client_payments SET amount = '1' WHERE id = 'cpay_1'`)
	assert.Error(t, err)
	_, err = s.db.ExecContext(ctx, `DELETE FROM client_payments`)
	assert.Error(t, err)
}

func TestInsertReceiptIfAbsent_Duplicate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	e := seedContract(t, s, "ctr_1")
	p := payout("pay_1", e.ID, "5000")
	require.NoError(t, s.AppendPayout(ctx, p))

	first := receiptFor("rcpt_1", p)
	require.NoError(t, s.InsertReceiptIfAbsent(ctx, first))

	// WHEN: a second receipt for the same payout arrives
	err := s.InsertReceiptIfAbsent(ctx, receiptFor("rcpt_2", p))

	// THEN: the existing receipt is reported, not overwritten
	var dup *ledger.DuplicateReceiptError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, ledger.ReceiptID("rcpt_1"), dup.Existing.ID)
	assert.True(t, dup.Existing.NetAmount.Equal(ledger.MustDecimal("4394")))

	_, err = s.GetReceipt(ctx, "rcpt_2")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestPayoutsWithoutReceipt(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	e := seedContract(t, s, "ctr_1")
	p1 := payout("pay_1", e.ID, "3000")
	p2 := payout("pay_2", e.ID, "2000")
	require.NoError(t, s.AppendPayout(ctx, p1))
	require.NoError(t, s.AppendPayout(ctx, p2))
	require.NoError(t, s.InsertReceiptIfAbsent(ctx, receiptFor("rcpt_1", p1)))

	missing, err := s.PayoutsWithoutReceipt(ctx, e.ID)

	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, ledger.PayoutID("pay_2"), missing[0].ID)
	assert.Equal(t, "2025-03-02", missing[0].PaidOn.String())
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	e := seedContract(t, s, "ctr_1")
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx ledger.Store) error {
		if err := tx.AppendPayout(ctx, payout("pay_1", e.ID, "1000")); err != nil {
			return err
		}
		if err := tx.UpdateEntitlementStatus(ctx, e.ID, ledger.EntitlementPartiallyPaid, 0); err != nil {
			return err
		}
		return boom
	})

	assert.ErrorIs(t, err, boom)
	payouts, err := s.PayoutsByEntitlement(ctx, e.ID)
	require.NoError(t, err)
	assert.Empty(t, payouts)
	got, err := s.GetEntitlement(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Version)
}

// =============================================================================
// RECONCILIATION RUNS
// =============================================================================

func TestReconciliationRuns_UpsertAndOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	older := ledger.ReconciliationRun{ID: "run_1", Status: ledger.RunRunning, StartedAt: created}
	newer := ledger.ReconciliationRun{ID: "run_2", Status: ledger.RunRunning, StartedAt: created.Add(time.Hour)}
	require.NoError(t, s.SaveReconciliationRun(ctx, older))
	require.NoError(t, s.SaveReconciliationRun(ctx, newer))

	done := created.Add(2 * time.Minute)
	older.Status = ledger.RunCompletedWithErrors
	older.Processed, older.Succeeded, older.Failed = 3, 2, 1
	older.CompletedAt = &done
	require.NoError(t, s.SaveReconciliationRun(ctx, older))

	runs, err := s.ListReconciliationRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, ledger.RunID("run_2"), runs[0].ID)
	assert.Equal(t, ledger.RunCompletedWithErrors, runs[1].Status)
	assert.Equal(t, 1, runs[1].Failed)
	require.NotNil(t, runs[1].CompletedAt)
	assert.True(t, done.Equal(*runs[1].CompletedAt))

	limited, err := s.ListReconciliationRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

// =============================================================================
// END TO END - Service over SQLite
// =============================================================================

func TestService_PayoutOverSQLite(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	svc := commission.NewService(s, commission.Options{
		Locks:  lock.NewKeyedMutex(),
		Logger: zaptest.NewLogger(t),
		Now:    func() time.Time { return created },
	})

	// GIVEN: a 100,000 renewal contract with half the base paid
	res, err := svc.CreateContract(ctx, ledger.Contract{
		SalespersonID:   "sp_alice",
		Type:            ledger.ContractRenewal,
		BaseAmount:      ledger.MustDecimal("100000"),
		PaymentTemplate: "6/4",
		TaxLast:         true,
	})
	require.NoError(t, err)
	_, err = svc.RecordPayment(ctx, res.Contract.ID, commission.PaymentInput{Amount: ledger.MustDecimal("50000")})
	require.NoError(t, err)

	// WHEN: paying out 5,000 of the 7,500 earned
	out, err := svc.ExecutePayout(ctx, res.Entitlement.ID, ledger.MustDecimal("5000"), commission.PayoutMetadata{})

	// THEN: payout, receipt and version are persisted together
	require.NoError(t, err)
	assert.True(t, ledger.MustDecimal("4394").Equal(out.Receipt.Receipt.NetAmount))

	stored, err := s.ReceiptByPayout(ctx, out.Payout.ID)
	require.NoError(t, err)
	assert.Equal(t, out.Receipt.Receipt.ID, stored.ID)

	e, err := s.GetEntitlement(ctx, res.Entitlement.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.EntitlementPartiallyPaid, e.Status)
	assert.Equal(t, int64(1), e.Version)

	avail, err := svc.GetAvailablePayout(ctx, res.Entitlement.ID)
	require.NoError(t, err)
	assert.True(t, ledger.MustDecimal("2500").Equal(avail.AvailableAmount))

	// AND: a reconciliation run releases the rest of what was earned
	batch, err := svc.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Succeeded)
	assert.True(t, ledger.MustDecimal("2500").Equal(batch.Released))
}
