package commission

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/johnnyang0612/commission-system-sub001/ledger"
	"github.com/johnnyang0612/commission-system-sub001/ledger/store"
)

// =============================================================================
// LABOR RECEIPT TESTS
// =============================================================================

func newGenerator(t *testing.T, repo ledger.ReceiptRepository, book *RateBook) *ReceiptGenerator {
	return &ReceiptGenerator{
		Repo:   repo,
		Rates:  book,
		IDs:    &seqIDs{},
		Now:    fixedNow,
		Logger: zaptest.NewLogger(t),
	}
}

func testPayout(id ledger.PayoutID, amount string) ledger.Payout {
	return ledger.Payout{
		ID:            id,
		EntitlementID: "ent_1",
		Amount:        dec(amount),
		PaidOn:        ledger.NewDate(2025, time.March, 1),
	}
}

func TestComputeDeductions(t *testing.T) {
	tests := []struct {
		gross, tax, insurance, net string
	}{
		{"150000", "15000", "3165", "131835"},
		{"100000", "10000", "2110", "87890"},
		{"1", "0", "0", "1"},
		{"33333", "3333", "703", "29297"}, // 3333.3 / 703.3263 rounded
	}
	for _, tt := range tests {
		t.Run(tt.gross, func(t *testing.T) {
			d := ComputeDeductions(dec(tt.gross), DefaultRateTable())

			assert.True(t, dec(tt.tax).Equal(d.Tax), "tax %s", d.Tax)
			assert.True(t, dec(tt.insurance).Equal(d.Insurance), "insurance %s", d.Insurance)
			assert.True(t, dec(tt.net).Equal(d.Net), "net %s", d.Net)
			assert.True(t, d.Gross.Equal(d.Tax.Add(d.Insurance).Add(d.Net)))
		})
	}
}

func TestComputeDeductions_Thresholds(t *testing.T) {
	rates := DefaultRateTable()
	rates.WithholdingThreshold = dec("20000")
	rates.InsuranceThreshold = dec("5000")

	small := ComputeDeductions(dec("4000"), rates)
	assert.True(t, small.Tax.IsZero())
	assert.True(t, small.Insurance.IsZero())
	assert.True(t, dec("4000").Equal(small.Net))

	mid := ComputeDeductions(dec("10000"), rates)
	assert.True(t, mid.Tax.IsZero())
	assert.True(t, dec("211").Equal(mid.Insurance))

	large := ComputeDeductions(dec("20000"), rates)
	assert.True(t, dec("2000").Equal(large.Tax), "threshold is inclusive")
}

func TestReceiptGenerator_Issue(t *testing.T) {
	// GIVEN: a payout of 150,000
	ctx := context.Background()
	mem := store.NewMemory()
	g := newGenerator(t, mem, DefaultRateBook())

	// WHEN: issuing its receipt
	res, err := g.Issue(ctx, testPayout("pay_1", "150000"), "sp_alice")

	// THEN: the receipt is persisted as issued with the applied rates
	require.NoError(t, err)
	assert.False(t, res.AlreadyExisted)
	r := res.Receipt
	assert.Equal(t, ledger.ReceiptIssued, r.Status)
	assert.Equal(t, ledger.PayoutID("pay_1"), r.PayoutID)
	assert.Equal(t, "sp_alice", r.SalespersonID)
	assert.True(t, dec("131835").Equal(r.NetAmount))
	assert.True(t, dec("0.10").Equal(r.WithholdingRate))
	assert.True(t, dec("0.0211").Equal(r.InsuranceRate))
	assert.Equal(t, "2024-01", r.RateVersion)
	assert.Equal(t, testNow, r.IssuedAt)

	stored, err := mem.ReceiptByPayout(ctx, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, r.ID, stored.ID)
}

func TestReceiptGenerator_IssueTwiceKeepsOneReceipt(t *testing.T) {
	// GIVEN: a receipt already issued for pay_1
	ctx := context.Background()
	mem := store.NewMemory()
	g := newGenerator(t, mem, DefaultRateBook())
	first, err := g.Issue(ctx, testPayout("pay_1", "150000"), "sp_alice")
	require.NoError(t, err)

	// WHEN: issuing again
	second, err := g.Issue(ctx, testPayout("pay_1", "150000"), "sp_alice")

	// THEN: no error, the existing receipt comes back
	require.NoError(t, err)
	assert.True(t, second.AlreadyExisted)
	assert.Equal(t, first.Receipt.ID, second.Receipt.ID)

	missing, err := mem.PayoutsWithoutReceipt(ctx, "ent_1")
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestReceiptGenerator_KeepsRatesOfIssueDate(t *testing.T) {
	// GIVEN: withholding rises to 12% from 2026
	later := DefaultRateTable()
	later.Version = "2026-01"
	later.EffectiveFrom = ledger.NewDate(2026, time.January, 1)
	later.WithholdingRate = dec("0.12")
	book, err := NewRateBook(DefaultRateTable(), later)
	require.NoError(t, err)

	ctx := context.Background()
	mem := store.NewMemory()
	g := newGenerator(t, mem, book)

	// WHEN: one payout dated 2025, another dated 2026
	old, err := g.Issue(ctx, testPayout("pay_old", "100000"), "sp_alice")
	require.NoError(t, err)
	p := testPayout("pay_new", "100000")
	p.PaidOn = ledger.NewDate(2026, time.February, 1)
	recent, err := g.Issue(ctx, p, "sp_alice")
	require.NoError(t, err)

	// THEN: each receipt carries the rate in effect for its payout
	assert.True(t, dec("10000").Equal(old.Receipt.TaxAmount))
	assert.Equal(t, "2024-01", old.Receipt.RateVersion)
	assert.True(t, dec("12000").Equal(recent.Receipt.TaxAmount))
	assert.Equal(t, "2026-01", recent.Receipt.RateVersion)

	// AND: the stored 2025 receipt is untouched
	stored, err := mem.GetReceipt(ctx, old.Receipt.ID)
	require.NoError(t, err)
	assert.True(t, dec("0.10").Equal(stored.WithholdingRate))
}

func TestReceiptGenerator_Rejects(t *testing.T) {
	g := newGenerator(t, store.NewMemory(), DefaultRateBook())

	_, err := g.Issue(context.Background(), testPayout("pay_1", "0"), "sp_alice")
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = g.Issue(context.Background(), testPayout("", "100"), "sp_alice")
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestReceiptGenerator_PropagatesStoreFailure(t *testing.T) {
	boom := errors.New("disk full")
	repo := failingReceiptTx{Store: store.NewMemory(), err: boom}
	g := newGenerator(t, repo, DefaultRateBook())

	_, err := g.Issue(context.Background(), testPayout("pay_1", "100"), "sp_alice")

	assert.ErrorIs(t, err, boom)
}
