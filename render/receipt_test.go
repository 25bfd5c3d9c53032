package render

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnnyang0612/commission-system-sub001/ledger"
)

func TestReceiptPDF(t *testing.T) {
	// GIVEN: an issued receipt for a 150,000 payout
	doc := ReceiptDocument{
		IssuerName: "Acme Sales Ltd.",
		Receipt: ledger.Receipt{
			ID:              "rcpt_1",
			PayoutID:        "pay_1",
			EntitlementID:   "ent_1",
			SalespersonID:   "sp_alice",
			GrossAmount:     ledger.MustDecimal("150000"),
			TaxAmount:       ledger.MustDecimal("15000"),
			InsuranceAmount: ledger.MustDecimal("3165"),
			NetAmount:       ledger.MustDecimal("131835"),
			WithholdingRate: ledger.MustDecimal("0.10"),
			InsuranceRate:   ledger.MustDecimal("0.0211"),
			RateVersion:     "2024-01",
			Status:          ledger.ReceiptIssued,
			IssuedAt:        time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		},
		Payout: ledger.Payout{ID: "pay_1", PaidOn: ledger.NewDate(2025, 3, 1), Notes: "Q1 release"},
	}

	// WHEN: rendering
	out, err := ReceiptPDF(doc)

	// THEN: a PDF comes back
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")), "missing PDF header")
}

func TestReceiptPDF_RequiresID(t *testing.T) {
	_, err := ReceiptPDF(ReceiptDocument{})
	assert.Error(t, err)
}

func TestPercent(t *testing.T) {
	assert.Equal(t, "2.11%", percent(ledger.MustDecimal("0.0211")))
	assert.Equal(t, "10%", percent(ledger.MustDecimal("0.10")))
}
