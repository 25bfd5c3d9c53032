/*
receipt.go - Labor receipt generator

PURPOSE:
  Issues the withholding receipt for a payout. Exactly one receipt exists
  per payout; asking again returns the one already stored.

DEDUCTIONS:
  tax       = round(gross * WithholdingRate)   (10%)
  insurance = round(gross * InsuranceRate)     (2.11%)
  net       = gross - tax - insurance

  Net is derived by subtraction, never rounded on its own, so the three
  parts always add back to gross exactly. A deduction is skipped when
  gross is below its threshold in the rate table (zero means always).

RATES:
  The table in effect on the payout date is used and its rates are copied
  onto the receipt. Publishing a new table later never changes an issued
  receipt.

SEE ALSO:
  - payout.go: issues the receipt inside the payout transaction
  - reconcile.go: backfills receipts for payouts that lack one
  - render/receipt.go: PDF rendering
*/
package commission

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/johnnyang0612/commission-system-sub001/ledger"
	"github.com/johnnyang0612/commission-system-sub001/metrics"
)

// Deductions is the split of a gross amount.
type Deductions struct {
	Gross     decimal.Decimal
	Tax       decimal.Decimal
	Insurance decimal.Decimal
	Net       decimal.Decimal
}

// ComputeDeductions applies the withholding and insurance rates to gross.
func ComputeDeductions(gross decimal.Decimal, rates RateTable) Deductions {
	tax := decimal.Zero
	if gross.GreaterThanOrEqual(rates.WithholdingThreshold) {
		tax = rates.Round(gross.Mul(rates.WithholdingRate))
	}
	insurance := decimal.Zero
	if gross.GreaterThanOrEqual(rates.InsuranceThreshold) {
		insurance = rates.Round(gross.Mul(rates.InsuranceRate))
	}
	return Deductions{
		Gross:     gross,
		Tax:       tax,
		Insurance: insurance,
		Net:       gross.Sub(tax).Sub(insurance),
	}
}

// ReceiptResult is the outcome of Issue. AlreadyExisted is true when the
// payout already had a receipt; Receipt is then the stored one.
type ReceiptResult struct {
	Receipt        ledger.Receipt
	AlreadyExisted bool
}

type ReceiptGenerator struct {
	Repo    ledger.ReceiptRepository
	Rates   *RateBook
	IDs     ledger.IDGenerator
	Now     func() time.Time
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Issue creates the receipt for payout. salespersonID is copied onto the
// receipt for the finance process that marks it paid.
func (g *ReceiptGenerator) Issue(ctx context.Context, payout ledger.Payout, salespersonID string) (ReceiptResult, error) {
	if payout.ID == "" {
		return ReceiptResult{}, ledger.NewValidationError("payout_id", "required")
	}
	if !payout.Amount.IsPositive() {
		return ReceiptResult{}, ledger.NewValidationError("gross_amount", "must be positive, got %s", payout.Amount)
	}

	rates := g.Rates.At(payout.PaidOn)
	d := ComputeDeductions(payout.Amount, rates)
	receipt := ledger.Receipt{
		ID:              ledger.ReceiptID(g.IDs.NewID("rcpt")),
		PayoutID:        payout.ID,
		EntitlementID:   payout.EntitlementID,
		SalespersonID:   salespersonID,
		GrossAmount:     d.Gross,
		TaxAmount:       d.Tax,
		InsuranceAmount: d.Insurance,
		NetAmount:       d.Net,
		WithholdingRate: rates.WithholdingRate,
		InsuranceRate:   rates.InsuranceRate,
		RateVersion:     rates.Version,
		Status:          ledger.ReceiptIssued,
		IssuedAt:        g.now(),
	}

	err := g.Repo.InsertReceiptIfAbsent(ctx, receipt)
	var dup *ledger.DuplicateReceiptError
	switch {
	case err == nil:
		g.Metrics.ObserveReceipt(metrics.ReceiptIssued)
		g.logger().Info("receipt issued",
			zap.String("receipt_id", string(receipt.ID)),
			zap.String("payout_id", string(payout.ID)),
			zap.String("gross", d.Gross.String()),
			zap.String("net", d.Net.String()),
			zap.String("rate_version", rates.Version),
		)
		return ReceiptResult{Receipt: receipt}, nil
	case errors.As(err, &dup):
		g.Metrics.ObserveReceipt(metrics.ReceiptAlreadyExisted)
		g.logger().Debug("receipt already exists",
			zap.String("receipt_id", string(dup.Existing.ID)),
			zap.String("payout_id", string(payout.ID)),
		)
		return ReceiptResult{Receipt: dup.Existing, AlreadyExisted: true}, nil
	default:
		g.Metrics.ObserveReceipt(metrics.ReceiptFailed)
		return ReceiptResult{}, err
	}
}

// withRepo returns a copy writing through repo, typically a transaction.
func (g *ReceiptGenerator) withRepo(repo ledger.ReceiptRepository) *ReceiptGenerator {
	cp := *g
	cp.Repo = repo
	return &cp
}

func (g *ReceiptGenerator) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now().UTC()
}

func (g *ReceiptGenerator) logger() *zap.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return zap.NewNop()
}
