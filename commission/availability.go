/*
availability.go - Payout availability calculator

PURPOSE:
  Answers "how much commission can be released right now?" Commission is
  earned in proportion to what the client has actually paid.

FORMULA:
  payment_ratio = min(1, sum(client payments) / contract.base_amount)
  earned        = truncate(entitlement.total * payment_ratio)
  already_paid  = sum(payouts)
  available     = max(0, earned - already_paid)
                  clamped to total - already_paid

  Earned is truncated (never rounded up) so no intermediate figure exceeds
  what the client's money justifies. Once the remainder falls within
  Epsilon the entitlement is settled and nothing more is available.

FRESHNESS:
  Nothing is cached. Every call reads the latest persisted payments and
  payouts, so a payment appended a millisecond ago is already counted.
  Payments are append-only, which makes available non-decreasing between
  payouts.

SEE ALSO:
  - payout.go: recomputes availability inside the payout transaction
*/
package commission

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/johnnyang0612/commission-system-sub001/ledger"
)

// Availability is the releasable state of one entitlement.
type Availability struct {
	EntitlementID ledger.EntitlementID

	AvailableAmount decimal.Decimal
	PaymentRatio    decimal.Decimal
	AlreadyPaid     decimal.Decimal

	Earned     decimal.Decimal
	Remaining  decimal.Decimal // total - already paid, never negative
	ClientPaid decimal.Decimal
	Total      decimal.Decimal
}

// Settled reports whether the entitlement has been paid out within Epsilon.
func (a Availability) Settled() bool {
	return a.Remaining.LessThanOrEqual(ledger.Epsilon)
}

// ComputeAvailability is the pure availability calculation.
func ComputeAvailability(
	e ledger.Entitlement,
	c ledger.Contract,
	payments []ledger.ClientPayment,
	payouts []ledger.Payout,
	rates RateTable,
) (Availability, error) {
	if !c.BaseAmount.IsPositive() {
		return Availability{}, ledger.NewValidationError("base_amount", "contract %s has non-positive base %s", c.ID, c.BaseAmount)
	}

	clientPaid := decimal.Zero
	for _, p := range payments {
		clientPaid = clientPaid.Add(p.Amount)
	}
	alreadyPaid := decimal.Zero
	for _, p := range payouts {
		alreadyPaid = alreadyPaid.Add(p.Amount)
	}

	ratio := decimal.NewFromInt(1)
	earned := e.TotalAmount
	if clientPaid.LessThan(c.BaseAmount) {
		ratio = clientPaid.Div(c.BaseAmount)
		// Multiply before dividing to keep the repeating part out of earned.
		earned = e.TotalAmount.Mul(clientPaid).Div(c.BaseAmount).Truncate(rates.CurrencyScale)
	}

	remaining := e.TotalAmount.Sub(alreadyPaid)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}

	available := earned.Sub(alreadyPaid)
	switch {
	case available.IsNegative():
		available = decimal.Zero
	case available.GreaterThan(remaining):
		available = remaining
	}
	if remaining.LessThanOrEqual(ledger.Epsilon) {
		available = decimal.Zero
	}

	return Availability{
		EntitlementID:   e.ID,
		AvailableAmount: available,
		PaymentRatio:    ratio,
		AlreadyPaid:     alreadyPaid,
		Earned:          earned,
		Remaining:       remaining,
		ClientPaid:      clientPaid,
		Total:           e.TotalAmount,
	}, nil
}

// =============================================================================
// CALCULATOR - Reads fresh state from the store
// =============================================================================

// AvailabilityRepository is the read side the calculator needs.
type AvailabilityRepository interface {
	GetEntitlement(ctx context.Context, id ledger.EntitlementID) (ledger.Entitlement, error)
	GetContract(ctx context.Context, id ledger.ContractID) (ledger.Contract, error)
	PaymentsByContract(ctx context.Context, id ledger.ContractID) ([]ledger.ClientPayment, error)
	PayoutsByEntitlement(ctx context.Context, id ledger.EntitlementID) ([]ledger.Payout, error)
}

type AvailabilityCalculator struct {
	Repo  AvailabilityRepository
	Rates *RateBook
}

// Get computes availability for the entitlement from the latest rows.
func (ac *AvailabilityCalculator) Get(ctx context.Context, id ledger.EntitlementID) (Availability, error) {
	snap, err := loadSnapshot(ctx, ac.Repo, ac.Rates, id)
	if err != nil {
		return Availability{}, err
	}
	return snap.Availability, nil
}

// entitlementSnapshot is everything a payout decision is based on.
type entitlementSnapshot struct {
	Entitlement  ledger.Entitlement
	Contract     ledger.Contract
	Rates        RateTable
	Availability Availability
}

func loadSnapshot(ctx context.Context, repo AvailabilityRepository, book *RateBook, id ledger.EntitlementID) (entitlementSnapshot, error) {
	e, err := repo.GetEntitlement(ctx, id)
	if err != nil {
		return entitlementSnapshot{}, err
	}
	c, err := repo.GetContract(ctx, e.ContractID)
	if err != nil {
		return entitlementSnapshot{}, err
	}
	payments, err := repo.PaymentsByContract(ctx, c.ID)
	if err != nil {
		return entitlementSnapshot{}, err
	}
	payouts, err := repo.PayoutsByEntitlement(ctx, e.ID)
	if err != nil {
		return entitlementSnapshot{}, err
	}

	rates := entitlementRates(book, e, c)
	a, err := ComputeAvailability(e, c, payments, payouts, rates)
	if err != nil {
		return entitlementSnapshot{}, err
	}
	return entitlementSnapshot{Entitlement: e, Contract: c, Rates: rates, Availability: a}, nil
}

// entitlementRates returns the table the entitlement was computed with,
// falling back to the one in effect on the contract date.
func entitlementRates(book *RateBook, e ledger.Entitlement, c ledger.Contract) RateTable {
	if t, ok := book.Version(e.RateVersion); ok {
		return t
	}
	return book.At(contractDate(c))
}
