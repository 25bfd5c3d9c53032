/*
Package ledger provides the records and persistence contracts of the
commission ledger.

PURPOSE:
  This package holds the data every other package agrees on: contracts and
  their installment schedules, commission entitlements, the append-only
  logs of client payments and commission payouts, and the labor receipts
  issued for each payout. Calculation lives in package commission; this
  package only describes and stores state.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money helpers: decimal arithmetic, rounding to the currency scale
  - Contract / Installment: what was signed and how the client pays it
  - Entitlement: total commission owed for one contract (immutable amount)
  - ClientPayment / Payout: append-only money-in and money-out logs
  - Receipt: withholding receipt, exactly one per payout

DESIGN PRINCIPLES:
  1. Immutability: payments, payouts and receipts are never edited
  2. Precision: decimal.Decimal everywhere, no float64 money
  3. Type Safety: distinct ID types per record
  4. Auditability: receipts keep the rates in effect when they were issued

SEE ALSO:
  - errors.go: error taxonomy shared by all components
  - store.go: repository interfaces
  - store/memory.go: in-memory implementation used by tests
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Single implicit currency, decimal precision
// =============================================================================

// Epsilon is the settlement tolerance: two totals closer than this are equal.
var Epsilon = decimal.New(1, -2)

// Round rounds half away from zero to the given number of fraction digits.
func Round(d decimal.Decimal, scale int32) decimal.Decimal {
	return d.Round(scale)
}

// Sum adds up a list of amounts.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// WithinEpsilon reports whether |a - b| <= Epsilon.
func WithinEpsilon(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Epsilon)
}

// MustDecimal parses s or panics. Intended for constants and tests.
func MustDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ContractID string
type EntitlementID string
type PaymentID string
type PayoutID string
type ReceiptID string
type RunID string

// =============================================================================
// CONTRACT + INSTALLMENT SCHEDULE
// =============================================================================

type ContractType string

const (
	ContractNew         ContractType = "new"
	ContractRenewal     ContractType = "renewal"
	ContractMaintenance ContractType = "maintenance"
)

// Valid reports whether t is one of the known contract types.
func (t ContractType) Valid() bool {
	switch t {
	case ContractNew, ContractRenewal, ContractMaintenance:
		return true
	}
	return false
}

// Contract is a signed sales contract.
type Contract struct {
	ID            ContractID
	SalespersonID string
	Type          ContractType
	BaseAmount    decimal.Decimal // pre-tax contract value

	// TaxLast folds the whole sales tax into the final installment instead
	// of spreading it across the schedule.
	TaxLast         bool
	PaymentTemplate string // ratio list, e.g. "6/4"

	// FixedCommissionRate is a negotiated rate (fraction, 0.18 = 18%) that
	// replaces the type-based rules when set.
	FixedCommissionRate *decimal.Decimal

	SignedOn     Date
	FirstDueDate Date
	CreatedAt    time.Time
}

// Installment is one scheduled client payment. Generated once with the
// contract; only the Paid flag changes afterwards.
type Installment struct {
	ContractID ContractID
	Sequence   int // 1-based
	Amount     decimal.Decimal
	DueDate    Date
	Paid       bool
}

// =============================================================================
// ENTITLEMENT - Commission owed for one contract
// =============================================================================

type EntitlementStatus string

const (
	EntitlementPending       EntitlementStatus = "pending"
	EntitlementPartiallyPaid EntitlementStatus = "partially_paid"
	EntitlementFullyPaid     EntitlementStatus = "fully_paid"
)

// Entitlement is computed once when the contract is created. TotalAmount and
// Rate never change; Status and Version are the only mutable fields.
type Entitlement struct {
	ID            EntitlementID
	ContractID    ContractID
	SalespersonID string

	Rate        decimal.Decimal // blended fraction, 0.25 = 25%
	TotalAmount decimal.Decimal
	RateVersion string

	Status EntitlementStatus

	// Version increments on every committed payout. Writers pass the version
	// they read; a mismatch means someone else paid out in between.
	Version int64

	CreatedAt time.Time
}

// Percentage returns the rate expressed in percent.
func (e Entitlement) Percentage() decimal.Decimal {
	return e.Rate.Mul(decimal.NewFromInt(100))
}

// =============================================================================
// APPEND-ONLY LOGS
// =============================================================================

// ClientPayment records money received from the client.
type ClientPayment struct {
	ID         PaymentID
	ContractID ContractID
	Amount     decimal.Decimal
	PaidOn     Date
	Reference  string
	CreatedAt  time.Time
}

// Payout is a single release of (part of) an entitlement.
type Payout struct {
	ID            PayoutID
	EntitlementID EntitlementID
	Amount        decimal.Decimal
	PaidOn        Date

	// BasisPaymentAmount is the total client payments the release was based on.
	BasisPaymentAmount decimal.Decimal
	RatioOfEntitlement decimal.Decimal
	Notes              string

	CreatedAt time.Time
}

// =============================================================================
// LABOR RECEIPT
// =============================================================================

type ReceiptStatus string

const (
	ReceiptDraft  ReceiptStatus = "draft"
	ReceiptIssued ReceiptStatus = "issued"
	ReceiptPaid   ReceiptStatus = "paid"
)

// Receipt is the withholding receipt for one payout.
// Invariant: NetAmount = GrossAmount - TaxAmount - InsuranceAmount.
type Receipt struct {
	ID            ReceiptID
	PayoutID      PayoutID
	EntitlementID EntitlementID
	SalespersonID string

	GrossAmount     decimal.Decimal
	TaxAmount       decimal.Decimal
	InsuranceAmount decimal.Decimal
	NetAmount       decimal.Decimal

	// Rates applied at issuance. Later rate changes never touch these.
	WithholdingRate decimal.Decimal
	InsuranceRate   decimal.Decimal
	RateVersion     string

	Status   ReceiptStatus
	IssuedAt time.Time
}

// =============================================================================
// RECONCILIATION RUN - Bookkeeping for batch runs
// =============================================================================

type RunStatus string

const (
	RunRunning             RunStatus = "running"
	RunCompleted           RunStatus = "completed"
	RunCompletedWithErrors RunStatus = "completed_with_errors"
	RunFailed              RunStatus = "failed"
)

type ReconciliationRun struct {
	ID          RunID
	Status      RunStatus
	Processed   int
	Succeeded   int
	Failed      int
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}
