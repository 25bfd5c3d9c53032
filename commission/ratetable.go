/*
ratetable.go - Versioned statutory and commission rates

PURPOSE:
  Every numeric constant the calculations depend on (sales tax, withholding,
  supplementary insurance, commission tiers) lives in a RateTable. Tables are
  versioned and carry the date they take effect, so a receipt issued today
  records today's rates and a receipt issued last year keeps last year's.

SELECTION:
  RateBook.At(date) returns the newest table whose EffectiveFrom <= date.
  Dates before the first table fall back to the earliest one.

BASELINE (version "2024-01"):
  sales tax 5%, withholding 10%, insurance 2.11%, renewal 15%,
  maintenance 0%, new-contract tiers:
      0 - 100k   35%
    100k - 300k  30%
    300k - 600k  25%
    600k - 1M    20%
    above 1M     10%

SEE ALSO:
  - factory/ratetable.go: JSON definitions for rate tables
  - rate.go, schedule.go, receipt.go: consumers
*/
package commission

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/johnnyang0612/commission-system-sub001/ledger"
)

// Tier is one marginal commission band. UpTo is the band's upper bound
// (inclusive); nil means unbounded and is only valid for the last tier.
type Tier struct {
	UpTo *decimal.Decimal
	Rate decimal.Decimal
}

// RateTable is one version of the rates.
type RateTable struct {
	Version       string
	EffectiveFrom ledger.Date

	// CurrencyScale is the number of fraction digits amounts are rounded to.
	CurrencyScale int32

	SalesTaxRate    decimal.Decimal
	WithholdingRate decimal.Decimal
	InsuranceRate   decimal.Decimal

	// Gross amounts below a threshold are exempt from that deduction.
	// Zero means always applied.
	WithholdingThreshold decimal.Decimal
	InsuranceThreshold   decimal.Decimal

	RenewalRate      decimal.Decimal
	MaintenanceRate  decimal.Decimal
	NewContractTiers []Tier
}

// Validate checks the table is internally consistent.
func (t RateTable) Validate() error {
	if t.Version == "" {
		return ledger.NewValidationError("version", "required")
	}
	if t.CurrencyScale < 0 || t.CurrencyScale > 8 {
		return ledger.NewValidationError("currency_scale", "must be between 0 and 8, got %d", t.CurrencyScale)
	}
	fractions := map[string]decimal.Decimal{
		"sales_tax_rate":   t.SalesTaxRate,
		"withholding_rate": t.WithholdingRate,
		"insurance_rate":   t.InsuranceRate,
		"renewal_rate":     t.RenewalRate,
		"maintenance_rate": t.MaintenanceRate,
	}
	for field, v := range fractions {
		if err := checkFraction(field, v); err != nil {
			return err
		}
	}
	if t.WithholdingThreshold.IsNegative() || t.InsuranceThreshold.IsNegative() {
		return ledger.NewValidationError("threshold", "must not be negative")
	}
	if len(t.NewContractTiers) == 0 {
		return ledger.NewValidationError("new_contract_tiers", "at least one tier required")
	}
	prev := decimal.Zero
	for i, tier := range t.NewContractTiers {
		if err := checkFraction(fmt.Sprintf("new_contract_tiers[%d].rate", i), tier.Rate); err != nil {
			return err
		}
		last := i == len(t.NewContractTiers)-1
		if tier.UpTo == nil {
			if !last {
				return ledger.NewValidationError("new_contract_tiers", "only the last tier may be unbounded")
			}
			continue
		}
		if last {
			return ledger.NewValidationError("new_contract_tiers", "last tier must be unbounded")
		}
		if !tier.UpTo.GreaterThan(prev) {
			return ledger.NewValidationError("new_contract_tiers", "bounds must be strictly increasing")
		}
		prev = *tier.UpTo
	}
	return nil
}

func checkFraction(field string, v decimal.Decimal) error {
	if v.IsNegative() || v.GreaterThan(decimal.NewFromInt(1)) {
		return ledger.NewValidationError(field, "must be a fraction in [0, 1], got %s", v)
	}
	return nil
}

// Round rounds an amount to the table's currency scale.
func (t RateTable) Round(d decimal.Decimal) decimal.Decimal {
	return ledger.Round(d, t.CurrencyScale)
}

// =============================================================================
// RATE BOOK - Ordered set of rate tables
// =============================================================================

type RateBook struct {
	tables []RateTable // ascending EffectiveFrom
}

// NewRateBook validates and orders the tables. Versions must be unique.
func NewRateBook(tables ...RateTable) (*RateBook, error) {
	if len(tables) == 0 {
		return nil, ledger.NewValidationError("rate_tables", "at least one table required")
	}
	seen := make(map[string]bool)
	sorted := make([]RateTable, len(tables))
	copy(sorted, tables)
	for _, t := range sorted {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("rate table %q: %w", t.Version, err)
		}
		if seen[t.Version] {
			return nil, ledger.NewValidationError("version", "duplicate version %q", t.Version)
		}
		seen[t.Version] = true
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].EffectiveFrom.Before(sorted[j].EffectiveFrom)
	})
	return &RateBook{tables: sorted}, nil
}

// At returns the table in effect on d.
func (b *RateBook) At(d ledger.Date) RateTable {
	current := b.tables[0]
	for _, t := range b.tables[1:] {
		if t.EffectiveFrom.After(d) {
			break
		}
		current = t
	}
	return current
}

// Version looks up a table by version string.
func (b *RateBook) Version(v string) (RateTable, bool) {
	for _, t := range b.tables {
		if t.Version == v {
			return t, true
		}
	}
	return RateTable{}, false
}

// Tables returns the tables in effective order.
func (b *RateBook) Tables() []RateTable {
	return append([]RateTable{}, b.tables...)
}

// =============================================================================
// BASELINE
// =============================================================================

func bound(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

// DefaultRateTable returns the baseline rates.
func DefaultRateTable() RateTable {
	return RateTable{
		Version:         "2024-01",
		EffectiveFrom:   ledger.NewDate(2024, 1, 1),
		CurrencyScale:   0,
		SalesTaxRate:    ledger.MustDecimal("0.05"),
		WithholdingRate: ledger.MustDecimal("0.10"),
		InsuranceRate:   ledger.MustDecimal("0.0211"),
		RenewalRate:     ledger.MustDecimal("0.15"),
		MaintenanceRate: decimal.Zero,
		NewContractTiers: []Tier{
			{UpTo: bound(100_000), Rate: ledger.MustDecimal("0.35")},
			{UpTo: bound(300_000), Rate: ledger.MustDecimal("0.30")},
			{UpTo: bound(600_000), Rate: ledger.MustDecimal("0.25")},
			{UpTo: bound(1_000_000), Rate: ledger.MustDecimal("0.20")},
			{UpTo: nil, Rate: ledger.MustDecimal("0.10")},
		},
	}
}

// DefaultRateBook returns a book holding only the baseline table.
func DefaultRateBook() *RateBook {
	return &RateBook{tables: []RateTable{DefaultRateTable()}}
}
