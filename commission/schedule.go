/*
schedule.go - Installment schedule builder

PURPOSE:
  Splits a contract's payable total (base + sales tax) into dated
  installments according to a ratio template such as "6/4" or "3/3/4".

ALGORITHM:
  tax   = base * SalesTaxRate
  total = round(base + tax)
  R     = sum of ratios

  tax-last mode:  installment_i = round(base  * r_i / R)   (i < n)
  proportional:   installment_i = round(total * r_i / R)   (i < n)
  last installment              = total - sum(previous installments)

  Recomputing the last installment from the total absorbs all rounding
  drift, so the schedule always sums to the total exactly. In tax-last mode
  the remainder naturally carries the full tax.

EXAMPLE:
  base 100,000, "6/4", tax-last:
    tax 5,000, total 105,000
    #1 = 100,000 * 6/10 = 60,000
    #2 = 105,000 - 60,000 = 45,000 (40,000 + 5,000 tax)

DUE DATES:
  Installment i is due FirstDueDate + (i-1) months, clamped to month end.
*/
package commission

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/johnnyang0612/commission-system-sub001/ledger"
)

// ParseRatioTemplate parses "6/4" into [6, 4]. Ratios may be decimals and
// must all be positive.
func ParseRatioTemplate(template string) ([]decimal.Decimal, error) {
	template = strings.TrimSpace(template)
	if template == "" {
		return nil, ledger.NewValidationError("payment_template", "empty template")
	}
	parts := strings.Split(template, "/")
	ratios := make([]decimal.Decimal, 0, len(parts))
	for _, part := range parts {
		r, err := decimal.NewFromString(strings.TrimSpace(part))
		if err != nil {
			return nil, ledger.NewValidationError("payment_template", "malformed ratio %q in %q", part, template)
		}
		if !r.IsPositive() {
			return nil, ledger.NewValidationError("payment_template", "ratio %s must be positive", r)
		}
		ratios = append(ratios, r)
	}
	return ratios, nil
}

// PayableTotal returns round(base * (1 + SalesTaxRate)).
func PayableTotal(base decimal.Decimal, rates RateTable) decimal.Decimal {
	tax := base.Mul(rates.SalesTaxRate)
	return rates.Round(base.Add(tax))
}

// BuildInstallments splits the contract into its installment schedule.
func BuildInstallments(c ledger.Contract, rates RateTable) ([]ledger.Installment, error) {
	if !c.BaseAmount.IsPositive() {
		return nil, ledger.NewValidationError("base_amount", "must be positive, got %s", c.BaseAmount)
	}
	if c.FirstDueDate.IsZero() {
		return nil, ledger.NewValidationError("first_due_date", "required")
	}
	ratios, err := ParseRatioTemplate(c.PaymentTemplate)
	if err != nil {
		return nil, err
	}

	total := PayableTotal(c.BaseAmount, rates)
	totalRatio := ledger.Sum(ratios...)

	// Non-last installments are a share of the base (tax-last) or of the
	// taxed total (proportional).
	basis := total
	if c.TaxLast {
		basis = c.BaseAmount
	}

	installments := make([]ledger.Installment, len(ratios))
	allocated := decimal.Zero
	for i, r := range ratios {
		var amount decimal.Decimal
		if i == len(ratios)-1 {
			amount = total.Sub(allocated)
			if amount.IsNegative() {
				return nil, ledger.NewValidationError("payment_template", "%q splits %s into sub-unit installments", c.PaymentTemplate, total)
			}
		} else {
			amount = rates.Round(basis.Mul(r).Div(totalRatio))
			allocated = allocated.Add(amount)
		}
		installments[i] = ledger.Installment{
			ContractID: c.ID,
			Sequence:   i + 1,
			Amount:     amount,
			DueDate:    c.FirstDueDate.AddMonths(i),
		}
	}
	return installments, nil
}

// ScheduleBuilder builds schedules with the rate table in effect on the
// contract's signing date.
type ScheduleBuilder struct {
	Rates *RateBook
}

func (b *ScheduleBuilder) Build(c ledger.Contract) ([]ledger.Installment, error) {
	return BuildInstallments(c, b.Rates.At(contractDate(c)))
}

// contractDate is the date that selects a contract's rate table.
func contractDate(c ledger.Contract) ledger.Date {
	switch {
	case !c.SignedOn.IsZero():
		return c.SignedOn
	case !c.FirstDueDate.IsZero():
		return c.FirstDueDate
	default:
		return ledger.DateOf(c.CreatedAt)
	}
}
