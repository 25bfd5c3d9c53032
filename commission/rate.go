/*
rate.go - Commission rate calculator

PURPOSE:
  Computes how much commission a contract entitles its salesperson to.

RULES (first match wins):
  1. FixedCommissionRate set  -> that rate
  2. renewal                  -> RenewalRate (15%)
  3. maintenance              -> MaintenanceRate (0%)
  4. new                      -> progressive marginal tiers on this
                                 contract's own base amount

PROGRESSIVE TIERING:
  Only the part of the base inside a band earns that band's rate.

    base 1,000,000:
      100,000 * 35% =  35,000
      200,000 * 30% =  60,000
      300,000 * 25% =  75,000
      400,000 * 20% =  80,000
                     --------
                      250,000   (blended 25%)

  The reported rate is the blended effective rate total / base. Because
  marginal rates only decrease, the blended rate is non-increasing in base
  and continuous across band boundaries.
*/
package commission

import (
	"github.com/shopspring/decimal"

	"github.com/johnnyang0612/commission-system-sub001/ledger"
)

// rateScale is the number of fraction digits kept on blended rates.
const rateScale = 6

// ProgressiveCommission applies marginal tiers to base.
func ProgressiveCommission(base decimal.Decimal, tiers []Tier) decimal.Decimal {
	total := decimal.Zero
	lower := decimal.Zero
	for _, tier := range tiers {
		if !base.GreaterThan(lower) {
			break
		}
		upper := base
		if tier.UpTo != nil && tier.UpTo.LessThan(base) {
			upper = *tier.UpTo
		}
		total = total.Add(upper.Sub(lower).Mul(tier.Rate))
		if tier.UpTo == nil {
			break
		}
		lower = *tier.UpTo
	}
	return total
}

// ComputeEntitlement derives the entitlement for c. The returned record has
// no ID; callers assign one before persisting.
func ComputeEntitlement(c ledger.Contract, rates RateTable) (ledger.Entitlement, error) {
	if !c.BaseAmount.IsPositive() {
		return ledger.Entitlement{}, ledger.NewValidationError("base_amount", "must be positive, got %s", c.BaseAmount)
	}
	if !c.Type.Valid() {
		return ledger.Entitlement{}, ledger.NewValidationError("type", "unknown contract type %q", c.Type)
	}

	var rate, total decimal.Decimal
	switch {
	case c.FixedCommissionRate != nil:
		if err := checkFraction("fixed_commission_rate", *c.FixedCommissionRate); err != nil {
			return ledger.Entitlement{}, err
		}
		rate = *c.FixedCommissionRate
		total = rates.Round(c.BaseAmount.Mul(rate))
	case c.Type == ledger.ContractRenewal:
		rate = rates.RenewalRate
		total = rates.Round(c.BaseAmount.Mul(rate))
	case c.Type == ledger.ContractMaintenance:
		rate = rates.MaintenanceRate
		total = rates.Round(c.BaseAmount.Mul(rate))
	default:
		total = rates.Round(ProgressiveCommission(c.BaseAmount, rates.NewContractTiers))
		rate = total.DivRound(c.BaseAmount, rateScale)
	}

	return ledger.Entitlement{
		ContractID:    c.ID,
		SalespersonID: c.SalespersonID,
		Rate:          rate,
		TotalAmount:   total,
		RateVersion:   rates.Version,
		Status:        ledger.EntitlementPending,
	}, nil
}

// RateCalculator computes entitlements with the rate table in effect on the
// contract's signing date.
type RateCalculator struct {
	Rates *RateBook
}

func (rc *RateCalculator) Compute(c ledger.Contract) (ledger.Entitlement, error) {
	return ComputeEntitlement(c, rc.Rates.At(contractDate(c)))
}
