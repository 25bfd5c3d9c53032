/*
Package factory provides JSON to Go rate table conversion.

PURPOSE:
  Converts JSON rate definitions into a commission.RateBook. Statutory rates
  change every year or two; finance publishes a new table with the date it
  takes effect and the service picks it up on the next restart without a
  code change.

JSON SCHEMA:
  {
    "tables": [
      {
        "version": "2024-01",
        "effective_from": "2024-01-01",
        "currency_scale": 0,
        "sales_tax_rate": "0.05",
        "withholding_rate": "0.10",
        "insurance_rate": "0.0211",
        "withholding_threshold": "0",
        "insurance_threshold": "0",
        "renewal_rate": "0.15",
        "maintenance_rate": "0",
        "new_contract_tiers": [
          {"up_to": "100000", "rate": "0.35"},
          {"up_to": null,     "rate": "0.10"}
        ]
      }
    ]
  }

  Rates are fractions. Amounts and rates may be JSON strings or numbers;
  strings are preferred so no value passes through float64.

KEY FEATURES:
  - Validates every table (see commission.RateTable.Validate)
  - Rejects duplicate versions
  - Omitted currency_scale defaults to 0

USAGE:
  f := NewRateTableFactory()
  book, err := f.ParseRateBook(jsonString)
  book, err := f.LoadRateBook("rates.json")

SEE ALSO:
  - commission/ratetable.go: RateTable and RateBook
  - config/config.go: rates.file points at the JSON document
*/
package factory

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"github.com/johnnyang0612/commission-system-sub001/commission"
	"github.com/johnnyang0612/commission-system-sub001/ledger"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// RateBookJSON is the JSON representation of a rate book.
type RateBookJSON struct {
	Tables []RateTableJSON `json:"tables"`
}

// RateTableJSON is the JSON representation of one rate table.
type RateTableJSON struct {
	Version       string `json:"version"`
	EffectiveFrom string `json:"effective_from"` // YYYY-MM-DD
	CurrencyScale *int32 `json:"currency_scale,omitempty"`

	SalesTaxRate    decimal.Decimal `json:"sales_tax_rate"`
	WithholdingRate decimal.Decimal `json:"withholding_rate"`
	InsuranceRate   decimal.Decimal `json:"insurance_rate"`

	WithholdingThreshold decimal.Decimal `json:"withholding_threshold"`
	InsuranceThreshold   decimal.Decimal `json:"insurance_threshold"`

	RenewalRate      decimal.Decimal `json:"renewal_rate"`
	MaintenanceRate  decimal.Decimal `json:"maintenance_rate"`
	NewContractTiers []TierJSON      `json:"new_contract_tiers"`
}

// TierJSON is one marginal band. A null up_to marks the open-ended band.
type TierJSON struct {
	UpTo *decimal.Decimal `json:"up_to"`
	Rate decimal.Decimal  `json:"rate"`
}

// =============================================================================
// RATE TABLE FACTORY
// =============================================================================

// RateTableFactory converts JSON rate tables to Go structs.
type RateTableFactory struct{}

func NewRateTableFactory() *RateTableFactory {
	return &RateTableFactory{}
}

// ParseRateBook parses a JSON document into a validated RateBook.
func (f *RateTableFactory) ParseRateBook(jsonStr string) (*commission.RateBook, error) {
	var bj RateBookJSON
	if err := json.Unmarshal([]byte(jsonStr), &bj); err != nil {
		return nil, fmt.Errorf("failed to parse rate book JSON: %w", err)
	}
	return f.FromJSON(bj)
}

// LoadRateBook reads and parses a rate book file.
func (f *RateTableFactory) LoadRateBook(path string) (*commission.RateBook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rate book %s: %w", path, err)
	}
	return f.ParseRateBook(string(data))
}

// FromJSON converts RateBookJSON to a RateBook.
func (f *RateTableFactory) FromJSON(bj RateBookJSON) (*commission.RateBook, error) {
	tables := make([]commission.RateTable, 0, len(bj.Tables))
	for i, tj := range bj.Tables {
		t, err := parseRateTable(tj)
		if err != nil {
			return nil, fmt.Errorf("tables[%d]: %w", i, err)
		}
		tables = append(tables, t)
	}
	return commission.NewRateBook(tables...)
}

// ToJSON converts a RateBook back to its JSON form.
func (f *RateTableFactory) ToJSON(book *commission.RateBook) RateBookJSON {
	var bj RateBookJSON
	for _, t := range book.Tables() {
		scale := t.CurrencyScale
		tj := RateTableJSON{
			Version:              t.Version,
			EffectiveFrom:        t.EffectiveFrom.String(),
			CurrencyScale:        &scale,
			SalesTaxRate:         t.SalesTaxRate,
			WithholdingRate:      t.WithholdingRate,
			InsuranceRate:        t.InsuranceRate,
			WithholdingThreshold: t.WithholdingThreshold,
			InsuranceThreshold:   t.InsuranceThreshold,
			RenewalRate:          t.RenewalRate,
			MaintenanceRate:      t.MaintenanceRate,
		}
		for _, tier := range t.NewContractTiers {
			tj.NewContractTiers = append(tj.NewContractTiers, TierJSON{UpTo: tier.UpTo, Rate: tier.Rate})
		}
		bj.Tables = append(bj.Tables, tj)
	}
	return bj
}

func parseRateTable(tj RateTableJSON) (commission.RateTable, error) {
	effective, err := ledger.ParseDate(tj.EffectiveFrom)
	if err != nil {
		return commission.RateTable{}, ledger.NewValidationError("effective_from", "%q is not YYYY-MM-DD", tj.EffectiveFrom)
	}

	var scale int32
	if tj.CurrencyScale != nil {
		scale = *tj.CurrencyScale
	}

	tiers := make([]commission.Tier, len(tj.NewContractTiers))
	for i, tier := range tj.NewContractTiers {
		tiers[i] = commission.Tier{UpTo: tier.UpTo, Rate: tier.Rate}
	}

	return commission.RateTable{
		Version:              tj.Version,
		EffectiveFrom:        effective,
		CurrencyScale:        scale,
		SalesTaxRate:         tj.SalesTaxRate,
		WithholdingRate:      tj.WithholdingRate,
		InsuranceRate:        tj.InsuranceRate,
		WithholdingThreshold: tj.WithholdingThreshold,
		InsuranceThreshold:   tj.InsuranceThreshold,
		RenewalRate:          tj.RenewalRate,
		MaintenanceRate:      tj.MaintenanceRate,
		NewContractTiers:     tiers,
	}, nil
}

// =============================================================================
// PRESETS
// =============================================================================

// BaselineRatesJSON mirrors commission.DefaultRateTable.
const BaselineRatesJSON = `{
  "tables": [
    {
      "version": "2024-01",
      "effective_from": "2024-01-01",
      "currency_scale": 0,
      "sales_tax_rate": "0.05",
      "withholding_rate": "0.10",
      "insurance_rate": "0.0211",
      "renewal_rate": "0.15",
      "maintenance_rate": "0",
      "new_contract_tiers": [
        {"up_to": "100000", "rate": "0.35"},
        {"up_to": "300000", "rate": "0.30"},
        {"up_to": "600000", "rate": "0.25"},
        {"up_to": "1000000", "rate": "0.20"},
        {"up_to": null, "rate": "0.10"}
      ]
    }
  ]
}`
