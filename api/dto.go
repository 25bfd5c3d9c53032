/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger records from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  decimal.Decimal marshals as a JSON string ("1234.50") and unmarshals from
  either a string or a number, so amounts never pass through float64.

DATES:
  Calendar dates are "YYYY-MM-DD". Timestamps are RFC3339.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: The records these mirror
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/johnnyang0612/commission-system-sub001/commission"
	"github.com/johnnyang0612/commission-system-sub001/ledger"
)

// =============================================================================
// CONTRACTS
// =============================================================================

// ContractRequest is the body of POST /api/contracts and the preview endpoints.
type ContractRequest struct {
	SalespersonID       string           `json:"salesperson_id"`
	Type                string           `json:"type"`
	BaseAmount          decimal.Decimal  `json:"base_amount"`
	TaxLast             bool             `json:"tax_last"`
	PaymentTemplate     string           `json:"payment_template"`
	FixedCommissionRate *decimal.Decimal `json:"fixed_commission_rate,omitempty"`
	SignedOn            string           `json:"signed_on,omitempty"`
	FirstDueDate        string           `json:"first_due_date,omitempty"`
}

// ToContract converts the request, parsing optional dates.
func (r ContractRequest) ToContract() (ledger.Contract, error) {
	signedOn, err := optionalDate("signed_on", r.SignedOn)
	if err != nil {
		return ledger.Contract{}, err
	}
	firstDue, err := optionalDate("first_due_date", r.FirstDueDate)
	if err != nil {
		return ledger.Contract{}, err
	}
	return ledger.Contract{
		SalespersonID:       r.SalespersonID,
		Type:                ledger.ContractType(r.Type),
		BaseAmount:          r.BaseAmount,
		TaxLast:             r.TaxLast,
		PaymentTemplate:     r.PaymentTemplate,
		FixedCommissionRate: r.FixedCommissionRate,
		SignedOn:            signedOn,
		FirstDueDate:        firstDue,
	}, nil
}

type ContractDTO struct {
	ID                  string           `json:"id"`
	SalespersonID       string           `json:"salesperson_id"`
	Type                string           `json:"type"`
	BaseAmount          decimal.Decimal  `json:"base_amount"`
	TaxLast             bool             `json:"tax_last"`
	PaymentTemplate     string           `json:"payment_template"`
	FixedCommissionRate *decimal.Decimal `json:"fixed_commission_rate,omitempty"`
	SignedOn            string           `json:"signed_on"`
	FirstDueDate        string           `json:"first_due_date"`
	CreatedAt           string           `json:"created_at"`
}

type InstallmentDTO struct {
	Sequence int             `json:"sequence"`
	Amount   decimal.Decimal `json:"amount"`
	DueDate  string          `json:"due_date"`
	Paid     bool            `json:"paid"`
}

// ContractResponse bundles a contract with its schedule and entitlement.
type ContractResponse struct {
	Contract     ContractDTO      `json:"contract"`
	Installments []InstallmentDTO `json:"installments"`
	Entitlement  *EntitlementDTO  `json:"entitlement,omitempty"`
}

// =============================================================================
// ENTITLEMENTS + AVAILABILITY
// =============================================================================

type EntitlementDTO struct {
	ID            string          `json:"id,omitempty"`
	ContractID    string          `json:"contract_id,omitempty"`
	SalespersonID string          `json:"salesperson_id"`
	Rate          decimal.Decimal `json:"rate"`
	Percentage    decimal.Decimal `json:"percentage"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	RateVersion   string          `json:"rate_version"`
	Status        string          `json:"status"`
	Version       int64           `json:"version"`
}

type AvailabilityDTO struct {
	EntitlementID   string          `json:"entitlement_id"`
	AvailableAmount decimal.Decimal `json:"available_amount"`
	PaymentRatio    decimal.Decimal `json:"payment_ratio"`
	AlreadyPaid     decimal.Decimal `json:"already_paid"`
	Earned          decimal.Decimal `json:"earned"`
	Remaining       decimal.Decimal `json:"remaining"`
	ClientPaid      decimal.Decimal `json:"client_paid"`
	Total           decimal.Decimal `json:"total"`
	Settled         bool            `json:"settled"`
}

// =============================================================================
// PAYMENTS + PAYOUTS + RECEIPTS
// =============================================================================

type PaymentRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	PaidOn    string          `json:"paid_on,omitempty"`
	Reference string          `json:"reference,omitempty"`
}

type PaymentDTO struct {
	ID         string          `json:"id"`
	ContractID string          `json:"contract_id"`
	Amount     decimal.Decimal `json:"amount"`
	PaidOn     string          `json:"paid_on"`
	Reference  string          `json:"reference,omitempty"`
	CreatedAt  string          `json:"created_at"`
}

// PayoutRequest omits Amount to release everything currently available.
type PayoutRequest struct {
	Amount *decimal.Decimal `json:"amount,omitempty"`
	PaidOn string           `json:"paid_on,omitempty"`
	Notes  string           `json:"notes,omitempty"`
}

type PayoutDTO struct {
	ID                 string          `json:"id"`
	EntitlementID      string          `json:"entitlement_id"`
	Amount             decimal.Decimal `json:"amount"`
	PaidOn             string          `json:"paid_on"`
	BasisPaymentAmount decimal.Decimal `json:"basis_payment_amount"`
	RatioOfEntitlement decimal.Decimal `json:"ratio_of_entitlement"`
	Notes              string          `json:"notes,omitempty"`
	CreatedAt          string          `json:"created_at"`
}

type ReceiptDTO struct {
	ID              string          `json:"id"`
	PayoutID        string          `json:"payout_id"`
	EntitlementID   string          `json:"entitlement_id"`
	SalespersonID   string          `json:"salesperson_id"`
	GrossAmount     decimal.Decimal `json:"gross_amount"`
	TaxAmount       decimal.Decimal `json:"tax_amount"`
	InsuranceAmount decimal.Decimal `json:"insurance_amount"`
	NetAmount       decimal.Decimal `json:"net_amount"`
	WithholdingRate decimal.Decimal `json:"withholding_rate"`
	InsuranceRate   decimal.Decimal `json:"insurance_rate"`
	RateVersion     string          `json:"rate_version"`
	Status          string          `json:"status"`
	IssuedAt        string          `json:"issued_at"`
}

type PayoutResponse struct {
	Payout                PayoutDTO       `json:"payout"`
	Receipt               ReceiptDTO      `json:"receipt"`
	ReceiptAlreadyExisted bool            `json:"receipt_already_existed"`
	Entitlement           EntitlementDTO  `json:"entitlement"`
	Availability          AvailabilityDTO `json:"availability"`
}

// =============================================================================
// RECONCILIATION
// =============================================================================

type ItemErrorDTO struct {
	EntitlementID string `json:"entitlement_id"`
	Stage         string `json:"stage"`
	Error         string `json:"error"`
}

type BatchResultDTO struct {
	RunID          string          `json:"run_id"`
	Processed      int             `json:"processed"`
	Succeeded      int             `json:"succeeded"`
	Failed         int             `json:"failed"`
	Skipped        int             `json:"skipped"`
	Released       decimal.Decimal `json:"released"`
	ReceiptsIssued int             `json:"receipts_issued"`
	Errors         []ItemErrorDTO  `json:"errors"`
	StartedAt      string          `json:"started_at"`
	CompletedAt    string          `json:"completed_at"`
}

type ReconciliationRunDTO struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Processed   int    `json:"processed"`
	Succeeded   int    `json:"succeeded"`
	Failed      int    `json:"failed"`
	Error       string `json:"error,omitempty"`
	StartedAt   string `json:"started_at"`
	CompletedAt string `json:"completed_at,omitempty"`
}

// =============================================================================
// SCENARIOS + ERRORS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the body of every non-2xx response. Available is set
// only when a payout asked for more than could be released.
type ErrorResponse struct {
	Error     string           `json:"error"`
	Details   string           `json:"details,omitempty"`
	Available *decimal.Decimal `json:"available,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toContractDTO(c ledger.Contract) ContractDTO {
	return ContractDTO{
		ID:                  string(c.ID),
		SalespersonID:       c.SalespersonID,
		Type:                string(c.Type),
		BaseAmount:          c.BaseAmount,
		TaxLast:             c.TaxLast,
		PaymentTemplate:     c.PaymentTemplate,
		FixedCommissionRate: c.FixedCommissionRate,
		SignedOn:            dateString(c.SignedOn),
		FirstDueDate:        dateString(c.FirstDueDate),
		CreatedAt:           timeString(c.CreatedAt),
	}
}

func toInstallmentDTOs(installments []ledger.Installment) []InstallmentDTO {
	out := make([]InstallmentDTO, 0, len(installments))
	for _, inst := range installments {
		out = append(out, InstallmentDTO{
			Sequence: inst.Sequence,
			Amount:   inst.Amount,
			DueDate:  inst.DueDate.String(),
			Paid:     inst.Paid,
		})
	}
	return out
}

func toEntitlementDTO(e ledger.Entitlement) EntitlementDTO {
	return EntitlementDTO{
		ID:            string(e.ID),
		ContractID:    string(e.ContractID),
		SalespersonID: e.SalespersonID,
		Rate:          e.Rate,
		Percentage:    e.Percentage(),
		TotalAmount:   e.TotalAmount,
		RateVersion:   e.RateVersion,
		Status:        string(e.Status),
		Version:       e.Version,
	}
}

func toAvailabilityDTO(a commission.Availability) AvailabilityDTO {
	return AvailabilityDTO{
		EntitlementID:   string(a.EntitlementID),
		AvailableAmount: a.AvailableAmount,
		PaymentRatio:    a.PaymentRatio,
		AlreadyPaid:     a.AlreadyPaid,
		Earned:          a.Earned,
		Remaining:       a.Remaining,
		ClientPaid:      a.ClientPaid,
		Total:           a.Total,
		Settled:         a.Settled(),
	}
}

func toPaymentDTO(p ledger.ClientPayment) PaymentDTO {
	return PaymentDTO{
		ID:         string(p.ID),
		ContractID: string(p.ContractID),
		Amount:     p.Amount,
		PaidOn:     p.PaidOn.String(),
		Reference:  p.Reference,
		CreatedAt:  timeString(p.CreatedAt),
	}
}

func toPayoutDTO(p ledger.Payout) PayoutDTO {
	return PayoutDTO{
		ID:                 string(p.ID),
		EntitlementID:      string(p.EntitlementID),
		Amount:             p.Amount,
		PaidOn:             p.PaidOn.String(),
		BasisPaymentAmount: p.BasisPaymentAmount,
		RatioOfEntitlement: p.RatioOfEntitlement,
		Notes:              p.Notes,
		CreatedAt:          timeString(p.CreatedAt),
	}
}

func toReceiptDTO(r ledger.Receipt) ReceiptDTO {
	return ReceiptDTO{
		ID:              string(r.ID),
		PayoutID:        string(r.PayoutID),
		EntitlementID:   string(r.EntitlementID),
		SalespersonID:   r.SalespersonID,
		GrossAmount:     r.GrossAmount,
		TaxAmount:       r.TaxAmount,
		InsuranceAmount: r.InsuranceAmount,
		NetAmount:       r.NetAmount,
		WithholdingRate: r.WithholdingRate,
		InsuranceRate:   r.InsuranceRate,
		RateVersion:     r.RateVersion,
		Status:          string(r.Status),
		IssuedAt:        timeString(r.IssuedAt),
	}
}

func toPayoutResponse(res commission.PayoutResult) PayoutResponse {
	return PayoutResponse{
		Payout:                toPayoutDTO(res.Payout),
		Receipt:               toReceiptDTO(res.Receipt.Receipt),
		ReceiptAlreadyExisted: res.Receipt.AlreadyExisted,
		Entitlement:           toEntitlementDTO(res.Entitlement),
		Availability:          toAvailabilityDTO(res.Availability),
	}
}

func toBatchResultDTO(b commission.BatchResult) BatchResultDTO {
	errs := make([]ItemErrorDTO, 0, len(b.Errors))
	for _, e := range b.Errors {
		errs = append(errs, ItemErrorDTO{
			EntitlementID: string(e.EntitlementID),
			Stage:         e.Stage,
			Error:         e.Err.Error(),
		})
	}
	return BatchResultDTO{
		RunID:          string(b.RunID),
		Processed:      b.Processed,
		Succeeded:      b.Succeeded,
		Failed:         b.Failed,
		Skipped:        b.Skipped,
		Released:       b.Released,
		ReceiptsIssued: b.ReceiptsIssued,
		Errors:         errs,
		StartedAt:      timeString(b.StartedAt),
		CompletedAt:    timeString(b.CompletedAt),
	}
}

func toRunDTO(r ledger.ReconciliationRun) ReconciliationRunDTO {
	dto := ReconciliationRunDTO{
		ID:        string(r.ID),
		Status:    string(r.Status),
		Processed: r.Processed,
		Succeeded: r.Succeeded,
		Failed:    r.Failed,
		Error:     r.Error,
		StartedAt: timeString(r.StartedAt),
	}
	if r.CompletedAt != nil {
		dto.CompletedAt = timeString(*r.CompletedAt)
	}
	return dto
}

func dateString(d ledger.Date) string {
	if d.IsZero() {
		return ""
	}
	return d.String()
}

func timeString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func optionalDate(field, s string) (ledger.Date, error) {
	if s == "" {
		return ledger.Date{}, nil
	}
	d, err := ledger.ParseDate(s)
	if err != nil {
		return ledger.Date{}, ledger.NewValidationError(field, "expected YYYY-MM-DD, got %q", s)
	}
	return d, nil
}
