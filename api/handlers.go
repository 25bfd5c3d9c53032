/*
handlers.go - HTTP API handlers for the commission ledger

PURPOSE:
  Exposes the commission service via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to commission.Service.

ENDPOINTS:
  Previews (nothing persisted):
    POST   /api/installments/preview         Installment schedule for a contract
    POST   /api/entitlements/preview         Commission for a contract

  Contracts:
    POST   /api/contracts                    Create contract + schedule + entitlement
    GET    /api/contracts/{id}               Contract with schedule and entitlement
    POST   /api/contracts/{id}/payments      Record a client payment
    GET    /api/contracts/{id}/payments      Payment history

  Entitlements:
    GET    /api/entitlements/{id}               Entitlement
    GET    /api/entitlements/{id}/availability  What can be paid out now
    POST   /api/entitlements/{id}/payouts       Execute a payout
    GET    /api/entitlements/{id}/payouts       Payout history

  Receipts:
    GET    /api/receipts/{id}                Receipt
    GET    /api/receipts/{id}/pdf            Printable receipt

  Reconciliation:
    POST   /api/reconciliation/run           Run a batch now
    GET    /api/reconciliation/runs          Recent runs

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (duplicate id, concurrent payout)
  - 422: Payout above the available amount; body carries "available"
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/johnnyang0612/commission-system-sub001/commission"
	"github.com/johnnyang0612/commission-system-sub001/ledger"
	"github.com/johnnyang0612/commission-system-sub001/render"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *commission.Service
	Logger  *zap.Logger

	// IssuerName is printed on receipt PDFs.
	IssuerName string

	// Scheduler, when set, guards manual runs so they never overlap a
	// scheduled one.
	Scheduler *ReconciliationScheduler

	mu              sync.Mutex
	loadedScenarios []string
}

// NewHandler creates a new handler around the given service.
func NewHandler(svc *commission.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Service: svc, Logger: logger}
}

// =============================================================================
// PREVIEWS
// =============================================================================

// PreviewInstallments returns the schedule a contract would get.
func (h *Handler) PreviewInstallments(w http.ResponseWriter, r *http.Request) {
	c, ok := h.decodeContract(w, r)
	if !ok {
		return
	}
	installments, err := h.Service.BuildInstallments(c)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInstallmentDTOs(installments))
}

// PreviewEntitlement returns the commission a contract would earn.
func (h *Handler) PreviewEntitlement(w http.ResponseWriter, r *http.Request) {
	c, ok := h.decodeContract(w, r)
	if !ok {
		return
	}
	e, err := h.Service.ComputeEntitlement(c)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntitlementDTO(e))
}

func (h *Handler) decodeContract(w http.ResponseWriter, r *http.Request) (ledger.Contract, bool) {
	var req ContractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return ledger.Contract{}, false
	}
	c, err := req.ToContract()
	if err != nil {
		h.writeDomainError(w, err)
		return ledger.Contract{}, false
	}
	return c, true
}

// =============================================================================
// CONTRACTS + PAYMENTS
// =============================================================================

// CreateContract persists a contract with its schedule and entitlement.
func (h *Handler) CreateContract(w http.ResponseWriter, r *http.Request) {
	var req ContractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	c, err := req.ToContract()
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	res, err := h.Service.CreateContract(r.Context(), c)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	e := toEntitlementDTO(res.Entitlement)
	writeJSON(w, http.StatusCreated, ContractResponse{
		Contract:     toContractDTO(res.Contract),
		Installments: toInstallmentDTOs(res.Installments),
		Entitlement:  &e,
	})
}

// GetContract returns a contract with its current schedule and entitlement.
func (h *Handler) GetContract(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := ledger.ContractID(chi.URLParam(r, "id"))

	c, err := h.Service.GetContract(ctx, id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	installments, err := h.Service.Installments(ctx, id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	resp := ContractResponse{
		Contract:     toContractDTO(c),
		Installments: toInstallmentDTOs(installments),
	}
	e, err := h.Service.EntitlementByContract(ctx, id)
	switch {
	case err == nil:
		dto := toEntitlementDTO(e)
		resp.Entitlement = &dto
	case !ledger.IsNotFound(err):
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// RecordPayment appends a client payment to a contract.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	paidOn, err := optionalDate("paid_on", req.PaidOn)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	p, err := h.Service.RecordPayment(r.Context(), ledger.ContractID(chi.URLParam(r, "id")), commission.PaymentInput{
		Amount:    req.Amount,
		PaidOn:    paidOn,
		Reference: req.Reference,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentDTO(p))
}

// ListPayments returns a contract's payment history, oldest first.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := ledger.ContractID(chi.URLParam(r, "id"))
	if _, err := h.Service.GetContract(ctx, id); err != nil {
		h.writeDomainError(w, err)
		return
	}
	payments, err := h.Service.Payments(ctx, id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	out := make([]PaymentDTO, 0, len(payments))
	for _, p := range payments {
		out = append(out, toPaymentDTO(p))
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// ENTITLEMENTS + PAYOUTS
// =============================================================================

func (h *Handler) GetEntitlement(w http.ResponseWriter, r *http.Request) {
	e, err := h.Service.GetEntitlement(r.Context(), ledger.EntitlementID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntitlementDTO(e))
}

func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	a, err := h.Service.GetAvailablePayout(r.Context(), ledger.EntitlementID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAvailabilityDTO(a))
}

// ExecutePayout pays out the requested amount, or everything available when
// the body has no amount.
func (h *Handler) ExecutePayout(w http.ResponseWriter, r *http.Request) {
	var req PayoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	paidOn, err := optionalDate("paid_on", req.PaidOn)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	id := ledger.EntitlementID(chi.URLParam(r, "id"))
	meta := commission.PayoutMetadata{PaidOn: paidOn, Notes: req.Notes}

	var res commission.PayoutResult
	if req.Amount == nil {
		res, err = h.Service.ReleaseAvailable(r.Context(), id, meta)
	} else {
		res, err = h.Service.ExecutePayout(r.Context(), id, *req.Amount, meta)
	}
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPayoutResponse(res))
}

func (h *Handler) ListPayouts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := ledger.EntitlementID(chi.URLParam(r, "id"))
	if _, err := h.Service.GetEntitlement(ctx, id); err != nil {
		h.writeDomainError(w, err)
		return
	}
	payouts, err := h.Service.Payouts(ctx, id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	out := make([]PayoutDTO, 0, len(payouts))
	for _, p := range payouts {
		out = append(out, toPayoutDTO(p))
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// RECEIPTS
// =============================================================================

func (h *Handler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	rc, err := h.Service.GetReceipt(r.Context(), ledger.ReceiptID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReceiptDTO(rc))
}

// GetReceiptPDF renders the stored receipt as a PDF.
func (h *Handler) GetReceiptPDF(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rc, err := h.Service.GetReceipt(ctx, ledger.ReceiptID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	p, err := h.Service.GetPayout(ctx, rc.PayoutID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	pdf, err := render.ReceiptPDF(render.ReceiptDocument{IssuerName: h.IssuerName, Receipt: rc, Payout: p})
	if err != nil {
		h.Logger.Error("render receipt failed", zap.String("receipt_id", string(rc.ID)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to render receipt", err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", string(rc.ID)+".pdf"))
	w.WriteHeader(http.StatusOK)
	w.Write(pdf)
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// RunReconciliation runs one batch synchronously and returns its summary.
// 409 when a scheduled run is already in progress.
func (h *Handler) RunReconciliation(w http.ResponseWriter, r *http.Request) {
	var (
		res commission.BatchResult
		err error
	)
	if h.Scheduler != nil {
		var ran bool
		res, ran, err = h.Scheduler.RunNow(r.Context())
		if err == nil && !ran {
			writeError(w, http.StatusConflict, "Reconciliation already running", nil)
			return
		}
	} else {
		res, err = h.Service.ReconcileAll(r.Context())
	}
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchResultDTO(res))
}

// ListReconciliationRuns returns recent runs, newest first. ?limit=N, default 20.
func (h *Handler) ListReconciliationRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	runs, err := h.Service.ReconciliationRuns(r.Context(), limit)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	out := make([]ReconciliationRunDTO, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunDTO(run))
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps ledger errors onto HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	var short *ledger.InsufficientAvailableError
	switch {
	case errors.As(err, &short):
		available := short.Available
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:     "Insufficient available amount",
			Details:   err.Error(),
			Available: &available,
		})
	case errors.Is(err, ledger.ErrValidation):
		writeError(w, http.StatusBadRequest, "Validation failed", err)
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, ledger.ErrConcurrentModification):
		writeError(w, http.StatusConflict, "Concurrent modification, retry", err)
	case errors.Is(err, ledger.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "Already exists", err)
	case errors.Is(err, ledger.ErrNothingAvailable):
		writeError(w, http.StatusUnprocessableEntity, "Nothing available to release", err)
	default:
		h.Logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
