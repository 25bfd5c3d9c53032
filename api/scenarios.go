/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the ledger with realistic
	data for demos. Each scenario creates contracts, records client
	payments and executes payouts through the same service calls the API
	uses, so the resulting state is indistinguishable from real traffic.

AVAILABLE SCENARIOS:

	first-installment: New contract with the first installment paid, nothing released yet
	renewal-settled:   Renewal paid in full and fully paid out
	negotiated-rate:   Fixed-rate contract, half paid, partly released

HOW SCENARIOS WORK:
 1. Create contracts (schedule + entitlement)
 2. Record client payments
 3. Optionally execute payouts

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "renewal-settled"}

NOTE:

	The ledger is append-only, so scenarios add data and never reset.
	Loading a scenario twice creates a second set of contracts.

SEE ALSO:
  - handlers.go: Handler
  - commission/service.go: The calls each loader makes
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/johnnyang0612/commission-system-sub001/commission"
	"github.com/johnnyang0612/commission-system-sub001/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "first-installment",
		Name:        "First Installment",
		Description: "New 1,000,000 contract, 6/4 tax-last schedule, first installment paid",
	},
	{
		ID:          "renewal-settled",
		Name:        "Renewal Settled",
		Description: "Renewal paid in full by the client and fully paid out",
	},
	{
		ID:          "negotiated-rate",
		Name:        "Negotiated Rate",
		Description: "18% fixed-rate contract, half paid, 20,000 already released",
	},
}

var scenarioLoaders = map[string]func(h *Handler, ctx context.Context) ([]ledger.ContractID, error){
	"first-installment": (*Handler).loadFirstInstallmentScenario,
	"renewal-settled":   (*Handler).loadRenewalSettledScenario,
	"negotiated-rate":   (*Handler).loadNegotiatedRateScenario,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetLoadedScenarios returns the scenario ids loaded since startup, in order.
func (h *Handler) GetLoadedScenarios(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	loaded := append([]string{}, h.loadedScenarios...)
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, loaded)
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	contracts, err := load(h, r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.mu.Lock()
	h.loadedScenarios = append(h.loadedScenarios, req.ScenarioID)
	h.mu.Unlock()

	ids := make([]string, 0, len(contracts))
	for _, id := range contracts {
		ids = append(ids, string(id))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "loaded",
		"scenario":  req.ScenarioID,
		"contracts": ids,
	})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadFirstInstallmentScenario(ctx context.Context) ([]ledger.ContractID, error) {
	res, err := h.Service.CreateContract(ctx, ledger.Contract{
		SalespersonID:   "sp_demo_alice",
		Type:            ledger.ContractNew,
		BaseAmount:      ledger.MustDecimal("1000000"),
		TaxLast:         true,
		PaymentTemplate: "6/4",
	})
	if err != nil {
		return nil, err
	}
	first := res.Installments[0]
	if _, err := h.Service.RecordPayment(ctx, res.Contract.ID, commission.PaymentInput{
		Amount:    first.Amount,
		Reference: "demo-installment-1",
	}); err != nil {
		return nil, err
	}
	return []ledger.ContractID{res.Contract.ID}, nil
}

func (h *Handler) loadRenewalSettledScenario(ctx context.Context) ([]ledger.ContractID, error) {
	res, err := h.Service.CreateContract(ctx, ledger.Contract{
		SalespersonID:   "sp_demo_bob",
		Type:            ledger.ContractRenewal,
		BaseAmount:      ledger.MustDecimal("200000"),
		PaymentTemplate: "10",
	})
	if err != nil {
		return nil, err
	}
	for _, inst := range res.Installments {
		if _, err := h.Service.RecordPayment(ctx, res.Contract.ID, commission.PaymentInput{
			Amount:    inst.Amount,
			Reference: fmt.Sprintf("demo-installment-%d", inst.Sequence),
		}); err != nil {
			return nil, err
		}
	}
	if _, err := h.Service.ReleaseAvailable(ctx, res.Entitlement.ID, commission.PayoutMetadata{Notes: "demo"}); err != nil {
		return nil, err
	}
	return []ledger.ContractID{res.Contract.ID}, nil
}

func (h *Handler) loadNegotiatedRateScenario(ctx context.Context) ([]ledger.ContractID, error) {
	rate := ledger.MustDecimal("0.18")
	res, err := h.Service.CreateContract(ctx, ledger.Contract{
		SalespersonID:       "sp_demo_carol",
		Type:                ledger.ContractNew,
		BaseAmount:          ledger.MustDecimal("500000"),
		PaymentTemplate:     "5/5",
		FixedCommissionRate: &rate,
	})
	if err != nil {
		return nil, err
	}
	if _, err := h.Service.RecordPayment(ctx, res.Contract.ID, commission.PaymentInput{
		Amount:    ledger.MustDecimal("250000"),
		Reference: "demo-half",
	}); err != nil {
		return nil, err
	}
	if _, err := h.Service.ExecutePayout(ctx, res.Entitlement.ID, ledger.MustDecimal("20000"),
		commission.PayoutMetadata{Notes: "demo advance"}); err != nil {
		return nil, err
	}
	return []ledger.ContractID{res.Contract.ID}, nil
}
