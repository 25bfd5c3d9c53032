// Package store provides the in-memory ledger.TxStore implementation.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/johnnyang0612/commission-system-sub001/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is a thread-safe in-memory TxStore.
type Memory struct {
	mu    sync.RWMutex
	state *memState
}

func NewMemory() *Memory {
	return &Memory{state: newMemState()}
}

// WithTx executes fn within a transaction.
// Simulated with a snapshot + rollback on error; fn holds the write lock, so
// transactions are serialized.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(m.state); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (m *Memory) InsertContract(ctx context.Context, c ledger.Contract) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.InsertContract(ctx, c)
}

func (m *Memory) GetContract(ctx context.Context, id ledger.ContractID) (ledger.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetContract(ctx, id)
}

func (m *Memory) InsertInstallments(ctx context.Context, installments []ledger.Installment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.InsertInstallments(ctx, installments)
}

func (m *Memory) InstallmentsByContract(ctx context.Context, id ledger.ContractID) ([]ledger.Installment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.InstallmentsByContract(ctx, id)
}

func (m *Memory) MarkInstallmentsPaid(ctx context.Context, id ledger.ContractID, sequences []int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.MarkInstallmentsPaid(ctx, id, sequences)
}

func (m *Memory) InsertEntitlement(ctx context.Context, e ledger.Entitlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.InsertEntitlement(ctx, e)
}

func (m *Memory) GetEntitlement(ctx context.Context, id ledger.EntitlementID) (ledger.Entitlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetEntitlement(ctx, id)
}

func (m *Memory) EntitlementByContract(ctx context.Context, id ledger.ContractID) (ledger.Entitlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.EntitlementByContract(ctx, id)
}

func (m *Memory) ListEntitlements(ctx context.Context) ([]ledger.Entitlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ListEntitlements(ctx)
}

func (m *Memory) UpdateEntitlementStatus(ctx context.Context, id ledger.EntitlementID, status ledger.EntitlementStatus, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.UpdateEntitlementStatus(ctx, id, status, expectedVersion)
}

func (m *Memory) AppendPayment(ctx context.Context, p ledger.ClientPayment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.AppendPayment(ctx, p)
}

func (m *Memory) PaymentsByContract(ctx context.Context, id ledger.ContractID) ([]ledger.ClientPayment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.PaymentsByContract(ctx, id)
}

func (m *Memory) AppendPayout(ctx context.Context, p ledger.Payout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.AppendPayout(ctx, p)
}

func (m *Memory) GetPayout(ctx context.Context, id ledger.PayoutID) (ledger.Payout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetPayout(ctx, id)
}

func (m *Memory) PayoutsByEntitlement(ctx context.Context, id ledger.EntitlementID) ([]ledger.Payout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.PayoutsByEntitlement(ctx, id)
}

func (m *Memory) PayoutsWithoutReceipt(ctx context.Context, id ledger.EntitlementID) ([]ledger.Payout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.PayoutsWithoutReceipt(ctx, id)
}

func (m *Memory) InsertReceiptIfAbsent(ctx context.Context, r ledger.Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.InsertReceiptIfAbsent(ctx, r)
}

func (m *Memory) GetReceipt(ctx context.Context, id ledger.ReceiptID) (ledger.Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetReceipt(ctx, id)
}

func (m *Memory) ReceiptByPayout(ctx context.Context, id ledger.PayoutID) (ledger.Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ReceiptByPayout(ctx, id)
}

func (m *Memory) SaveReconciliationRun(ctx context.Context, run ledger.ReconciliationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.SaveReconciliationRun(ctx, run)
}

func (m *Memory) ListReconciliationRuns(ctx context.Context, limit int) ([]ledger.ReconciliationRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ListReconciliationRuns(ctx, limit)
}

// =============================================================================
// STATE - Unlocked maps; also serves as the transactional view
// =============================================================================

type memState struct {
	contracts    map[ledger.ContractID]ledger.Contract
	installments map[ledger.ContractID][]ledger.Installment

	entitlements   map[ledger.EntitlementID]ledger.Entitlement
	byContract     map[ledger.ContractID]ledger.EntitlementID
	entitlementSeq []ledger.EntitlementID // insertion order

	payments map[ledger.ContractID][]ledger.ClientPayment

	payouts     map[ledger.EntitlementID][]ledger.Payout
	payoutIndex map[ledger.PayoutID]ledger.Payout

	receipts        map[ledger.ReceiptID]ledger.Receipt
	receiptByPayout map[ledger.PayoutID]ledger.ReceiptID

	runs map[ledger.RunID]ledger.ReconciliationRun
}

func newMemState() *memState {
	return &memState{
		contracts:       make(map[ledger.ContractID]ledger.Contract),
		installments:    make(map[ledger.ContractID][]ledger.Installment),
		entitlements:    make(map[ledger.EntitlementID]ledger.Entitlement),
		byContract:      make(map[ledger.ContractID]ledger.EntitlementID),
		payments:        make(map[ledger.ContractID][]ledger.ClientPayment),
		payouts:         make(map[ledger.EntitlementID][]ledger.Payout),
		payoutIndex:     make(map[ledger.PayoutID]ledger.Payout),
		receipts:        make(map[ledger.ReceiptID]ledger.Receipt),
		receiptByPayout: make(map[ledger.PayoutID]ledger.ReceiptID),
		runs:            make(map[ledger.RunID]ledger.ReconciliationRun),
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.contracts {
		c.contracts[k] = v
	}
	for k, v := range s.installments {
		c.installments[k] = append([]ledger.Installment{}, v...)
	}
	for k, v := range s.entitlements {
		c.entitlements[k] = v
	}
	for k, v := range s.byContract {
		c.byContract[k] = v
	}
	c.entitlementSeq = append([]ledger.EntitlementID{}, s.entitlementSeq...)
	for k, v := range s.payments {
		c.payments[k] = append([]ledger.ClientPayment{}, v...)
	}
	for k, v := range s.payouts {
		c.payouts[k] = append([]ledger.Payout{}, v...)
	}
	for k, v := range s.payoutIndex {
		c.payoutIndex[k] = v
	}
	for k, v := range s.receipts {
		c.receipts[k] = v
	}
	for k, v := range s.receiptByPayout {
		c.receiptByPayout[k] = v
	}
	for k, v := range s.runs {
		c.runs[k] = v
	}
	return c
}

func (s *memState) InsertContract(_ context.Context, c ledger.Contract) error {
	if _, ok := s.contracts[c.ID]; ok {
		return ledger.ErrAlreadyExists
	}
	s.contracts[c.ID] = c
	return nil
}

func (s *memState) GetContract(_ context.Context, id ledger.ContractID) (ledger.Contract, error) {
	c, ok := s.contracts[id]
	if !ok {
		return ledger.Contract{}, ledger.ErrNotFound
	}
	return c, nil
}

func (s *memState) InsertInstallments(_ context.Context, installments []ledger.Installment) error {
	for _, inst := range installments {
		for _, existing := range s.installments[inst.ContractID] {
			if existing.Sequence == inst.Sequence {
				return ledger.ErrAlreadyExists
			}
		}
	}
	for _, inst := range installments {
		s.installments[inst.ContractID] = append(s.installments[inst.ContractID], inst)
	}
	return nil
}

func (s *memState) InstallmentsByContract(_ context.Context, id ledger.ContractID) ([]ledger.Installment, error) {
	result := append([]ledger.Installment{}, s.installments[id]...)
	sort.Slice(result, func(i, j int) bool { return result[i].Sequence < result[j].Sequence })
	return result, nil
}

func (s *memState) MarkInstallmentsPaid(_ context.Context, id ledger.ContractID, sequences []int) error {
	insts := s.installments[id]
	for _, seq := range sequences {
		for i := range insts {
			if insts[i].Sequence == seq {
				insts[i].Paid = true
			}
		}
	}
	return nil
}

func (s *memState) InsertEntitlement(_ context.Context, e ledger.Entitlement) error {
	if _, ok := s.entitlements[e.ID]; ok {
		return ledger.ErrAlreadyExists
	}
	if _, ok := s.byContract[e.ContractID]; ok {
		return ledger.ErrAlreadyExists
	}
	s.entitlements[e.ID] = e
	s.byContract[e.ContractID] = e.ID
	s.entitlementSeq = append(s.entitlementSeq, e.ID)
	return nil
}

func (s *memState) GetEntitlement(_ context.Context, id ledger.EntitlementID) (ledger.Entitlement, error) {
	e, ok := s.entitlements[id]
	if !ok {
		return ledger.Entitlement{}, ledger.ErrNotFound
	}
	return e, nil
}

func (s *memState) EntitlementByContract(ctx context.Context, id ledger.ContractID) (ledger.Entitlement, error) {
	eid, ok := s.byContract[id]
	if !ok {
		return ledger.Entitlement{}, ledger.ErrNotFound
	}
	return s.GetEntitlement(ctx, eid)
}

func (s *memState) ListEntitlements(_ context.Context) ([]ledger.Entitlement, error) {
	result := make([]ledger.Entitlement, 0, len(s.entitlementSeq))
	for _, id := range s.entitlementSeq {
		result = append(result, s.entitlements[id])
	}
	return result, nil
}

func (s *memState) UpdateEntitlementStatus(_ context.Context, id ledger.EntitlementID, status ledger.EntitlementStatus, expectedVersion int64) error {
	e, ok := s.entitlements[id]
	if !ok {
		return ledger.ErrNotFound
	}
	if e.Version != expectedVersion {
		return ledger.ErrConcurrentModification
	}
	e.Status = status
	e.Version++
	s.entitlements[id] = e
	return nil
}

func (s *memState) AppendPayment(_ context.Context, p ledger.ClientPayment) error {
	for _, existing := range s.payments[p.ContractID] {
		if existing.ID == p.ID {
			return ledger.ErrAlreadyExists
		}
	}
	s.payments[p.ContractID] = append(s.payments[p.ContractID], p)
	return nil
}

func (s *memState) PaymentsByContract(_ context.Context, id ledger.ContractID) ([]ledger.ClientPayment, error) {
	return append([]ledger.ClientPayment{}, s.payments[id]...), nil
}

func (s *memState) AppendPayout(_ context.Context, p ledger.Payout) error {
	if _, ok := s.payoutIndex[p.ID]; ok {
		return ledger.ErrAlreadyExists
	}
	s.payouts[p.EntitlementID] = append(s.payouts[p.EntitlementID], p)
	s.payoutIndex[p.ID] = p
	return nil
}

func (s *memState) GetPayout(_ context.Context, id ledger.PayoutID) (ledger.Payout, error) {
	p, ok := s.payoutIndex[id]
	if !ok {
		return ledger.Payout{}, ledger.ErrNotFound
	}
	return p, nil
}

func (s *memState) PayoutsByEntitlement(_ context.Context, id ledger.EntitlementID) ([]ledger.Payout, error) {
	return append([]ledger.Payout{}, s.payouts[id]...), nil
}

func (s *memState) PayoutsWithoutReceipt(_ context.Context, id ledger.EntitlementID) ([]ledger.Payout, error) {
	var result []ledger.Payout
	for _, p := range s.payouts[id] {
		if _, ok := s.receiptByPayout[p.ID]; !ok {
			result = append(result, p)
		}
	}
	return result, nil
}

func (s *memState) InsertReceiptIfAbsent(_ context.Context, r ledger.Receipt) error {
	if existingID, ok := s.receiptByPayout[r.PayoutID]; ok {
		return &ledger.DuplicateReceiptError{PayoutID: r.PayoutID, Existing: s.receipts[existingID]}
	}
	if _, ok := s.receipts[r.ID]; ok {
		return ledger.ErrAlreadyExists
	}
	s.receipts[r.ID] = r
	s.receiptByPayout[r.PayoutID] = r.ID
	return nil
}

func (s *memState) GetReceipt(_ context.Context, id ledger.ReceiptID) (ledger.Receipt, error) {
	r, ok := s.receipts[id]
	if !ok {
		return ledger.Receipt{}, ledger.ErrNotFound
	}
	return r, nil
}

func (s *memState) ReceiptByPayout(ctx context.Context, id ledger.PayoutID) (ledger.Receipt, error) {
	rid, ok := s.receiptByPayout[id]
	if !ok {
		return ledger.Receipt{}, ledger.ErrNotFound
	}
	return s.GetReceipt(ctx, rid)
}

func (s *memState) SaveReconciliationRun(_ context.Context, run ledger.ReconciliationRun) error {
	s.runs[run.ID] = run
	return nil
}

func (s *memState) ListReconciliationRuns(_ context.Context, limit int) ([]ledger.ReconciliationRun, error) {
	result := make([]ledger.ReconciliationRun, 0, len(s.runs))
	for _, r := range s.runs {
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartedAt.After(result[j].StartedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
