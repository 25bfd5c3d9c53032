/*
service.go - Commission service facade

PURPOSE:
  Wires the calculators, the payout executor and the reconciler to one
  store and exposes the operations callers use:

    BuildInstallments   preview a schedule
    ComputeEntitlement  preview an entitlement
    CreateContract      persist contract + schedule + entitlement atomically
    RecordPayment       append a client payment
    GetAvailablePayout  fresh availability for an entitlement
    ExecutePayout       release commission (payout + receipt)
    ReconcileAll        sweep every entitlement

SEE ALSO:
  - api/handlers.go: HTTP surface over Service
  - cmd/server/main.go: construction from config
*/
package commission

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/johnnyang0612/commission-system-sub001/ledger"
	"github.com/johnnyang0612/commission-system-sub001/lock"
	"github.com/johnnyang0612/commission-system-sub001/metrics"
)

// Options configures NewService. Zero values fall back to defaults.
type Options struct {
	Rates   *RateBook
	IDs     ledger.IDGenerator
	Locks   lock.Locker
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Workers int
	Now     func() time.Time
}

type Service struct {
	store ledger.TxStore
	rates *RateBook
	ids   ledger.IDGenerator
	now   func() time.Time
	log   *zap.Logger

	schedule     *ScheduleBuilder
	calculator   *RateCalculator
	availability *AvailabilityCalculator
	receipts     *ReceiptGenerator
	executor     *PayoutExecutor
	reconciler   *Reconciler
}

func NewService(store ledger.TxStore, opts Options) *Service {
	if opts.Rates == nil {
		opts.Rates = DefaultRateBook()
	}
	if opts.IDs == nil {
		opts.IDs = ledger.DefaultIDs()
	}
	if opts.Locks == nil {
		opts.Locks = lock.NewKeyedMutex()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	receipts := &ReceiptGenerator{
		Repo:    store,
		Rates:   opts.Rates,
		IDs:     opts.IDs,
		Now:     opts.Now,
		Logger:  opts.Logger.Named("receipt"),
		Metrics: opts.Metrics,
	}
	availability := &AvailabilityCalculator{Repo: store, Rates: opts.Rates}
	executor := &PayoutExecutor{
		Store:    store,
		Locks:    opts.Locks,
		Rates:    opts.Rates,
		Receipts: receipts,
		IDs:      opts.IDs,
		Now:      opts.Now,
		Logger:   opts.Logger.Named("payout"),
		Metrics:  opts.Metrics,
	}

	return &Service{
		store:        store,
		rates:        opts.Rates,
		ids:          opts.IDs,
		now:          opts.Now,
		log:          opts.Logger,
		schedule:     &ScheduleBuilder{Rates: opts.Rates},
		calculator:   &RateCalculator{Rates: opts.Rates},
		availability: availability,
		receipts:     receipts,
		executor:     executor,
		reconciler: &Reconciler{
			Repo:         store,
			Availability: availability,
			Executor:     executor,
			Receipts:     receipts,
			Workers:      opts.Workers,
			IDs:          opts.IDs,
			Now:          opts.Now,
			Logger:       opts.Logger.Named("reconcile"),
			Metrics:      opts.Metrics,
		},
	}
}

// Rates returns the rate book the service computes with.
func (s *Service) Rates() *RateBook { return s.rates }

// =============================================================================
// PREVIEWS - Pure, nothing persisted
// =============================================================================

// BuildInstallments previews the schedule. Missing dates default the same
// way CreateContract defaults them.
func (s *Service) BuildInstallments(c ledger.Contract) ([]ledger.Installment, error) {
	return s.schedule.Build(s.withDefaultDates(c))
}

func (s *Service) ComputeEntitlement(c ledger.Contract) (ledger.Entitlement, error) {
	return s.calculator.Compute(s.withDefaultDates(c))
}

// withDefaultDates sets SignedOn to today and FirstDueDate to SignedOn when
// they are unset.
func (s *Service) withDefaultDates(c ledger.Contract) ledger.Contract {
	if c.SignedOn.IsZero() {
		c.SignedOn = ledger.DateOf(s.now())
	}
	if c.FirstDueDate.IsZero() {
		c.FirstDueDate = c.SignedOn
	}
	return c
}

// =============================================================================
// CONTRACTS + PAYMENTS
// =============================================================================

// ContractResult is everything CreateContract persisted.
type ContractResult struct {
	Contract     ledger.Contract
	Installments []ledger.Installment
	Entitlement  ledger.Entitlement
}

// CreateContract assigns ids and defaults, then stores the contract, its
// schedule and its entitlement in one transaction. SignedOn defaults to
// today and FirstDueDate to SignedOn.
func (s *Service) CreateContract(ctx context.Context, c ledger.Contract) (ContractResult, error) {
	now := s.now()
	if c.ID == "" {
		c.ID = ledger.ContractID(s.ids.NewID("ctr"))
	}
	if c.SalespersonID == "" {
		return ContractResult{}, ledger.NewValidationError("salesperson_id", "required")
	}
	c = s.withDefaultDates(c)
	c.CreatedAt = now

	installments, err := s.schedule.Build(c)
	if err != nil {
		return ContractResult{}, err
	}
	e, err := s.calculator.Compute(c)
	if err != nil {
		return ContractResult{}, err
	}
	e.ID = ledger.EntitlementID(s.ids.NewID("ent"))
	e.CreatedAt = now

	err = s.store.WithTx(ctx, func(tx ledger.Store) error {
		if err := tx.InsertContract(ctx, c); err != nil {
			return err
		}
		if err := tx.InsertInstallments(ctx, installments); err != nil {
			return err
		}
		return tx.InsertEntitlement(ctx, e)
	})
	if err != nil {
		return ContractResult{}, err
	}

	s.log.Info("contract created",
		zap.String("contract_id", string(c.ID)),
		zap.String("type", string(c.Type)),
		zap.String("base_amount", c.BaseAmount.String()),
		zap.String("entitlement_id", string(e.ID)),
		zap.String("entitlement_total", e.TotalAmount.String()),
		zap.Int("installments", len(installments)),
	)
	return ContractResult{Contract: c, Installments: installments, Entitlement: e}, nil
}

// PaymentInput describes money received from a client.
type PaymentInput struct {
	Amount    decimal.Decimal
	PaidOn    ledger.Date // zero means today
	Reference string
}

// RecordPayment appends a client payment and flags every installment whose
// cumulative schedule is now covered by cumulative payments.
func (s *Service) RecordPayment(ctx context.Context, contractID ledger.ContractID, in PaymentInput) (ledger.ClientPayment, error) {
	if !in.Amount.IsPositive() {
		return ledger.ClientPayment{}, ledger.NewValidationError("amount", "must be positive, got %s", in.Amount)
	}
	now := s.now()
	p := ledger.ClientPayment{
		ID:         ledger.PaymentID(s.ids.NewID("cpay")),
		ContractID: contractID,
		Amount:     in.Amount,
		PaidOn:     in.PaidOn,
		Reference:  in.Reference,
		CreatedAt:  now,
	}
	if p.PaidOn.IsZero() {
		p.PaidOn = ledger.DateOf(now)
	}

	err := s.store.WithTx(ctx, func(tx ledger.Store) error {
		if _, err := tx.GetContract(ctx, contractID); err != nil {
			return err
		}
		if err := tx.AppendPayment(ctx, p); err != nil {
			return err
		}

		payments, err := tx.PaymentsByContract(ctx, contractID)
		if err != nil {
			return err
		}
		installments, err := tx.InstallmentsByContract(ctx, contractID)
		if err != nil {
			return err
		}
		covered := coveredInstallments(installments, payments)
		if len(covered) == 0 {
			return nil
		}
		return tx.MarkInstallmentsPaid(ctx, contractID, covered)
	})
	if err != nil {
		return ledger.ClientPayment{}, err
	}

	s.log.Info("client payment recorded",
		zap.String("contract_id", string(contractID)),
		zap.String("payment_id", string(p.ID)),
		zap.String("amount", p.Amount.String()),
	)
	return p, nil
}

// coveredInstallments returns the sequences of unpaid installments whose
// running schedule total is within Epsilon of what the client has paid.
func coveredInstallments(installments []ledger.Installment, payments []ledger.ClientPayment) []int {
	paid := decimal.Zero
	for _, p := range payments {
		paid = paid.Add(p.Amount)
	}
	var covered []int
	scheduled := decimal.Zero
	for _, in := range installments {
		scheduled = scheduled.Add(in.Amount)
		if scheduled.Sub(paid).GreaterThan(ledger.Epsilon) {
			break
		}
		if !in.Paid {
			covered = append(covered, in.Sequence)
		}
	}
	return covered
}

// =============================================================================
// PAYOUTS
// =============================================================================

func (s *Service) GetAvailablePayout(ctx context.Context, id ledger.EntitlementID) (Availability, error) {
	return s.availability.Get(ctx, id)
}

func (s *Service) ExecutePayout(ctx context.Context, id ledger.EntitlementID, amount decimal.Decimal, meta PayoutMetadata) (PayoutResult, error) {
	return s.executor.Execute(ctx, id, amount, meta)
}

// ReleaseAvailable pays out everything currently available.
func (s *Service) ReleaseAvailable(ctx context.Context, id ledger.EntitlementID, meta PayoutMetadata) (PayoutResult, error) {
	return s.executor.ReleaseAvailable(ctx, id, meta)
}

// IssueReceipt issues (or returns the existing) receipt for a payout.
func (s *Service) IssueReceipt(ctx context.Context, payoutID ledger.PayoutID) (ReceiptResult, error) {
	p, err := s.store.GetPayout(ctx, payoutID)
	if err != nil {
		return ReceiptResult{}, err
	}
	e, err := s.store.GetEntitlement(ctx, p.EntitlementID)
	if err != nil {
		return ReceiptResult{}, err
	}
	return s.receipts.Issue(ctx, p, e.SalespersonID)
}

func (s *Service) ReconcileAll(ctx context.Context) (BatchResult, error) {
	return s.reconciler.ReconcileAll(ctx)
}

// =============================================================================
// READS
// =============================================================================

func (s *Service) GetContract(ctx context.Context, id ledger.ContractID) (ledger.Contract, error) {
	return s.store.GetContract(ctx, id)
}

func (s *Service) Installments(ctx context.Context, id ledger.ContractID) ([]ledger.Installment, error) {
	return s.store.InstallmentsByContract(ctx, id)
}

func (s *Service) Payments(ctx context.Context, id ledger.ContractID) ([]ledger.ClientPayment, error) {
	return s.store.PaymentsByContract(ctx, id)
}

func (s *Service) GetEntitlement(ctx context.Context, id ledger.EntitlementID) (ledger.Entitlement, error) {
	return s.store.GetEntitlement(ctx, id)
}

func (s *Service) EntitlementByContract(ctx context.Context, id ledger.ContractID) (ledger.Entitlement, error) {
	return s.store.EntitlementByContract(ctx, id)
}

func (s *Service) Payouts(ctx context.Context, id ledger.EntitlementID) ([]ledger.Payout, error) {
	return s.store.PayoutsByEntitlement(ctx, id)
}

func (s *Service) GetPayout(ctx context.Context, id ledger.PayoutID) (ledger.Payout, error) {
	return s.store.GetPayout(ctx, id)
}

func (s *Service) GetReceipt(ctx context.Context, id ledger.ReceiptID) (ledger.Receipt, error) {
	return s.store.GetReceipt(ctx, id)
}

func (s *Service) ReceiptByPayout(ctx context.Context, id ledger.PayoutID) (ledger.Receipt, error) {
	return s.store.ReceiptByPayout(ctx, id)
}

func (s *Service) ReconciliationRuns(ctx context.Context, limit int) ([]ledger.ReconciliationRun, error) {
	return s.store.ListReconciliationRuns(ctx, limit)
}
