/*
store.go - Repository interfaces for the commission ledger

PURPOSE:
  Defines the boundary between calculation and the database. Each component
  depends only on the narrow repository it needs; Store aggregates them for
  implementations, TxStore adds atomic multi-table writes.

APPEND-ONLY CONTRACT:
  - ClientPayments and Payouts: Append + read. No update, no delete.
  - Receipts: InsertReceiptIfAbsent only (idempotent by payout id).
  - Entitlements: inserted once; UpdateEntitlementStatus touches only
    status + version and requires the caller's expected version.
  - Installments: inserted once; MarkInstallmentsPaid sets the paid flag.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: database/sql + go-sqlite3
  - ledger/store/memory.go: in-memory, for tests and dev mode

SEE ALSO:
  - commission/payout.go: the main TxStore user
*/
package ledger

import "context"

// =============================================================================
// REPOSITORIES - One per record family
// =============================================================================

type ContractRepository interface {
	// InsertContract fails with ErrAlreadyExists if the id is taken.
	InsertContract(ctx context.Context, c Contract) error
	GetContract(ctx context.Context, id ContractID) (Contract, error)
}

type InstallmentRepository interface {
	InsertInstallments(ctx context.Context, installments []Installment) error
	InstallmentsByContract(ctx context.Context, id ContractID) ([]Installment, error)
	MarkInstallmentsPaid(ctx context.Context, id ContractID, sequences []int) error
}

type EntitlementRepository interface {
	// InsertEntitlement fails with ErrAlreadyExists if the contract already
	// has an entitlement.
	InsertEntitlement(ctx context.Context, e Entitlement) error
	GetEntitlement(ctx context.Context, id EntitlementID) (Entitlement, error)
	EntitlementByContract(ctx context.Context, id ContractID) (Entitlement, error)
	ListEntitlements(ctx context.Context) ([]Entitlement, error)

	// UpdateEntitlementStatus sets status and bumps the version to
	// expectedVersion+1. Returns ErrConcurrentModification if the stored
	// version differs from expectedVersion.
	UpdateEntitlementStatus(ctx context.Context, id EntitlementID, status EntitlementStatus, expectedVersion int64) error
}

type PaymentRepository interface {
	AppendPayment(ctx context.Context, p ClientPayment) error
	PaymentsByContract(ctx context.Context, id ContractID) ([]ClientPayment, error)
}

type PayoutRepository interface {
	AppendPayout(ctx context.Context, p Payout) error
	GetPayout(ctx context.Context, id PayoutID) (Payout, error)
	PayoutsByEntitlement(ctx context.Context, id EntitlementID) ([]Payout, error)

	// PayoutsWithoutReceipt returns payouts of the entitlement that have no
	// receipt yet, oldest first.
	PayoutsWithoutReceipt(ctx context.Context, id EntitlementID) ([]Payout, error)
}

type ReceiptRepository interface {
	// InsertReceiptIfAbsent stores r unless a receipt for r.PayoutID exists,
	// in which case it returns *DuplicateReceiptError carrying the existing
	// receipt. The check and the insert are atomic.
	InsertReceiptIfAbsent(ctx context.Context, r Receipt) error
	GetReceipt(ctx context.Context, id ReceiptID) (Receipt, error)
	ReceiptByPayout(ctx context.Context, id PayoutID) (Receipt, error)
}

type RunRepository interface {
	SaveReconciliationRun(ctx context.Context, run ReconciliationRun) error
	ListReconciliationRuns(ctx context.Context, limit int) ([]ReconciliationRun, error)
}

// =============================================================================
// STORE - Aggregate + transactional variant
// =============================================================================

// Store is everything a backend must provide.
type Store interface {
	ContractRepository
	InstallmentRepository
	EntitlementRepository
	PaymentRepository
	PayoutRepository
	ReceiptRepository
	RunRepository
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the Store passed to fn
	// is rolled back. If fn returns nil, they are committed together.
	WithTx(ctx context.Context, fn func(Store) error) error
}
