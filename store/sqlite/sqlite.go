/*
Package sqlite provides a SQLite-backed implementation of the ledger store.

PURPOSE:
  Implements ledger.TxStore using database/sql and go-sqlite3. The same
  schema ports to PostgreSQL with minor dialect changes.

APPEND-ONLY ENFORCEMENT:
  client_payments, payouts and receipts reject UPDATE and DELETE through
  triggers, so even ad-hoc SQL cannot rewrite history. Entitlements only
  change status + version, guarded by an optimistic version check.

KEY TABLES:
  contracts:           Signed contracts
  installments:        Payment schedule, (contract_id, sequence) unique
  entitlements:        One per contract (UNIQUE contract_id), versioned
  client_payments:     Money received, append-only
  payouts:             Commission released, append-only
  receipts:            Labor receipts, UNIQUE payout_id = one per payout
  reconciliation_runs: Batch run bookkeeping

VALUE ENCODING:
  Money and rates are TEXT decimals (never REAL). Calendar dates are
  YYYY-MM-DD. Timestamps are fixed-width UTC so they sort as text.

CONCURRENCY:
  The pool is capped at one connection. SQLite serializes writers anyway,
  and a single connection keeps ":memory:" databases shared across calls.
  WithTx holds that connection for the whole transaction.

USAGE:
  store, err := sqlite.New("./data/commission.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - ledger/store.go: interface definitions
  - ledger/store/memory.go: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/johnnyang0612/commission-system-sub001/ledger"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements ledger.TxStore using SQLite.
type Store struct {
	db *sql.DB
	repo
}

var _ ledger.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, repo: repo{q: db}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable. Used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS contracts (
		id TEXT PRIMARY KEY,
		salesperson_id TEXT NOT NULL,
		contract_type TEXT NOT NULL,
		base_amount TEXT NOT NULL,
		tax_last INTEGER NOT NULL DEFAULT 0,
		payment_template TEXT NOT NULL,
		fixed_commission_rate TEXT,
		signed_on TEXT,
		first_due_date TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_contracts_salesperson
		ON contracts(salesperson_id);

	CREATE TABLE IF NOT EXISTS installments (
		contract_id TEXT NOT NULL REFERENCES contracts(id),
		sequence INTEGER NOT NULL,
		amount TEXT NOT NULL,
		due_date TEXT NOT NULL,
		paid INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (contract_id, sequence)
	);

	-- One entitlement per contract; version drives optimistic locking
	CREATE TABLE IF NOT EXISTS entitlements (
		id TEXT PRIMARY KEY,
		contract_id TEXT NOT NULL UNIQUE REFERENCES contracts(id),
		salesperson_id TEXT NOT NULL,
		rate TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		rate_version TEXT NOT NULL,
		status TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS client_payments (
		id TEXT PRIMARY KEY,
		contract_id TEXT NOT NULL REFERENCES contracts(id),
		amount TEXT NOT NULL,
		paid_on TEXT NOT NULL,
		reference TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_client_payments_contract
		ON client_payments(contract_id);

	CREATE TABLE IF NOT EXISTS payouts (
		id TEXT PRIMARY KEY,
		entitlement_id TEXT NOT NULL REFERENCES entitlements(id),
		amount TEXT NOT NULL,
		paid_on TEXT NOT NULL,
		basis_payment_amount TEXT NOT NULL,
		ratio_of_entitlement TEXT NOT NULL,
		notes TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payouts_entitlement
		ON payouts(entitlement_id);

	-- CRITICAL: at most one receipt per payout
	CREATE TABLE IF NOT EXISTS receipts (
		id TEXT PRIMARY KEY,
		payout_id TEXT NOT NULL UNIQUE REFERENCES payouts(id),
		entitlement_id TEXT NOT NULL,
		salesperson_id TEXT NOT NULL,
		gross_amount TEXT NOT NULL,
		tax_amount TEXT NOT NULL,
		insurance_amount TEXT NOT NULL,
		net_amount TEXT NOT NULL,
		withholding_rate TEXT NOT NULL,
		insurance_rate TEXT NOT NULL,
		rate_version TEXT NOT NULL,
		status TEXT NOT NULL,
		issued_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS reconciliation_runs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		processed INTEGER NOT NULL DEFAULT 0,
		succeeded INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_reconciliation_runs_started
		ON reconciliation_runs(started_at DESC);

	CREATE TRIGGER IF NOT EXISTS client_payments_no_update BEFORE UPDATE ON client_payments
	BEGIN SELECT RAISE(ABORT, 'client_payments is append-only'); END;
	CREATE TRIGGER IF NOT EXISTS client_payments_no_delete BEFORE DELETE ON client_payments
	BEGIN SELECT RAISE(ABORT, 'client_payments is append-only'); END;
	CREATE TRIGGER IF NOT EXISTS payouts_no_update BEFORE UPDATE ON payouts
	BEGIN SELECT RAISE(ABORT, 'payouts is append-only'); END;
	CREATE TRIGGER IF NOT EXISTS payouts_no_delete BEFORE DELETE ON payouts
	BEGIN SELECT RAISE(ABORT, 'payouts is append-only'); END;
	CREATE TRIGGER IF NOT EXISTS receipts_no_update BEFORE UPDATE ON receipts
	BEGIN SELECT RAISE(ABORT, 'receipts is append-only'); END;
	CREATE TRIGGER IF NOT EXISTS receipts_no_delete BEFORE DELETE ON receipts
	BEGIN SELECT RAISE(ABORT, 'receipts is append-only'); END;
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Persistence("begin transaction", err)
	}
	defer sqlTx.Rollback()

	if err := fn(repo{q: sqlTx}); err != nil {
		return err
	}

	return ledger.Persistence("commit", sqlTx.Commit())
}

// =============================================================================
// REPO - Queries shared by the pool and transaction views
// =============================================================================

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type repo struct {
	q queryer
}

var _ ledger.Store = repo{}

type scanner interface {
	Scan(dest ...any) error
}

// -----------------------------------------------------------------------------
// Contracts
// -----------------------------------------------------------------------------

func (r repo) InsertContract(ctx context.Context, c ledger.Contract) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO contracts (id, salesperson_id, contract_type, base_amount, tax_last,
			payment_template, fixed_commission_rate, signed_on, first_due_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SalespersonID, c.Type, c.BaseAmount, c.TaxLast,
		c.PaymentTemplate, nullDecimal(c.FixedCommissionRate),
		nullDate(c.SignedOn), nullDate(c.FirstDueDate), formatTime(c.CreatedAt),
	)
	return insertError("insert contract", err)
}

const contractColumns = `id, salesperson_id, contract_type, base_amount, tax_last,
	payment_template, fixed_commission_rate, signed_on, first_due_date, created_at`

func (r repo) GetContract(ctx context.Context, id ledger.ContractID) (ledger.Contract, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id = ?`, id)
	c, err := scanContract(row)
	return c, readError("get contract", err)
}

func scanContract(row scanner) (ledger.Contract, error) {
	var (
		c                  ledger.Contract
		fixed              decimal.NullDecimal
		signedOn, firstDue sql.NullString
		createdAt          string
	)
	if err := row.Scan(&c.ID, &c.SalespersonID, &c.Type, &c.BaseAmount, &c.TaxLast,
		&c.PaymentTemplate, &fixed, &signedOn, &firstDue, &createdAt); err != nil {
		return ledger.Contract{}, err
	}
	if fixed.Valid {
		rate := fixed.Decimal
		c.FixedCommissionRate = &rate
	}
	var err error
	if c.SignedOn, err = parseNullDate(signedOn); err != nil {
		return ledger.Contract{}, err
	}
	if c.FirstDueDate, err = parseNullDate(firstDue); err != nil {
		return ledger.Contract{}, err
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return ledger.Contract{}, err
	}
	return c, nil
}

// -----------------------------------------------------------------------------
// Installments
// -----------------------------------------------------------------------------

func (r repo) InsertInstallments(ctx context.Context, installments []ledger.Installment) error {
	for _, inst := range installments {
		_, err := r.q.ExecContext(ctx, `
			INSERT INTO installments (contract_id, sequence, amount, due_date, paid)
			VALUES (?, ?, ?, ?, ?)`,
			inst.ContractID, inst.Sequence, inst.Amount, inst.DueDate.String(), inst.Paid,
		)
		if err != nil {
			return insertError("insert installment", err)
		}
	}
	return nil
}

func (r repo) InstallmentsByContract(ctx context.Context, id ledger.ContractID) ([]ledger.Installment, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT contract_id, sequence, amount, due_date, paid
		FROM installments WHERE contract_id = ? ORDER BY sequence`, id)
	if err != nil {
		return nil, ledger.Persistence("list installments", err)
	}
	defer rows.Close()

	var result []ledger.Installment
	for rows.Next() {
		var inst ledger.Installment
		var due string
		if err := rows.Scan(&inst.ContractID, &inst.Sequence, &inst.Amount, &due, &inst.Paid); err != nil {
			return nil, ledger.Persistence("scan installment", err)
		}
		if inst.DueDate, err = ledger.ParseDate(due); err != nil {
			return nil, ledger.Persistence("scan installment", err)
		}
		result = append(result, inst)
	}
	return result, ledger.Persistence("list installments", rows.Err())
}

func (r repo) MarkInstallmentsPaid(ctx context.Context, id ledger.ContractID, sequences []int) error {
	for _, seq := range sequences {
		if _, err := r.q.ExecContext(ctx,
			`UPDATE installments SET paid = 1 WHERE contract_id = ? AND sequence = ?`, id, seq); err != nil {
			return ledger.Persistence("mark installment paid", err)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Entitlements
// -----------------------------------------------------------------------------

func (r repo) InsertEntitlement(ctx context.Context, e ledger.Entitlement) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO entitlements (id, contract_id, salesperson_id, rate, total_amount,
			rate_version, status, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ContractID, e.SalespersonID, e.Rate, e.TotalAmount,
		e.RateVersion, e.Status, e.Version, formatTime(e.CreatedAt),
	)
	return insertError("insert entitlement", err)
}

const entitlementColumns = `id, contract_id, salesperson_id, rate, total_amount,
	rate_version, status, version, created_at`

func (r repo) GetEntitlement(ctx context.Context, id ledger.EntitlementID) (ledger.Entitlement, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+entitlementColumns+` FROM entitlements WHERE id = ?`, id)
	e, err := scanEntitlement(row)
	return e, readError("get entitlement", err)
}

func (r repo) EntitlementByContract(ctx context.Context, id ledger.ContractID) (ledger.Entitlement, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+entitlementColumns+` FROM entitlements WHERE contract_id = ?`, id)
	e, err := scanEntitlement(row)
	return e, readError("get entitlement by contract", err)
}

func (r repo) ListEntitlements(ctx context.Context) ([]ledger.Entitlement, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+entitlementColumns+` FROM entitlements ORDER BY rowid`)
	if err != nil {
		return nil, ledger.Persistence("list entitlements", err)
	}
	defer rows.Close()

	var result []ledger.Entitlement
	for rows.Next() {
		e, err := scanEntitlement(rows)
		if err != nil {
			return nil, ledger.Persistence("scan entitlement", err)
		}
		result = append(result, e)
	}
	return result, ledger.Persistence("list entitlements", rows.Err())
}

func (r repo) UpdateEntitlementStatus(ctx context.Context, id ledger.EntitlementID, status ledger.EntitlementStatus, expectedVersion int64) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE entitlements SET status = ?, version = version + 1
		WHERE id = ? AND version = ?`, status, id, expectedVersion)
	if err != nil {
		return ledger.Persistence("update entitlement", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ledger.Persistence("update entitlement", err)
	}
	if n == 1 {
		return nil
	}

	// Distinguish a missing row from a lost race.
	var exists int
	err = r.q.QueryRowContext(ctx, `SELECT 1 FROM entitlements WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.ErrNotFound
	}
	if err != nil {
		return ledger.Persistence("update entitlement", err)
	}
	return ledger.ErrConcurrentModification
}

func scanEntitlement(row scanner) (ledger.Entitlement, error) {
	var e ledger.Entitlement
	var createdAt string
	if err := row.Scan(&e.ID, &e.ContractID, &e.SalespersonID, &e.Rate, &e.TotalAmount,
		&e.RateVersion, &e.Status, &e.Version, &createdAt); err != nil {
		return ledger.Entitlement{}, err
	}
	var err error
	e.CreatedAt, err = parseTime(createdAt)
	return e, err
}

// -----------------------------------------------------------------------------
// Client payments
// -----------------------------------------------------------------------------

func (r repo) AppendPayment(ctx context.Context, p ledger.ClientPayment) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO client_payments (id, contract_id, amount, paid_on, reference, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.ContractID, p.Amount, p.PaidOn.String(), nullString(p.Reference), formatTime(p.CreatedAt),
	)
	return insertError("append payment", err)
}

func (r repo) PaymentsByContract(ctx context.Context, id ledger.ContractID) ([]ledger.ClientPayment, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, contract_id, amount, paid_on, reference, created_at
		FROM client_payments WHERE contract_id = ? ORDER BY rowid`, id)
	if err != nil {
		return nil, ledger.Persistence("list payments", err)
	}
	defer rows.Close()

	var result []ledger.ClientPayment
	for rows.Next() {
		var (
			p                 ledger.ClientPayment
			paidOn, createdAt string
			reference         sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.ContractID, &p.Amount, &paidOn, &reference, &createdAt); err != nil {
			return nil, ledger.Persistence("scan payment", err)
		}
		p.Reference = reference.String
		if p.PaidOn, err = ledger.ParseDate(paidOn); err != nil {
			return nil, ledger.Persistence("scan payment", err)
		}
		if p.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, ledger.Persistence("scan payment", err)
		}
		result = append(result, p)
	}
	return result, ledger.Persistence("list payments", rows.Err())
}

// -----------------------------------------------------------------------------
// Payouts
// -----------------------------------------------------------------------------

func (r repo) AppendPayout(ctx context.Context, p ledger.Payout) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO payouts (id, entitlement_id, amount, paid_on, basis_payment_amount,
			ratio_of_entitlement, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.EntitlementID, p.Amount, p.PaidOn.String(), p.BasisPaymentAmount,
		p.RatioOfEntitlement, nullString(p.Notes), formatTime(p.CreatedAt),
	)
	return insertError("append payout", err)
}

const payoutColumns = `p.id, p.entitlement_id, p.amount, p.paid_on, p.basis_payment_amount,
	p.ratio_of_entitlement, p.notes, p.created_at`

func (r repo) GetPayout(ctx context.Context, id ledger.PayoutID) (ledger.Payout, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+payoutColumns+` FROM payouts p WHERE p.id = ?`, id)
	p, err := scanPayout(row)
	return p, readError("get payout", err)
}

func (r repo) PayoutsByEntitlement(ctx context.Context, id ledger.EntitlementID) ([]ledger.Payout, error) {
	return r.queryPayouts(ctx, "list payouts", `
		SELECT `+payoutColumns+` FROM payouts p
		WHERE p.entitlement_id = ? ORDER BY p.rowid`, id)
}

func (r repo) PayoutsWithoutReceipt(ctx context.Context, id ledger.EntitlementID) ([]ledger.Payout, error) {
	return r.queryPayouts(ctx, "list payouts without receipt", `
		SELECT `+payoutColumns+` FROM payouts p
		LEFT JOIN receipts r ON r.payout_id = p.id
		WHERE p.entitlement_id = ? AND r.id IS NULL
		ORDER BY p.rowid`, id)
}

func (r repo) queryPayouts(ctx context.Context, op, query string, args ...any) ([]ledger.Payout, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ledger.Persistence(op, err)
	}
	defer rows.Close()

	var result []ledger.Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, ledger.Persistence(op, err)
		}
		result = append(result, p)
	}
	return result, ledger.Persistence(op, rows.Err())
}

func scanPayout(row scanner) (ledger.Payout, error) {
	var (
		p                 ledger.Payout
		paidOn, createdAt string
		notes             sql.NullString
	)
	if err := row.Scan(&p.ID, &p.EntitlementID, &p.Amount, &paidOn, &p.BasisPaymentAmount,
		&p.RatioOfEntitlement, &notes, &createdAt); err != nil {
		return ledger.Payout{}, err
	}
	p.Notes = notes.String
	var err error
	if p.PaidOn, err = ledger.ParseDate(paidOn); err != nil {
		return ledger.Payout{}, err
	}
	p.CreatedAt, err = parseTime(createdAt)
	return p, err
}

// -----------------------------------------------------------------------------
// Receipts
// -----------------------------------------------------------------------------

func (r repo) InsertReceiptIfAbsent(ctx context.Context, rc ledger.Receipt) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO receipts (id, payout_id, entitlement_id, salesperson_id, gross_amount,
			tax_amount, insurance_amount, net_amount, withholding_rate, insurance_rate,
			rate_version, status, issued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rc.ID, rc.PayoutID, rc.EntitlementID, rc.SalespersonID, rc.GrossAmount,
		rc.TaxAmount, rc.InsuranceAmount, rc.NetAmount, rc.WithholdingRate, rc.InsuranceRate,
		rc.RateVersion, rc.Status, formatTime(rc.IssuedAt),
	)
	if err == nil {
		return nil
	}
	if !isUniqueConstraintError(err) {
		return insertError("insert receipt", err)
	}

	// The statement failed but the transaction is still usable, so the
	// winner can be read back on the same connection.
	existing, getErr := r.ReceiptByPayout(ctx, rc.PayoutID)
	if errors.Is(getErr, ledger.ErrNotFound) {
		return ledger.ErrAlreadyExists // receipt id collision, not a payout duplicate
	}
	if getErr != nil {
		return getErr
	}
	return &ledger.DuplicateReceiptError{PayoutID: rc.PayoutID, Existing: existing}
}

const receiptColumns = `id, payout_id, entitlement_id, salesperson_id, gross_amount,
	tax_amount, insurance_amount, net_amount, withholding_rate, insurance_rate,
	rate_version, status, issued_at`

func (r repo) GetReceipt(ctx context.Context, id ledger.ReceiptID) (ledger.Receipt, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE id = ?`, id)
	rc, err := scanReceipt(row)
	return rc, readError("get receipt", err)
}

func (r repo) ReceiptByPayout(ctx context.Context, id ledger.PayoutID) (ledger.Receipt, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE payout_id = ?`, id)
	rc, err := scanReceipt(row)
	return rc, readError("get receipt by payout", err)
}

func scanReceipt(row scanner) (ledger.Receipt, error) {
	var rc ledger.Receipt
	var issuedAt string
	if err := row.Scan(&rc.ID, &rc.PayoutID, &rc.EntitlementID, &rc.SalespersonID, &rc.GrossAmount,
		&rc.TaxAmount, &rc.InsuranceAmount, &rc.NetAmount, &rc.WithholdingRate, &rc.InsuranceRate,
		&rc.RateVersion, &rc.Status, &issuedAt); err != nil {
		return ledger.Receipt{}, err
	}
	var err error
	rc.IssuedAt, err = parseTime(issuedAt)
	return rc, err
}

// -----------------------------------------------------------------------------
// Reconciliation runs
// -----------------------------------------------------------------------------

// SaveReconciliationRun inserts or updates a run by id.
func (r repo) SaveReconciliationRun(ctx context.Context, run ledger.ReconciliationRun) error {
	var completedAt *string
	if run.CompletedAt != nil {
		s := formatTime(*run.CompletedAt)
		completedAt = &s
	}

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO reconciliation_runs (id, status, processed, succeeded, failed,
			error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			processed = excluded.processed,
			succeeded = excluded.succeeded,
			failed = excluded.failed,
			error = excluded.error,
			completed_at = excluded.completed_at`,
		run.ID, run.Status, run.Processed, run.Succeeded, run.Failed,
		nullString(run.Error), formatTime(run.StartedAt), completedAt,
	)
	return ledger.Persistence("save reconciliation run", err)
}

// ListReconciliationRuns returns runs newest first. limit <= 0 means all.
func (r repo) ListReconciliationRuns(ctx context.Context, limit int) ([]ledger.ReconciliationRun, error) {
	query := `
		SELECT id, status, processed, succeeded, failed, error, started_at, completed_at
		FROM reconciliation_runs
		ORDER BY started_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ledger.Persistence("list reconciliation runs", err)
	}
	defer rows.Close()

	var runs []ledger.ReconciliationRun
	for rows.Next() {
		var (
			run                 ledger.ReconciliationRun
			runErr, completedAt sql.NullString
			startedAt           string
		)
		if err := rows.Scan(&run.ID, &run.Status, &run.Processed, &run.Succeeded, &run.Failed,
			&runErr, &startedAt, &completedAt); err != nil {
			return nil, ledger.Persistence("scan reconciliation run", err)
		}
		run.Error = runErr.String
		if run.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, ledger.Persistence("scan reconciliation run", err)
		}
		if completedAt.Valid {
			t, err := parseTime(completedAt.String)
			if err != nil {
				return nil, ledger.Persistence("scan reconciliation run", err)
			}
			run.CompletedAt = &t
		}
		runs = append(runs, run)
	}

	return runs, ledger.Persistence("list reconciliation runs", rows.Err())
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func nullDate(d ledger.Date) sql.NullString {
	if d.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseNullDate(s sql.NullString) (ledger.Date, error) {
	if !s.Valid {
		return ledger.Date{}, nil
	}
	return ledger.ParseDate(s.String)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

func insertError(op string, err error) error {
	if err == nil {
		return nil
	}
	if isUniqueConstraintError(err) {
		return ledger.ErrAlreadyExists
	}
	return ledger.Persistence(op, err)
}

func readError(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.ErrNotFound
	}
	return ledger.Persistence(op, err)
}
