package commission

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/johnnyang0612/commission-system-sub001/ledger"
	"github.com/johnnyang0612/commission-system-sub001/ledger/store"
	"github.com/johnnyang0612/commission-system-sub001/lock"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func dec(s string) decimal.Decimal { return ledger.MustDecimal(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

// seqIDs generates predictable ids: pay_1, pay_2, ...
type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID(prefix string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s_%d", prefix, g.n)
}

var testNow = time.Date(2025, time.March, 15, 9, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

func newTestService(t *testing.T, st ledger.TxStore) *Service {
	t.Helper()
	return NewService(st, Options{
		IDs:    &seqIDs{},
		Locks:  lock.NewKeyedMutex(),
		Logger: zaptest.NewLogger(t),
		Now:    fixedNow,
	})
}

// newContract builds a contract signed on 2025-01-10.
func newContract(base string, typ ledger.ContractType) ledger.Contract {
	return ledger.Contract{
		SalespersonID:   "sp_alice",
		Type:            typ,
		BaseAmount:      dec(base),
		TaxLast:         true,
		PaymentTemplate: "6/4",
		SignedOn:        ledger.NewDate(2025, time.January, 10),
		FirstDueDate:    ledger.NewDate(2025, time.January, 31),
	}
}

// seedEntitlement creates a contract and records the given client payments.
func seedEntitlement(t *testing.T, svc *Service, base string, typ ledger.ContractType, payments ...string) ContractResult {
	t.Helper()
	ctx := context.Background()
	created, err := svc.CreateContract(ctx, newContract(base, typ))
	require.NoError(t, err)
	for _, amount := range payments {
		_, err := svc.RecordPayment(ctx, created.Contract.ID, PaymentInput{Amount: dec(amount)})
		require.NoError(t, err)
	}
	return created
}

// failingReceipts makes every receipt insert inside a transaction fail.
type failingReceipts struct {
	*store.Memory
	err error
}

func (f *failingReceipts) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	return f.Memory.WithTx(ctx, func(tx ledger.Store) error {
		return fn(failingReceiptTx{Store: tx, err: f.err})
	})
}

type failingReceiptTx struct {
	ledger.Store
	err error
}

func (f failingReceiptTx) InsertReceiptIfAbsent(context.Context, ledger.Receipt) error {
	return f.err
}
