package metrics

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnnyang0612/commission-system-sub001/ledger"
)

func TestObservePayout_CountsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, Config{ServiceName: "commission", Environment: "test"})

	m.ObservePayout(ledger.MustDecimal("5000"), nil)
	m.ObservePayout(ledger.MustDecimal("2500"), nil)
	m.ObservePayout(ledger.MustDecimal("9999"), &ledger.InsufficientAvailableError{})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Payouts(OutcomeCommitted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Payouts(OutcomeInsufficient)))
	assert.Equal(t, 7500.0, testutil.ToFloat64(m.payoutAmount))
}

func TestClassifyPayoutOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, OutcomeCommitted},
		{fmt.Errorf("x: %w", ledger.ErrInsufficientAvailable), OutcomeInsufficient},
		{ledger.NewValidationError("amount", "must be positive"), OutcomeInvalid},
		{ledger.ErrConcurrentModification, OutcomeConflict},
		{errors.New("disk full"), OutcomeError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyPayoutOutcome(tt.err), "%v", tt.err)
	}
}

func TestReconcileMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, Config{})

	m.ObserveReconcileItem(ItemSucceeded)
	m.ObserveReconcileItem(ItemSkipped)
	m.ObserveReconcileItem(ItemSkipped)
	m.ObserveReconcileRun(ledger.RunCompleted, 150*time.Millisecond)
	m.ObserveReceipt(ReceiptIssued)
	m.ObserveLockWait(time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ReconcileItems(ItemSkipped)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Receipts(ReceiptIssued)))

	expected := `
# HELP commission_reconcile_runs_total Reconciliation runs by final status.
# TYPE commission_reconcile_runs_total counter
commission_reconcile_runs_total{env="unknown",service="commission",status="completed"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "commission_reconcile_runs_total"))
	assert.Equal(t, 1, testutil.CollectAndCount(m.reconcileSeconds))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObservePayout(ledger.MustDecimal("1"), nil)
		m.ObserveReceipt(ReceiptIssued)
		m.ObserveReconcileItem(ItemFailed)
		m.ObserveReconcileRun(ledger.RunFailed, time.Second)
		m.ObserveLockWait(time.Second)
	})
}
