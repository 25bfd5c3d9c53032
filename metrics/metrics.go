// Package metrics holds the prometheus instruments for the commission ledger.
//
// Every method is nil-safe so components can run without metrics wired.
package metrics

import (
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/johnnyang0612/commission-system-sub001/ledger"
)

const namespace = "commission"

// Payout outcomes.
const (
	OutcomeCommitted    = "committed"
	OutcomeInsufficient = "insufficient"
	OutcomeInvalid      = "invalid"
	OutcomeConflict     = "conflict"
	OutcomeError        = "error"
)

// Receipt outcomes.
const (
	ReceiptIssued         = "issued"
	ReceiptAlreadyExisted = "already_existed"
	ReceiptFailed         = "failed"
)

// Reconciliation item outcomes.
const (
	ItemSucceeded = "succeeded"
	ItemFailed    = "failed"
	ItemSkipped   = "skipped"
)

// Config configures constant labels.
type Config struct {
	ServiceName string
	Environment string
}

// Metrics captures payout, receipt and reconciliation signals.
type Metrics struct {
	payouts          *prometheus.CounterVec
	payoutAmount     prometheus.Counter
	receipts         *prometheus.CounterVec
	reconcileItems   *prometheus.CounterVec
	reconcileRuns    *prometheus.CounterVec
	reconcileSeconds prometheus.Histogram
	lockWait         prometheus.Histogram
}

// New registers the instruments on registerer (DefaultRegisterer when nil).
func New(registerer prometheus.Registerer, cfg Config) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "commission"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &Metrics{
		payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "payouts_total",
			Help:        "Payout attempts by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		payoutAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "payout_amount_total",
			Help:        "Sum of committed payout amounts.",
			ConstLabels: constLabels,
		}),
		receipts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "receipts_total",
			Help:        "Labor receipt issuance by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		reconcileItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "reconcile_items_total",
			Help:        "Reconciliation items by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		reconcileRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "reconcile_runs_total",
			Help:        "Reconciliation runs by final status.",
			ConstLabels: constLabels,
		}, []string{"status"}),
		reconcileSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "reconcile_duration_seconds",
			Help:        "Wall time of a full reconciliation run.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			ConstLabels: constLabels,
		}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "entitlement_lock_wait_seconds",
			Help:        "Time spent waiting for the per-entitlement lock.",
			Buckets:     []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			ConstLabels: constLabels,
		}),
	}

	registerer.MustRegister(
		m.payouts,
		m.payoutAmount,
		m.receipts,
		m.reconcileItems,
		m.reconcileRuns,
		m.reconcileSeconds,
		m.lockWait,
	)
	return m
}

// ObservePayout records a payout attempt. amount is only counted when the
// payout committed.
func (m *Metrics) ObservePayout(amount decimal.Decimal, err error) {
	if m == nil {
		return
	}
	outcome := ClassifyPayoutOutcome(err)
	m.payouts.WithLabelValues(outcome).Inc()
	if outcome == OutcomeCommitted {
		m.payoutAmount.Add(amount.InexactFloat64())
	}
}

func (m *Metrics) ObserveReceipt(outcome string) {
	if m == nil {
		return
	}
	m.receipts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveReconcileItem(outcome string) {
	if m == nil {
		return
	}
	m.reconcileItems.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveReconcileRun(status ledger.RunStatus, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.reconcileRuns.WithLabelValues(string(status)).Inc()
	m.reconcileSeconds.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveLockWait(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.Observe(elapsed.Seconds())
}

// Payouts returns the payout counter for outcome.
func (m *Metrics) Payouts(outcome string) prometheus.Counter {
	return m.payouts.WithLabelValues(outcome)
}

// Receipts returns the receipt counter for outcome.
func (m *Metrics) Receipts(outcome string) prometheus.Counter {
	return m.receipts.WithLabelValues(outcome)
}

// ReconcileItems returns the reconciliation item counter for outcome.
func (m *Metrics) ReconcileItems(outcome string) prometheus.Counter {
	return m.reconcileItems.WithLabelValues(outcome)
}

// ClassifyPayoutOutcome maps a payout error to a low-cardinality label.
func ClassifyPayoutOutcome(err error) string {
	switch {
	case err == nil:
		return OutcomeCommitted
	case errors.Is(err, ledger.ErrInsufficientAvailable):
		return OutcomeInsufficient
	case errors.Is(err, ledger.ErrValidation):
		return OutcomeInvalid
	case errors.Is(err, ledger.ErrConcurrentModification):
		return OutcomeConflict
	default:
		return OutcomeError
	}
}
