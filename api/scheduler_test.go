package api

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/johnnyang0612/commission-system-sub001/commission"
)

type countingRunner struct {
	calls   atomic.Int32
	block   chan struct{}
	started chan struct{}
}

func (r *countingRunner) ReconcileAll(ctx context.Context) (commission.BatchResult, error) {
	r.calls.Add(1)
	if r.started != nil {
		select {
		case r.started <- struct{}{}:
		default:
		}
	}
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return commission.BatchResult{}, ctx.Err()
		}
	}
	return commission.BatchResult{}, nil
}

func TestScheduler_RunsOnStartAndTick(t *testing.T) {
	runner := &countingRunner{}
	s := NewReconciliationScheduler(runner, zaptest.NewLogger(t))
	s.CheckInterval = 10 * time.Millisecond

	s.Start()
	s.Start() // second call is a no-op

	assert.Eventually(t, func() bool { return runner.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	s.Stop()

	after := runner.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, runner.calls.Load())
	s.Stop() // idempotent
}

func TestScheduler_Disabled(t *testing.T) {
	runner := &countingRunner{}
	s := NewReconciliationScheduler(runner, nil)
	s.Enabled = false

	s.Start()
	s.Stop()

	assert.Equal(t, int32(0), runner.calls.Load())
}

func TestScheduler_RunNowSkipsWhileBusy(t *testing.T) {
	// GIVEN: a run that blocks until released
	runner := &countingRunner{block: make(chan struct{}), started: make(chan struct{}, 1)}
	s := NewReconciliationScheduler(runner, zaptest.NewLogger(t))

	done := make(chan bool, 1)
	go func() {
		_, ran, _ := s.RunNow(context.Background())
		done <- ran
	}()
	<-runner.started

	// WHEN: a second run is requested meanwhile
	_, ran, err := s.RunNow(context.Background())

	// THEN: it is skipped, and the first completes normally
	require.NoError(t, err)
	assert.False(t, ran)
	close(runner.block)
	assert.True(t, <-done)
	assert.Equal(t, int32(1), runner.calls.Load())
}

func TestScheduler_StopCancelsInFlightRun(t *testing.T) {
	runner := &countingRunner{block: make(chan struct{}), started: make(chan struct{}, 1)}
	s := NewReconciliationScheduler(runner, zaptest.NewLogger(t))
	s.CheckInterval = time.Hour

	s.Start()
	<-runner.started

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not cancel the in-flight run")
	}
}

func TestRunReconciliation_ConflictWhileScheduledRunActive(t *testing.T) {
	// GIVEN: a scheduler whose run is blocked mid-flight
	ts := setupTestServer(t)
	runner := &countingRunner{block: make(chan struct{}), started: make(chan struct{}, 1)}
	ts.handler.Scheduler = NewReconciliationScheduler(runner, zaptest.NewLogger(t))
	ts.handler.Scheduler.CheckInterval = time.Hour
	ts.handler.Scheduler.Start()
	defer ts.handler.Scheduler.Stop()
	<-runner.started

	// WHEN: a manual run is requested
	rec := ts.do(t, http.MethodPost, "/api/reconciliation/run", nil)

	// THEN: it is refused instead of running concurrently
	assert.Equal(t, http.StatusConflict, rec.Code)
	close(runner.block)
}
