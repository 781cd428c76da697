package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopay-hq/autopay-engine/pkg/circuitbreaker"
	"github.com/autopay-hq/autopay-engine/pkg/logger"
	"github.com/autopay-hq/autopay-engine/pkg/models"
	"github.com/autopay-hq/autopay-engine/pkg/safety"
	"github.com/autopay-hq/autopay-engine/pkg/store"
)

// stubGasOracle returns a fixed gas price
type stubGasOracle struct {
	priceGwei int64
	err       error
}

func (s *stubGasOracle) CurrentGasPriceGwei(_ context.Context) (int64, error) {
	return s.priceGwei, s.err
}

// stubBalanceOracle returns a fixed balance
type stubBalanceOracle struct {
	balance string
	err     error
}

func (s *stubBalanceOracle) BalanceOf(_ context.Context, _ string, _ string) (string, error) {
	return s.balance, s.err
}

// mockExecutor counts calls and can block until released to simulate a
// long-running chain write
type mockExecutor struct {
	mu      sync.Mutex
	calls   int32
	result  models.ExecutionResult
	err     error
	started chan struct{}
	release chan struct{}
}

func (m *mockExecutor) ExecutePayment(ctx context.Context, _ models.Schedule) (models.ExecutionResult, error) {
	atomic.AddInt32(&m.calls, 1)
	if m.started != nil {
		m.started <- struct{}{}
	}
	if m.release != nil {
		select {
		case <-m.release:
		case <-ctx.Done():
			return models.ExecutionResult{}, ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.result, m.err
}

func (m *mockExecutor) callCount() int {
	return int(atomic.LoadInt32(&m.calls))
}

type dispatcherFixture struct {
	dispatcher *Dispatcher
	orders     *store.MemoryStore
	rules      *safety.RuleStore
	queue      *RetryQueue
	executor   *mockExecutor
	gas        *stubGasOracle
	balance    *stubBalanceOracle
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()

	log := &logger.EmptyLogger{}
	orders := store.NewMemoryStore()
	rules := safety.NewRuleStore(log)
	queue := NewRetryQueue()
	gas := &stubGasOracle{priceGwei: 10}
	balance := &stubBalanceOracle{balance: "1000000"}
	executor := &mockExecutor{result: models.ExecutionResult{TxHash: "0xtx", GasUsed: 21000, BlockNumber: 42}}
	evaluator := safety.NewEvaluator(rules, gas, balance, queue, 100, time.Second, log)
	breaker := circuitbreaker.NewCircuitBreaker(false, 5, 5*time.Minute, 15*time.Minute, log)

	return &dispatcherFixture{
		dispatcher: NewDispatcher(orders, evaluator, rules, queue, executor, breaker, time.Minute, log),
		orders:     orders,
		rules:      rules,
		queue:      queue,
		executor:   executor,
		gas:        gas,
		balance:    balance,
	}
}

func (f *dispatcherFixture) createSchedule(t *testing.T, schedule models.Schedule) {
	t.Helper()
	require.NoError(t, f.orders.Create(context.Background(), schedule))
}

func activeSchedule(id string) models.Schedule {
	return models.Schedule{
		ID:                id,
		Payer:             "0xPayer",
		Recipient:         "0xRecipient",
		Token:             "0xToken",
		Amount:            "1000000",
		Interval:          3600,
		NextExecutionTime: time.Now().Add(-time.Minute),
		ExecutionsLeft:    5,
		IsActive:          true,
	}
}

func TestDispatchSuccess(t *testing.T) {
	f := newDispatcherFixture(t)
	f.createSchedule(t, activeSchedule("sched-1"))

	record, err := f.dispatcher.Dispatch(context.Background(), "sched-1")
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeSuccess, record.Outcome)
	assert.Equal(t, "0xtx", record.TxHash)
	assert.Equal(t, 1, f.executor.callCount())

	// Success advances the schedule atomically
	schedule, err := f.orders.Get(context.Background(), "sched-1")
	require.NoError(t, err)
	assert.Equal(t, 4, schedule.ExecutionsLeft)
	assert.True(t, schedule.NextExecutionTime.After(time.Now()))
}

func TestDispatchUnknownSchedule(t *testing.T) {
	f := newDispatcherFixture(t)

	record, err := f.dispatcher.Dispatch(context.Background(), "missing")
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeError, record.Outcome)
	assert.Equal(t, 0, f.executor.callCount())
}

func TestDispatchInactiveSchedule(t *testing.T) {
	f := newDispatcherFixture(t)
	schedule := activeSchedule("sched-1")
	schedule.IsActive = false
	f.createSchedule(t, schedule)

	record, err := f.dispatcher.Dispatch(context.Background(), "sched-1")
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeDenied, record.Outcome)
	assert.Equal(t, 0, f.executor.callCount())
	assert.False(t, f.queue.Contains("sched-1"))
}

func TestDispatchRetryableDenialEntersQueue(t *testing.T) {
	f := newDispatcherFixture(t)
	f.createSchedule(t, activeSchedule("sched-1"))
	f.gas.priceGwei = 500

	record, err := f.dispatcher.Dispatch(context.Background(), "sched-1")
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeDenied, record.Outcome)
	assert.Contains(t, record.Reason, "retry eligible at")
	assert.True(t, f.queue.Contains("sched-1"))
	assert.Equal(t, 0, f.executor.callCount())
}

func TestDispatchPermanentDenialSkipsQueue(t *testing.T) {
	f := newDispatcherFixture(t)
	f.createSchedule(t, activeSchedule("sched-1"))
	f.rules.Pause("sched-1", "operator hold")

	record, err := f.dispatcher.Dispatch(context.Background(), "sched-1")
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeDenied, record.Outcome)
	assert.NotContains(t, record.Reason, "retry eligible")
	assert.False(t, f.queue.Contains("sched-1"))
}

func TestDispatchAdmissionRemovesQueueEntry(t *testing.T) {
	f := newDispatcherFixture(t)
	f.createSchedule(t, activeSchedule("sched-1"))

	// Queue the schedule with an already-elapsed cooldown
	require.NoError(t, f.rules.Set(models.SafetyRule{ScheduleID: "sched-1", RetryIntervalMinutes: 1}))
	f.queue.Deny("sched-1")
	f.queue.mu.Lock()
	f.queue.entries["sched-1"] = time.Now().Add(-time.Hour)
	f.queue.mu.Unlock()

	record, err := f.dispatcher.Dispatch(context.Background(), "sched-1")
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeSuccess, record.Outcome)
	assert.False(t, f.queue.Contains("sched-1"), "admission must clear the retry entry")
}

func TestDispatchCooldownDenialKeepsEligibility(t *testing.T) {
	f := newDispatcherFixture(t)
	f.createSchedule(t, activeSchedule("sched-1"))
	require.NoError(t, f.rules.Set(models.SafetyRule{ScheduleID: "sched-1", RetryIntervalMinutes: 60}))

	// Queue the schedule mid-cooldown
	f.queue.Deny("sched-1")
	before, ok := f.queue.NextEligible("sched-1", time.Hour)
	require.True(t, ok)

	// The schedule is still due, so repeated dispatches keep arriving while
	// it cools down; none of them may push the eligibility window forward
	for i := 0; i < 3; i++ {
		record, err := f.dispatcher.Dispatch(context.Background(), "sched-1")
		require.NoError(t, err)
		assert.Equal(t, models.OutcomeDenied, record.Outcome)
		assert.Contains(t, record.Reason, "cooldown active")
	}

	after, ok := f.queue.NextEligible("sched-1", time.Hour)
	require.True(t, ok)
	assert.Equal(t, before, after, "a cooldown denial must not refresh the retry entry")
	assert.Equal(t, 0, f.executor.callCount())
}

func TestDispatchSurvivesCallerCancellation(t *testing.T) {
	f := newDispatcherFixture(t)
	f.createSchedule(t, activeSchedule("sched-1"))

	f.executor.started = make(chan struct{}, 1)
	f.executor.release = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan models.ExecutionRecord, 1)
	go func() {
		record, _ := f.dispatcher.Dispatch(ctx, "sched-1")
		done <- record
	}()

	// Cancel the caller's context while the chain write is in progress, as
	// an engine shutdown would
	<-f.executor.started
	cancel()

	// The dispatch keeps running after the cancellation until the executor
	// finishes
	select {
	case record := <-done:
		t.Fatalf("dispatch aborted with outcome %s instead of draining", record.Outcome)
	case <-time.After(50 * time.Millisecond):
	}

	close(f.executor.release)
	record := <-done
	assert.Equal(t, models.OutcomeSuccess, record.Outcome, "a started submission must run to completion")

	schedule, err := f.orders.Get(context.Background(), "sched-1")
	require.NoError(t, err)
	assert.Equal(t, 4, schedule.ExecutionsLeft, "bookkeeping for a completed submission must not be lost")
}

func TestDispatchFeeErrorRequeues(t *testing.T) {
	f := newDispatcherFixture(t)
	f.createSchedule(t, activeSchedule("sched-1"))
	f.executor.err = errors.New("max fee per gas less than block base fee")

	record, err := f.dispatcher.Dispatch(context.Background(), "sched-1")
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeError, record.Outcome)
	assert.Contains(t, record.Reason, "gas_error")
	assert.True(t, f.queue.Contains("sched-1"), "fee-related failures go back to the retry queue")
}

func TestDispatchRevertErrorDoesNotRequeue(t *testing.T) {
	f := newDispatcherFixture(t)
	f.createSchedule(t, activeSchedule("sched-1"))
	f.executor.err = errors.New("execution reverted: ERC20: transfer amount exceeds allowance")

	record, err := f.dispatcher.Dispatch(context.Background(), "sched-1")
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeError, record.Outcome)
	assert.Contains(t, record.Reason, "contract_error")
	assert.False(t, f.queue.Contains("sched-1"), "non-fee failures wait for the next due cycle")
}

func TestDispatchExecutionErrorDoesNotAdvance(t *testing.T) {
	f := newDispatcherFixture(t)
	f.createSchedule(t, activeSchedule("sched-1"))
	f.executor.err = errors.New("execution reverted")

	_, err := f.dispatcher.Dispatch(context.Background(), "sched-1")
	require.NoError(t, err)

	schedule, err := f.orders.Get(context.Background(), "sched-1")
	require.NoError(t, err)
	assert.Equal(t, 5, schedule.ExecutionsLeft, "a failed execution must not consume the schedule")
}

func TestDispatchCoalescesConcurrentRequests(t *testing.T) {
	f := newDispatcherFixture(t)
	f.createSchedule(t, activeSchedule("sched-1"))

	f.executor.started = make(chan struct{}, 1)
	f.executor.release = make(chan struct{})

	firstDone := make(chan models.ExecutionRecord, 1)
	go func() {
		record, _ := f.dispatcher.Dispatch(context.Background(), "sched-1")
		firstDone <- record
	}()

	// Wait until the first dispatch is inside the executor
	<-f.executor.started

	// The poller and the watchtower racing on the same schedule: the
	// second dispatch must be dropped, not queued
	_, err := f.dispatcher.Dispatch(context.Background(), "sched-1")
	assert.ErrorIs(t, err, ErrAlreadyInFlight)

	close(f.executor.release)
	record := <-firstDone

	assert.Equal(t, models.OutcomeSuccess, record.Outcome)
	assert.Equal(t, 1, f.executor.callCount(), "exactly one payment per race")

	// A different schedule is not affected by the in-flight flag
	f.createSchedule(t, activeSchedule("sched-2"))
	_, err = f.dispatcher.Dispatch(context.Background(), "sched-2")
	assert.NoError(t, err)
}

func TestDispatchReleasesInFlightFlag(t *testing.T) {
	f := newDispatcherFixture(t)
	f.createSchedule(t, activeSchedule("sched-1"))

	_, err := f.dispatcher.Dispatch(context.Background(), "sched-1")
	require.NoError(t, err)

	// The same schedule can dispatch again once the first attempt is done
	_, err = f.dispatcher.Dispatch(context.Background(), "sched-1")
	assert.NoError(t, err)
	assert.Equal(t, 2, f.executor.callCount())
}

func TestDispatchCircuitBreakerOpen(t *testing.T) {
	log := &logger.EmptyLogger{}
	f := newDispatcherFixture(t)
	f.createSchedule(t, activeSchedule("sched-1"))

	// Replace the disabled breaker with one that trips on the first failure
	breaker := circuitbreaker.NewCircuitBreaker(true, 1, 5*time.Minute, 15*time.Minute, log)
	f.dispatcher.breaker = breaker
	breaker.RecordFailure()
	require.True(t, breaker.IsOpen())

	record, err := f.dispatcher.Dispatch(context.Background(), "sched-1")
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeError, record.Outcome)
	assert.Contains(t, record.Reason, "circuit breaker open")
	assert.Equal(t, 0, f.executor.callCount())
}

func TestDispatchRecordsAuditLog(t *testing.T) {
	f := newDispatcherFixture(t)
	f.createSchedule(t, activeSchedule("sched-1"))

	_, err := f.dispatcher.Dispatch(context.Background(), "sched-1")
	require.NoError(t, err)
	_, err = f.dispatcher.Dispatch(context.Background(), "missing")
	require.NoError(t, err)

	records := f.dispatcher.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "sched-1", records[0].ScheduleID)
	assert.Equal(t, models.OutcomeSuccess, records[0].Outcome)
	assert.Equal(t, models.OutcomeError, records[1].Outcome)
	assert.NotEmpty(t, records[0].ID)
	assert.NotEqual(t, records[0].ID, records[1].ID)
	assert.Equal(t, len(records), f.dispatcher.RecordCount())
}

func TestClassifyExecutionError(t *testing.T) {
	tests := []struct {
		err        string
		feeRelated bool
		errorType  string
	}{
		{"gas required exceeds allowance", true, "gas_error"},
		{"insufficient funds for gas * price + value", true, "gas_error"},
		{"max fee per gas less than block base fee", true, "gas_error"},
		{"dial tcp: connection refused", false, "network_error"},
		{"context deadline exceeded", false, "network_error"},
		{"nonce too low", false, "nonce_error"},
		{"replacement transaction underpriced", false, "nonce_error"},
		{"insufficient balance for transfer", false, "insufficient_funds"},
		{"execution reverted: paused", false, "contract_error"},
		{"something strange", false, "unknown_error"},
	}

	for _, tt := range tests {
		t.Run(tt.err, func(t *testing.T) {
			feeRelated, errorType := classifyExecutionError(errors.New(tt.err))
			assert.Equal(t, tt.feeRelated, feeRelated)
			assert.Equal(t, tt.errorType, errorType)
		})
	}
}
