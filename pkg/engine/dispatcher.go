package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/autopay-hq/autopay-engine/pkg/circuitbreaker"
	"github.com/autopay-hq/autopay-engine/pkg/logger"
	"github.com/autopay-hq/autopay-engine/pkg/metrics"
	"github.com/autopay-hq/autopay-engine/pkg/models"
	"github.com/autopay-hq/autopay-engine/pkg/safety"
	"github.com/autopay-hq/autopay-engine/pkg/store"
)

// ErrAlreadyInFlight is returned when a dispatch is dropped because one is
// already running for the same schedule
var ErrAlreadyInFlight = errors.New("dispatch already in flight for schedule")

// maxRecords caps the in-memory audit log
const maxRecords = 1000

// PaymentExecutor is the chain-write collaborator that submits the actual
// payment transaction
type PaymentExecutor interface {
	ExecutePayment(ctx context.Context, schedule models.Schedule) (models.ExecutionResult, error)
}

// Dispatcher is the single choke point between candidate schedules and the
// chain. It runs the safety evaluator, maintains the retry queue based on
// the verdict, invokes the payment executor for admitted candidates and
// records every outcome.
type Dispatcher struct {
	orders           store.OrderStore
	evaluator        *safety.Evaluator
	rules            *safety.RuleStore
	queue            *RetryQueue
	executor         PaymentExecutor
	breaker          *circuitbreaker.CircuitBreaker
	executionTimeout time.Duration
	logger           logger.Logger

	inFlightMu sync.Mutex
	inFlight   map[string]bool

	recordsMu sync.Mutex
	records   []models.ExecutionRecord

	wg sync.WaitGroup
}

// NewDispatcher creates a dispatcher over the given collaborators
func NewDispatcher(
	orders store.OrderStore,
	evaluator *safety.Evaluator,
	rules *safety.RuleStore,
	queue *RetryQueue,
	executor PaymentExecutor,
	breaker *circuitbreaker.CircuitBreaker,
	executionTimeout time.Duration,
	log logger.Logger,
) *Dispatcher {
	return &Dispatcher{
		orders:           orders,
		evaluator:        evaluator,
		rules:            rules,
		queue:            queue,
		executor:         executor,
		breaker:          breaker,
		executionTimeout: executionTimeout,
		logger:           log,
		inFlight:         make(map[string]bool),
	}
}

// Dispatch runs one execution attempt for the schedule. Per schedule id
// only one attempt may be in flight: a second request while one is running
// is dropped with ErrAlreadyInFlight, which is what prevents a schedule
// that is simultaneously due and event-triggered from paying twice.
func (d *Dispatcher) Dispatch(ctx context.Context, scheduleID string) (models.ExecutionRecord, error) {
	if !d.acquire(scheduleID) {
		metrics.CoalescedDispatches.Inc()
		d.logger.DebugWith(logger.Dispatcher, "Dispatch for schedule %s already in flight, dropping", scheduleID)
		return models.ExecutionRecord{}, ErrAlreadyInFlight
	}
	d.wg.Add(1)
	defer func() {
		d.release(scheduleID)
		d.wg.Done()
	}()

	startTime := time.Now()
	record := d.dispatch(ctx, scheduleID)
	metrics.DispatchDuration.Observe(time.Since(startTime).Seconds())
	metrics.ExecutionsTotal.WithLabelValues(string(record.Outcome)).Inc()

	d.append(record)
	return record, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, scheduleID string) models.ExecutionRecord {
	schedule, err := d.orders.Get(ctx, scheduleID)
	if err != nil {
		d.logger.ErrorWith(logger.Dispatcher, "Failed to load schedule %s: %v", scheduleID, err)
		return models.NewExecutionRecord(scheduleID, models.OutcomeError,
			fmt.Sprintf("failed to load schedule: %v", err), "")
	}
	if !schedule.IsActive {
		return models.NewExecutionRecord(scheduleID, models.OutcomeDenied, "schedule is not active", "")
	}

	verdict := d.evaluator.Evaluate(ctx, scheduleID, schedule.Payer, schedule.Token)
	if !verdict.Admitted {
		return d.handleDenial(scheduleID, verdict)
	}

	// Admitted: a queued schedule that passed every check leaves the
	// retry queue before execution
	d.queue.Admit(scheduleID)

	if d.breaker.IsEnabled() && d.breaker.IsOpen() {
		failureCount, lastFailure, _, _ := d.breaker.GetState()
		d.logger.ErrorWith(logger.Dispatcher,
			"Circuit breaker open (failures: %d, last: %v), suspending execution of schedule %s",
			failureCount, lastFailure, scheduleID)
		return models.NewExecutionRecord(scheduleID, models.OutcomeError,
			"circuit breaker open, execution suspended", "")
	}

	d.logger.InfoWith(logger.Dispatcher, "Executing schedule %s (payer %s, recipient %s, amount %s)",
		scheduleID, schedule.Payer, schedule.Recipient, schedule.Amount)

	// The chain write runs detached from the caller's context: once a
	// submission starts, shutdown must drain it rather than abort it with
	// an unknown on-chain outcome. The execution timeout still bounds it.
	execCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.executionTimeout)
	result, err := d.executor.ExecutePayment(execCtx, schedule)
	cancel()
	if err != nil {
		return d.handleExecutionError(scheduleID, err)
	}

	// Advance the schedule before reporting success so due-detection and
	// the audit log stay consistent
	if err := d.orders.Advance(context.WithoutCancel(ctx), scheduleID, result); err != nil {
		d.logger.ErrorWith(logger.Dispatcher,
			"Payment for schedule %s submitted (tx %s) but advancing the schedule failed: %v",
			scheduleID, result.TxHash, err)
	}

	d.logger.NoticeWith(logger.Dispatcher, "Schedule %s executed, tx %s (block %d, gas %d)",
		scheduleID, result.TxHash, result.BlockNumber, result.GasUsed)
	return models.NewExecutionRecord(scheduleID, models.OutcomeSuccess, "", result.TxHash)
}

// handleDenial routes a safety denial: retryable denials enter the retry
// queue, permanent ones never do
func (d *Dispatcher) handleDenial(scheduleID string, verdict safety.Verdict) models.ExecutionRecord {
	metrics.DenialsTotal.WithLabelValues(string(verdict.Kind), strconv.FormatBool(verdict.Retryable)).Inc()

	reason := verdict.Reason
	switch {
	case verdict.Kind == safety.DenialCooldown:
		// The schedule is already queued; refreshing its entry here would
		// push the eligibility window forward on every attempt and a due
		// schedule would never come off cooldown
		d.logger.DebugWith(logger.Dispatcher, "Schedule %s denied (transient): %s", scheduleID, reason)
	case verdict.Retryable:
		d.queue.Deny(scheduleID)
		if next, ok := d.queue.NextEligible(scheduleID, d.cooldownFor(scheduleID)); ok {
			reason = fmt.Sprintf("%s; retry eligible at %s", reason, next.UTC().Format(time.RFC3339))
		}
		d.logger.InfoWith(logger.Dispatcher, "Schedule %s denied (transient): %s", scheduleID, reason)
	default:
		d.logger.NoticeWith(logger.Dispatcher, "Schedule %s denied (permanent): %s", scheduleID, reason)
	}
	return models.NewExecutionRecord(scheduleID, models.OutcomeDenied, reason, "")
}

// handleExecutionError classifies a chain-write failure. Fee-related
// failures are transient and enter the retry queue; everything else is a
// one-off failure left to the next natural due cycle.
func (d *Dispatcher) handleExecutionError(scheduleID string, err error) models.ExecutionRecord {
	feeRelated, errorType := classifyExecutionError(err)
	metrics.ExecutionErrors.WithLabelValues(errorType).Inc()
	d.breaker.RecordFailure()

	if feeRelated {
		d.queue.Deny(scheduleID)
		d.logger.ErrorWith(logger.Dispatcher,
			"Execution of schedule %s failed with fee-related error (%s), queued for retry: %v",
			scheduleID, errorType, err)
	} else {
		d.logger.ErrorWith(logger.Dispatcher,
			"Execution of schedule %s failed (%s): %v", scheduleID, errorType, err)
	}
	return models.NewExecutionRecord(scheduleID, models.OutcomeError,
		fmt.Sprintf("%s: %v", errorType, err), "")
}

// classifyExecutionError classifies chain-write errors.
// Returns (feeRelated, errorType).
func classifyExecutionError(err error) (bool, string) {
	errStr := err.Error()

	// Gas-related errors - retry may help if gas prices change
	if strings.Contains(errStr, "gas required exceeds allowance") ||
		strings.Contains(errStr, "insufficient funds for gas") ||
		strings.Contains(errStr, "max fee per gas less than block base fee") ||
		strings.Contains(errStr, "gas price too low") {
		return true, "gas_error"
	}

	// Network/RPC errors - left to the next poll cycle
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "context deadline exceeded") ||
		strings.Contains(errStr, "timed out") ||
		strings.Contains(errStr, "no response") ||
		strings.Contains(errStr, "EOF") {
		return false, "network_error"
	}

	// Nonce-related errors - resolved by the nonce syncing on reconnect
	if strings.Contains(errStr, "nonce too low") ||
		strings.Contains(errStr, "nonce too high") ||
		strings.Contains(errStr, "replacement transaction underpriced") {
		return false, "nonce_error"
	}

	// Balance-related errors - permanent failures
	if strings.Contains(errStr, "insufficient balance") ||
		strings.Contains(errStr, "insufficient funds") {
		return false, "insufficient_funds"
	}

	// Contract errors - likely permanent failures
	if strings.Contains(errStr, "execution reverted") {
		return false, "contract_error"
	}

	return false, "unknown_error"
}

// cooldownFor returns the retry cooldown configured for the schedule
func (d *Dispatcher) cooldownFor(scheduleID string) time.Duration {
	if rule, ok := d.rules.Get(scheduleID); ok {
		return rule.RetryInterval()
	}
	return time.Duration(models.DefaultRetryIntervalMinutes) * time.Minute
}

// WaitInFlight blocks until every running dispatch has completed. An
// aborted submission with an unknown on-chain outcome is worse than a late
// one, so shutdown drains instead of cancelling.
func (d *Dispatcher) WaitInFlight() {
	d.wg.Wait()
}

// Records returns a copy of the audit log, newest last
func (d *Dispatcher) Records() []models.ExecutionRecord {
	d.recordsMu.Lock()
	defer d.recordsMu.Unlock()

	out := make([]models.ExecutionRecord, len(d.records))
	copy(out, d.records)
	return out
}

// RecordCount returns the audit log length without copying it
func (d *Dispatcher) RecordCount() int {
	d.recordsMu.Lock()
	defer d.recordsMu.Unlock()
	return len(d.records)
}

func (d *Dispatcher) append(record models.ExecutionRecord) {
	d.recordsMu.Lock()
	defer d.recordsMu.Unlock()

	d.records = append(d.records, record)
	if len(d.records) > maxRecords {
		d.records = d.records[len(d.records)-maxRecords:]
	}
}

func (d *Dispatcher) acquire(scheduleID string) bool {
	d.inFlightMu.Lock()
	defer d.inFlightMu.Unlock()

	if d.inFlight[scheduleID] {
		return false
	}
	d.inFlight[scheduleID] = true
	return true
}

func (d *Dispatcher) release(scheduleID string) {
	d.inFlightMu.Lock()
	defer d.inFlightMu.Unlock()
	delete(d.inFlight, scheduleID)
}
