// Package engine wires the due-schedule poller, the event watchtower, the
// safety evaluator and the execution dispatcher into one payment engine
// instance with injected collaborators.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/autopay-hq/autopay-engine/pkg/circuitbreaker"
	"github.com/autopay-hq/autopay-engine/pkg/config"
	"github.com/autopay-hq/autopay-engine/pkg/logger"
	"github.com/autopay-hq/autopay-engine/pkg/models"
	"github.com/autopay-hq/autopay-engine/pkg/safety"
	"github.com/autopay-hq/autopay-engine/pkg/store"
	"github.com/autopay-hq/autopay-engine/pkg/watchtower"
)

// Collaborators are the external services the engine is constructed with
type Collaborators struct {
	Orders   store.OrderStore
	Gas      safety.GasOracle
	Balance  safety.BalanceOracle
	Executor PaymentExecutor
	Events   watchtower.EventSource
}

// Status is the engine's user-visible state snapshot
type Status struct {
	IsRunning       bool   `json:"is_running"`
	RetryQueueSize  int    `json:"retry_queue_size"`
	ActiveTriggers  int    `json:"active_triggers"`
	SafetyRules     int    `json:"safety_rules"`
	WatchtowerState string `json:"watchtower_state"`
	CircuitOpen     bool   `json:"circuit_open"`
	RecordCount     int    `json:"record_count"`
}

// Engine is one payment engine instance. Multiple isolated instances can
// coexist in a process, which is what the tests rely on.
type Engine struct {
	orders     store.OrderStore
	rules      *safety.RuleStore
	registry   *watchtower.Registry
	queue      *RetryQueue
	dispatcher *Dispatcher
	poller     *Poller
	watch      *watchtower.Watchtower
	breaker    *circuitbreaker.CircuitBreaker
	logger     logger.Logger

	mu      sync.Mutex
	running bool
	runCtx  context.Context
}

// New constructs an engine from configuration and injected collaborators
func New(cfg *config.Config, c Collaborators, log logger.Logger) *Engine {
	rules := safety.NewRuleStore(log)
	queue := NewRetryQueue()
	registry := watchtower.NewRegistry()

	evaluator := safety.NewEvaluator(
		rules,
		c.Gas,
		c.Balance,
		queue,
		cfg.MaxGasPriceGwei,
		cfg.OracleTimeout,
		log,
	)

	breaker := circuitbreaker.NewCircuitBreaker(
		cfg.CircuitBreaker.Enabled,
		cfg.CircuitBreaker.Threshold,
		cfg.CircuitBreaker.WindowDuration,
		cfg.CircuitBreaker.ResetTimeout,
		log,
	)

	dispatcher := NewDispatcher(
		c.Orders,
		evaluator,
		rules,
		queue,
		c.Executor,
		breaker,
		cfg.ExecutionTimeout,
		log,
	)

	e := &Engine{
		orders:     c.Orders,
		rules:      rules,
		registry:   registry,
		queue:      queue,
		dispatcher: dispatcher,
		breaker:    breaker,
		logger:     log,
	}

	e.watch = watchtower.New(c.Events, registry, e.onTriggerFired, log)
	e.poller = NewPoller(c.Orders, dispatcher, queue, rules, c.Gas, cfg.PollInterval, log)
	return e
}

// Start runs the engine until the context is cancelled, then shuts down
// gracefully: the poller stops ticking, the watchtower unsubscribes and
// in-flight dispatches drain to completion.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.runCtx = ctx
	e.mu.Unlock()

	e.logger.Notice("Payment engine starting")
	e.poller.Run(ctx)

	// Context cancelled: drain before reporting stopped
	e.watch.Stop()
	e.dispatcher.WaitInFlight()

	e.mu.Lock()
	e.running = false
	e.runCtx = nil
	e.mu.Unlock()
	e.logger.Notice("Payment engine stopped")
}

// onTriggerFired is the watchtower callback: a matched event makes the
// schedule an immediate dispatch candidate
func (e *Engine) onTriggerFired(trigger models.EventTrigger, event models.TransferEvent) {
	ctx := e.ctx()
	if _, err := e.dispatcher.Dispatch(ctx, trigger.ScheduleID); err != nil {
		// A poll tick beat the event to it, nothing lost
		return
	}
}

// AddSafetyRule validates and stores a safety rule for a schedule
func (e *Engine) AddSafetyRule(rule models.SafetyRule) error {
	return e.rules.Set(rule)
}

// GetSafetyRule returns the rule for a schedule, if one exists
func (e *Engine) GetSafetyRule(scheduleID string) (models.SafetyRule, bool) {
	return e.rules.Get(scheduleID)
}

// PauseSchedule blocks a schedule until it is manually unpaused
func (e *Engine) PauseSchedule(scheduleID, reason string) {
	e.rules.Pause(scheduleID, reason)
	e.logger.Notice("Schedule %s paused: %s", scheduleID, reason)
}

// UnpauseSchedule lifts a manual pause
func (e *Engine) UnpauseSchedule(scheduleID string) error {
	if err := e.rules.Unpause(scheduleID); err != nil {
		return err
	}
	e.logger.Notice("Schedule %s unpaused", scheduleID)
	return nil
}

// AddEventTrigger registers an event trigger for a schedule; the
// watchtower subscribes to chain events when the first trigger arrives
func (e *Engine) AddEventTrigger(trigger models.EventTrigger) error {
	return e.watch.AddTrigger(e.ctx(), trigger)
}

// RemoveEventTrigger removes a schedule's trigger; the watchtower
// unsubscribes when the last trigger is gone
func (e *Engine) RemoveEventTrigger(scheduleID string) bool {
	return e.watch.RemoveTrigger(scheduleID)
}

// CreateSchedule registers a new schedule with the order store
func (e *Engine) CreateSchedule(ctx context.Context, schedule models.Schedule) error {
	return e.orders.Create(ctx, schedule)
}

// Dispatch runs one execution attempt for the schedule immediately
func (e *Engine) Dispatch(ctx context.Context, scheduleID string) (models.ExecutionRecord, error) {
	return e.dispatcher.Dispatch(ctx, scheduleID)
}

// Records returns the audit log of execution attempts
func (e *Engine) Records() []models.ExecutionRecord {
	return e.dispatcher.Records()
}

// ResetCircuit manually closes the circuit breaker
func (e *Engine) ResetCircuit() {
	e.breaker.Reset()
	e.logger.Notice("Circuit breaker manually reset")
}

// GetStatus returns the engine's user-visible state
func (e *Engine) GetStatus() Status {
	e.mu.Lock()
	running := e.running
	e.mu.Unlock()

	return Status{
		IsRunning:       running,
		RetryQueueSize:  e.queue.Size(),
		ActiveTriggers:  e.registry.Count(),
		SafetyRules:     e.rules.Count(),
		WatchtowerState: e.watch.State().String(),
		CircuitOpen:     e.breaker.IsOpen(),
		RecordCount:     e.dispatcher.RecordCount(),
	}
}

// ctx returns the engine run context, or a background context before Start
func (e *Engine) ctx() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runCtx != nil {
		return e.runCtx
	}
	return context.Background()
}

// RetrySnapshot reports the queued schedules and their next eligible retry
// times
func (e *Engine) RetrySnapshot() map[string]time.Time {
	snapshot := make(map[string]time.Time)
	for _, id := range e.queue.IDs() {
		if next, ok := e.queue.NextEligible(id, e.dispatcher.cooldownFor(id)); ok {
			snapshot[id] = next
		}
	}
	return snapshot
}
