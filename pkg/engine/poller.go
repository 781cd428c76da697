package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/autopay-hq/autopay-engine/pkg/logger"
	"github.com/autopay-hq/autopay-engine/pkg/metrics"
	"github.com/autopay-hq/autopay-engine/pkg/safety"
	"github.com/autopay-hq/autopay-engine/pkg/store"
)

// Poller periodically asks the order store for due schedules and forwards
// each one to the dispatcher. It is the time-based backstop for the
// event-driven fast path: anything the watchtower misses is picked up on
// the next tick. Each tick also sweeps the retry queue for schedules whose
// cooldown has elapsed.
type Poller struct {
	orders     store.OrderStore
	dispatcher *Dispatcher
	queue      *RetryQueue
	rules      *safety.RuleStore
	gas        safety.GasOracle
	interval   time.Duration
	logger     logger.Logger

	ticking atomic.Bool
}

// NewPoller creates a poller over the given store and dispatcher
func NewPoller(
	orders store.OrderStore,
	dispatcher *Dispatcher,
	queue *RetryQueue,
	rules *safety.RuleStore,
	gas safety.GasOracle,
	interval time.Duration,
	log logger.Logger,
) *Poller {
	return &Poller{
		orders:     orders,
		dispatcher: dispatcher,
		queue:      queue,
		rules:      rules,
		gas:        gas,
		interval:   interval,
		logger:     log,
	}
}

// Run polls until the context is cancelled. A tick that is still running
// when the next one fires is skipped, not queued.
func (p *Poller) Run(ctx context.Context) {
	p.logger.InfoWith(logger.Poller, "Starting due-schedule poller with interval %v", p.interval)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.NoticeWith(logger.Poller, "Poller shutting down")
			return
		case <-ticker.C:
			if !p.ticking.CompareAndSwap(false, true) {
				metrics.SkippedTicks.Inc()
				p.logger.DebugWith(logger.Poller, "Previous tick still running, skipping")
				continue
			}
			go func() {
				defer p.ticking.Store(false)
				p.tick(ctx)
			}()
		}
	}
}

// tick runs one polling pass: due schedules, the retry sweep, then the gas
// price gauge refresh
func (p *Poller) tick(ctx context.Context) {
	now := time.Now()

	schedules, err := p.orders.FindDue(ctx, now)
	if err != nil {
		p.logger.ErrorWith(logger.Poller, "Error fetching due schedules: %v", err)
	} else {
		metrics.DueSchedules.Set(float64(len(schedules)))
		if len(schedules) > 0 {
			p.logger.InfoWith(logger.Poller, "Found %d due schedules", len(schedules))
		}

		for _, schedule := range schedules {
			// Skip paused schedules here to spare a full dispatch; the
			// evaluator would deny them anyway
			if rule, ok := p.rules.Get(schedule.ID); ok && rule.IsPaused {
				continue
			}
			// A queued schedule that is still cooling down stays off the
			// due path; the retry sweep re-dispatches it once eligible
			if p.queue.Contains(schedule.ID) && !p.queue.IsDue(schedule.ID, p.dispatcher.cooldownFor(schedule.ID)) {
				continue
			}
			p.dispatchCandidate(ctx, schedule.ID, "due")
		}
	}

	p.sweepRetries(ctx)
	p.refreshGasGauge(ctx)
}

// sweepRetries re-dispatches every queued schedule whose cooldown has
// elapsed, even if its natural due time has not arrived. This is how
// blocked-then-improved conditions get picked back up.
func (p *Poller) sweepRetries(ctx context.Context) {
	for _, scheduleID := range p.queue.IDs() {
		cooldown := p.dispatcher.cooldownFor(scheduleID)
		if !p.queue.IsDue(scheduleID, cooldown) {
			continue
		}
		p.logger.InfoWith(logger.Retry, "Cooldown elapsed for schedule %s, re-dispatching", scheduleID)
		metrics.RetriesExecuted.WithLabelValues("cooldown_elapsed").Inc()
		p.dispatchCandidate(ctx, scheduleID, "retry")
	}
}

func (p *Poller) dispatchCandidate(ctx context.Context, scheduleID, source string) {
	if _, err := p.dispatcher.Dispatch(ctx, scheduleID); err != nil {
		if errors.Is(err, ErrAlreadyInFlight) {
			return
		}
		p.logger.ErrorWith(logger.Poller, "Dispatch of %s schedule %s failed: %v", source, scheduleID, err)
	}
}

// refreshGasGauge publishes the last observed gas price; purely
// best-effort observability
func (p *Poller) refreshGasGauge(ctx context.Context) {
	gasPrice, err := p.gas.CurrentGasPriceGwei(ctx)
	if err != nil {
		p.logger.DebugWith(logger.Poller, "Gas gauge refresh failed: %v", err)
		return
	}
	metrics.GasPriceGwei.Set(float64(gasPrice))
}
