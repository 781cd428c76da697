package watchtower

import (
	"context"
	"sync"
	"time"

	"github.com/autopay-hq/autopay-engine/pkg/logger"
	"github.com/autopay-hq/autopay-engine/pkg/metrics"
	"github.com/autopay-hq/autopay-engine/pkg/models"
)

// EventChannelBuffer is the buffer size for the transfer event channel.
// Sized to absorb a short burst of transfers in a single block.
const EventChannelBuffer = 64

// resubscribeDelay is the wait before reconnecting after the event source
// drops the subscription
const resubscribeDelay = 5 * time.Second

// State describes the watchtower subscription lifecycle
type State int

const (
	StateInactive State = iota
	StateSubscribing
	StateActive
	StateUnsubscribing
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateSubscribing:
		return "subscribing"
	case StateActive:
		return "active"
	case StateUnsubscribing:
		return "unsubscribing"
	default:
		return "unknown"
	}
}

// Subscription is the handle to a live event stream
type Subscription interface {
	// Err reports a terminal subscription failure
	Err() <-chan error
	// Unsubscribe tears the subscription down
	Unsubscribe()
}

// EventSource abstracts the chain event stream so the matching logic is
// testable without a live RPC connection
type EventSource interface {
	// SubscribeTransfers delivers transfer-like events to the channel
	// until the subscription fails or is torn down
	SubscribeTransfers(ctx context.Context, events chan<- models.TransferEvent) (Subscription, error)
}

// FireFunc is invoked for every trigger matched by an observed event
type FireFunc func(trigger models.EventTrigger, event models.TransferEvent)

// Watchtower holds the chain event subscription while at least one trigger
// is registered and hands matching events to the dispatcher. Events missed
// during a disconnect are not recovered here: the due-schedule poller is
// the time-based backstop.
type Watchtower struct {
	source   EventSource
	registry *Registry
	fire     FireFunc
	logger   logger.Logger

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}

	fires sync.WaitGroup
}

// New creates a watchtower over the given event source and registry
func New(source EventSource, registry *Registry, fire FireFunc, log logger.Logger) *Watchtower {
	return &Watchtower{
		source:   source,
		registry: registry,
		fire:     fire,
		logger:   log,
		state:    StateInactive,
	}
}

// State returns the current lifecycle state
func (w *Watchtower) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// AddTrigger registers a trigger and brings the subscription up when the
// registry goes from empty to non-empty. Adding while already active is a
// registry update only.
func (w *Watchtower) AddTrigger(ctx context.Context, trigger models.EventTrigger) error {
	if err := w.registry.Add(trigger); err != nil {
		return err
	}
	w.ensureSubscribed(ctx)
	return nil
}

// RemoveTrigger removes a schedule's trigger and tears the subscription
// down when the registry becomes empty. Removing an unknown trigger is a
// no-op.
func (w *Watchtower) RemoveTrigger(scheduleID string) bool {
	existed := w.registry.Remove(scheduleID)
	if existed && w.registry.Count() == 0 {
		w.unsubscribe()
	}
	return existed
}

// Stop tears the subscription down regardless of registry contents
func (w *Watchtower) Stop() {
	w.unsubscribe()
}

func (w *Watchtower) ensureSubscribed(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateInactive {
		return
	}
	w.state = StateSubscribing

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.run(runCtx, w.done)
}

func (w *Watchtower) unsubscribe() {
	w.mu.Lock()
	if w.state == StateInactive || w.state == StateUnsubscribing {
		w.mu.Unlock()
		return
	}
	w.state = StateUnsubscribing
	cancel := w.cancel
	done := w.done
	w.mu.Unlock()

	cancel()
	<-done
	// Once unsubscribe returns, no dispatch may start behind the engine's
	// back; wait for in-flight trigger fires too
	w.fires.Wait()

	w.mu.Lock()
	w.state = StateInactive
	w.cancel = nil
	w.done = nil
	w.mu.Unlock()
	w.logger.NoticeWith(logger.Watchtower, "Event subscription stopped")
}

// run keeps the subscription alive, reconnecting after transient failures
func (w *Watchtower) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		if ctx.Err() != nil {
			return
		}

		events := make(chan models.TransferEvent, EventChannelBuffer)
		sub, err := w.source.SubscribeTransfers(ctx, events)
		if err != nil {
			w.logger.ErrorWith(logger.Watchtower, "Failed to subscribe to transfer events: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(resubscribeDelay):
			}
			continue
		}

		w.mu.Lock()
		if w.state == StateSubscribing {
			w.state = StateActive
		}
		w.mu.Unlock()
		w.logger.InfoWith(logger.Watchtower, "Subscribed to transfer events")

		if !w.consume(ctx, sub, events) {
			return
		}

		// Subscription dropped, reconnect after a short wait
		metrics.Resubscriptions.Inc()
		w.logger.ErrorWith(logger.Watchtower, "Event subscription dropped, resubscribing in %v", resubscribeDelay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(resubscribeDelay):
		}
	}
}

// consume drains events until the subscription fails (returns true) or the
// context is cancelled (returns false)
func (w *Watchtower) consume(ctx context.Context, sub Subscription, events <-chan models.TransferEvent) bool {
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return false
		case err := <-sub.Err():
			if err != nil {
				w.logger.ErrorWith(logger.Watchtower, "Subscription error: %v", err)
			}
			return true
		case event := <-events:
			w.handleEvent(event)
		}
	}
}

// handleEvent matches one observed event against every registered trigger
// and fires each match independently
func (w *Watchtower) handleEvent(event models.TransferEvent) {
	metrics.EventsObserved.Inc()
	w.logger.DebugWith(logger.Watchtower, "Transfer event %s -> %s amount %s (tx %s)",
		event.From, event.To, event.Amount, event.TxHash)

	matched := w.registry.Match(event)
	if len(matched) == 0 {
		return
	}

	now := time.Now()
	for _, trigger := range matched {
		w.registry.MarkTriggered(trigger.ScheduleID, now)
		metrics.TriggerFires.WithLabelValues(string(trigger.Kind)).Inc()
		w.logger.InfoWith(logger.Watchtower, "Trigger fired for schedule %s (kind %s, tx %s)",
			trigger.ScheduleID, trigger.Kind, event.TxHash)
		w.fires.Add(1)
		go func(trigger models.EventTrigger) {
			defer w.fires.Done()
			w.fire(trigger, event)
		}(trigger)
	}
}
