// Package watchtower maintains the event trigger registry and the live
// chain event subscription that turns matching events into dispatch
// candidates.
package watchtower

import (
	"fmt"
	"sync"
	"time"

	"github.com/autopay-hq/autopay-engine/pkg/metrics"
	"github.com/autopay-hq/autopay-engine/pkg/models"
)

// Registry maps schedules to their event trigger, at most one per schedule
type Registry struct {
	mu       sync.RWMutex
	triggers map[string]models.EventTrigger
}

// NewRegistry creates an empty trigger registry
func NewRegistry() *Registry {
	return &Registry{
		triggers: make(map[string]models.EventTrigger),
	}
}

// Add validates and stores a trigger, replacing any existing trigger for
// the same schedule
func (r *Registry) Add(trigger models.EventTrigger) error {
	if err := trigger.Validate(); err != nil {
		return fmt.Errorf("invalid event trigger: %v", err)
	}
	trigger.IsActive = true

	r.mu.Lock()
	defer r.mu.Unlock()
	r.triggers[trigger.ScheduleID] = trigger
	metrics.ActiveTriggers.Set(float64(len(r.triggers)))
	return nil
}

// Remove deletes the trigger for a schedule, reporting whether one existed
func (r *Registry) Remove(scheduleID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, existed := r.triggers[scheduleID]
	delete(r.triggers, scheduleID)
	metrics.ActiveTriggers.Set(float64(len(r.triggers)))
	return existed
}

// Get returns the trigger for a schedule, if one exists
func (r *Registry) Get(scheduleID string) (models.EventTrigger, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	trigger, ok := r.triggers[scheduleID]
	return trigger, ok
}

// Count returns the number of registered triggers
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.triggers)
}

// Match returns every active trigger that matches the event. Matching
// works on a read lock and never mutates trigger state.
func (r *Registry) Match(event models.TransferEvent) []models.EventTrigger {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := []models.EventTrigger{}
	for _, trigger := range r.triggers {
		if trigger.Matches(event) {
			matched = append(matched, trigger)
		}
	}
	return matched
}

// MarkTriggered records the instant a trigger last fired
func (r *Registry) MarkTriggered(scheduleID string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	trigger, ok := r.triggers[scheduleID]
	if !ok {
		return
	}
	trigger.LastTriggeredAt = at
	r.triggers[scheduleID] = trigger
}
