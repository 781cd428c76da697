package engine

import (
	"sync"
	"time"

	"github.com/autopay-hq/autopay-engine/pkg/metrics"
)

// RetryQueue tracks schedules blocked by a transient condition. An entry
// exists only while the schedule's last verdict was a retryable denial;
// admission or an elapsed cooldown removes it.
type RetryQueue struct {
	mu      sync.RWMutex
	entries map[string]time.Time // schedule id -> last attempt
}

// NewRetryQueue creates an empty retry queue
func NewRetryQueue() *RetryQueue {
	return &RetryQueue{
		entries: make(map[string]time.Time),
	}
}

// Deny inserts the schedule or refreshes its last attempt timestamp
func (q *RetryQueue) Deny(scheduleID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries[scheduleID] = time.Now()
	metrics.RetryQueueSize.Set(float64(len(q.entries)))
}

// Admit removes the schedule from the queue
func (q *RetryQueue) Admit(scheduleID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.entries, scheduleID)
	metrics.RetryQueueSize.Set(float64(len(q.entries)))
}

// Contains reports whether the schedule is queued for retry
func (q *RetryQueue) Contains(scheduleID string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	_, ok := q.entries[scheduleID]
	return ok
}

// IsDue reports whether the schedule's cooldown has elapsed. Unqueued
// schedules are never due.
func (q *RetryQueue) IsDue(scheduleID string, cooldown time.Duration) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	lastAttempt, ok := q.entries[scheduleID]
	if !ok {
		return false
	}
	return !time.Now().Before(lastAttempt.Add(cooldown))
}

// NextEligible returns the instant the schedule's cooldown elapses. ok is
// false when the schedule is not queued.
func (q *RetryQueue) NextEligible(scheduleID string, cooldown time.Duration) (time.Time, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	lastAttempt, ok := q.entries[scheduleID]
	if !ok {
		return time.Time{}, false
	}
	return lastAttempt.Add(cooldown), true
}

// Size returns the number of queued schedules
func (q *RetryQueue) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.entries)
}

// IDs returns a snapshot of the queued schedule ids
func (q *RetryQueue) IDs() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()

	ids := make([]string, 0, len(q.entries))
	for id := range q.entries {
		ids = append(ids, id)
	}
	return ids
}
