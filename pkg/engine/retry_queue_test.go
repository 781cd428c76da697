package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryQueueDenyAndAdmit(t *testing.T) {
	queue := NewRetryQueue()

	assert.False(t, queue.Contains("sched-1"))
	assert.Equal(t, 0, queue.Size())

	queue.Deny("sched-1")
	assert.True(t, queue.Contains("sched-1"))
	assert.Equal(t, 1, queue.Size())

	queue.Admit("sched-1")
	assert.False(t, queue.Contains("sched-1"))
	assert.Equal(t, 0, queue.Size())
}

func TestRetryQueueDenyIsIdempotent(t *testing.T) {
	queue := NewRetryQueue()

	queue.Deny("sched-1")
	queue.Deny("sched-1")

	assert.Equal(t, 1, queue.Size())
}

func TestRetryQueueDenyRefreshesTimestamp(t *testing.T) {
	queue := NewRetryQueue()

	queue.Deny("sched-1")
	first, ok := queue.NextEligible("sched-1", time.Hour)
	assert.True(t, ok)

	time.Sleep(5 * time.Millisecond)
	queue.Deny("sched-1")
	second, ok := queue.NextEligible("sched-1", time.Hour)
	assert.True(t, ok)

	// A repeated denial pushes the cooldown forward
	assert.True(t, second.After(first))
}

func TestRetryQueueIsDue(t *testing.T) {
	queue := NewRetryQueue()

	assert.False(t, queue.IsDue("sched-1", 0), "unqueued schedule is never due")

	queue.Deny("sched-1")
	assert.False(t, queue.IsDue("sched-1", time.Hour))
	assert.True(t, queue.IsDue("sched-1", 0))
}

func TestRetryQueueNextEligibleUnknown(t *testing.T) {
	queue := NewRetryQueue()

	_, ok := queue.NextEligible("sched-1", time.Hour)
	assert.False(t, ok)
}

func TestRetryQueueAdmitUnknownIsNoop(t *testing.T) {
	queue := NewRetryQueue()
	queue.Admit("sched-1")
	assert.Equal(t, 0, queue.Size())
}

func TestRetryQueueIDs(t *testing.T) {
	queue := NewRetryQueue()
	queue.Deny("sched-1")
	queue.Deny("sched-2")

	ids := queue.IDs()
	assert.Len(t, ids, 2)
	assert.ElementsMatch(t, []string{"sched-1", "sched-2"}, ids)
}
