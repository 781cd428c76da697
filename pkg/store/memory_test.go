package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopay-hq/autopay-engine/pkg/models"
)

func testSchedule(id string) models.Schedule {
	return models.Schedule{
		ID:                id,
		Payer:             "0xPayer",
		Recipient:         "0xRecipient",
		Token:             "0xToken",
		Amount:            "1000000",
		Interval:          3600,
		NextExecutionTime: time.Now().Add(-time.Minute),
		ExecutionsLeft:    3,
		IsActive:          true,
	}
}

func TestMemoryStoreCreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Create(ctx, testSchedule("sched-1")))

	schedule, err := store.Get(ctx, "sched-1")
	require.NoError(t, err)
	assert.Equal(t, "sched-1", schedule.ID)
	assert.False(t, schedule.CreatedAt.IsZero())

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreCreateRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Create(ctx, testSchedule("sched-1")))
	assert.Error(t, store.Create(ctx, testSchedule("sched-1")))
	assert.Error(t, store.Create(ctx, models.Schedule{}))
}

func TestMemoryStoreFindDue(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()

	require.NoError(t, store.Create(ctx, testSchedule("due")))

	future := testSchedule("future")
	future.NextExecutionTime = now.Add(time.Hour)
	require.NoError(t, store.Create(ctx, future))

	inactive := testSchedule("inactive")
	inactive.IsActive = false
	require.NoError(t, store.Create(ctx, inactive))

	due, err := store.FindDue(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "due", due[0].ID)
}

func TestMemoryStoreAdvance(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	schedule := testSchedule("sched-1")
	before := schedule.NextExecutionTime
	require.NoError(t, store.Create(ctx, schedule))

	require.NoError(t, store.Advance(ctx, "sched-1", models.ExecutionResult{TxHash: "0xtx"}))

	advanced, err := store.Get(ctx, "sched-1")
	require.NoError(t, err)
	assert.Equal(t, 2, advanced.ExecutionsLeft)
	assert.Equal(t, before.Add(time.Hour), advanced.NextExecutionTime)
	assert.True(t, advanced.IsActive)

	assert.ErrorIs(t, store.Advance(ctx, "missing", models.ExecutionResult{}), ErrNotFound)
}

func TestMemoryStoreAdvanceExhaustsSchedule(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	schedule := testSchedule("sched-1")
	schedule.ExecutionsLeft = 1
	require.NoError(t, store.Create(ctx, schedule))

	require.NoError(t, store.Advance(ctx, "sched-1", models.ExecutionResult{}))

	exhausted, err := store.Get(ctx, "sched-1")
	require.NoError(t, err)
	assert.Equal(t, 0, exhausted.ExecutionsLeft)
	assert.False(t, exhausted.IsActive, "exhausted schedules deactivate")
}

func TestMemoryStoreAdvanceUnlimitedExecutions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	// Negative count means no execution limit
	schedule := testSchedule("sched-1")
	schedule.ExecutionsLeft = -1
	require.NoError(t, store.Create(ctx, schedule))

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Advance(ctx, "sched-1", models.ExecutionResult{}))
	}

	unlimited, err := store.Get(ctx, "sched-1")
	require.NoError(t, err)
	assert.Equal(t, -1, unlimited.ExecutionsLeft)
	assert.True(t, unlimited.IsActive)
}

func TestMemoryStoreAdvanceOneShot(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	// Zero interval is a one-shot payment
	schedule := testSchedule("sched-1")
	schedule.Interval = 0
	schedule.ExecutionsLeft = -1
	require.NoError(t, store.Create(ctx, schedule))

	require.NoError(t, store.Advance(ctx, "sched-1", models.ExecutionResult{}))

	oneShot, err := store.Get(ctx, "sched-1")
	require.NoError(t, err)
	assert.False(t, oneShot.IsActive)
}

func TestMemoryStoreDeactivate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Create(ctx, testSchedule("sched-1")))
	require.NoError(t, store.Deactivate(ctx, "sched-1"))

	schedule, err := store.Get(ctx, "sched-1")
	require.NoError(t, err)
	assert.False(t, schedule.IsActive)

	assert.ErrorIs(t, store.Deactivate(ctx, "missing"), ErrNotFound)
}
