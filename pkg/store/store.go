// Package store provides the durable record of payment schedules read by
// the poller and advanced by the dispatcher.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/autopay-hq/autopay-engine/pkg/models"
)

// ErrNotFound is returned when a schedule does not exist in the store
var ErrNotFound = errors.New("schedule not found")

// OrderStore is the engine's view of schedule persistence
type OrderStore interface {
	// Create registers a new schedule
	Create(ctx context.Context, schedule models.Schedule) error

	// Get returns a schedule by id
	Get(ctx context.Context, scheduleID string) (models.Schedule, error)

	// FindDue returns all active schedules whose next execution time has
	// passed
	FindDue(ctx context.Context, now time.Time) ([]models.Schedule, error)

	// Advance records a successful execution: it decrements the remaining
	// execution count, moves the next execution time forward by the
	// schedule's interval and deactivates exhausted schedules. The update
	// of the time/count pair is atomic.
	Advance(ctx context.Context, scheduleID string, result models.ExecutionResult) error

	// Deactivate marks a schedule inactive
	Deactivate(ctx context.Context, scheduleID string) error
}
