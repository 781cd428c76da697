package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/autopay-hq/autopay-engine/pkg/models"
)

// MemoryStore is an in-memory OrderStore. It backs standalone deployments
// without an indexing service and all unit tests.
type MemoryStore struct {
	mu        sync.RWMutex
	schedules map[string]models.Schedule
}

var _ OrderStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		schedules: make(map[string]models.Schedule),
	}
}

// Create registers a new schedule
func (m *MemoryStore) Create(_ context.Context, schedule models.Schedule) error {
	if schedule.ID == "" {
		return fmt.Errorf("schedule requires an id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.schedules[schedule.ID]; exists {
		return fmt.Errorf("schedule %s already exists", schedule.ID)
	}
	now := time.Now()
	schedule.CreatedAt = now
	schedule.UpdatedAt = now
	m.schedules[schedule.ID] = schedule
	return nil
}

// Get returns a schedule by id
func (m *MemoryStore) Get(_ context.Context, scheduleID string) (models.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	schedule, ok := m.schedules[scheduleID]
	if !ok {
		return models.Schedule{}, ErrNotFound
	}
	return schedule, nil
}

// FindDue returns all active schedules whose next execution time has passed
func (m *MemoryStore) FindDue(_ context.Context, now time.Time) ([]models.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	due := []models.Schedule{}
	for _, schedule := range m.schedules {
		if schedule.IsDue(now) {
			due = append(due, schedule)
		}
	}
	return due, nil
}

// Advance records a successful execution. The next execution time and the
// remaining count change under a single lock so due-detection never sees
// a half-updated schedule.
func (m *MemoryStore) Advance(_ context.Context, scheduleID string, _ models.ExecutionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	schedule, ok := m.schedules[scheduleID]
	if !ok {
		return ErrNotFound
	}

	if schedule.ExecutionsLeft > 0 {
		schedule.ExecutionsLeft--
	}
	// A negative count means unlimited executions
	if schedule.ExecutionsLeft == 0 || schedule.Interval == 0 {
		schedule.IsActive = false
	}
	schedule.NextExecutionTime = schedule.NextExecutionTime.Add(time.Duration(schedule.Interval) * time.Second)
	schedule.UpdatedAt = time.Now()

	m.schedules[scheduleID] = schedule
	return nil
}

// Deactivate marks a schedule inactive
func (m *MemoryStore) Deactivate(_ context.Context, scheduleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	schedule, ok := m.schedules[scheduleID]
	if !ok {
		return ErrNotFound
	}
	schedule.IsActive = false
	schedule.UpdatedAt = time.Now()
	m.schedules[scheduleID] = schedule
	return nil
}
