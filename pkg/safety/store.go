package safety

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/autopay-hq/autopay-engine/pkg/logger"
	"github.com/autopay-hq/autopay-engine/pkg/models"
)

// ErrRuleNotFound is returned when no safety rule exists for a schedule
var ErrRuleNotFound = errors.New("safety rule not found")

// RuleStore holds the per-schedule safety rules. It is read on every
// candidate execution and mutated by user commands, so access is guarded.
type RuleStore struct {
	mu     sync.RWMutex
	rules  map[string]models.SafetyRule
	logger logger.Logger
}

// NewRuleStore creates an empty rule store
func NewRuleStore(log logger.Logger) *RuleStore {
	return &RuleStore{
		rules:  make(map[string]models.SafetyRule),
		logger: log,
	}
}

// Set validates and stores a rule, replacing any existing rule for the
// same schedule
func (s *RuleStore) Set(rule models.SafetyRule) error {
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("invalid safety rule: %v", err)
	}
	if rule.BrakeAboveMinimum() {
		s.logger.ErrorWith(logger.Safety,
			"Safety rule for schedule %s sets emergency brake %s above minimum balance %s, rule kept as configured",
			rule.ScheduleID, rule.EmergencyBrakeBalance, rule.MinWalletBalance)
	}
	rule.UpdatedAt = time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[rule.ScheduleID] = rule
	return nil
}

// Get returns the rule for a schedule, if one exists
func (s *RuleStore) Get(scheduleID string) (models.SafetyRule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rule, ok := s.rules[scheduleID]
	return rule, ok
}

// Pause marks a schedule as paused. A default rule is created when none
// exists so that a pause always sticks.
func (s *RuleStore) Pause(scheduleID, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, ok := s.rules[scheduleID]
	if !ok {
		rule = models.SafetyRule{ScheduleID: scheduleID}
	}
	rule.IsPaused = true
	rule.PauseReason = reason
	rule.UpdatedAt = time.Now()
	s.rules[scheduleID] = rule
}

// Unpause clears the pause flag on a schedule's rule
func (s *RuleStore) Unpause(scheduleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, ok := s.rules[scheduleID]
	if !ok {
		return ErrRuleNotFound
	}
	rule.IsPaused = false
	rule.PauseReason = ""
	rule.UpdatedAt = time.Now()
	s.rules[scheduleID] = rule
	return nil
}

// Remove deletes the rule for a schedule
func (s *RuleStore) Remove(scheduleID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rules, scheduleID)
}

// Count returns the number of stored rules
func (s *RuleStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules)
}
