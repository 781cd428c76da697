package models

import (
	"fmt"
	"math/big"
	"time"
)

// DefaultRetryIntervalMinutes is the cooldown applied between retry attempts
// when a rule does not configure its own interval
const DefaultRetryIntervalMinutes = 60

// SafetyRule holds the user-configured guard conditions for a schedule.
// At most one rule exists per schedule. Zero values mean "unset": the
// evaluator falls back to global defaults for the gas ceiling and skips
// balance checks entirely when no floor is configured.
type SafetyRule struct {
	ScheduleID            string    `json:"schedule_id"`
	MaxGasPriceGwei       int64     `json:"max_gas_price_gwei,omitempty"`      // 0 = use global ceiling
	MinWalletBalance      string    `json:"min_wallet_balance,omitempty"`      // base units, decimal string, "" = unset
	EmergencyBrakeBalance string    `json:"emergency_brake_balance,omitempty"` // base units, decimal string, "" = unset
	RetryIntervalMinutes  int       `json:"retry_interval_minutes"`
	IsPaused              bool      `json:"is_paused"`
	PauseReason           string    `json:"pause_reason,omitempty"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// RetryInterval returns the configured cooldown as a duration
func (r *SafetyRule) RetryInterval() time.Duration {
	minutes := r.RetryIntervalMinutes
	if minutes <= 0 {
		minutes = DefaultRetryIntervalMinutes
	}
	return time.Duration(minutes) * time.Minute
}

// Validate checks the rule for malformed values. The emergency brake sitting
// above the minimum balance is tolerated (the evaluator treats it
// permissively) and reported separately by BrakeAboveMinimum.
func (r *SafetyRule) Validate() error {
	if r.ScheduleID == "" {
		return fmt.Errorf("safety rule requires a schedule id")
	}
	if r.MaxGasPriceGwei < 0 {
		return fmt.Errorf("max gas price must not be negative: %d", r.MaxGasPriceGwei)
	}
	if r.RetryIntervalMinutes < 0 {
		return fmt.Errorf("retry interval must not be negative: %d", r.RetryIntervalMinutes)
	}
	if r.MinWalletBalance != "" {
		if _, ok := new(big.Int).SetString(r.MinWalletBalance, 10); !ok {
			return fmt.Errorf("invalid min wallet balance: %s", r.MinWalletBalance)
		}
	}
	if r.EmergencyBrakeBalance != "" {
		if _, ok := new(big.Int).SetString(r.EmergencyBrakeBalance, 10); !ok {
			return fmt.Errorf("invalid emergency brake balance: %s", r.EmergencyBrakeBalance)
		}
	}
	return nil
}

// BrakeAboveMinimum reports whether the emergency brake balance exceeds the
// minimum wallet balance. This is a configuration mistake: the brake is
// supposed to be the harder floor.
func (r *SafetyRule) BrakeAboveMinimum() bool {
	if r.MinWalletBalance == "" || r.EmergencyBrakeBalance == "" {
		return false
	}
	minBalance, ok1 := new(big.Int).SetString(r.MinWalletBalance, 10)
	brake, ok2 := new(big.Int).SetString(r.EmergencyBrakeBalance, 10)
	if !ok1 || !ok2 {
		return false
	}
	return brake.Cmp(minBalance) > 0
}
