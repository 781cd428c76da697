package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSafetyRuleValidate(t *testing.T) {
	tests := []struct {
		name    string
		rule    SafetyRule
		wantErr bool
	}{
		{
			name:    "minimal rule",
			rule:    SafetyRule{ScheduleID: "sched-1"},
			wantErr: false,
		},
		{
			name: "full rule",
			rule: SafetyRule{
				ScheduleID:            "sched-1",
				MaxGasPriceGwei:       50,
				MinWalletBalance:      "1000000",
				EmergencyBrakeBalance: "500000",
				RetryIntervalMinutes:  30,
			},
			wantErr: false,
		},
		{
			name:    "missing schedule id",
			rule:    SafetyRule{MaxGasPriceGwei: 50},
			wantErr: true,
		},
		{
			name:    "negative gas ceiling",
			rule:    SafetyRule{ScheduleID: "sched-1", MaxGasPriceGwei: -1},
			wantErr: true,
		},
		{
			name:    "malformed min balance",
			rule:    SafetyRule{ScheduleID: "sched-1", MinWalletBalance: "1.5e18"},
			wantErr: true,
		},
		{
			name:    "malformed brake balance",
			rule:    SafetyRule{ScheduleID: "sched-1", EmergencyBrakeBalance: "abc"},
			wantErr: true,
		},
		{
			name:    "negative retry interval",
			rule:    SafetyRule{ScheduleID: "sched-1", RetryIntervalMinutes: -5},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSafetyRuleRetryInterval(t *testing.T) {
	rule := SafetyRule{ScheduleID: "sched-1", RetryIntervalMinutes: 15}
	assert.Equal(t, 15*time.Minute, rule.RetryInterval())

	// Unset interval falls back to the default cooldown
	rule.RetryIntervalMinutes = 0
	assert.Equal(t, time.Duration(DefaultRetryIntervalMinutes)*time.Minute, rule.RetryInterval())
}

func TestSafetyRuleBrakeAboveMinimum(t *testing.T) {
	rule := SafetyRule{ScheduleID: "sched-1", MinWalletBalance: "1000", EmergencyBrakeBalance: "500"}
	assert.False(t, rule.BrakeAboveMinimum())

	rule.EmergencyBrakeBalance = "2000"
	assert.True(t, rule.BrakeAboveMinimum())

	// Unset floors can never conflict
	rule.MinWalletBalance = ""
	assert.False(t, rule.BrakeAboveMinimum())
}
