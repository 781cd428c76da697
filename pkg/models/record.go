package models

import (
	"time"

	"github.com/google/uuid"
)

// Outcome classifies the result of a dispatch attempt
type Outcome string

const (
	// OutcomeSuccess means the payment was submitted on chain
	OutcomeSuccess Outcome = "success"
	// OutcomeDenied means the safety evaluator blocked the attempt
	OutcomeDenied Outcome = "denied"
	// OutcomeError means the chain write failed
	OutcomeError Outcome = "error"
)

// ExecutionRecord is an append-only audit entry produced after every
// dispatch attempt
type ExecutionRecord struct {
	ID         string    `json:"id"`
	ScheduleID string    `json:"schedule_id"`
	Timestamp  time.Time `json:"timestamp"`
	Outcome    Outcome   `json:"outcome"`
	Reason     string    `json:"reason,omitempty"`
	TxHash     string    `json:"tx_hash,omitempty"`
}

// NewExecutionRecord creates a record with a fresh identifier and timestamp
func NewExecutionRecord(scheduleID string, outcome Outcome, reason, txHash string) ExecutionRecord {
	return ExecutionRecord{
		ID:         uuid.NewString(),
		ScheduleID: scheduleID,
		Timestamp:  time.Now(),
		Outcome:    outcome,
		Reason:     reason,
		TxHash:     txHash,
	}
}
