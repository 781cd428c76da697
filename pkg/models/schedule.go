package models

import (
	"time"
)

// Schedule represents a recurring or one-shot payment intent
type Schedule struct {
	ID                string    `json:"id"`
	Payer             string    `json:"payer"`
	Recipient         string    `json:"recipient"`
	Token             string    `json:"token"`
	Amount            string    `json:"amount"`   // base units, decimal string
	Interval          int64     `json:"interval"` // seconds between executions, 0 for one-shot
	NextExecutionTime time.Time `json:"next_execution_time"`
	ExecutionsLeft    int       `json:"executions_left"`
	IsActive          bool      `json:"is_active"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// IsDue returns true if the schedule is active and its next execution time has passed
func (s *Schedule) IsDue(now time.Time) bool {
	return s.IsActive && !s.NextExecutionTime.After(now)
}

// ExecutionResult holds the outcome of a submitted payment transaction
type ExecutionResult struct {
	TxHash      string `json:"tx_hash"`
	GasUsed     uint64 `json:"gas_used"`
	BlockNumber uint64 `json:"block_number"`
}
