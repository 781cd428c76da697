package models

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// TriggerKind identifies the chain event a trigger reacts to
type TriggerKind string

const (
	// TriggerTokenReceived fires on ERC20 transfers to a watched address
	TriggerTokenReceived TriggerKind = "token_received"
	// TriggerNativeReceived fires on native asset transfers
	TriggerNativeReceived TriggerKind = "native_received"
	// TriggerNFTReceived fires on NFT transfers
	TriggerNFTReceived TriggerKind = "nft_received"
	// TriggerContractCall fires on calls to a watched contract
	TriggerContractCall TriggerKind = "contract_call"
	// TriggerPriceThreshold fires when a price feed crosses a threshold
	TriggerPriceThreshold TriggerKind = "price_threshold"
)

var validTriggerKinds = map[TriggerKind]bool{
	TriggerTokenReceived:  true,
	TriggerNativeReceived: true,
	TriggerNFTReceived:    true,
	TriggerContractCall:   true,
	TriggerPriceThreshold: true,
}

// EventTrigger maps a chain event pattern to a schedule. When an observed
// event matches the filters, the schedule is handed to the dispatcher for
// immediate evaluation.
type EventTrigger struct {
	ScheduleID      string      `json:"schedule_id"`
	Kind            TriggerKind `json:"kind"`
	FromFilter      string      `json:"from_filter,omitempty"`
	ToFilter        string      `json:"to_filter,omitempty"`
	MinAmount       string      `json:"min_amount,omitempty"` // base units, decimal string
	IsActive        bool        `json:"is_active"`
	LastTriggeredAt time.Time   `json:"last_triggered_at,omitempty"`
}

// Validate checks the trigger for malformed values
func (t *EventTrigger) Validate() error {
	if t.ScheduleID == "" {
		return fmt.Errorf("event trigger requires a schedule id")
	}
	if !validTriggerKinds[t.Kind] {
		return fmt.Errorf("unknown trigger kind: %s", t.Kind)
	}
	if t.MinAmount != "" {
		if _, ok := new(big.Int).SetString(t.MinAmount, 10); !ok {
			return fmt.Errorf("invalid min amount: %s", t.MinAmount)
		}
	}
	return nil
}

// Matches tests a transfer event against the trigger filters. Address
// filters compare case-insensitively, the amount filter uses big integer
// comparison on the decimal strings.
func (t *EventTrigger) Matches(event TransferEvent) bool {
	if !t.IsActive {
		return false
	}
	if t.FromFilter != "" && !strings.EqualFold(t.FromFilter, event.From) {
		return false
	}
	if t.ToFilter != "" && !strings.EqualFold(t.ToFilter, event.To) {
		return false
	}
	if t.MinAmount != "" {
		minAmount, ok := new(big.Int).SetString(t.MinAmount, 10)
		if !ok {
			return false
		}
		amount, ok := new(big.Int).SetString(event.Amount, 10)
		if !ok {
			return false
		}
		if amount.Cmp(minAmount) < 0 {
			return false
		}
	}
	return true
}

// TransferEvent is a transfer-like event observed on chain
type TransferEvent struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Amount      string `json:"amount"` // base units, decimal string
	Token       string `json:"token"`
	BlockNumber uint64 `json:"block_number"`
	TxHash      string `json:"tx_hash"`
}
