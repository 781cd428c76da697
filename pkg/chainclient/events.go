package chainclient

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"

	"github.com/autopay-hq/autopay-engine/pkg/logger"
	"github.com/autopay-hq/autopay-engine/pkg/models"
	"github.com/autopay-hq/autopay-engine/pkg/watchtower"
)

// logChannelBuffer sizes the raw log channel to absorb a burst of
// transfers in a single block
const logChannelBuffer = 64

var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// logSubscription wraps the underlying subscription so tearing it down
// also stops the log conversion goroutine
type logSubscription struct {
	event.Subscription
	quit chan struct{}
	once sync.Once
}

func (s *logSubscription) Unsubscribe() {
	s.once.Do(func() { close(s.quit) })
	s.Subscription.Unsubscribe()
}

var _ watchtower.Subscription = (*logSubscription)(nil)

// SubscribeTransfers subscribes to Transfer logs of the payment token and
// converts each one into a TransferEvent on the given channel
func (c *Client) SubscribeTransfers(ctx context.Context, events chan<- models.TransferEvent) (watchtower.Subscription, error) {
	if c.eth == nil {
		return nil, fmt.Errorf("client not connected")
	}

	logs := make(chan types.Log, logChannelBuffer)
	query := ethereum.FilterQuery{
		Addresses: []common.Address{c.TokenAddress},
		Topics:    [][]common.Hash{{transferTopic}},
	}

	sub, err := c.eth.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to transfer logs: %v", err)
	}

	wrapped := &logSubscription{Subscription: sub, quit: make(chan struct{})}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-wrapped.quit:
				return
			case logEntry := <-logs:
				transfer, ok := c.parseTransferLog(logEntry)
				if !ok {
					continue
				}
				select {
				case events <- transfer:
				case <-ctx.Done():
					return
				case <-wrapped.quit:
					return
				}
			}
		}
	}()

	return wrapped, nil
}

// parseTransferLog decodes a raw Transfer log into a TransferEvent
func (c *Client) parseTransferLog(logEntry types.Log) (models.TransferEvent, bool) {
	if len(logEntry.Topics) < 3 {
		c.logger.DebugWith(logger.Chain, "Skipping malformed transfer log in tx %s", logEntry.TxHash.Hex())
		return models.TransferEvent{}, false
	}

	from := common.BytesToAddress(logEntry.Topics[1].Bytes())
	to := common.BytesToAddress(logEntry.Topics[2].Bytes())
	amount := new(big.Int).SetBytes(logEntry.Data)

	return models.TransferEvent{
		From:        from.Hex(),
		To:          to.Hex(),
		Amount:      amount.String(),
		Token:       logEntry.Address.Hex(),
		BlockNumber: logEntry.BlockNumber,
		TxHash:      logEntry.TxHash.Hex(),
	}, true
}
