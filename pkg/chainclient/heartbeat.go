package chainclient

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/autopay-hq/autopay-engine/pkg/logger"
)

// heartbeatRetryDelay is the wait before re-subscribing after the
// new-head stream drops
const heartbeatRetryDelay = 5 * time.Second

// staleHeadThreshold marks the connection unhealthy when no new head has
// arrived for this long
const staleHeadThreshold = 2 * time.Minute

// heartbeat tracks block arrival as a liveness signal for the RPC
// connection
type heartbeat struct {
	mu        sync.Mutex
	lastHead  uint64
	lastSeen  time.Time
	observing bool
}

func (h *heartbeat) record(blockNumber uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastHead = blockNumber
	h.lastSeen = time.Now()
}

func (h *heartbeat) setObserving(observing bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.observing = observing
}

// healthy reports whether heads are flowing. A heartbeat that was never
// started does not count against the connection.
func (h *heartbeat) healthy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.observing {
		return true
	}
	return !h.lastSeen.IsZero() && time.Since(h.lastSeen) < staleHeadThreshold
}

// WatchHeads subscribes to new chain heads and keeps the liveness signal
// fresh until the context is cancelled, re-subscribing after transient
// stream failures
func (c *Client) WatchHeads(ctx context.Context) {
	c.beat.setObserving(true)
	defer c.beat.setObserving(false)

	for {
		if ctx.Err() != nil {
			return
		}

		heads := make(chan *types.Header, 16)
		sub, err := c.eth.SubscribeNewHead(ctx, heads)
		if err != nil {
			c.logger.ErrorWith(logger.Chain, "Failed to subscribe to new heads: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(heartbeatRetryDelay):
			}
			continue
		}

		c.logger.InfoWith(logger.Chain, "Watching new chain heads")
		if !c.consumeHeads(ctx, sub, heads) {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(heartbeatRetryDelay):
		}
	}
}

// consumeHeads records incoming heads until the stream fails (returns
// true) or the context is cancelled (returns false)
func (c *Client) consumeHeads(ctx context.Context, sub ethereum.Subscription, heads <-chan *types.Header) bool {
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return false
		case err := <-sub.Err():
			if err != nil {
				c.logger.ErrorWith(logger.Chain, "New-head stream error: %v", err)
			}
			return true
		case head := <-heads:
			if head != nil {
				c.beat.record(head.Number.Uint64())
			}
		}
	}
}
