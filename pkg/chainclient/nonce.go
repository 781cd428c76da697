package chainclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/autopay-hq/autopay-engine/pkg/logger"
)

// nonceSyncInterval bounds how stale the local nonce counter may get
// before it is re-read from the node
const nonceSyncInterval = 5 * time.Minute

// NonceManager tracks the operator wallet's transaction nonce locally so
// sequential payments do not race the node's pending pool. Payments are
// submitted by a single writer, so a failed submission can safely hand its
// nonce back for the next attempt.
type NonceManager struct {
	mu       sync.Mutex
	current  uint64
	pending  map[uint64]common.Hash
	lastSync time.Time
	logger   logger.Logger
}

// NewNonceManager creates a nonce manager for one operator wallet
func NewNonceManager(log logger.Logger) *NonceManager {
	return &NonceManager{
		pending: make(map[uint64]common.Hash),
		logger:  log,
	}
}

// Reserve allocates the next nonce, re-syncing with the node when the
// local counter is stale
func (nm *NonceManager) Reserve(ctx context.Context, client *ethclient.Client, operator common.Address) (uint64, error) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	if nm.lastSync.IsZero() || time.Since(nm.lastSync) > nonceSyncInterval {
		nonce, err := client.PendingNonceAt(ctx, operator)
		if err != nil {
			return 0, fmt.Errorf("failed to get pending nonce: %v", err)
		}
		if nonce > nm.current {
			nm.logger.DebugWith(logger.Chain, "Syncing operator nonce %d -> %d", nm.current, nonce)
			nm.current = nonce
		}
		nm.lastSync = time.Now()
	}

	nonce := nm.current
	nm.current++
	return nonce, nil
}

// Submitted records the transaction occupying a reserved nonce
func (nm *NonceManager) Submitted(nonce uint64, txHash common.Hash) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	nm.pending[nonce] = txHash
}

// Confirmed releases a nonce whose transaction mined
func (nm *NonceManager) Confirmed(nonce uint64) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	delete(nm.pending, nonce)
}

// Release hands a nonce back after a failed submission. The nonce is only
// rewound when nothing lower is still pending, otherwise reusing it would
// collide with an in-pool transaction.
func (nm *NonceManager) Release(nonce uint64) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	delete(nm.pending, nonce)
	for pendingNonce := range nm.pending {
		if pendingNonce < nonce {
			return
		}
	}
	if nm.current > nonce {
		nm.logger.DebugWith(logger.Chain, "Reusing operator nonce %d after failed submission", nonce)
		nm.current = nonce
	}
}

// PendingCount returns the number of submitted but unconfirmed
// transactions
func (nm *NonceManager) PendingCount() int {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	return len(nm.pending)
}
