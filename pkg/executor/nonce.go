package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/vegas-max/titan-arb/pkg/chains"
)

// NonceManager hands out transaction nonces per (chain, wallet). It
// tracks in-flight nonces locally and resyncs from the chain's pending
// count when the local view drifts.
type NonceManager struct {
	registry *chains.Registry

	mu      sync.Mutex
	next    map[string]uint64          // chain:wallet -> next nonce
	pending map[string]map[uint64]bool // chain:wallet -> outstanding nonces
}

// NewNonceManager creates an empty manager.
func NewNonceManager(registry *chains.Registry) *NonceManager {
	return &NonceManager{
		registry: registry,
		next:     make(map[string]uint64),
		pending:  make(map[string]map[uint64]bool),
	}
}

func nonceKey(chainID uint64, wallet common.Address) string {
	return fmt.Sprintf("%d:%s", chainID, wallet.Hex())
}

// Reserve returns the next nonce for the wallet and marks it
// outstanding. The first reservation for a wallet syncs from the
// chain's pending transaction count.
func (m *NonceManager) Reserve(ctx context.Context, chainID uint64, wallet common.Address) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := nonceKey(chainID, wallet)
	if _, ok := m.next[key]; !ok {
		n, err := m.fetchPendingLocked(ctx, chainID, wallet)
		if err != nil {
			return 0, err
		}
		m.next[key] = n
		m.pending[key] = make(map[uint64]bool)
	}

	nonce := m.next[key]
	m.next[key] = nonce + 1
	m.pending[key][nonce] = true
	return nonce, nil
}

// Complete marks a reserved nonce as confirmed or permanently failed.
func (m *NonceManager) Complete(chainID uint64, wallet common.Address, nonce uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pending[nonceKey(chainID, wallet)]; ok {
		delete(p, nonce)
	}
}

// Release abandons a reserved nonce that was never broadcast. When the
// nonce is still the newest reservation the counter rolls back, so an
// unsent transaction leaves no gap behind it.
func (m *NonceManager) Release(chainID uint64, wallet common.Address, nonce uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := nonceKey(chainID, wallet)
	if p, ok := m.pending[key]; ok {
		delete(p, nonce)
	}
	if m.next[key] == nonce+1 {
		m.next[key] = nonce
	}
}

// Resync rebuilds the wallet's nonce state from the chain. Call after
// a timeout or "nonce too low" error leaves the local view suspect.
func (m *NonceManager) Resync(ctx context.Context, chainID uint64, wallet common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := m.fetchPendingLocked(ctx, chainID, wallet)
	if err != nil {
		return err
	}
	key := nonceKey(chainID, wallet)
	m.next[key] = n
	m.pending[key] = make(map[uint64]bool)
	return nil
}

// Outstanding returns how many nonces are reserved but not completed.
func (m *NonceManager) Outstanding(chainID uint64, wallet common.Address) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending[nonceKey(chainID, wallet)])
}

func (m *NonceManager) fetchPendingLocked(ctx context.Context, chainID uint64, wallet common.Address) (uint64, error) {
	ch, ok := m.registry.Get(chainID)
	if !ok {
		return 0, fmt.Errorf("chain %d not connected", chainID)
	}
	var n uint64
	err := ch.Call(ctx, func(cl *ethclient.Client) error {
		var err error
		n, err = cl.PendingNonceAt(ctx, wallet)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to fetch pending nonce: %w", err)
	}
	return n, nil
}
