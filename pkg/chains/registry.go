// Package chains manages RPC connectivity to the EVM chains the
// system scans and executes on.
package chains

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/vegas-max/titan-arb/pkg/config"
	"github.com/vegas-max/titan-arb/pkg/retry"
)

// Chain is a connected chain with a pool of RPC endpoints. Calls
// rotate to the next endpoint after a failure.
type Chain struct {
	ID           uint64
	Name         string
	NativeSymbol string
	Settlement   string
	BlockTime    time.Duration

	mu      sync.Mutex
	clients []*ethclient.Client
	urls    []string
	active  int

	retryPolicy retry.Policy
}

// Client returns the currently active RPC client.
func (c *Chain) Client() *ethclient.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clients[c.active]
}

// rotate advances to the next endpoint in the pool.
func (c *Chain) rotate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.clients) < 2 {
		return
	}
	c.active = (c.active + 1) % len(c.clients)
	log.Printf("[WARN] chain %s: rotated RPC endpoint to %s", c.Name, c.urls[c.active])
}

// Call runs fn against the active client under the shared retry
// policy, rotating endpoints between failed attempts.
func (c *Chain) Call(ctx context.Context, fn func(*ethclient.Client) error) error {
	return retry.Do(ctx, c.retryPolicy, func() error {
		err := fn(c.Client())
		if err != nil {
			c.rotate()
		}
		return err
	})
}

// BlockNumber returns the current head block number.
func (c *Chain) BlockNumber(ctx context.Context) (uint64, error) {
	var n uint64
	err := c.Call(ctx, func(cl *ethclient.Client) error {
		var err error
		n, err = cl.BlockNumber(ctx)
		return err
	})
	return n, err
}

// SuggestGasPrice returns the node's suggested gas price in wei.
func (c *Chain) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	var p *big.Int
	err := c.Call(ctx, func(cl *ethclient.Client) error {
		var err error
		p, err = cl.SuggestGasPrice(ctx)
		return err
	})
	return p, err
}

// Close releases all RPC connections.
func (c *Chain) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cl := range c.clients {
		cl.Close()
	}
}

// Registry holds all connected chains keyed by chain ID.
type Registry struct {
	mu     sync.RWMutex
	chains map[uint64]*Chain
}

// NewRegistry dials every enabled chain in the configuration. It
// verifies the reported chain ID matches before accepting an endpoint.
func NewRegistry(ctx context.Context, cfg *config.Config) (*Registry, error) {
	r := &Registry{chains: make(map[uint64]*Chain)}

	for _, cs := range cfg.EnabledChains() {
		ch := &Chain{
			ID:           cs.ChainID,
			Name:         cs.Name,
			NativeSymbol: cs.NativeSymbol,
			Settlement:   cs.Settlement,
			BlockTime:    time.Duration(cs.BlockTimeMs) * time.Millisecond,
			retryPolicy:  cfg.Retry,
		}
		for _, url := range cs.RPCURLs {
			client, err := ethclient.DialContext(ctx, url)
			if err != nil {
				log.Printf("[WARN] chain %s: failed to dial %s: %v", cs.Name, url, err)
				continue
			}
			reported, err := client.ChainID(ctx)
			if err != nil || reported.Uint64() != cs.ChainID {
				log.Printf("[WARN] chain %s: endpoint %s reported chain id %v, want %d",
					cs.Name, url, reported, cs.ChainID)
				client.Close()
				continue
			}
			ch.clients = append(ch.clients, client)
			ch.urls = append(ch.urls, url)
		}
		if len(ch.clients) == 0 {
			r.Close()
			return nil, fmt.Errorf("chain %s (%d): no usable RPC endpoints", cs.Name, cs.ChainID)
		}
		log.Printf("[INFO] chain %s: connected, %d endpoint(s)", cs.Name, len(ch.clients))
		r.chains[cs.ChainID] = ch
	}

	if len(r.chains) == 0 {
		return nil, fmt.Errorf("no chains connected")
	}
	return r, nil
}

// Get returns the chain for the given ID.
func (r *Registry) Get(chainID uint64) (*Chain, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.chains[chainID]
	return ch, ok
}

// All returns every connected chain.
func (r *Registry) All() []*Chain {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Chain, 0, len(r.chains))
	for _, ch := range r.chains {
		out = append(out, ch)
	}
	return out
}

// Close disconnects every chain.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.chains {
		ch.Close()
	}
	r.chains = map[uint64]*Chain{}
}
