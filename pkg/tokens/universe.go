// Package tokens maintains the per-chain token universe the brain scans.
package tokens

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gocache "github.com/patrickmn/go-cache"

	"github.com/vegas-max/titan-arb/pkg/config"
	"github.com/vegas-max/titan-arb/pkg/types"
)

// Tier sets for symbol-based classification when the config leaves the
// tier blank.
var (
	stableSymbols = map[string]bool{
		"USDC": true, "USDT": true, "DAI": true, "FRAX": true, "LUSD": true,
	}
	majorSymbols = map[string]bool{
		"WETH": true, "ETH": true, "WBTC": true, "BTC": true,
		"ARB": true, "OP": true, "LINK": true, "UNI": true, "AAVE": true,
	}
)

// ClassifyTier maps a symbol to its liquidity tier.
func ClassifyTier(symbol string) types.LiquidityTier {
	s := strings.ToUpper(symbol)
	if stableSymbols[s] {
		return types.TierStable
	}
	if majorSymbols[s] {
		return types.TierMajor
	}
	return types.TierAlt
}

// Universe holds the tracked tokens per chain, plus a short-lived
// discovery cache for tokens learned at runtime.
type Universe struct {
	mu        sync.RWMutex
	byChain   map[uint64][]types.Token
	bySymbol  map[string]types.Token // "chainID:SYMBOL"
	discovery *gocache.Cache
}

// NewUniverse builds the universe from configuration.
func NewUniverse(cfg *config.Config) (*Universe, error) {
	u := &Universe{
		byChain:  make(map[uint64][]types.Token),
		bySymbol: make(map[string]types.Token),
		discovery: gocache.New(
			time.Duration(cfg.Detection.DiscoveryCacheTTL)*time.Second,
			10*time.Minute,
		),
	}
	for _, ts := range cfg.Tokens {
		if !common.IsHexAddress(ts.Address) {
			return nil, fmt.Errorf("token %s on chain %d: invalid address %q",
				ts.Symbol, ts.ChainID, ts.Address)
		}
		tier := types.LiquidityTier(ts.Tier)
		if tier == "" {
			tier = ClassifyTier(ts.Symbol)
		}
		tok := types.Token{
			Symbol:   strings.ToUpper(ts.Symbol),
			Address:  common.HexToAddress(ts.Address),
			Decimals: uint8(ts.Decimals),
			Tier:     tier,
		}
		u.add(tok, ts.ChainID)
	}
	return u, nil
}

func (u *Universe) add(tok types.Token, chainID uint64) {
	u.byChain[chainID] = append(u.byChain[chainID], tok)
	u.bySymbol[key(chainID, tok.Symbol)] = tok
}

func key(chainID uint64, symbol string) string {
	return fmt.Sprintf("%d:%s", chainID, strings.ToUpper(symbol))
}

// OnChain returns the tracked tokens for a chain.
func (u *Universe) OnChain(chainID uint64) []types.Token {
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := make([]types.Token, len(u.byChain[chainID]))
	copy(out, u.byChain[chainID])
	return out
}

// Lookup returns a token by chain and symbol.
func (u *Universe) Lookup(chainID uint64, symbol string) (types.Token, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	tok, ok := u.bySymbol[key(chainID, symbol)]
	return tok, ok
}

// Stables returns the stable tokens on a chain, used as loan assets
// and route intermediaries.
func (u *Universe) Stables(chainID uint64) []types.Token {
	u.mu.RLock()
	defer u.mu.RUnlock()
	var out []types.Token
	for _, t := range u.byChain[chainID] {
		if t.Tier == types.TierStable {
			out = append(out, t)
		}
	}
	return out
}

// ScanTargets returns the tokens to scan this cycle. Tiered cadence:
// stables and majors every cycle, alts only every fifth.
func (u *Universe) ScanTargets(chainID uint64, cycle int64) []types.Token {
	u.mu.RLock()
	defer u.mu.RUnlock()
	var out []types.Token
	for _, t := range u.byChain[chainID] {
		if t.Tier == types.TierAlt && cycle%5 != 0 {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Discover records a token learned at runtime (e.g. seen in a pool we
// quote against). Discovered tokens expire from the cache and must be
// re-seen to stay hot.
func (u *Universe) Discover(chainID uint64, tok types.Token) {
	k := key(chainID, tok.Symbol)
	if _, known := u.Lookup(chainID, tok.Symbol); known {
		return
	}
	if _, cached := u.discovery.Get(k); !cached {
		log.Printf("[INFO] tokens: discovered %s on chain %d (%s)", tok.Symbol, chainID, tok.Address.Hex())
	}
	u.discovery.SetDefault(k, tok)
}

// Discovered returns the currently cached discovered tokens for a chain.
func (u *Universe) Discovered(chainID uint64) []types.Token {
	prefix := fmt.Sprintf("%d:", chainID)
	var out []types.Token
	for k, item := range u.discovery.Items() {
		if strings.HasPrefix(k, prefix) {
			if tok, ok := item.Object.(types.Token); ok {
				out = append(out, tok)
			}
		}
	}
	return out
}

// Refresh promotes long-lived discovered tokens into the tracked set.
// Run periodically from the scheduler.
func (u *Universe) Refresh() {
	u.mu.Lock()
	defer u.mu.Unlock()
	promoted := 0
	for k, item := range u.discovery.Items() {
		tok, ok := item.Object.(types.Token)
		if !ok {
			continue
		}
		if _, exists := u.bySymbol[k]; exists {
			continue
		}
		var chainID uint64
		if _, err := fmt.Sscanf(k, "%d:", &chainID); err != nil {
			continue
		}
		u.byChain[chainID] = append(u.byChain[chainID], tok)
		u.bySymbol[k] = tok
		promoted++
	}
	if promoted > 0 {
		log.Printf("[INFO] tokens: promoted %d discovered token(s)", promoted)
	}
}
