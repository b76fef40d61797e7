package signals

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vegas-max/titan-arb/pkg/types"
)

// Publisher validates and dispatches execution signals. A route shape
// is dispatched at most once per dedup window even if multiple cycles
// rediscover it.
type Publisher struct {
	transport Transport

	mu       sync.Mutex
	recent   map[string]time.Time // route fingerprint -> last publish
	dedupTTL time.Duration

	published int64
}

// NewPublisher wraps a transport with validation and dedup.
func NewPublisher(transport Transport, dedupTTL time.Duration) *Publisher {
	return &Publisher{
		transport: transport,
		recent:    make(map[string]time.Time),
		dedupTTL:  dedupTTL,
	}
}

// Build assembles a signal from an admitted opportunity and its loan
// plan. Every hop gets the slippage-floored minimum output.
func Build(opp *types.Opportunity, loan types.LoanPlan, slippageBps int) (*types.ExecutionSignal, error) {
	if opp.Route == nil || len(opp.Route.Hops) == 0 {
		return nil, fmt.Errorf("opportunity %s has no route", opp.ID)
	}

	hops := make([]types.SignalHop, 0, len(opp.Route.Hops))
	for i, h := range opp.Route.Hops {
		if h.AmountOut == nil || h.AmountOut.Sign() <= 0 {
			return nil, fmt.Errorf("hop %d of %s has no expected output", i, opp.ID)
		}
		minOut := applySlippage(h.AmountOut, slippageBps)
		if minOut.Sign() <= 0 {
			return nil, fmt.Errorf("hop %d of %s floors to zero min output", i, opp.ID)
		}
		hops = append(hops, types.SignalHop{
			Protocol: h.Protocol,
			Router:   h.Router,
			TokenOut: h.TokenOut.Address,
			MinOut:   minOut,
			Extra:    h.Extra,
		})
	}

	return &types.ExecutionSignal{
		ID:           uuid.NewString(),
		ChainID:      opp.ChainID,
		Token:        opp.Token,
		Loan:         loan,
		Hops:         hops,
		ExpiryBlock:  opp.ExpiryBlock,
		NetProfit:    opp.NetProfit,
		GasPriceGwei: opp.GasPriceGwei,
		Score:        opp.Confidence,
		CreatedAt:    time.Now(),
	}, nil
}

// Publish sends a signal unless its route was already dispatched
// within the dedup window. Returns true when the signal went out.
func (p *Publisher) Publish(ctx context.Context, sig *types.ExecutionSignal, fingerprint string) (bool, error) {
	p.mu.Lock()
	now := time.Now()
	if last, seen := p.recent[fingerprint]; seen && now.Sub(last) < p.dedupTTL {
		p.mu.Unlock()
		return false, nil
	}
	p.recent[fingerprint] = now
	for fp, at := range p.recent {
		if now.Sub(at) > p.dedupTTL {
			delete(p.recent, fp)
		}
	}
	p.mu.Unlock()

	if err := p.transport.Publish(ctx, sig); err != nil {
		return false, err
	}
	p.mu.Lock()
	p.published++
	p.mu.Unlock()
	log.Printf("[INFO] signals: published %s chain=%d token=%s net=$%s",
		sig.ID, sig.ChainID, sig.Token.Symbol, sig.NetProfit.StringFixed(2))
	return true, nil
}

// Published returns the total signals sent.
func (p *Publisher) Published() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.published
}

// applySlippage floors an amount by the slippage tolerance.
func applySlippage(amount *big.Int, slippageBps int) *big.Int {
	keep := big.NewInt(10000 - int64(slippageBps))
	out := new(big.Int).Mul(amount, keep)
	return out.Div(out, big.NewInt(10000))
}
