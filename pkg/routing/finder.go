// Package routing enumerates candidate arbitrage routes from a cycle's
// quote book.
package routing

import (
	"math/big"

	"github.com/vegas-max/titan-arb/pkg/market"
	"github.com/vegas-max/titan-arb/pkg/types"
)

// Finder builds two-hop round-trip routes: loan token out through one
// venue, back through another. Candidates are returned in a
// deterministic venue order; the caller takes the first one that
// clears its profit gate rather than searching for the global best.
type Finder struct {
	quoter *market.Quoter
}

// NewFinder creates a route finder over the given quoter's venues.
func NewFinder(quoter *market.Quoter) *Finder {
	return &Finder{quoter: quoter}
}

// Candidates enumerates routes for one (loan, target) token pair on a
// chain. Same-venue round trips are skipped: they cancel out by
// construction.
func (f *Finder) Candidates(chainID uint64, loan, target types.Token, book *market.Book) []*types.Route {
	venues := f.quoter.Venues(chainID)
	var routes []*types.Route

	for _, buy := range venues {
		buyQ, ok := book.Get(buy.ID, loan.Address, target.Address)
		if !ok {
			continue
		}
		for _, sell := range venues {
			if sell.ID == buy.ID {
				continue
			}
			sellQ, ok := book.Get(sell.ID, target.Address, loan.Address)
			if !ok {
				continue
			}

			// The sell-side quote was taken at its own probe size;
			// scale its output linearly to the buy hop's output.
			sellOut := scaleOutput(sellQ, buyQ.AmountOut)
			if sellOut == nil || sellOut.Sign() <= 0 {
				continue
			}

			hop1 := types.RouteHop{
				DEX:       buy.ID,
				Protocol:  buy.Protocol,
				Router:    buy.Router,
				TokenIn:   loan,
				TokenOut:  target,
				AmountIn:  buyQ.AmountIn,
				AmountOut: buyQ.AmountOut,
				Extra:     feeExtra(buy),
				GasUnits:  market.GasUnits(buy.Protocol),
			}
			hop2 := types.RouteHop{
				DEX:       sell.ID,
				Protocol:  sell.Protocol,
				Router:    sell.Router,
				TokenIn:   target,
				TokenOut:  loan,
				AmountIn:  buyQ.AmountOut,
				AmountOut: sellOut,
				Extra:     feeExtra(sell),
				GasUnits:  market.GasUnits(sell.Protocol),
			}

			routes = append(routes, &types.Route{
				ChainID:      chainID,
				Token:        loan,
				Intermediary: target,
				Hops:         []types.RouteHop{hop1, hop2},
				GasEstimate:  hop1.GasUnits + hop2.GasUnits,
			})
		}
	}
	return routes
}

// scaleOutput linearly rescales a quote's output to a different input
// amount. Good enough for candidate ranking; sizing re-quotes later.
func scaleOutput(q *types.Quote, newIn *big.Int) *big.Int {
	if q.AmountIn == nil || q.AmountIn.Sign() <= 0 || newIn == nil {
		return nil
	}
	out := new(big.Int).Mul(q.AmountOut, newIn)
	return out.Div(out, q.AmountIn)
}

// feeExtra encodes the V3 fee tier as hop extra data.
func feeExtra(v market.Venue) []byte {
	if v.Protocol != market.ProtocolUniV3 || v.FeeTier == 0 {
		return nil
	}
	fee := v.FeeTier
	return []byte{byte(fee >> 16), byte(fee >> 8), byte(fee)}
}
