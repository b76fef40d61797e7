package profit

import (
	"context"
	"errors"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/vegas-max/titan-arb/pkg/types"
)

// ErrInfeasible means no loan size in the allowed band clears the
// profit floor.
var ErrInfeasible = errors.New("no profitable loan size in bounds")

// ErrSlippageExceeded is returned by an EvalAtSize whose realized
// output falls short of the linear expectation by more than the
// slippage tolerance. The optimizer treats it as an upper bound on
// size; at the floor it makes the opportunity infeasible.
var ErrSlippageExceeded = errors.New("price impact above slippage ceiling")

// SizeBounds is the allowed loan band for one opportunity.
type SizeBounds struct {
	MinUSD     decimal.Decimal // absolute floor (MIN_LOAN_USD)
	PoolTVLUSD decimal.Decimal // shallowest pool on the route
	RiskFrac   decimal.Decimal // fraction of TVL we will borrow
}

// Cap returns the band's upper bound in USD.
func (b SizeBounds) Cap() decimal.Decimal {
	return b.PoolTVLUSD.Mul(b.RiskFrac)
}

// EvalAtSize re-prices a route at a concrete loan size and returns the
// net USD profit. Implementations typically re-quote on-chain.
type EvalAtSize func(ctx context.Context, amount *big.Int) (decimal.Decimal, error)

// Optimizer finds the most profitable loan size inside the band by
// ternary search. Profit is assumed unimodal in size: it rises until
// price impact eats the edge, then falls.
type Optimizer struct {
	iterations int
}

// NewOptimizer creates an optimizer. iterations bounds re-quote count.
func NewOptimizer(iterations int) *Optimizer {
	if iterations < 1 {
		iterations = 12
	}
	return &Optimizer{iterations: iterations}
}

// Size picks a loan amount for the token. loanUSDPrice converts the
// band to raw token units; eval prices candidate sizes. Returns
// ErrInfeasible when the band is empty or the best size still fails
// the profit floor.
func (o *Optimizer) Size(ctx context.Context, token types.Token, bounds SizeBounds, loanUSDPrice, minNetUSD decimal.Decimal, eval EvalAtSize) (*big.Int, decimal.Decimal, error) {
	upper := bounds.Cap()
	if upper.LessThan(bounds.MinUSD) {
		return nil, decimal.Zero, ErrInfeasible
	}
	if loanUSDPrice.IsZero() {
		return nil, decimal.Zero, ErrInfeasible
	}

	lo := usdToUnits(bounds.MinUSD, loanUSDPrice, token)
	hi := usdToUnits(upper, loanUSDPrice, token)

	bestAmount := new(big.Int).Set(lo)
	bestProfit, err := eval(ctx, bestAmount)
	if errors.Is(err, ErrSlippageExceeded) {
		// Even the floor moves the market too much.
		return nil, decimal.Zero, ErrInfeasible
	}
	if err != nil {
		return nil, decimal.Zero, err
	}

	two := big.NewInt(2)
	three := big.NewInt(3)
	for i := 0; i < o.iterations && lo.Cmp(hi) < 0; i++ {
		span := new(big.Int).Sub(hi, lo)
		third := new(big.Int).Div(span, three)
		if third.Sign() == 0 {
			break
		}
		m1 := new(big.Int).Add(lo, third)
		m2 := new(big.Int).Add(lo, new(big.Int).Mul(third, two))

		p1, err := eval(ctx, m1)
		if errors.Is(err, ErrSlippageExceeded) {
			// Impact grows with size; everything above m1 slips too.
			hi = m1
			continue
		}
		if err != nil {
			return nil, decimal.Zero, err
		}
		if p1.GreaterThan(bestProfit) {
			bestProfit, bestAmount = p1, m1
		}

		p2, err := eval(ctx, m2)
		if errors.Is(err, ErrSlippageExceeded) {
			hi = m2
			continue
		}
		if err != nil {
			return nil, decimal.Zero, err
		}
		if p2.GreaterThan(bestProfit) {
			bestProfit, bestAmount = p2, m2
		}

		if p1.LessThan(p2) {
			lo = m1
		} else {
			hi = m2
		}
	}

	if bestProfit.LessThan(minNetUSD) {
		return nil, decimal.Zero, ErrInfeasible
	}
	return bestAmount, bestProfit, nil
}

// usdToUnits converts a USD amount into raw token units at the given
// token USD price.
func usdToUnits(usd, price decimal.Decimal, token types.Token) *big.Int {
	whole := usd.Div(price)
	scaled := whole.Mul(decimal.New(1, int32(token.Decimals)))
	return scaled.Floor().BigInt()
}
