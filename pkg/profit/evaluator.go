// Package profit turns candidate routes into USD profit verdicts and
// sizes the flash loan for accepted ones.
package profit

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/vegas-max/titan-arb/pkg/feeds"
	"github.com/vegas-max/titan-arb/pkg/types"
)

// Rejection reasons attached to opportunities that fail the gate.
const (
	ReasonGasExceedsProfit = "gas_exceeds_profit"
	ReasonFeeExceedsProfit = "fee_exceeds_profit"
	ReasonBelowMinProfit   = "below_min_profit"
	ReasonNoPriceFeed      = "no_price_feed"
)

var weiPerEth = decimal.New(1, 18)

// Costs is the cycle-level cost context for one chain.
type Costs struct {
	GasPriceWei    *big.Int
	NativeUSD      decimal.Decimal
	FlashSource    types.FlashSource
	MinNetUSD      decimal.Decimal
}

// Verdict is the outcome of evaluating one route at one size.
type Verdict struct {
	GrossUSD    decimal.Decimal
	GasCostUSD  decimal.Decimal
	FlashFeeUSD decimal.Decimal
	NetUSD      decimal.Decimal
	Reasons     []string
}

// Profitable reports whether the verdict carries no rejection.
func (v Verdict) Profitable() bool { return len(v.Reasons) == 0 }

// Evaluator prices routes in USD.
type Evaluator struct {
	feed feeds.Feed
}

// NewEvaluator creates an evaluator over the given price feed.
func NewEvaluator(feed feeds.Feed) *Evaluator {
	return &Evaluator{feed: feed}
}

// Evaluate prices a route under the given costs. Rejections accumulate
// in order: gas against gross first, then the flash fee, then the
// minimum-profit floor.
func (e *Evaluator) Evaluate(route *types.Route, costs Costs) (Verdict, error) {
	loanUSD, err := e.feed.PriceUSD(route.Token.Symbol)
	if err != nil {
		return Verdict{Reasons: []string{ReasonNoPriceFeed}}, fmt.Errorf("price %s: %w", route.Token.Symbol, err)
	}

	in := route.Token.Whole(route.AmountIn())
	out := route.Token.Whole(route.AmountOut())
	gross := out.Sub(in).Mul(loanUSD)

	gasCost := decimal.Zero
	if costs.GasPriceWei != nil {
		gasWei := decimal.NewFromBigInt(new(big.Int).Mul(
			costs.GasPriceWei, new(big.Int).SetUint64(route.GasEstimate)), 0)
		gasCost = gasWei.Div(weiPerEth).Mul(costs.NativeUSD)
	}

	flashFee := in.Mul(loanUSD).
		Mul(decimal.NewFromInt(costs.FlashSource.FeeBps())).
		Div(decimal.NewFromInt(10000))

	v := Verdict{
		GrossUSD:    gross,
		GasCostUSD:  gasCost,
		FlashFeeUSD: flashFee,
		NetUSD:      gross.Sub(gasCost).Sub(flashFee),
	}

	if gross.LessThanOrEqual(gasCost) {
		v.Reasons = append(v.Reasons, ReasonGasExceedsProfit)
		return v, nil
	}
	if gross.Sub(gasCost).LessThanOrEqual(flashFee) && flashFee.IsPositive() {
		v.Reasons = append(v.Reasons, ReasonFeeExceedsProfit)
		return v, nil
	}
	if v.NetUSD.LessThan(costs.MinNetUSD) {
		v.Reasons = append(v.Reasons, ReasonBelowMinProfit)
	}
	return v, nil
}
