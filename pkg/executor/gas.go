package executor

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

var gweiWei = decimal.New(1, 9)

// GasPolicy decides whether a signal may spend gas right now and at
// what price. Two gates: an absolute gwei ceiling and a budget capping
// gas spend at a fraction of expected profit.
type GasPolicy struct {
	MaxPriceGwei   decimal.Decimal
	ProfitFraction decimal.Decimal // max gas spend as a share of net profit
}

// NewGasPolicy builds a policy from raw config values.
func NewGasPolicy(maxGwei, profitFraction float64) GasPolicy {
	return GasPolicy{
		MaxPriceGwei:   decimal.NewFromFloat(maxGwei),
		ProfitFraction: decimal.NewFromFloat(profitFraction),
	}
}

// Check validates a proposed gas price in wei against the ceiling and
// the signal's profit budget. gasUnits is the expected gas usage,
// nativeUSD the chain token price, netProfitUSD the signal's estimate.
func (p GasPolicy) Check(gasPriceWei *big.Int, gasUnits uint64, nativeUSD, netProfitUSD decimal.Decimal) error {
	priceGwei := decimal.NewFromBigInt(gasPriceWei, 0).Div(gweiWei)
	if priceGwei.GreaterThan(p.MaxPriceGwei) {
		return fmt.Errorf("gas price %s gwei exceeds ceiling %s gwei",
			priceGwei.StringFixed(1), p.MaxPriceGwei.StringFixed(0))
	}

	if p.ProfitFraction.IsPositive() && netProfitUSD.IsPositive() {
		costWei := new(big.Int).Mul(gasPriceWei, new(big.Int).SetUint64(gasUnits))
		costUSD := decimal.NewFromBigInt(costWei, -18).Mul(nativeUSD)
		budget := netProfitUSD.Mul(p.ProfitFraction)
		if costUSD.GreaterThan(budget) {
			return fmt.Errorf("gas cost $%s exceeds budget $%s (%s of $%s profit)",
				costUSD.StringFixed(2), budget.StringFixed(2),
				p.ProfitFraction.String(), netProfitUSD.StringFixed(2))
		}
	}
	return nil
}
