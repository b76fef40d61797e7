package types

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
)

func TestTokenUnitConversion(t *testing.T) {
	usdc := Token{Symbol: "USDC", Decimals: 6}

	raw := usdc.Units(10_000)
	if raw.Cmp(big.NewInt(10_000_000_000)) != 0 {
		t.Errorf("Units(10000) = %s, want 10000000000", raw)
	}
	whole := usdc.Whole(raw)
	if !whole.Equal(decimal.NewFromInt(10_000)) {
		t.Errorf("Whole = %s, want 10000", whole)
	}
	if !usdc.Whole(nil).IsZero() {
		t.Error("Whole(nil) must be zero")
	}
}

func TestRouteAmountsAndFingerprint(t *testing.T) {
	usdc := Token{Symbol: "USDC", Decimals: 6}
	weth := Token{Symbol: "WETH", Decimals: 18}
	route := &Route{
		ChainID:      1,
		Token:        usdc,
		Intermediary: weth,
		Hops: []RouteHop{
			{DEX: "uniswap", TokenIn: usdc, TokenOut: weth, AmountIn: usdc.Units(100), AmountOut: weth.Units(1)},
			{DEX: "sushiswap", TokenIn: weth, TokenOut: usdc, AmountIn: weth.Units(1), AmountOut: usdc.Units(101)},
		},
	}

	if route.AmountIn().Cmp(usdc.Units(100)) != 0 {
		t.Errorf("AmountIn = %s", route.AmountIn())
	}
	if route.AmountOut().Cmp(usdc.Units(101)) != 0 {
		t.Errorf("AmountOut = %s", route.AmountOut())
	}

	fp := route.Fingerprint()
	if fp != "1:USDC:WETH:uniswap:sushiswap" {
		t.Errorf("fingerprint = %q", fp)
	}

	empty := &Route{}
	if empty.AmountIn().Sign() != 0 || empty.AmountOut().Sign() != 0 {
		t.Error("empty route amounts must be zero")
	}
}

func TestFingerprintSeparatesIntermediaries(t *testing.T) {
	usdc := Token{Symbol: "USDC", Decimals: 6}
	weth := Token{Symbol: "WETH", Decimals: 18}
	wbtc := Token{Symbol: "WBTC", Decimals: 8}

	hops := func(mid Token) []RouteHop {
		return []RouteHop{
			{DEX: "uniswap", TokenIn: usdc, TokenOut: mid},
			{DEX: "sushiswap", TokenIn: mid, TokenOut: usdc},
		}
	}
	a := &Route{ChainID: 1, Token: usdc, Intermediary: weth, Hops: hops(weth)}
	b := &Route{ChainID: 1, Token: usdc, Intermediary: wbtc, Hops: hops(wbtc)}

	// Same venues, same loan token: routes through different
	// intermediaries must not collide in publisher dedup.
	if a.Fingerprint() == b.Fingerprint() {
		t.Errorf("distinct intermediaries share fingerprint %q", a.Fingerprint())
	}
}

func TestFlashSourceFees(t *testing.T) {
	if got := FlashBalancerV3.FeeBps(); got != 0 {
		t.Errorf("balancer fee = %d, want 0", got)
	}
	if got := FlashAaveV3.FeeBps(); got != 5 {
		t.Errorf("aave fee = %d, want 5", got)
	}
	if FlashBalancerV3.String() != "balancer_v3" || FlashAaveV3.String() != "aave_v3" {
		t.Error("unexpected flash source names")
	}
}
