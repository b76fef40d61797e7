package signals

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/vegas-max/titan-arb/pkg/types"
)

var (
	usdc = types.Token{Symbol: "USDC", Address: common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"), Decimals: 6, Tier: types.TierStable}
	weth = types.Token{Symbol: "WETH", Address: common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"), Decimals: 18, Tier: types.TierMajor}
)

func testOpportunity() *types.Opportunity {
	in := usdc.Units(10_000)
	mid := weth.Units(4)
	out := usdc.Units(10_120)
	return &types.Opportunity{
		ID:      "opp-1",
		ChainID: 1,
		Token:   usdc,
		Route: &types.Route{
			ChainID:      1,
			Token:        usdc,
			Intermediary: weth,
			Hops: []types.RouteHop{
				{DEX: "uniswap", Protocol: 0, TokenIn: usdc, TokenOut: weth, AmountIn: in, AmountOut: mid},
				{DEX: "sushiswap", Protocol: 0, TokenIn: weth, TokenOut: usdc, AmountIn: mid, AmountOut: out},
			},
		},
		NetProfit:   decimal.RequireFromString("118.5"),
		ExpiryBlock: 19_000_003,
	}
}

func testLoan() types.LoanPlan {
	return types.LoanPlan{
		Token:     usdc,
		Amount:    usdc.Units(10_000),
		AmountUSD: decimal.NewFromInt(10_000),
		Source:    types.FlashBalancerV3,
		MinProfit: usdc.Units(5),
	}
}

func TestBuildAppliesSlippageFloor(t *testing.T) {
	sig, err := Build(testOpportunity(), testLoan(), 50) // 0.5%
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if sig.ID == "" {
		t.Error("signal must carry an id")
	}
	if len(sig.Hops) != 2 {
		t.Fatalf("hops = %d, want 2", len(sig.Hops))
	}

	// Final hop: 10,120 USDC * 0.995 = 10,069.4 USDC.
	want := big.NewInt(10_069_400_000)
	if sig.Hops[1].MinOut.Cmp(want) != 0 {
		t.Errorf("final MinOut = %s, want %s", sig.Hops[1].MinOut, want)
	}
	for i, h := range sig.Hops {
		if h.MinOut.Sign() <= 0 {
			t.Errorf("hop %d MinOut must be positive", i)
		}
	}
}

func TestBuildRejectsMissingOutputs(t *testing.T) {
	opp := testOpportunity()
	opp.Route.Hops[0].AmountOut = nil
	if _, err := Build(opp, testLoan(), 50); err == nil {
		t.Error("expected error for hop without expected output")
	}

	opp = testOpportunity()
	opp.Route.Hops = nil
	if _, err := Build(opp, testLoan(), 50); err == nil {
		t.Error("expected error for empty route")
	}
}

func TestPublishDeduplicatesWithinWindow(t *testing.T) {
	transport := NewMemoryTransport()
	defer transport.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	in, err := transport.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	p := NewPublisher(transport, time.Minute)
	sig, err := Build(testOpportunity(), testLoan(), 50)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	sent, err := p.Publish(ctx, sig, "1:USDC:WETH:uniswap:sushiswap")
	if err != nil || !sent {
		t.Fatalf("first publish: sent=%v err=%v", sent, err)
	}
	sent, err = p.Publish(ctx, sig, "1:USDC:WETH:uniswap:sushiswap")
	if err != nil {
		t.Fatalf("second publish: %v", err)
	}
	if sent {
		t.Error("duplicate fingerprint inside the window must not republish")
	}
	if got := p.Published(); got != 1 {
		t.Errorf("published = %d, want 1", got)
	}

	select {
	case got := <-in:
		if got.ID != sig.ID {
			t.Errorf("received %s, want %s", got.ID, sig.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the signal")
	}
	select {
	case got := <-in:
		t.Fatalf("unexpected second delivery: %s", got.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishDistinctFingerprints(t *testing.T) {
	transport := NewMemoryTransport()
	defer transport.Close()
	p := NewPublisher(transport, time.Minute)

	sig, _ := Build(testOpportunity(), testLoan(), 50)
	ctx := context.Background()
	if sent, _ := p.Publish(ctx, sig, "fp-a"); !sent {
		t.Error("fp-a should publish")
	}
	if sent, _ := p.Publish(ctx, sig, "fp-b"); !sent {
		t.Error("fp-b is a different route and should publish")
	}
}
