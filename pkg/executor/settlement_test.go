package executor

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/vegas-max/titan-arb/pkg/types"
)

func testSignal() *types.ExecutionSignal {
	usdc := types.Token{
		Symbol:   "USDC",
		Address:  common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"),
		Decimals: 6,
		Tier:     types.TierStable,
	}
	return &types.ExecutionSignal{
		ID:      "sig-1",
		ChainID: 1,
		Token:   usdc,
		Loan: types.LoanPlan{
			Token:     usdc,
			Amount:    usdc.Units(50_000),
			Source:    types.FlashAaveV3,
			FeeHint:   usdc.Units(25), // 5 bps of 50k
			MinProfit: usdc.Units(5),
		},
		Hops: []types.SignalHop{
			{
				Protocol: 0,
				Router:   common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D"),
				TokenOut: common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"),
				MinOut:   big.NewInt(1),
			},
			{
				Protocol: 1,
				Router:   common.HexToAddress("0xE592427A0AEce92De3Edee1F18E0157C05861564"),
				TokenOut: common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"),
				MinOut:   usdc.Units(50_100),
				Extra:    []byte{0x00, 0x0b, 0xb8}, // 3000 fee tier
			},
		},
		NetProfit: decimal.NewFromInt(100),
	}
}

func TestEncodeExecuteProducesCalldata(t *testing.T) {
	s, err := NewSettlement()
	if err != nil {
		t.Fatalf("NewSettlement: %v", err)
	}
	sig := testSignal()

	calldata, err := s.EncodeExecute(sig)
	if err != nil {
		t.Fatalf("EncodeExecute: %v", err)
	}
	if len(calldata) < 4 {
		t.Fatal("calldata missing selector")
	}
	want := s.abi.Methods["execute"].ID
	if !bytes.Equal(calldata[:4], want) {
		t.Errorf("selector = %x, want %x", calldata[:4], want)
	}
}

// The contract checks the flash fee against the fifth argument, so the
// loan's fee hint must be what actually lands in the calldata.
func TestEncodeExecuteCarriesFeeHint(t *testing.T) {
	s, err := NewSettlement()
	if err != nil {
		t.Fatalf("NewSettlement: %v", err)
	}
	sig := testSignal()

	calldata, err := s.EncodeExecute(sig)
	if err != nil {
		t.Fatalf("EncodeExecute: %v", err)
	}
	args, err := s.abi.Methods["execute"].Inputs.Unpack(calldata[4:])
	if err != nil {
		t.Fatalf("unpack calldata: %v", err)
	}
	if len(args) != 6 {
		t.Fatalf("argument count = %d, want 6", len(args))
	}
	feeHint, ok := args[4].(*big.Int)
	if !ok {
		t.Fatalf("argument 5 is %T, want *big.Int", args[4])
	}
	if feeHint.Cmp(sig.Loan.FeeHint) != 0 {
		t.Errorf("fee hint = %s, want %s", feeHint, sig.Loan.FeeHint)
	}

	sig.Loan.FeeHint = nil
	calldata, err = s.EncodeExecute(sig)
	if err != nil {
		t.Fatalf("EncodeExecute with nil fee hint: %v", err)
	}
	args, err = s.abi.Methods["execute"].Inputs.Unpack(calldata[4:])
	if err != nil {
		t.Fatalf("unpack calldata: %v", err)
	}
	if feeHint := args[4].(*big.Int); feeHint.Sign() != 0 {
		t.Errorf("nil fee hint must encode as zero, got %s", feeHint)
	}
}

func TestEncodeRouteRejectsZeroMinOut(t *testing.T) {
	s, err := NewSettlement()
	if err != nil {
		t.Fatalf("NewSettlement: %v", err)
	}

	sig := testSignal()
	sig.Hops[0].MinOut = big.NewInt(0)
	if _, err := s.EncodeRoute(sig.Hops); err == nil {
		t.Error("expected error for zero min output")
	}

	sig.Hops[0].MinOut = nil
	if _, err := s.EncodeRoute(sig.Hops); err == nil {
		t.Error("expected error for nil min output")
	}

	if _, err := s.EncodeRoute(nil); err == nil {
		t.Error("expected error for empty route")
	}
}

func TestEncodeRouteDeterministic(t *testing.T) {
	s, err := NewSettlement()
	if err != nil {
		t.Fatalf("NewSettlement: %v", err)
	}
	sig := testSignal()
	a, err := s.EncodeRoute(sig.Hops)
	if err != nil {
		t.Fatalf("EncodeRoute: %v", err)
	}
	b, err := s.EncodeRoute(sig.Hops)
	if err != nil {
		t.Fatalf("EncodeRoute: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Error("route encoding must be deterministic")
	}
}
