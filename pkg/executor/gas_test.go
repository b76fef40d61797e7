package executor

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
)

func gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000))
}

func TestGasPolicyCeiling(t *testing.T) {
	p := NewGasPolicy(200, 0)

	if err := p.Check(gwei(199), 400_000, decimal.NewFromInt(2500), decimal.NewFromInt(100)); err != nil {
		t.Errorf("199 gwei should pass a 200 gwei ceiling: %v", err)
	}
	if err := p.Check(gwei(201), 400_000, decimal.NewFromInt(2500), decimal.NewFromInt(100)); err == nil {
		t.Error("201 gwei must fail a 200 gwei ceiling")
	}
}

func TestGasPolicyProfitBudget(t *testing.T) {
	p := NewGasPolicy(200, 0.5)

	// 400k units at 10 gwei, ETH $2500: cost $10 against a $100 profit
	// budget of $50.
	if err := p.Check(gwei(10), 400_000, decimal.NewFromInt(2500), decimal.NewFromInt(100)); err != nil {
		t.Errorf("cost inside budget should pass: %v", err)
	}

	// Same cost against a $10 profit: budget $5, must fail.
	if err := p.Check(gwei(10), 400_000, decimal.NewFromInt(2500), decimal.NewFromInt(10)); err == nil {
		t.Error("cost above the half-profit budget must fail")
	}
}

func TestGasPolicyNoProfitEstimate(t *testing.T) {
	p := NewGasPolicy(200, 0.5)
	// Without a profit estimate only the ceiling applies.
	if err := p.Check(gwei(50), 400_000, decimal.NewFromInt(2500), decimal.Zero); err != nil {
		t.Errorf("zero profit should skip the budget gate: %v", err)
	}
}
