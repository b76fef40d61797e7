package recorder

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vegas-max/titan-arb/pkg/types"
)

func openTestDB(t *testing.T) *SQLite {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func result(id string, status types.ExecutionStatus, profit int64) *types.ExecutionResult {
	return &types.ExecutionResult{
		SignalID:     id,
		ChainID:      1,
		TokenSymbol:  "USDC",
		TxHash:       "0xabc",
		Status:       status,
		ActualProfit: decimal.NewFromInt(profit),
		GasUsed:      210_000,
		CompletedAt:  time.Unix(1_700_000_000, 0),
	}
}

func TestRecordAndRecent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for i, st := range []types.ExecutionStatus{types.StatusSuccess, types.StatusReverted, types.StatusSimulated} {
		if err := db.Record(ctx, result(string(rune('a'+i)), st, int64(i*10))); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	recent, err := db.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("recent = %d, want 3", len(recent))
	}
	// Newest first.
	if recent[0].Status != types.StatusSimulated {
		t.Errorf("first status = %s, want %s", recent[0].Status, types.StatusSimulated)
	}
	if !recent[0].ActualProfit.Equal(decimal.NewFromInt(20)) {
		t.Errorf("profit = %s, want 20", recent[0].ActualProfit)
	}
	if recent[0].CompletedAt.Unix() != 1_700_000_000 {
		t.Errorf("completed_at = %d, want 1700000000", recent[0].CompletedAt.Unix())
	}
}

func TestSuccessRateCountsTerminalOnly(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	// Simulated and discarded outcomes must not affect the rate.
	for _, st := range []types.ExecutionStatus{
		types.StatusSuccess, types.StatusSuccess, types.StatusReverted,
		types.StatusTimeout, types.StatusSimulated, types.StatusDiscarded,
	} {
		if err := db.Record(ctx, result("x", st, 0)); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	rate, err := db.SuccessRate(ctx, 100)
	if err != nil {
		t.Fatalf("SuccessRate: %v", err)
	}
	if rate != 0.5 {
		t.Errorf("rate = %v, want 0.5 (2 of 4 terminal outcomes)", rate)
	}
}

func TestSuccessRateEmpty(t *testing.T) {
	db := openTestDB(t)
	rate, err := db.SuccessRate(context.Background(), 100)
	if err != nil {
		t.Fatalf("SuccessRate: %v", err)
	}
	if rate != 0 {
		t.Errorf("rate = %v, want 0 with no history", rate)
	}
}
