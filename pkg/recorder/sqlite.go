// Package recorder persists execution results for later analysis and
// oracle training.
package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/vegas-max/titan-arb/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS executions (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	signal_id     TEXT NOT NULL,
	chain_id      INTEGER NOT NULL,
	token         TEXT NOT NULL,
	tx_hash       TEXT,
	status        TEXT NOT NULL,
	reason        TEXT,
	actual_profit TEXT NOT NULL,
	gas_used      INTEGER NOT NULL,
	completed_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status);
CREATE INDEX IF NOT EXISTS idx_executions_chain ON executions(chain_id, completed_at);
`

// SQLite is an append-only execution log backed by a local database.
type SQLite struct {
	db *sql.DB
}

// Open creates or opens the database at path and applies the schema.
func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open recorder db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Record appends one result.
func (s *SQLite) Record(ctx context.Context, r *types.ExecutionResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions
			(signal_id, chain_id, token, tx_hash, status, reason, actual_profit, gas_used, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.SignalID, r.ChainID, r.TokenSymbol, r.TxHash, string(r.Status), r.Reason,
		r.ActualProfit.String(), r.GasUsed, r.CompletedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to record execution %s: %w", r.SignalID, err)
	}
	return nil
}

// Recent returns the latest n results, newest first.
func (s *SQLite) Recent(ctx context.Context, n int) ([]types.ExecutionResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT signal_id, chain_id, token, tx_hash, status, reason, actual_profit, gas_used, completed_at
		FROM executions ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()

	var out []types.ExecutionResult
	for rows.Next() {
		var r types.ExecutionResult
		var status, profit string
		var completed int64
		if err := rows.Scan(&r.SignalID, &r.ChainID, &r.TokenSymbol, &r.TxHash,
			&status, &r.Reason, &profit, &r.GasUsed, &completed); err != nil {
			return nil, err
		}
		r.Status = types.ExecutionStatus(status)
		if p, err := parseDecimal(profit); err == nil {
			r.ActualProfit = p
		}
		r.CompletedAt = time.Unix(completed, 0)
		out = append(out, r)
	}
	return out, rows.Err()
}

// SuccessRate returns the fraction of terminal outcomes that settled
// successfully, over the last n results. Zero history returns 0.
func (s *SQLite) SuccessRate(ctx context.Context, n int) (float64, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0),
			COUNT(*)
		FROM (SELECT status FROM executions
			WHERE status IN ('success', 'reverted', 'timeout')
			ORDER BY id DESC LIMIT ?)`, n)
	var wins, total int
	if err := row.Scan(&wins, &total); err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}
	return float64(wins) / float64(total), nil
}

// Close closes the database.
func (s *SQLite) Close() error { return s.db.Close() }

func parseDecimal(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}
