package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ayush101098/nexxore/internal/domain"
)

// UnwindStore implements domain.UnwindStore using PostgreSQL.
type UnwindStore struct {
	pool *pgxpool.Pool
}

// NewUnwindStore creates an UnwindStore backed by the given pool.
func NewUnwindStore(pool *pgxpool.Pool) *UnwindStore {
	return &UnwindStore{pool: pool}
}

// RecordUnwind stores one strategy's unwind outcome under the analysis row
// that triggered the batch.
func (s *UnwindStore) RecordUnwind(ctx context.Context, analysisRowID int64, outcome domain.UnwindOutcome) error {
	const query = `
		INSERT INTO unwind_actions (
			analysis_id, strategy_id, success, tx_hash, error, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, query,
		analysisRowID, outcome.StrategyID, outcome.Success, outcome.TxHash, outcome.Err, outcome.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record unwind for strategy %s: %w", outcome.StrategyID, err)
	}
	return nil
}

// ListByAnalysis returns all unwind outcomes recorded under one analysis.
func (s *UnwindStore) ListByAnalysis(ctx context.Context, analysisRowID int64) ([]domain.UnwindOutcome, error) {
	const query = `
		SELECT strategy_id, success, tx_hash, error, finished_at
		FROM unwind_actions
		WHERE analysis_id = $1
		ORDER BY finished_at ASC`

	rows, err := s.pool.Query(ctx, query, analysisRowID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list unwinds for analysis %d: %w", analysisRowID, err)
	}
	defer rows.Close()

	var out []domain.UnwindOutcome
	for rows.Next() {
		var o domain.UnwindOutcome
		if err := rows.Scan(&o.StrategyID, &o.Success, &o.TxHash, &o.Err, &o.FinishedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan unwind: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: unwinds rows: %w", err)
	}
	return out, nil
}

var _ domain.UnwindStore = (*UnwindStore)(nil)
