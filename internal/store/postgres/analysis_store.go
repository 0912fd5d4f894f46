package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ayush101098/nexxore/internal/domain"
)

// AnalysisStore implements domain.AnalysisStore using PostgreSQL.
type AnalysisStore struct {
	pool *pgxpool.Pool
}

// NewAnalysisStore creates an AnalysisStore backed by the given pool.
func NewAnalysisStore(pool *pgxpool.Pool) *AnalysisStore {
	return &AnalysisStore{pool: pool}
}

const analysisSelectCols = `created_at, composite_score,
	protocol_risk, liquidity_risk, utilization_risk, governance_risk, oracle_risk,
	risk_level, recommended_action, urgency, reasoning,
	strategy_risks, alerts, should_unwind, unwind_strategies`

// RecordAnalysis appends one analysis row and returns its row ID. Rows are
// never updated; the trail is append-only.
func (s *AnalysisStore) RecordAnalysis(ctx context.Context, a domain.RiskAnalysis, degraded bool) (int64, error) {
	const query = `
		INSERT INTO risk_analyses (
			created_at, composite_score,
			protocol_risk, liquidity_risk, utilization_risk, governance_risk, oracle_risk,
			risk_level, recommended_action, urgency, reasoning,
			strategy_risks, alerts, should_unwind, unwind_strategies, degraded
		) VALUES (
			$1, $2,
			$3, $4, $5, $6, $7,
			$8, $9, $10, $11,
			$12, $13, $14, $15, $16
		) RETURNING id`

	strategyRisks := a.StrategyRisks
	if strategyRisks == nil {
		strategyRisks = map[string]int64{}
	}
	alerts := a.Alerts
	if alerts == nil {
		alerts = []string{}
	}
	unwindIDs := a.UnwindStrategyIDs
	if unwindIDs == nil {
		unwindIDs = []string{}
	}

	var id int64
	err := s.pool.QueryRow(ctx, query,
		a.Timestamp, a.CompositeScore,
		a.ProtocolRisk, a.LiquidityRisk, a.UtilizationRisk, a.GovernanceRisk, a.OracleRisk,
		string(a.RiskLevel), a.RecommendedAction, a.Urgency, a.Reasoning,
		strategyRisks, alerts, a.ShouldUnwind, unwindIDs, degraded,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: record analysis: %w", err)
	}
	return id, nil
}

// ListRecent returns analyses ordered newest first.
func (s *AnalysisStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.RiskAnalysis, error) {
	query := `SELECT ` + analysisSelectCols + ` FROM risk_analyses ORDER BY created_at DESC`
	args := []any{}

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent analyses: %w", err)
	}
	defer rows.Close()

	return scanAnalyses(rows)
}

// ListBefore returns analyses created strictly before the given time, oldest
// first, for archival batches.
func (s *AnalysisStore) ListBefore(ctx context.Context, before time.Time) ([]domain.RiskAnalysis, error) {
	query := `SELECT ` + analysisSelectCols + ` FROM risk_analyses WHERE created_at < $1 ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list analyses before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	return scanAnalyses(rows)
}

// DeleteBefore removes analyses created strictly before the given time and
// returns the number of rows removed.
func (s *AnalysisStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM risk_analyses WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete analyses before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func scanAnalyses(rows pgx.Rows) ([]domain.RiskAnalysis, error) {
	var out []domain.RiskAnalysis
	for rows.Next() {
		var a domain.RiskAnalysis
		var level string
		if err := rows.Scan(
			&a.Timestamp, &a.CompositeScore,
			&a.ProtocolRisk, &a.LiquidityRisk, &a.UtilizationRisk, &a.GovernanceRisk, &a.OracleRisk,
			&level, &a.RecommendedAction, &a.Urgency, &a.Reasoning,
			&a.StrategyRisks, &a.Alerts, &a.ShouldUnwind, &a.UnwindStrategyIDs,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan analysis: %w", err)
		}
		a.RiskLevel = domain.RiskLevel(level)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: analyses rows: %w", err)
	}
	return out, nil
}

var _ domain.AnalysisStore = (*AnalysisStore)(nil)
