package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ayush101098/nexxore/internal/domain"
)

// ProposalStore implements domain.ProposalStore using PostgreSQL.
type ProposalStore struct {
	pool *pgxpool.Pool
}

// NewProposalStore creates a ProposalStore backed by the given pool.
func NewProposalStore(pool *pgxpool.Pool) *ProposalStore {
	return &ProposalStore{pool: pool}
}

const proposalSelectCols = `id, from_strategy, to_strategy, amount_usd,
	percent_of_tvl, expected_apy_gain_bps, reason, status,
	onchain_proposal_id, tx_hash, created_at, executed_at`

// Create stores a new rebalance proposal.
func (s *ProposalStore) Create(ctx context.Context, p domain.RebalanceProposal) error {
	const query = `
		INSERT INTO rebalance_proposals (
			id, from_strategy, to_strategy, amount_usd,
			percent_of_tvl, expected_apy_gain_bps, reason, status,
			onchain_proposal_id, tx_hash, created_at, executed_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11, $12
		)`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.FromStrategyID, p.ToStrategyID, p.Amount,
		p.PercentOfTVL, p.ExpectedAPYGainBps, p.Reason, string(p.Status),
		p.OnchainProposalID, p.TxHash, p.CreatedAt, p.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create proposal %s: %w", p.ID, err)
	}
	return nil
}

// UpdateStatus transitions a proposal's status and records the associated
// transaction hash and on-chain proposal ID when present.
func (s *ProposalStore) UpdateStatus(ctx context.Context, id string, status domain.ProposalStatus, txHash string, onchainID *int64) error {
	const query = `
		UPDATE rebalance_proposals SET
			status              = $2,
			tx_hash             = CASE WHEN $3 <> '' THEN $3 ELSE tx_hash END,
			onchain_proposal_id = COALESCE($4, onchain_proposal_id)
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, string(status), txHash, onchainID)
	if err != nil {
		return fmt.Errorf("postgres: update proposal %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkExecuted stamps a proposal executed with its execution transaction.
func (s *ProposalStore) MarkExecuted(ctx context.Context, id string, txHash string) error {
	const query = `
		UPDATE rebalance_proposals SET
			status      = $2,
			tx_hash     = CASE WHEN $3 <> '' THEN $3 ELSE tx_hash END,
			executed_at = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, string(domain.ProposalExecuted), txHash)
	if err != nil {
		return fmt.Errorf("postgres: mark proposal %s executed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID fetches a single proposal by internal ID.
func (s *ProposalStore) GetByID(ctx context.Context, id string) (domain.RebalanceProposal, error) {
	query := `SELECT ` + proposalSelectCols + ` FROM rebalance_proposals WHERE id = $1`
	return s.getOne(ctx, query, id)
}

// GetByOnchainID fetches a single proposal by its on-chain proposal ID.
func (s *ProposalStore) GetByOnchainID(ctx context.Context, onchainID int64) (domain.RebalanceProposal, error) {
	query := `SELECT ` + proposalSelectCols + ` FROM rebalance_proposals WHERE onchain_proposal_id = $1`
	return s.getOne(ctx, query, onchainID)
}

func (s *ProposalStore) getOne(ctx context.Context, query string, arg any) (domain.RebalanceProposal, error) {
	row := s.pool.QueryRow(ctx, query, arg)
	p, err := scanProposal(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RebalanceProposal{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.RebalanceProposal{}, fmt.Errorf("postgres: get proposal: %w", err)
	}
	return p, nil
}

// ListRecent returns proposals ordered newest first.
func (s *ProposalStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.RebalanceProposal, error) {
	query := `SELECT ` + proposalSelectCols + ` FROM rebalance_proposals ORDER BY created_at DESC`
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
		return nil, fmt.Errorf("postgres: list recent proposals: %w", err)
	}
	defer rows.Close()

	return scanProposals(rows)
}

// ListBefore returns proposals created strictly before the given time,
// oldest first, for archival batches.
func (s *ProposalStore) ListBefore(ctx context.Context, before time.Time) ([]domain.RebalanceProposal, error) {
	query := `SELECT ` + proposalSelectCols + ` FROM rebalance_proposals WHERE created_at < $1 ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list proposals before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	return scanProposals(rows)
}

// DeleteBefore removes proposals created strictly before the given time.
func (s *ProposalStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM rebalance_proposals WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete proposals before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func scanProposal(row pgx.Row) (domain.RebalanceProposal, error) {
	var p domain.RebalanceProposal
	var status string
	err := row.Scan(
		&p.ID, &p.FromStrategyID, &p.ToStrategyID, &p.Amount,
		&p.PercentOfTVL, &p.ExpectedAPYGainBps, &p.Reason, &status,
		&p.OnchainProposalID, &p.TxHash, &p.CreatedAt, &p.ExecutedAt,
	)
	if err != nil {
		return domain.RebalanceProposal{}, err
	}
	p.Status = domain.ProposalStatus(status)
	return p, nil
}

func scanProposals(rows pgx.Rows) ([]domain.RebalanceProposal, error) {
	var out []domain.RebalanceProposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan proposal: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: proposals rows: %w", err)
	}
	return out, nil
}

var _ domain.ProposalStore = (*ProposalStore)(nil)
