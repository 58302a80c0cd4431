package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atmx/portfolio-sync/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Snapshots are stored as JSONB; decimals keep their exact string form.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) SaveSnapshot(ctx context.Context, state model.PortfolioState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", state.PortfolioID, err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO portfolio_snapshots (portfolio_id, generation, revision, payload, updated_at)
		 VALUES ($1, $2, $3, $4::JSONB, now())
		 ON CONFLICT (portfolio_id) DO UPDATE
		 SET generation = EXCLUDED.generation,
		     revision   = EXCLUDED.revision,
		     payload    = EXCLUDED.payload,
		     updated_at = EXCLUDED.updated_at`,
		state.PortfolioID, int64(state.Generation), int64(state.Revision), string(payload),
	)
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", state.PortfolioID, err)
	}
	return nil
}

func (s *PostgresStore) GetSnapshot(ctx context.Context, portfolioID string) (model.PortfolioState, error) {
	var payload string
	err := s.pool.QueryRow(ctx,
		`SELECT payload::TEXT FROM portfolio_snapshots WHERE portfolio_id = $1`, portfolioID).
		Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.PortfolioState{}, fmt.Errorf("snapshot %s: %w", portfolioID, ErrNotFound)
	}
	if err != nil {
		return model.PortfolioState{}, fmt.Errorf("get snapshot %s: %w", portfolioID, err)
	}

	var st model.PortfolioState
	if err := json.Unmarshal([]byte(payload), &st); err != nil {
		return model.PortfolioState{}, fmt.Errorf("decode snapshot %s: %w", portfolioID, err)
	}
	return st, nil
}

func (s *PostgresStore) InsertApplyRecord(ctx context.Context, rec *model.ApplyRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO apply_records (id, portfolio_id, source, outcome, reason, decision_date, generation, revision, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.PortfolioID, rec.Source, rec.Outcome, rec.Reason, rec.DecisionDate,
		int64(rec.Generation), int64(rec.Revision), rec.CreatedAt,
	)
	return err
}

func (s *PostgresStore) ListApplyRecords(ctx context.Context, portfolioID string, limit int) ([]model.ApplyRecord, error) {
	query := `SELECT id::TEXT, portfolio_id, source, outcome, reason, decision_date, generation, revision, created_at
		 FROM apply_records WHERE portfolio_id = $1 ORDER BY created_at DESC`
	args := []any{portfolioID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanApplyRecords(rows)
}

// pgxRows is the subset of pgx.Rows used by the scanners.
type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanApplyRecords(rows pgxRows) ([]model.ApplyRecord, error) {
	records := make([]model.ApplyRecord, 0)
	for rows.Next() {
		var r model.ApplyRecord
		var generation, revision int64

		if err := rows.Scan(&r.ID, &r.PortfolioID, &r.Source, &r.Outcome, &r.Reason,
			&r.DecisionDate, &generation, &revision, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Generation = uint64(generation)
		r.Revision = uint64(revision)
		records = append(records, r)
	}
	return records, rows.Err()
}
