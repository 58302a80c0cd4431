// Package store defines the persistence interface for the portfolio sync
// engine. Implementations include PostgreSQL (source of truth), Redis
// (read-through cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/atmx/portfolio-sync/internal/model"
)

// ErrNotFound is returned when no snapshot exists for a portfolio.
var ErrNotFound = errors.New("store: not found")

// Store persists the last known good snapshot per portfolio and the
// append-only apply log.
type Store interface {
	// --- Snapshots ---

	// SaveSnapshot upserts the snapshot of state.PortfolioID.
	SaveSnapshot(ctx context.Context, state model.PortfolioState) error

	// GetSnapshot returns the last saved snapshot, or ErrNotFound.
	GetSnapshot(ctx context.Context, portfolioID string) (model.PortfolioState, error)

	// --- Immutable apply log ---

	// InsertApplyRecord appends an apply record.
	InsertApplyRecord(ctx context.Context, rec *model.ApplyRecord) error

	// ListApplyRecords returns the newest records of a portfolio first.
	// A non-positive limit returns all of them.
	ListApplyRecords(ctx context.Context, portfolioID string, limit int) ([]model.ApplyRecord, error)
}
