package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/atmx/portfolio-sync/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]model.PortfolioState
	records   []model.ApplyRecord
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[string]model.PortfolioState),
	}
}

func (s *MemoryStore) SaveSnapshot(_ context.Context, state model.PortfolioState) error {
	if state.PortfolioID == "" {
		return fmt.Errorf("save snapshot: empty portfolio id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	s.snapshots[state.PortfolioID] = state.Clone()
	return nil
}

func (s *MemoryStore) GetSnapshot(_ context.Context, portfolioID string) (model.PortfolioState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.snapshots[portfolioID]
	if !ok {
		return model.PortfolioState{}, fmt.Errorf("snapshot %s: %w", portfolioID, ErrNotFound)
	}
	return st.Clone(), nil
}

func (s *MemoryStore) InsertApplyRecord(_ context.Context, rec *model.ApplyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.records {
		if existing.ID == rec.ID {
			return fmt.Errorf("apply record %s already exists", rec.ID)
		}
	}
	s.records = append(s.records, *rec)
	return nil
}

func (s *MemoryStore) ListApplyRecords(_ context.Context, portfolioID string, limit int) ([]model.ApplyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.ApplyRecord, 0)
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].PortfolioID != portfolioID {
			continue
		}
		out = append(out, s.records[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
