package store

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/atmx/portfolio-sync/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for snapshots. Snapshot saves go to the primary store and refresh
// the cache; apply records pass straight through.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, refresh cache) ---

func (s *CachedStore) SaveSnapshot(ctx context.Context, state model.PortfolioState) error {
	if err := s.primary.SaveSnapshot(ctx, state); err != nil {
		return err
	}
	s.cacheSnapshot(ctx, state)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetSnapshot(ctx context.Context, portfolioID string) (model.PortfolioState, error) {
	data, err := s.rdb.Get(ctx, snapshotKey(portfolioID)).Bytes()
	if err == nil {
		if st, err := decodeSnapshot(data); err == nil {
			return st, nil
		}
		// Unreadable entry; drop it and fall back to the primary.
		s.rdb.Del(ctx, snapshotKey(portfolioID))
	}

	st, err := s.primary.GetSnapshot(ctx, portfolioID)
	if err != nil {
		return model.PortfolioState{}, err
	}

	s.cacheSnapshot(ctx, st)
	return st, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) InsertApplyRecord(ctx context.Context, rec *model.ApplyRecord) error {
	return s.primary.InsertApplyRecord(ctx, rec)
}

func (s *CachedStore) ListApplyRecords(ctx context.Context, portfolioID string, limit int) ([]model.ApplyRecord, error) {
	return s.primary.ListApplyRecords(ctx, portfolioID, limit)
}

// --- Cache helpers ---

func (s *CachedStore) cacheSnapshot(ctx context.Context, st model.PortfolioState) {
	if data, err := encodeSnapshot(st); err == nil {
		s.rdb.Set(ctx, snapshotKey(st.PortfolioID), data, s.ttl)
	}
}

func encodeSnapshot(st model.PortfolioState) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(st); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeSnapshot(data []byte) (model.PortfolioState, error) {
	var st model.PortfolioState
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	if err := dec.Decode(&st); err != nil {
		return model.PortfolioState{}, err
	}
	return st, nil
}

func snapshotKey(portfolioID string) string { return fmt.Sprintf("portfolio-sync:snapshot:%s", portfolioID) }
