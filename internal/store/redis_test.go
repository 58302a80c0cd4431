package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/portfolio-sync/internal/model"
)

// countingStore records calls to the primary store.
type countingStore struct {
	*MemoryStore
	gets int
}

func (c *countingStore) GetSnapshot(ctx context.Context, id string) (model.PortfolioState, error) {
	c.gets++
	return c.MemoryStore.GetSnapshot(ctx, id)
}

func newCached(t *testing.T) (*CachedStore, *countingStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	primary := &countingStore{MemoryStore: NewMemoryStore()}
	return NewCachedStore(primary, rdb, time.Minute), primary, mr
}

func TestCachedStore_SaveRefreshesCache(t *testing.T) {
	ctx := context.Background()
	s, primary, mr := newCached(t)

	want := sampleState("p1")
	require.NoError(t, s.SaveSnapshot(ctx, want))
	assert.True(t, mr.Exists(snapshotKey("p1")))

	got, err := s.GetSnapshot(ctx, "p1")
	require.NoError(t, err)
	assertSameState(t, want, got)
	assert.Equal(t, 0, primary.gets, "served from cache")
}

func TestCachedStore_ReadThrough(t *testing.T) {
	ctx := context.Background()
	s, primary, mr := newCached(t)

	want := sampleState("p1")
	require.NoError(t, primary.MemoryStore.SaveSnapshot(ctx, want))

	got, err := s.GetSnapshot(ctx, "p1")
	require.NoError(t, err)
	assertSameState(t, want, got)
	assert.Equal(t, 1, primary.gets)
	assert.True(t, mr.Exists(snapshotKey("p1")))

	_, err = s.GetSnapshot(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, primary.gets)

	mr.FastForward(2 * time.Minute)
	_, err = s.GetSnapshot(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, primary.gets, "expired entry falls back to primary")
}

func TestCachedStore_CorruptEntryFallsBack(t *testing.T) {
	ctx := context.Background()
	s, primary, mr := newCached(t)

	require.NoError(t, primary.MemoryStore.SaveSnapshot(ctx, sampleState("p1")))
	require.NoError(t, mr.Set(snapshotKey("p1"), "not msgpack"))

	got, err := s.GetSnapshot(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", got.PortfolioID)
	assert.Equal(t, 1, primary.gets)
}

func TestCachedStore_NotFound(t *testing.T) {
	s, _, _ := newCached(t)
	_, err := s.GetSnapshot(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCachedStore_ApplyRecordsPassThrough(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newCached(t)

	require.NoError(t, s.InsertApplyRecord(ctx, &model.ApplyRecord{ID: "r1", PortfolioID: "p1"}))
	records, err := s.ListApplyRecords(ctx, "p1", 10)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
