package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/portfolio-sync/internal/model"
)

func sampleState(id string) model.PortfolioState {
	s := model.NewPortfolioState(model.PortfolioRef{ID: id, DisplayName: "Growth"}, decimal.NewFromInt(100000))
	s.Generation = 3
	s.Revision = 7
	s.CashBalance = decimal.RequireFromString("2500.75")
	s.EstimatedValue = decimal.NewNullDecimal(decimal.NewFromInt(105000))
	s.LastChangePercent = decimal.NewFromInt(5)
	s.LastDecisionDate = "2026-03-10"
	s.Holdings = []model.Holding{{Ticker: "SPY", ShareCount: decimal.NewFromInt(10), Value: decimal.NewFromInt(5000)}}
	when := "2026-03-01T10:00:00Z"
	s.TransactionHistory.Sales = []model.TransactionEntry{{Ticker: "TLT", ShareCount: decimal.NewFromInt(2), TransactionTime: &when}}
	updated := time.Date(2026, 3, 10, 21, 5, 0, 0, time.UTC)
	s.LastUpdated = &updated
	return s
}

func assertSameState(t *testing.T, want, got model.PortfolioState) {
	t.Helper()
	assert.Equal(t, want.PortfolioID, got.PortfolioID)
	assert.Equal(t, want.DisplayName, got.DisplayName)
	assert.Equal(t, want.Generation, got.Generation)
	assert.Equal(t, want.Revision, got.Revision)
	assert.True(t, want.CashBalance.Equal(got.CashBalance), "cash %s != %s", want.CashBalance, got.CashBalance)
	assert.Equal(t, want.EstimatedValue.Valid, got.EstimatedValue.Valid)
	assert.True(t, want.EstimatedValue.Decimal.Equal(got.EstimatedValue.Decimal))
	assert.True(t, want.LastChangePercent.Equal(got.LastChangePercent))
	assert.Equal(t, want.LastDecisionDate, got.LastDecisionDate)
	require.Len(t, got.Holdings, len(want.Holdings))
	for i := range want.Holdings {
		assert.Equal(t, want.Holdings[i].Ticker, got.Holdings[i].Ticker)
		assert.True(t, want.Holdings[i].ShareCount.Equal(got.Holdings[i].ShareCount))
	}
	require.Len(t, got.TransactionHistory.Sales, len(want.TransactionHistory.Sales))
	require.NotNil(t, got.LastUpdated)
	assert.True(t, want.LastUpdated.Equal(*got.LastUpdated))
}

func TestMemoryStore_Snapshots(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.GetSnapshot(ctx, "p1")
	assert.ErrorIs(t, err, ErrNotFound)

	want := sampleState("p1")
	require.NoError(t, s.SaveSnapshot(ctx, want))

	// Mutating the caller's copy must not leak into the store.
	want.Holdings[0].Ticker = "MUTATED"

	got, err := s.GetSnapshot(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "SPY", got.Holdings[0].Ticker)

	assert.Error(t, s.SaveSnapshot(ctx, model.PortfolioState{}))
}

func TestMemoryStore_ApplyRecords(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2026, 3, 10, 21, 0, 0, 0, time.UTC)

	for i, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, s.InsertApplyRecord(ctx, &model.ApplyRecord{
			ID: id, PortfolioID: "p1", Source: model.SourceDecisions, Outcome: model.OutcomeApplied,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, s.InsertApplyRecord(ctx, &model.ApplyRecord{ID: "other", PortfolioID: "p2"}))
	assert.Error(t, s.InsertApplyRecord(ctx, &model.ApplyRecord{ID: "r1", PortfolioID: "p1"}))

	all, err := s.ListApplyRecords(ctx, "p1", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "r3", all[0].ID)
	assert.Equal(t, "r1", all[2].ID)

	latest, err := s.ListApplyRecords(ctx, "p1", 2)
	require.NoError(t, err)
	assert.Len(t, latest, 2)

	none, err := s.ListApplyRecords(ctx, "nope", 0)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestMigrationURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@db:5432/app?sslmode=disable", MigrationURL("postgres://u:p@db:5432/app?sslmode=disable"))
	assert.Equal(t, "pgx5://db/app", MigrationURL("postgresql://db/app"))
	assert.Equal(t, "pgx5://db/app", MigrationURL("pgx5://db/app"))
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationFS.ReadDir("migrations")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
