package holdings

import (
	"slices"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/portfolio-sync/internal/model"
)

func d(i int64) decimal.Decimal {
	return decimal.NewFromInt(i)
}

func TestMerge_CoalescesBuysIntoExisting(t *testing.T) {
	got := Merge(
		[]model.Holding{{Ticker: "SPY", ShareCount: d(10)}},
		[]model.BuyDecision{
			{Ticker: "SPY", SharesToBuy: d(5)},
			{Ticker: "QQQ", SharesToBuy: d(3)},
		},
	)

	require.Len(t, got, 2)
	assert.Equal(t, "QQQ", got[0].Ticker)
	assert.True(t, got[0].ShareCount.Equal(d(3)))
	assert.True(t, got[0].Value.IsZero())
	assert.Equal(t, "SPY", got[1].Ticker)
	assert.True(t, got[1].ShareCount.Equal(d(15)))
	assert.True(t, got[1].Value.IsZero())
}

func TestMerge_Empty(t *testing.T) {
	got := Merge(nil, nil)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestMerge_DropsMissingTickers(t *testing.T) {
	got := Merge(
		[]model.Holding{{Ticker: "", ShareCount: d(4)}, {Ticker: "VTI", ShareCount: d(1)}},
		[]model.BuyDecision{{Ticker: "", SharesToBuy: d(9)}},
	)
	require.Len(t, got, 1)
	assert.Equal(t, "VTI", got[0].Ticker)
}

func TestMerge_NeverInventsValue(t *testing.T) {
	got := Merge([]model.Holding{{Ticker: "IWM", ShareCount: d(2), Value: d(400)}}, nil)
	require.Len(t, got, 1)
	assert.True(t, got[0].Value.IsZero())
}

func TestMerge_ZeroValueShareCountsDefaultToZero(t *testing.T) {
	got := Merge(nil, []model.BuyDecision{{Ticker: "BND"}})
	require.Len(t, got, 1)
	assert.True(t, got[0].ShareCount.IsZero())
}

func TestMerge_DoesNotMutateInput(t *testing.T) {
	unchanged := []model.Holding{{Ticker: "SPY", ShareCount: d(10)}}
	_ = Merge(unchanged, []model.BuyDecision{{Ticker: "SPY", SharesToBuy: d(5)}})
	assert.True(t, unchanged[0].ShareCount.Equal(d(10)))
}

func genTicker() gopter.Gen {
	return gen.OneConstOf("SPY", "QQQ", "VTI", "IWM", "BND", "GLD", "")
}

func genHoldings() gopter.Gen {
	return gen.SliceOf(gopter.CombineGens(genTicker(), gen.IntRange(0, 500)).
		Map(func(v []interface{}) model.Holding {
			return model.Holding{Ticker: v[0].(string), ShareCount: d(int64(v[1].(int)))}
		}))
}

func genBuys() gopter.Gen {
	return gen.SliceOf(gopter.CombineGens(genTicker(), gen.IntRange(0, 500)).
		Map(func(v []interface{}) model.BuyDecision {
			return model.BuyDecision{Ticker: v[0].(string), SharesToBuy: d(int64(v[1].(int)))}
		}))
}

func TestMerge_Properties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("no duplicate tickers and sorted ascending", prop.ForAll(
		func(u []model.Holding, b []model.BuyDecision) bool {
			out := Merge(u, b)
			seen := make(map[string]bool, len(out))
			for _, h := range out {
				if h.Ticker == "" || seen[h.Ticker] {
					return false
				}
				seen[h.Ticker] = true
			}
			return slices.IsSortedFunc(out, func(a, b model.Holding) int {
				return strings.Compare(a.Ticker, b.Ticker)
			})
		},
		genHoldings(), genBuys(),
	))

	properties.Property("total shares equal last snapshot entry per ticker plus all buys", prop.ForAll(
		func(u []model.Holding, b []model.BuyDecision) bool {
			want := map[string]decimal.Decimal{}
			for _, h := range u {
				if h.Ticker != "" {
					want[h.Ticker] = h.ShareCount
				}
			}
			for _, buy := range b {
				if buy.Ticker != "" {
					want[buy.Ticker] = want[buy.Ticker].Add(buy.SharesToBuy)
				}
			}
			out := Merge(u, b)
			if len(out) != len(want) {
				return false
			}
			for _, h := range out {
				if !h.ShareCount.Equal(want[h.Ticker]) || !h.Value.IsZero() {
					return false
				}
			}
			return true
		},
		genHoldings(), genBuys(),
	))

	properties.TestingRun(t)
}
