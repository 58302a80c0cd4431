// Package holdings combines a snapshot of unchanged holdings with buy deltas
// into one deduplicated, ticker-ordered holdings list.
package holdings

import (
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/atmx/portfolio-sync/internal/model"
)

// Merge folds buys into unchanged and returns a new list sorted ascending by
// ticker with at most one entry per ticker.
//
// Entries without a ticker are skipped. A buy for a ticker already present
// adds to its share count; otherwise a new holding is created. Value is
// always zero: only the valuation feed knows what a holding is worth.
// Merge never fails and never mutates its inputs.
func Merge(unchanged []model.Holding, buys []model.BuyDecision) []model.Holding {
	byTicker := make(map[string]*model.Holding, len(unchanged)+len(buys))

	for _, h := range unchanged {
		if h.Ticker == "" {
			continue
		}
		// Duplicate tickers in the snapshot: last one wins, like a map insert.
		byTicker[h.Ticker] = &model.Holding{
			Ticker:     h.Ticker,
			ShareCount: h.ShareCount,
			Value:      decimal.Zero,
		}
	}

	for _, b := range buys {
		if b.Ticker == "" {
			continue
		}
		if existing, ok := byTicker[b.Ticker]; ok {
			existing.ShareCount = existing.ShareCount.Add(b.SharesToBuy)
			continue
		}
		byTicker[b.Ticker] = &model.Holding{
			Ticker:     b.Ticker,
			ShareCount: b.SharesToBuy,
			Value:      decimal.Zero,
		}
	}

	merged := make([]model.Holding, 0, len(byTicker))
	for _, h := range byTicker {
		merged = append(merged, *h)
	}
	SortByTicker(merged)
	return merged
}

// SortByTicker orders holdings by ticker using an ordinal compare.
func SortByTicker(list []model.Holding) {
	slices.SortFunc(list, func(a, b model.Holding) int {
		return strings.Compare(a.Ticker, b.Ticker)
	})
}
