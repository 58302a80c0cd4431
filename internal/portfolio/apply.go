// Package portfolio folds feed responses into the reconciled portfolio view.
//
// The pure functions in this file compute a successor state from a prior
// snapshot; State wraps them with the portfolio identity guard and a lock so
// readers only ever observe complete successor states.
package portfolio

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/portfolio-sync/internal/holdings"
	"github.com/atmx/portfolio-sync/internal/model"
)

// Kind classifies the result of a decision apply.
type Kind string

const (
	Applied Kind = model.OutcomeApplied
	Skipped Kind = model.OutcomeSkipped
	Failed  Kind = model.OutcomeFailed
)

// Outcome is the classification of one decision fetch.
type Outcome struct {
	Kind   Kind   `json:"kind"`
	Reason string `json:"reason,omitempty"`
}

var hundred = decimal.NewFromInt(100)

// ApplyValuation returns the successor of s after folding in v.
//
// Absent fields leave the matching state untouched; in particular a missing
// estimated value keeps the last known change percentage. LastUpdated is
// always stamped.
func ApplyValuation(s model.PortfolioState, v model.Valuation, now time.Time) model.PortfolioState {
	next := s

	if v.EstimatedValue.Valid {
		next.EstimatedValue = v.EstimatedValue
		if pct, ok := ChangePercent(v.EstimatedValue.Decimal, s.StartingBalance); ok {
			next.LastChangePercent = pct
		}
	}

	if v.CapitalBalance.Valid {
		next.CashBalance = v.CapitalBalance.Decimal
	}

	if v.HasHoldings {
		next.Holdings = cloneHoldings(v.Holdings)
	}

	if v.HasLatestDecisions {
		next.LatestDecisions = model.Decisions{
			Sell: nonNil(slices.Clone(v.LatestSell)),
			Buy:  nonNil(slices.Clone(v.LatestBuy)),
		}
	}

	stamp(&next, now)
	return next
}

// ApplyDecisionResult returns the successor of s after folding in a decision
// response, together with its classification.
//
// An empty merge result means "no information" and never wipes holdings.
// A skipped response only applies what the backend explicitly reported
// (unchanged holdings, capital balance, decision date); its buy deltas are
// not merged and the displayed decisions are kept.
func ApplyDecisionResult(s model.PortfolioState, d model.Decisions, meta model.DecisionMeta, now time.Time) (model.PortfolioState, Outcome) {
	next := s

	buys := d.Buy
	if meta.Skipped {
		buys = nil
	}
	if full := holdings.Merge(meta.UnchangedHoldings, buys); len(full) > 0 {
		next.Holdings = full
	}

	if meta.CapitalBalance.Valid {
		next.CashBalance = meta.CapitalBalance.Decimal
	}

	if meta.DecisionDate != "" {
		next.LastDecisionDate = meta.DecisionDate
	}

	stamp(&next, now)

	if meta.Skipped {
		return next, Outcome{Kind: Skipped, Reason: meta.Reason}
	}

	next.LatestDecisions = model.Decisions{
		Sell: nonNil(slices.Clone(d.Sell)),
		Buy:  nonNil(slices.Clone(d.Buy)),
	}
	return next, Outcome{Kind: Applied}
}

// ApplyTransactionHistory replaces the ledger lists present in h.
// A nil list means the feed did not supply it.
func ApplyTransactionHistory(s model.PortfolioState, h model.TransactionHistory) model.PortfolioState {
	next := s
	if h.Sales != nil {
		next.TransactionHistory.Sales = slices.Clone(h.Sales)
	}
	if h.Purchases != nil {
		next.TransactionHistory.Purchases = slices.Clone(h.Purchases)
	}
	return next
}

// ChangePercent returns (value - baseline) / baseline * 100.
// It reports false when the baseline is zero.
func ChangePercent(value, baseline decimal.Decimal) (decimal.Decimal, bool) {
	if baseline.IsZero() {
		return decimal.Zero, false
	}
	return value.Sub(baseline).Div(baseline).Mul(hundred), true
}

func stamp(s *model.PortfolioState, now time.Time) {
	t := now
	s.LastUpdated = &t
}

func cloneHoldings(list []model.Holding) []model.Holding {
	out := make([]model.Holding, len(list))
	copy(out, list)
	return out
}

func nonNil[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}
