// Package model defines the core domain types shared across the portfolio
// sync engine. All monetary values and share counts use shopspring/decimal.
package model

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// DateFormat is the layout of exchange-local calendar dates (YYYY-MM-DD).
const DateFormat = "2006-01-02"

// Holding is one ticker position inside a portfolio snapshot.
// Holdings are only ever replaced as a whole list, never edited in place.
type Holding struct {
	Ticker     string          `json:"ticker"`
	ShareCount decimal.Decimal `json:"share_count"`
	Value      decimal.Decimal `json:"value"` // recomputed by valuation, never by decisions
}

// SellDecision is one sell recommendation from the decision feed.
type SellDecision struct {
	Ticker                string              `json:"ticker"`
	SharesToSell          decimal.Decimal     `json:"shares_to_sell"`
	PredictedReturn       decimal.NullDecimal `json:"predicted_return"`
	PredictedReturnPeriod string              `json:"predicted_return_period,omitempty"`
	SelloffDate           string              `json:"selloff_date,omitempty"`
	SelloffReturn         decimal.NullDecimal `json:"selloff_return"`
}

// BuyDecision is one buy recommendation from the decision feed.
type BuyDecision struct {
	Ticker      string          `json:"ticker"`
	SharesToBuy decimal.Decimal `json:"shares_to_buy"`
}

// Decisions groups the sell and buy lists of one decision response.
type Decisions struct {
	Sell []SellDecision `json:"sell"`
	Buy  []BuyDecision  `json:"buy"`
}

// DecisionMeta is the non-decision part of a decision feed response.
type DecisionMeta struct {
	Skipped           bool
	Reason            string
	DecisionDate      string
	CapitalBalance    decimal.NullDecimal
	UnchangedHoldings []Holding
}

// Valuation is a point-in-time snapshot from the valuation feed.
// Absent fields carry no information and leave state untouched.
type Valuation struct {
	EstimatedValue decimal.NullDecimal
	CapitalBalance decimal.NullDecimal

	Holdings    []Holding
	HasHoldings bool // true when the feed supplied a holdings list, even an empty one

	LatestSell         []SellDecision
	LatestBuy          []BuyDecision
	HasLatestDecisions bool
}

// TransactionEntry is one immutable ledger line.
type TransactionEntry struct {
	Ticker          string          `json:"ticker"`
	ShareCount      decimal.Decimal `json:"share_count"`
	TransactionTime *string         `json:"transaction_time"`
}

// TransactionHistory is the sales/purchases ledger shown for a portfolio.
type TransactionHistory struct {
	Sales     []TransactionEntry `json:"sales"`
	Purchases []TransactionEntry `json:"purchases"`
}

// PortfolioRef identifies a selectable portfolio.
type PortfolioRef struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// PortfolioState is a read-only snapshot of the reconciled portfolio view.
type PortfolioState struct {
	PortfolioID string `json:"portfolio_id"`
	DisplayName string `json:"display_name"`
	Generation  uint64 `json:"generation"` // bumped on every portfolio selection
	Revision    uint64 `json:"revision"`   // bumped on every successful apply

	StartingBalance   decimal.Decimal     `json:"starting_balance"`
	CashBalance       decimal.Decimal     `json:"cash_balance"`
	EstimatedValue    decimal.NullDecimal `json:"estimated_value"`
	Holdings          []Holding           `json:"holdings"`
	LastChangePercent decimal.Decimal     `json:"last_change_percent"`
	LastDecisionDate  string              `json:"last_decision_date,omitempty"`
	LastUpdated       *time.Time          `json:"last_updated"`

	TransactionHistory TransactionHistory `json:"transaction_history"`
	LatestDecisions    Decisions          `json:"latest_decisions"`
}

// NewPortfolioState returns the initial empty state for a portfolio.
func NewPortfolioState(ref PortfolioRef, startingBalance decimal.Decimal) PortfolioState {
	return PortfolioState{
		PortfolioID:     ref.ID,
		DisplayName:     ref.DisplayName,
		StartingBalance: startingBalance,
		CashBalance:     startingBalance,
		Holdings:        []Holding{},
		TransactionHistory: TransactionHistory{
			Sales:     []TransactionEntry{},
			Purchases: []TransactionEntry{},
		},
		LatestDecisions: Decisions{
			Sell: []SellDecision{},
			Buy:  []BuyDecision{},
		},
	}
}

// Clone returns a deep copy of s that shares no slices with it.
func (s PortfolioState) Clone() PortfolioState {
	c := s
	c.Holdings = slices.Clone(s.Holdings)
	c.TransactionHistory.Sales = slices.Clone(s.TransactionHistory.Sales)
	c.TransactionHistory.Purchases = slices.Clone(s.TransactionHistory.Purchases)
	c.LatestDecisions.Sell = slices.Clone(s.LatestDecisions.Sell)
	c.LatestDecisions.Buy = slices.Clone(s.LatestDecisions.Buy)
	if s.LastUpdated != nil {
		t := *s.LastUpdated
		c.LastUpdated = &t
	}
	return c
}

// HoldingsValue sums the value of all holdings.
func (s PortfolioState) HoldingsValue() decimal.Decimal {
	total := decimal.Zero
	for _, h := range s.Holdings {
		total = total.Add(h.Value)
	}
	return total
}

// DisplayValue is the authoritative estimated value when known, otherwise
// cash plus holdings value.
func (s PortfolioState) DisplayValue() decimal.Decimal {
	if s.EstimatedValue.Valid {
		return s.EstimatedValue.Decimal
	}
	return s.CashBalance.Add(s.HoldingsValue())
}

// Feed sources, used for apply records, metrics and statuses.
const (
	SourceDecisions    = "decisions"
	SourceValuation    = "valuation"
	SourceTransactions = "transactions"
	SourceDirectory    = "directory"
	SourceCache        = "cache"
)

// Apply outcomes.
const (
	OutcomeApplied   = "applied"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
	OutcomeDiscarded = "discarded"
)

// ApplyRecord is an immutable audit entry for one apply attempt.
// Once created, these are never modified or deleted.
type ApplyRecord struct {
	ID           string    `json:"id" db:"id"`
	PortfolioID  string    `json:"portfolio_id" db:"portfolio_id"`
	Source       string    `json:"source" db:"source"`
	Outcome      string    `json:"outcome" db:"outcome"`
	Reason       string    `json:"reason,omitempty" db:"reason"`
	DecisionDate string    `json:"decision_date,omitempty" db:"decision_date"`
	Generation   uint64    `json:"generation" db:"generation"`
	Revision     uint64    `json:"revision" db:"revision"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Status is the user-facing state of one pane (decisions, valuation, ...).
type Status struct {
	State   string `json:"state"`
	Message string `json:"message"`
}
