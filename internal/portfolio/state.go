package portfolio

import (
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/portfolio-sync/internal/model"
)

var (
	// ErrNoPortfolio is returned when an operation needs a selected portfolio
	// and none is active.
	ErrNoPortfolio = errors.New("portfolio: no active portfolio selected")

	// ErrIdentityMismatch is returned when an apply carries a token from a
	// portfolio selection that is no longer current. The response must be
	// discarded without touching state.
	ErrIdentityMismatch = errors.New("portfolio: response belongs to a previous portfolio selection")

	// ErrAlreadyApplied is returned by Restore when a feed apply has already
	// landed for the current selection. The live state is newer than any
	// cached snapshot.
	ErrAlreadyApplied = errors.New("portfolio: selection already has applied state")
)

// Token identifies the portfolio selection a fetch was started for.
// Capture it before the network call and hand it back on apply.
type Token struct {
	PortfolioID string
	Generation  uint64
}

// State is the single mutable portfolio aggregate of one session.
// Every apply computes a complete successor snapshot and swaps it in under
// the write lock.
type State struct {
	mu              sync.RWMutex
	startingBalance decimal.Decimal
	current         model.PortfolioState
	selected        bool
}

// NewState creates a State with no portfolio selected.
func NewState(startingBalance decimal.Decimal) *State {
	return &State{
		startingBalance: startingBalance,
		current:         model.NewPortfolioState(model.PortfolioRef{}, startingBalance),
	}
}

// Select switches to ref, resetting the state to its initial empty form and
// invalidating every token issued for the previous selection.
func (s *State) Select(ref model.PortfolioRef) Token {
	if ref.DisplayName == "" {
		ref.DisplayName = ref.ID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	gen := s.current.Generation + 1
	s.current = model.NewPortfolioState(ref, s.startingBalance)
	s.current.Generation = gen
	s.selected = ref.ID != ""
	return Token{PortfolioID: ref.ID, Generation: gen}
}

// Token returns the token of the current selection.
func (s *State) Token() (Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.selected {
		return Token{}, ErrNoPortfolio
	}
	return Token{PortfolioID: s.current.PortfolioID, Generation: s.current.Generation}, nil
}

// IsCurrent reports whether tok still identifies the active selection.
func (s *State) IsCurrent(tok Token) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected && tok.PortfolioID == s.current.PortfolioID && tok.Generation == s.current.Generation
}

// Snapshot returns a consistent copy of the current state.
func (s *State) Snapshot() model.PortfolioState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// ApplyValuation folds a valuation snapshot into the state.
func (s *State) ApplyValuation(tok Token, v model.Valuation, now time.Time) (model.PortfolioState, error) {
	return s.update(tok, func(cur model.PortfolioState) model.PortfolioState {
		return ApplyValuation(cur, v, now)
	})
}

// ApplyDecisionResult folds a decision response into the state and
// classifies it as applied or skipped.
func (s *State) ApplyDecisionResult(tok Token, d model.Decisions, meta model.DecisionMeta, now time.Time) (model.PortfolioState, Outcome, error) {
	var outcome Outcome
	next, err := s.update(tok, func(cur model.PortfolioState) model.PortfolioState {
		next, o := ApplyDecisionResult(cur, d, meta, now)
		outcome = o
		return next
	})
	return next, outcome, err
}

// ApplyTransactionHistory replaces the transaction ledger.
func (s *State) ApplyTransactionHistory(tok Token, h model.TransactionHistory) (model.PortfolioState, error) {
	return s.update(tok, func(cur model.PortfolioState) model.PortfolioState {
		return ApplyTransactionHistory(cur, h)
	})
}

// Restore loads a previously persisted snapshot as the cached view of the
// current selection. Identity and counters stay those of the live selection.
// It only applies while nothing has been applied since Select.
func (s *State) Restore(tok Token, cached model.PortfolioState) (model.PortfolioState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(tok); err != nil {
		return model.PortfolioState{}, err
	}
	if s.current.Revision != 0 {
		return model.PortfolioState{}, ErrAlreadyApplied
	}

	cur := s.current
	next := cached.Clone()
	next.PortfolioID = cur.PortfolioID
	next.DisplayName = cur.DisplayName
	next.Generation = cur.Generation
	next.Revision = cur.Revision + 1
	next.StartingBalance = cur.StartingBalance
	next.Holdings = nonNil(next.Holdings)
	next.TransactionHistory.Sales = nonNil(next.TransactionHistory.Sales)
	next.TransactionHistory.Purchases = nonNil(next.TransactionHistory.Purchases)
	next.LatestDecisions.Sell = nonNil(next.LatestDecisions.Sell)
	next.LatestDecisions.Buy = nonNil(next.LatestDecisions.Buy)

	s.current = next
	return next.Clone(), nil
}

func (s *State) update(tok Token, fn func(model.PortfolioState) model.PortfolioState) (model.PortfolioState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(tok); err != nil {
		return model.PortfolioState{}, err
	}

	next := fn(s.current)
	next.Revision = s.current.Revision + 1
	s.current = next
	return next.Clone(), nil
}

// check validates tok against the live selection. Callers hold s.mu.
func (s *State) check(tok Token) error {
	if !s.selected {
		return ErrNoPortfolio
	}
	if tok.PortfolioID != s.current.PortfolioID || tok.Generation != s.current.Generation {
		return ErrIdentityMismatch
	}
	return nil
}
