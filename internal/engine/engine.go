// Package engine orchestrates the portfolio view of one session: it selects
// portfolios, runs feed refreshes against the state aggregate, tracks pane
// statuses, persists snapshots and publishes every new state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/atmx/portfolio-sync/internal/directory"
	"github.com/atmx/portfolio-sync/internal/feed"
	"github.com/atmx/portfolio-sync/internal/ledger"
	"github.com/atmx/portfolio-sync/internal/metrics"
	"github.com/atmx/portfolio-sync/internal/model"
	"github.com/atmx/portfolio-sync/internal/portfolio"
	"github.com/atmx/portfolio-sync/internal/schedule"
	"github.com/atmx/portfolio-sync/internal/store"
)

// Trigger tells why a decision refresh was started.
type Trigger string

const (
	TriggerManual Trigger = "manual"
	TriggerAuto   Trigger = "auto"
)

// Feeds is the transport the engine pulls from.
type Feeds interface {
	FetchDecisions(ctx context.Context, portfolioID string) (feed.DecodedDecisions, error)
	FetchValuation(ctx context.Context, portfolioID string) (model.Valuation, error)
	FetchTransactions(ctx context.Context, portfolioID string) (feed.TransactionBatch, error)
	FetchDirectory(ctx context.Context) ([]map[string]any, error)
	IDColumn() string
}

// Publisher receives every new state after a successful apply.
type Publisher interface {
	Publish(state model.PortfolioState)
}

type nopPublisher struct{}

func (nopPublisher) Publish(model.PortfolioState) {}

// Result is the outcome of one refresh.
type Result struct {
	State   model.PortfolioState `json:"state"`
	Outcome string               `json:"outcome"`
	Reason  string               `json:"reason,omitempty"`
}

// Options configures an Engine.
type Options struct {
	Feeds           Feeds
	Store           store.Store
	Publisher       Publisher
	StartingBalance decimal.Decimal
	Logger          zerolog.Logger
	Now             func() time.Time
}

// Engine is safe for concurrent use.
type Engine struct {
	feeds Feeds
	store store.Store
	pub   Publisher
	state *portfolio.State
	log   zerolog.Logger
	now   func() time.Time

	flights singleflight.Group

	saveMu sync.Mutex
	saved  map[string]version

	mu        sync.RWMutex
	statuses  map[string]model.Status
	directory []model.PortfolioRef
}

// New creates an engine with no portfolio selected.
func New(opts Options) *Engine {
	if opts.Publisher == nil {
		opts.Publisher = nopPublisher{}
	}
	if opts.Store == nil {
		opts.Store = store.NewMemoryStore()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		feeds:     opts.Feeds,
		store:     opts.Store,
		pub:       opts.Publisher,
		state:     portfolio.NewState(opts.StartingBalance),
		log:       opts.Logger.With().Str("component", "engine").Logger(),
		now:       opts.Now,
		statuses:  initialStatuses(),
		directory: []model.PortfolioRef{},
		saved:     make(map[string]version),
	}
}

// version orders snapshots of one portfolio: a later selection wins, then
// the higher revision.
type version struct {
	generation uint64
	revision   uint64
}

func (v version) after(o version) bool {
	if v.generation != o.generation {
		return v.generation > o.generation
	}
	return v.revision > o.revision
}

// IsConfigurationError reports whether err means a refresh could not start:
// no portfolio is selected or the feed is not configured.
func IsConfigurationError(err error) bool {
	return errors.Is(err, feed.ErrNotConfigured) || errors.Is(err, portfolio.ErrNoPortfolio)
}

// Snapshot returns the current portfolio state.
func (e *Engine) Snapshot() model.PortfolioState {
	return e.state.Snapshot()
}

// Statuses returns a copy of the pane statuses.
func (e *Engine) Statuses() map[string]model.Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return maps.Clone(e.statuses)
}

// Directory returns the last loaded portfolio directory.
func (e *Engine) Directory() []model.PortfolioRef {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]model.PortfolioRef(nil), e.directory...)
}

// AutoFetchDue reports whether an automatic decision refresh is due at now.
func (e *Engine) AutoFetchDue(now time.Time) bool {
	return schedule.ShouldAutoFetch(e.state.Snapshot(), now)
}

// ApplyRecords lists the apply log of the selected portfolio, newest first.
func (e *Engine) ApplyRecords(ctx context.Context, limit int) ([]model.ApplyRecord, error) {
	tok, err := e.state.Token()
	if err != nil {
		return nil, err
	}
	return e.store.ListApplyRecords(ctx, tok.PortfolioID, limit)
}

// LoadDirectory fetches and normalizes the portfolio directory.
func (e *Engine) LoadDirectory(ctx context.Context) ([]model.PortfolioRef, error) {
	e.setStatus(PaneDirectory, directoryLoading)

	start := time.Now()
	rows, err := e.feeds.FetchDirectory(ctx)
	if err != nil {
		e.mu.Lock()
		e.directory = []model.PortfolioRef{}
		if errors.Is(err, feed.ErrNotConfigured) {
			e.statuses[PaneDirectory] = directoryNoConfig
		} else {
			e.statuses[PaneDirectory] = directoryOffline
		}
		e.mu.Unlock()

		metrics.Applies.WithLabelValues(model.SourceDirectory, model.OutcomeFailed).Inc()
		e.log.Error().Err(err).Msg("Portfolio directory fetch failed")
		return nil, err
	}

	refs := directory.Normalize(rows, e.feeds.IDColumn())

	e.mu.Lock()
	e.directory = refs
	if len(refs) == 0 {
		e.statuses[PaneDirectory] = directoryEmpty
	} else {
		e.statuses[PaneDirectory] = directoryReady
	}
	e.mu.Unlock()

	metrics.Applies.WithLabelValues(model.SourceDirectory, model.OutcomeApplied).Inc()
	e.log.Info().Int("portfolios", len(refs)).Dur("took", time.Since(start)).Msg("Portfolio directory loaded")
	return append([]model.PortfolioRef(nil), refs...), nil
}

// SelectPortfolio switches the session to the portfolio with the given id.
//
// The state is reset to its initial form, the last persisted snapshot of the
// portfolio is restored as cached state, and every in-flight response for
// the previous selection becomes stale. An id missing from the directory is
// still selectable; its id doubles as display name.
func (e *Engine) SelectPortfolio(ctx context.Context, id string) (model.PortfolioState, error) {
	if id == "" {
		return model.PortfolioState{}, portfolio.ErrNoPortfolio
	}

	e.mu.Lock()
	ref, ok := directory.Find(e.directory, id)
	if !ok {
		ref = model.PortfolioRef{ID: id, DisplayName: id}
	}
	tok := e.state.Select(ref)
	e.statuses[PaneDecisions] = decisionsSelected
	e.statuses[PaneValuation] = valuationSelected
	e.statuses[PaneTransactions] = transactionsSelected
	e.mu.Unlock()

	e.log.Info().Str("portfolio_id", id).Uint64("generation", tok.Generation).Msg("Portfolio selected")

	cached, err := e.store.GetSnapshot(ctx, id)
	switch {
	case err == nil:
		if _, err := e.state.Restore(tok, cached); err != nil {
			e.log.Debug().Err(err).Str("portfolio_id", id).Msg("Cached snapshot not restored")
		} else {
			metrics.Applies.WithLabelValues(model.SourceCache, model.OutcomeApplied).Inc()
		}
	case errors.Is(err, store.ErrNotFound):
	default:
		e.log.Warn().Err(err).Str("portfolio_id", id).Msg("Failed to load cached snapshot")
	}

	snap := e.state.Snapshot()
	e.pub.Publish(snap)
	return snap, nil
}

// RefreshDecisions fetches today's decisions and applies them.
func (e *Engine) RefreshDecisions(ctx context.Context, trigger Trigger) (Result, error) {
	tok, err := e.state.Token()
	if err != nil {
		e.setStatus(PaneDecisions, selectPortfolioHint)
		return Result{}, err
	}
	e.setStatusFor(tok, PaneDecisions, decisionsFetching)

	return e.flight(model.SourceDecisions, tok, func(ctx context.Context) (Result, error) {
		log := e.log.With().Str("portfolio_id", tok.PortfolioID).Str("trigger", string(trigger)).Logger()

		decoded, err := e.feeds.FetchDecisions(ctx, tok.PortfolioID)
		if err != nil {
			return e.fail(ctx, tok, model.SourceDecisions, err, decisionsOffline, decisionsNoConfig, log)
		}
		if decoded.PortfolioID != "" && decoded.PortfolioID != tok.PortfolioID {
			return e.discard(ctx, tok, model.SourceDecisions, log)
		}

		next, outcome, err := e.state.ApplyDecisionResult(tok, decoded.Decisions, decoded.Meta, e.now())
		if err != nil {
			return e.discard(ctx, tok, model.SourceDecisions, log)
		}

		res := Result{State: next, Outcome: model.OutcomeApplied}
		status := decisionsReady
		if outcome.Kind == portfolio.Skipped {
			res.Outcome, res.Reason = model.OutcomeSkipped, outcome.Reason
			status = skippedStatus(outcome.Reason)
		}
		e.setStatusFor(tok, PaneDecisions, status)
		e.commit(ctx, tok, model.SourceDecisions, res, decoded.Meta.DecisionDate)

		log.Info().
			Str("outcome", res.Outcome).
			Str("decision_date", next.LastDecisionDate).
			Int("holdings", len(next.Holdings)).
			Msg("Decisions applied")
		return res, nil
	})
}

// AutoRefresh fetches decisions only when ShouldAutoFetch allows it.
func (e *Engine) AutoRefresh(ctx context.Context) error {
	if !e.AutoFetchDue(e.now()) {
		return nil
	}
	_, err := e.RefreshDecisions(ctx, TriggerAuto)
	return err
}

// RefreshValuation fetches the stored valuation and applies it.
func (e *Engine) RefreshValuation(ctx context.Context) (Result, error) {
	tok, err := e.state.Token()
	if err != nil {
		e.setStatus(PaneValuation, selectPortfolioHint)
		return Result{}, err
	}
	e.setStatusFor(tok, PaneValuation, valuationFetching)

	return e.flight(model.SourceValuation, tok, func(ctx context.Context) (Result, error) {
		log := e.log.With().Str("portfolio_id", tok.PortfolioID).Logger()

		v, err := e.feeds.FetchValuation(ctx, tok.PortfolioID)
		if err != nil {
			return e.fail(ctx, tok, model.SourceValuation, err, valuationOffline, storeNoConfig, log)
		}

		next, err := e.state.ApplyValuation(tok, v, e.now())
		if err != nil {
			return e.discard(ctx, tok, model.SourceValuation, log)
		}

		res := Result{State: next, Outcome: model.OutcomeApplied}
		e.setStatusFor(tok, PaneValuation, valuationReady)
		if v.HasLatestDecisions {
			e.setStatusFor(tok, PaneDecisions, decisionsReady)
		}
		e.commit(ctx, tok, model.SourceValuation, res, "")

		log.Info().
			Bool("has_estimate", v.EstimatedValue.Valid).
			Int("holdings", len(next.Holdings)).
			Msg("Valuation applied")
		return res, nil
	})
}

// RefreshTransactions fetches the transaction ledger and applies the entries
// at or after since. An empty or unparseable since keeps every entry.
func (e *Engine) RefreshTransactions(ctx context.Context, since string) (Result, error) {
	tok, err := e.state.Token()
	if err != nil {
		e.setStatus(PaneTransactions, selectPortfolioHint)
		return Result{}, err
	}
	e.setStatusFor(tok, PaneTransactions, transactionsFetching)

	key := model.SourceTransactions + "|" + since
	return e.flight(key, tok, func(ctx context.Context) (Result, error) {
		log := e.log.With().Str("portfolio_id", tok.PortfolioID).Logger()

		batch, err := e.feeds.FetchTransactions(ctx, tok.PortfolioID)
		if err != nil {
			return e.fail(ctx, tok, model.SourceTransactions, err, transactionsOffline, storeNoConfig, log)
		}
		if batch.PortfolioID != "" && batch.PortfolioID != tok.PortfolioID {
			return e.discard(ctx, tok, model.SourceTransactions, log)
		}

		var history model.TransactionHistory
		if batch.Sales != nil {
			history.Sales = ledger.Build(batch.Sales, since)
		}
		if batch.Purchases != nil {
			history.Purchases = ledger.Build(batch.Purchases, since)
		}

		next, err := e.state.ApplyTransactionHistory(tok, history)
		if err != nil {
			return e.discard(ctx, tok, model.SourceTransactions, log)
		}

		res := Result{State: next, Outcome: model.OutcomeApplied}
		e.setStatusFor(tok, PaneTransactions, transactionsReady)
		e.commit(ctx, tok, model.SourceTransactions, res, "")

		log.Info().
			Int("sales", len(next.TransactionHistory.Sales)).
			Int("purchases", len(next.TransactionHistory.Purchases)).
			Msg("Transaction history applied")
		return res, nil
	})
}

// flight runs fn once per feed and selection, sharing the result with every
// concurrent caller. The fetch is detached from the caller's cancellation:
// a response that arrives late is still checked and applied or discarded.
func (e *Engine) flight(feedKey string, tok portfolio.Token, fn func(context.Context) (Result, error)) (Result, error) {
	key := fmt.Sprintf("%s|%s|%d", feedKey, tok.PortfolioID, tok.Generation)
	v, err, shared := e.flights.Do(key, func() (any, error) {
		return fn(context.Background())
	})
	if shared {
		e.log.Debug().Str("flight", key).Msg("Joined in-flight refresh")
	}
	res, _ := v.(Result)
	return res, err
}

// fail handles a fetch error. Statuses only change while the selection is
// still current.
func (e *Engine) fail(ctx context.Context, tok portfolio.Token, source string, err error, offline, noConfig model.Status, log zerolog.Logger) (Result, error) {
	if IsConfigurationError(err) {
		e.setStatusFor(tok, source, noConfig)
		log.Warn().Err(err).Str("source", source).Msg("Feed not configured")
		return Result{}, err
	}

	e.setStatusFor(tok, source, offline)
	metrics.Applies.WithLabelValues(source, model.OutcomeFailed).Inc()
	log.Error().Err(err).Str("source", source).Msg("Feed fetch failed, keeping cached state")

	snap := e.state.Snapshot()
	e.record(ctx, tok, source, model.OutcomeFailed, err.Error(), "", snap.Revision)
	return Result{State: snap, Outcome: model.OutcomeFailed, Reason: err.Error()}, err
}

// discard drops a response whose selection is no longer current. It is
// silent towards the user.
func (e *Engine) discard(ctx context.Context, tok portfolio.Token, source string, log zerolog.Logger) (Result, error) {
	metrics.IdentityMismatches.WithLabelValues(source).Inc()
	metrics.Applies.WithLabelValues(source, model.OutcomeDiscarded).Inc()
	log.Debug().Str("source", source).Uint64("generation", tok.Generation).Msg("Discarding response for a previous selection")

	e.record(ctx, tok, source, model.OutcomeDiscarded, portfolio.ErrIdentityMismatch.Error(), "", 0)
	return Result{State: e.state.Snapshot(), Outcome: model.OutcomeDiscarded}, portfolio.ErrIdentityMismatch
}

// commit persists, records and publishes a successful apply.
func (e *Engine) commit(ctx context.Context, tok portfolio.Token, source string, res Result, decisionDate string) {
	metrics.Applies.WithLabelValues(source, res.Outcome).Inc()

	e.persist(ctx, res.State)
	e.record(ctx, tok, source, res.Outcome, res.Reason, decisionDate, res.State.Revision)
	e.pub.Publish(res.State)
}

// persist saves st unless a newer snapshot of the same portfolio has already
// been saved. Saves are serialized so concurrent commits land in order.
func (e *Engine) persist(ctx context.Context, st model.PortfolioState) {
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	v := version{generation: st.Generation, revision: st.Revision}
	if last, ok := e.saved[st.PortfolioID]; ok && !v.after(last) {
		e.log.Debug().
			Str("portfolio_id", st.PortfolioID).
			Uint64("revision", st.Revision).
			Uint64("saved_revision", last.revision).
			Msg("Skipping snapshot older than the persisted one")
		return
	}
	if err := e.store.SaveSnapshot(ctx, st); err != nil {
		e.log.Warn().Err(err).Str("portfolio_id", st.PortfolioID).Msg("Failed to persist snapshot")
		return
	}
	e.saved[st.PortfolioID] = v
}

func (e *Engine) record(ctx context.Context, tok portfolio.Token, source, outcome, reason, decisionDate string, revision uint64) {
	rec := &model.ApplyRecord{
		ID:           uuid.New().String(),
		PortfolioID:  tok.PortfolioID,
		Source:       source,
		Outcome:      outcome,
		Reason:       reason,
		DecisionDate: decisionDate,
		Generation:   tok.Generation,
		Revision:     revision,
		CreatedAt:    e.now().UTC(),
	}
	if err := e.store.InsertApplyRecord(ctx, rec); err != nil {
		e.log.Warn().Err(err).Str("portfolio_id", tok.PortfolioID).Msg("Failed to record apply")
	}
}

func (e *Engine) setStatus(pane string, st model.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.statuses[pane] = st
}

// setStatusFor updates a pane only while tok is the active selection.
func (e *Engine) setStatusFor(tok portfolio.Token, pane string, st model.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.IsCurrent(tok) {
		e.statuses[pane] = st
	}
}
