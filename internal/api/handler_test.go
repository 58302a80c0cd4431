package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/portfolio-sync/internal/api"
	"github.com/atmx/portfolio-sync/internal/engine"
	"github.com/atmx/portfolio-sync/internal/feed"
	"github.com/atmx/portfolio-sync/internal/model"
	"github.com/atmx/portfolio-sync/internal/portfolio"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

// stubFeeds answers every feed from a fixed function; a nil function means
// the feed is not configured.
type stubFeeds struct {
	decisions func() (feed.DecodedDecisions, error)
	valuation func() (model.Valuation, error)
	directory func() ([]map[string]any, error)
}

func (s *stubFeeds) FetchDecisions(_ context.Context, _ string) (feed.DecodedDecisions, error) {
	if s.decisions == nil {
		return feed.DecodedDecisions{}, feed.ErrNotConfigured
	}
	return s.decisions()
}

func (s *stubFeeds) FetchValuation(_ context.Context, _ string) (model.Valuation, error) {
	if s.valuation == nil {
		return model.Valuation{}, feed.ErrNotConfigured
	}
	return s.valuation()
}

func (s *stubFeeds) FetchTransactions(_ context.Context, _ string) (feed.TransactionBatch, error) {
	return feed.TransactionBatch{}, feed.ErrNotConfigured
}

func (s *stubFeeds) FetchDirectory(_ context.Context) ([]map[string]any, error) {
	if s.directory == nil {
		return nil, feed.ErrNotConfigured
	}
	return s.directory()
}

func (s *stubFeeds) IDColumn() string { return "id" }

type testEnv struct {
	feeds  *stubFeeds
	engine *engine.Engine
	hub    *api.WSHub
	router http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	f := &stubFeeds{
		valuation: func() (model.Valuation, error) {
			return model.Valuation{
				EstimatedValue: decimal.NewNullDecimal(d(105000)),
				HasHoldings:    true,
				Holdings:       []model.Holding{{Ticker: "SPY", ShareCount: d(10), Value: d(5000)}},
			}, nil
		},
	}
	hub := api.NewWSHub(zerolog.Nop())
	eng := engine.New(engine.Options{
		Feeds:           f,
		Publisher:       hub,
		StartingBalance: d(100000),
		Logger:          zerolog.Nop(),
	})
	h := api.NewHandler(eng, hub, zerolog.Nop())
	return &testEnv{feeds: f, engine: eng, hub: hub, router: h.Router([]string{"*"})}
}

func (e *testEnv) do(t *testing.T, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var body map[string]any
	if strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec, body := env.do(t, http.MethodGet, "/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestGetPortfolio_BeforeSelection(t *testing.T) {
	env := newTestEnv(t)
	rec, body := env.do(t, http.MethodGet, "/api/v1/portfolio")

	require.Equal(t, http.StatusOK, rec.Code)
	state := body["state"].(map[string]any)
	assert.Equal(t, "", state["portfolio_id"])
	assert.Equal(t, false, body["auto_fetch_due"])
	assert.Contains(t, body["statuses"], engine.PaneDecisions)
}

func TestRefreshDecisions_NoPortfolioIsConflict(t *testing.T) {
	env := newTestEnv(t)
	rec, body := env.do(t, http.MethodPost, "/api/v1/portfolio/decisions")

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, portfolio.ErrNoPortfolio.Error(), body["error"])
}

func TestSelectPortfolio_FetchesValuation(t *testing.T) {
	env := newTestEnv(t)
	rec, body := env.do(t, http.MethodPost, "/api/v1/portfolios/p1/select")

	require.Equal(t, http.StatusOK, rec.Code)
	state := body["state"].(map[string]any)
	assert.Equal(t, "p1", state["portfolio_id"])
	assert.Equal(t, "105000", state["estimated_value"])
	assert.Equal(t, "5", state["last_change_percent"])
	assert.Equal(t, "105000.00", body["display_value"])

	statuses := body["statuses"].(map[string]any)
	valuation := statuses[engine.PaneValuation].(map[string]any)
	assert.Equal(t, engine.StateReady, valuation["state"])
}

func TestSelectPortfolio_SkipValuation(t *testing.T) {
	env := newTestEnv(t)
	rec, body := env.do(t, http.MethodPost, "/api/v1/portfolios/p1/select?valuation=false")

	require.Equal(t, http.StatusOK, rec.Code)
	state := body["state"].(map[string]any)
	assert.Nil(t, state["estimated_value"])
}

func TestRefreshDecisions_NotConfigured(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/v1/portfolios/p1/select?valuation=false")

	rec, body := env.do(t, http.MethodPost, "/api/v1/portfolio/decisions")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, feed.ErrNotConfigured.Error(), body["error"])
}

func TestRefreshDecisions_TransportFailureKeepsSnapshot(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/v1/portfolios/p1/select")

	env.feeds.decisions = func() (feed.DecodedDecisions, error) {
		return feed.DecodedDecisions{}, &feed.TransportError{Feed: model.SourceDecisions, StatusCode: 500, Err: errors.New("upstream down")}
	}
	rec, body := env.do(t, http.MethodPost, "/api/v1/portfolio/decisions")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, body["error"], "upstream down")

	rec, body = env.do(t, http.MethodGet, "/api/v1/portfolio")
	require.Equal(t, http.StatusOK, rec.Code)
	state := body["state"].(map[string]any)
	assert.Equal(t, "105000", state["estimated_value"])

	decisions := body["statuses"].(map[string]any)[engine.PaneDecisions].(map[string]any)
	assert.Equal(t, engine.StateOffline, decisions["state"])
}

func TestRefreshDecisions_Applied(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/v1/portfolios/p1/select?valuation=false")

	env.feeds.decisions = func() (feed.DecodedDecisions, error) {
		return feed.DecodedDecisions{
			PortfolioID: "p1",
			Decisions: model.Decisions{
				Buy: []model.BuyDecision{{Ticker: "QQQ", SharesToBuy: d(3)}},
			},
			Meta: model.DecisionMeta{DecisionDate: "2026-03-10", CapitalBalance: decimal.NewNullDecimal(d(500))},
		}, nil
	}
	rec, body := env.do(t, http.MethodPost, "/api/v1/portfolio/decisions")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.OutcomeApplied, body["outcome"])
	state := body["state"].(map[string]any)
	assert.Equal(t, "2026-03-10", state["last_decision_date"])
	assert.Equal(t, "500", state["cash_balance"])
	assert.Len(t, state["holdings"], 1)
}

func TestListApplies(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/v1/portfolios/p1/select")
	env.do(t, http.MethodPost, "/api/v1/portfolio/valuation")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/portfolio/applies?limit=1", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var records []model.ApplyRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "p1", records[0].PortfolioID)
	assert.Equal(t, model.SourceValuation, records[0].Source)
	assert.Equal(t, uint64(2), records[0].Revision)
}

func TestListApplies_BadLimit(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/v1/portfolios/p1/select?valuation=false")

	rec, body := env.do(t, http.MethodGet, "/api/v1/portfolio/applies?limit=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, body["error"])
}

func TestListPortfolios(t *testing.T) {
	env := newTestEnv(t)

	t.Run("not configured", func(t *testing.T) {
		rec, _ := env.do(t, http.MethodGet, "/api/v1/portfolios")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("loaded and sorted", func(t *testing.T) {
		env.feeds.directory = func() ([]map[string]any, error) {
			return []map[string]any{
				{"id": "b-1", "display_name": "beta"},
				{"id": "a-1", "display_name": "Alpha"},
			}, nil
		}
		rec, body := env.do(t, http.MethodGet, "/api/v1/portfolios?refresh=true")
		require.Equal(t, http.StatusOK, rec.Code)

		list := body["portfolios"].([]any)
		require.Len(t, list, 2)
		assert.Equal(t, "Alpha", list[0].(map[string]any)["display_name"])
		assert.Equal(t, engine.StateReady, body["status"].(map[string]any)["state"])
	})
}

func TestStatusFor(t *testing.T) {
	cases := map[string]struct {
		err  error
		want int
	}{
		"no portfolio":      {portfolio.ErrNoPortfolio, http.StatusConflict},
		"identity mismatch": {portfolio.ErrIdentityMismatch, http.StatusConflict},
		"not configured":    {feed.ErrNotConfigured, http.StatusServiceUnavailable},
		"transport":         {&feed.TransportError{Feed: "valuation", Err: errors.New("x")}, http.StatusBadGateway},
		"undecodable":       {feed.ErrUndecodable, http.StatusBadGateway},
		"other":             {errors.New("boom"), http.StatusInternalServerError},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, api.StatusFor(tc.err))
		})
	}
}

func TestWebSocket_PushesSnapshots(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.hub.Run(ctx)

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	env.do(t, http.MethodPost, "/api/v1/portfolios/p1/select?valuation=false")

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() map[string]any {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var msg map[string]any
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	}

	initial := read()
	assert.Equal(t, api.MessagePortfolioState, initial["type"])
	assert.Equal(t, "p1", initial["portfolio_id"])
	assert.Equal(t, float64(0), initial["revision"])

	rec, _ := env.do(t, http.MethodPost, "/api/v1/portfolio/valuation")
	require.Equal(t, http.StatusOK, rec.Code)

	// An earlier publish may still be queued; wait for the applied one.
	pushed := read()
	for pushed["revision"] == float64(0) {
		pushed = read()
	}
	assert.Equal(t, api.MessagePortfolioState, pushed["type"])
	assert.Equal(t, float64(1), pushed["revision"])
	assert.Equal(t, "105000", pushed["estimated_value"])
}

func TestRateLimit_RejectsBursts(t *testing.T) {
	env := newTestEnv(t)
	h := api.NewHandler(env.engine, env.hub, zerolog.Nop()).WithRateLimit(1, 2)
	router := h.Router([]string{"*"})

	post := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/portfolio/valuation", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusConflict, post())
	assert.Equal(t, http.StatusConflict, post())
	assert.Equal(t, http.StatusTooManyRequests, post())

	// Reads are never throttled.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/portfolio", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
