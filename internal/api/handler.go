// Package api exposes the portfolio engine over HTTP and pushes state
// changes to WebSocket clients.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/atmx/portfolio-sync/internal/engine"
	"github.com/atmx/portfolio-sync/internal/feed"
	"github.com/atmx/portfolio-sync/internal/metrics"
	"github.com/atmx/portfolio-sync/internal/model"
	"github.com/atmx/portfolio-sync/internal/portfolio"
)

const defaultApplyLimit = 50

// Engine is the part of engine.Engine the HTTP layer drives.
type Engine interface {
	Snapshot() model.PortfolioState
	Statuses() map[string]model.Status
	Directory() []model.PortfolioRef
	AutoFetchDue(now time.Time) bool
	ApplyRecords(ctx context.Context, limit int) ([]model.ApplyRecord, error)
	LoadDirectory(ctx context.Context) ([]model.PortfolioRef, error)
	SelectPortfolio(ctx context.Context, id string) (model.PortfolioState, error)
	RefreshDecisions(ctx context.Context, trigger engine.Trigger) (engine.Result, error)
	RefreshValuation(ctx context.Context) (engine.Result, error)
	RefreshTransactions(ctx context.Context, since string) (engine.Result, error)
}

// Handler serves the portfolio HTTP API.
type Handler struct {
	engine  Engine
	hub     *WSHub
	limiter *RateLimiter
	log     zerolog.Logger
}

// NewHandler creates a Handler. hub may be nil, in which case the
// WebSocket route answers 503.
func NewHandler(eng Engine, hub *WSHub, log zerolog.Logger) *Handler {
	return &Handler{
		engine: eng,
		hub:    hub,
		log:    log.With().Str("component", "api").Logger(),
	}
}

// WithRateLimit throttles the refresh and select routes per client.
// A non-positive rps disables the limit.
func (h *Handler) WithRateLimit(rps, burst int) *Handler {
	if rps > 0 {
		h.limiter = NewRateLimiter(rps, burst)
	} else {
		h.limiter = nil
	}
	return h
}

// Router builds the chi router with middleware and every route mounted.
func (h *Handler) Router(corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for pushed snapshots.
		r.Get("/ws", h.HandleWS)

		r.Get("/portfolios", h.ListPortfolios)
		r.Get("/portfolio", h.GetPortfolio)
		r.Get("/portfolio/applies", h.ListApplies)

		// Routes that reach the upstream feeds.
		r.Group(func(r chi.Router) {
			if h.limiter != nil {
				r.Use(h.limiter.Middleware)
			}
			r.Post("/portfolios/{portfolioID}/select", h.SelectPortfolio)
			r.Post("/portfolio/decisions", h.RefreshDecisions)
			r.Post("/portfolio/valuation", h.RefreshValuation)
			r.Post("/portfolio/transactions", h.RefreshTransactions)
		})
	})
	return r
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "portfolio-sync"})
}

// PortfolioResponse is the body of GET /api/v1/portfolio.
type PortfolioResponse struct {
	State        model.PortfolioState    `json:"state"`
	DisplayValue string                  `json:"display_value"`
	Statuses     map[string]model.Status `json:"statuses"`
	AutoFetchDue bool                    `json:"auto_fetch_due"`
}

// GetPortfolio handles GET /api/v1/portfolio.
func (h *Handler) GetPortfolio(w http.ResponseWriter, _ *http.Request) {
	snap := h.engine.Snapshot()
	writeJSON(w, http.StatusOK, PortfolioResponse{
		State:        snap,
		DisplayValue: snap.DisplayValue().StringFixed(2),
		Statuses:     h.engine.Statuses(),
		AutoFetchDue: h.engine.AutoFetchDue(time.Now()),
	})
}

// DirectoryResponse is the body of GET /api/v1/portfolios.
type DirectoryResponse struct {
	Portfolios []model.PortfolioRef `json:"portfolios"`
	Status     model.Status         `json:"status"`
}

// ListPortfolios handles GET /api/v1/portfolios. The directory is fetched
// again when refresh=true or when it has not been loaded yet.
func (h *Handler) ListPortfolios(w http.ResponseWriter, r *http.Request) {
	refs := h.engine.Directory()
	if len(refs) == 0 || r.URL.Query().Get("refresh") == "true" {
		loaded, err := h.engine.LoadDirectory(r.Context())
		if err != nil {
			h.writeEngineError(w, err)
			return
		}
		refs = loaded
	}
	writeJSON(w, http.StatusOK, DirectoryResponse{
		Portfolios: refs,
		Status:     h.engine.Statuses()[engine.PaneDirectory],
	})
}

// SelectPortfolio handles POST /api/v1/portfolios/{portfolioID}/select.
// Unless valuation=false is passed, the stored valuation of the new
// selection is fetched right away; its failure only shows in the statuses.
func (h *Handler) SelectPortfolio(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "portfolioID")

	snap, err := h.engine.SelectPortfolio(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	if r.URL.Query().Get("valuation") != "false" {
		res, err := h.engine.RefreshValuation(r.Context())
		switch {
		case err == nil:
			snap = res.State
		case errors.Is(err, portfolio.ErrIdentityMismatch):
			// Another selection won the race; report what is current.
			snap = h.engine.Snapshot()
		default:
			h.log.Warn().Err(err).Str("portfolio_id", id).Msg("valuation after select failed")
			snap = h.engine.Snapshot()
		}
	}

	writeJSON(w, http.StatusOK, PortfolioResponse{
		State:        snap,
		DisplayValue: snap.DisplayValue().StringFixed(2),
		Statuses:     h.engine.Statuses(),
		AutoFetchDue: h.engine.AutoFetchDue(time.Now()),
	})
}

// RefreshDecisions handles POST /api/v1/portfolio/decisions.
func (h *Handler) RefreshDecisions(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.RefreshDecisions(r.Context(), engine.TriggerManual)
	h.writeResult(w, res, err)
}

// RefreshValuation handles POST /api/v1/portfolio/valuation.
func (h *Handler) RefreshValuation(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.RefreshValuation(r.Context())
	h.writeResult(w, res, err)
}

// RefreshTransactions handles POST /api/v1/portfolio/transactions?since=.
func (h *Handler) RefreshTransactions(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.RefreshTransactions(r.Context(), r.URL.Query().Get("since"))
	h.writeResult(w, res, err)
}

// ListApplies handles GET /api/v1/portfolio/applies?limit=.
func (h *Handler) ListApplies(w http.ResponseWriter, r *http.Request) {
	limit := defaultApplyLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	records, err := h.engine.ApplyRecords(r.Context(), limit)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	if records == nil {
		records = []model.ApplyRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// HandleWS upgrades to a WebSocket that receives every new snapshot,
// starting with the current one.
func (h *Handler) HandleWS(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		writeError(w, "websocket push is disabled", http.StatusServiceUnavailable)
		return
	}
	h.hub.Serve(w, r, h.engine.Snapshot())
}

func (h *Handler) writeResult(w http.ResponseWriter, res engine.Result, err error) {
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) writeEngineError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Int("status", status).Msg("request failed")
	}
	writeError(w, err.Error(), status)
}

// StatusFor maps an engine error to its HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, portfolio.ErrNoPortfolio):
		return http.StatusConflict
	case errors.Is(err, portfolio.ErrIdentityMismatch):
		return http.StatusConflict
	case errors.Is(err, feed.ErrNotConfigured):
		return http.StatusServiceUnavailable
	case feed.IsTransport(err), errors.Is(err, feed.ErrUndecodable), errors.Is(err, feed.ErrNoRow):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
