package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/atmx/portfolio-sync/internal/metrics"
	"github.com/atmx/portfolio-sync/internal/model"
)

// Config holds the endpoints and request parameters of the feeds.
type Config struct {
	DecisionAPIURL  string
	ForecastHorizon string
	ModelType       string

	SupabaseURL       string
	SupabaseAnonKey   string
	PortfolioTable    string
	PortfolioIDColumn string
	TransactionTable  string

	Timeout time.Duration
}

// Client fetches the decision, valuation, transaction and directory feeds.
// Requests are never retried.
type Client struct {
	cfg       Config
	decisions *resty.Client
	store     *resty.Client
	log       zerolog.Logger
}

// NewClient creates a feed client.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.PortfolioTable == "" {
		cfg.PortfolioTable = "portfolios"
	}
	if cfg.PortfolioIDColumn == "" {
		cfg.PortfolioIDColumn = "id"
	}
	if cfg.TransactionTable == "" {
		cfg.TransactionTable = "portfolio_transaction_history"
	}

	decisions := resty.New()
	decisions.SetBaseURL(strings.TrimRight(cfg.DecisionAPIURL, "/"))
	decisions.SetTimeout(cfg.Timeout)
	decisions.SetHeader("Content-Type", "application/json")

	store := resty.New()
	store.SetBaseURL(strings.TrimRight(cfg.SupabaseURL, "/"))
	store.SetTimeout(cfg.Timeout)
	store.SetHeader("apikey", cfg.SupabaseAnonKey)
	store.SetAuthToken(cfg.SupabaseAnonKey)
	store.SetHeader("Accept", "application/json")

	return &Client{
		cfg:       cfg,
		decisions: decisions,
		store:     store,
		log:       log.With().Str("component", "feed").Logger(),
	}
}

// DecisionsConfigured reports whether the decision API is reachable in principle.
func (c *Client) DecisionsConfigured() bool {
	return c.cfg.DecisionAPIURL != ""
}

// StoreConfigured reports whether the store REST API has a URL and key.
func (c *Client) StoreConfigured() bool {
	return c.cfg.SupabaseURL != "" && c.cfg.SupabaseAnonKey != ""
}

// IDColumn is the directory column holding portfolio ids.
func (c *Client) IDColumn() string {
	return c.cfg.PortfolioIDColumn
}

// FetchDecisions requests today's decisions for a portfolio.
func (c *Client) FetchDecisions(ctx context.Context, portfolioID string) (DecodedDecisions, error) {
	if !c.DecisionsConfigured() {
		return DecodedDecisions{}, fmt.Errorf("decision API URL unset: %w", ErrNotConfigured)
	}

	payload := DecisionRequest{
		PortfolioID:     portfolioID,
		ForecastHorizon: c.cfg.ForecastHorizon,
		ModelType:       c.cfg.ModelType,
	}
	body, err := c.do(ctx, model.SourceDecisions, portfolioID, c.decisions.R().SetBody(payload), "POST", "/api/decisions")
	if err != nil {
		return DecodedDecisions{}, err
	}

	out, err := DecodeDecisions(body)
	if err != nil {
		return DecodedDecisions{}, &TransportError{Feed: model.SourceDecisions, Err: err}
	}
	c.log.Info().
		Str("portfolio_id", portfolioID).
		Str("decision_date", out.Meta.DecisionDate).
		Bool("skipped", out.Meta.Skipped).
		Str("reason", out.Meta.Reason).
		Msg("Decision response received")
	return out, nil
}

// FetchValuation reads the stored portfolio row for a portfolio.
func (c *Client) FetchValuation(ctx context.Context, portfolioID string) (model.Valuation, error) {
	if !c.StoreConfigured() {
		return model.Valuation{}, fmt.Errorf("store credentials unset: %w", ErrNotConfigured)
	}

	idCol := c.cfg.PortfolioIDColumn
	req := c.store.R().SetQueryParams(map[string]string{
		"select": idCol + ",balance,capital,etfs,etf_share_counts,last_sale,last_purchase,last_update_date",
		idCol:    "eq." + portfolioID,
	})
	body, err := c.do(ctx, model.SourceValuation, portfolioID, req, "GET", "/rest/v1/"+c.cfg.PortfolioTable)
	if err != nil {
		return model.Valuation{}, err
	}

	v, err := DecodeValuationRows(body)
	if err != nil {
		return model.Valuation{}, &TransportError{Feed: model.SourceValuation, Err: err}
	}
	return v, nil
}

// FetchTransactions reads the transaction history row for a portfolio.
func (c *Client) FetchTransactions(ctx context.Context, portfolioID string) (TransactionBatch, error) {
	if !c.StoreConfigured() {
		return TransactionBatch{}, fmt.Errorf("store credentials unset: %w", ErrNotConfigured)
	}

	req := c.store.R().SetQueryParams(map[string]string{
		"select":       "portfolio_id,sale_transaction,purchase_transaction",
		"portfolio_id": "eq." + portfolioID,
	})
	body, err := c.do(ctx, model.SourceTransactions, portfolioID, req, "GET", "/rest/v1/"+c.cfg.TransactionTable)
	if err != nil {
		return TransactionBatch{}, err
	}

	batch, err := DecodeTransactions(body)
	if err != nil {
		return TransactionBatch{}, &TransportError{Feed: model.SourceTransactions, Err: err}
	}
	c.log.Info().
		Str("portfolio_id", batch.PortfolioID).
		Int("sales", len(batch.Sales)).
		Int("purchases", len(batch.Purchases)).
		Msg("Transaction history received")
	return batch, nil
}

// FetchDirectory lists the stored portfolios as raw rows.
func (c *Client) FetchDirectory(ctx context.Context) ([]map[string]any, error) {
	if !c.StoreConfigured() {
		return nil, fmt.Errorf("store credentials unset: %w", ErrNotConfigured)
	}

	req := c.store.R().SetQueryParams(map[string]string{
		"select": c.cfg.PortfolioIDColumn + ",display_name",
		"order":  "display_name.asc",
	})
	body, err := c.do(ctx, model.SourceDirectory, "", req, "GET", "/rest/v1/"+c.cfg.PortfolioTable)
	if err != nil {
		return nil, err
	}

	var rows []map[string]any
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, &TransportError{Feed: model.SourceDirectory, Err: ErrUndecodable}
	}
	return rows, nil
}

// do executes req and returns the body of a 2xx response. Every other
// outcome is a TransportError.
func (c *Client) do(ctx context.Context, feed, portfolioID string, req *resty.Request, method, path string) ([]byte, error) {
	start := time.Now()
	defer metrics.ObserveFeed(feed, start)

	c.log.Info().
		Str("feed", feed).
		Str("method", method).
		Str("path", path).
		Str("portfolio_id", portfolioID).
		Msg("Feed request")

	resp, err := req.SetContext(ctx).Execute(method, path)
	if err != nil {
		c.log.Error().Err(err).Str("feed", feed).Str("path", path).Msg("Feed request failed")
		return nil, &TransportError{Feed: feed, Err: err}
	}
	if resp.IsError() || resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		c.log.Error().
			Str("feed", feed).
			Str("path", path).
			Int("status", resp.StatusCode()).
			Msg("Feed returned an error response")
		return nil, &TransportError{
			Feed:       feed,
			StatusCode: resp.StatusCode(),
			Err:        errors.New(resp.Status()),
		}
	}
	return resp.Body(), nil
}
