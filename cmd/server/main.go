package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/atmx/portfolio-sync/internal/api"
	"github.com/atmx/portfolio-sync/internal/config"
	"github.com/atmx/portfolio-sync/internal/engine"
	"github.com/atmx/portfolio-sync/internal/feed"
	"github.com/atmx/portfolio-sync/internal/logger"
	"github.com/atmx/portfolio-sync/internal/schedule"
	"github.com/atmx/portfolio-sync/internal/store"
)

func main() {
	os.Exit(run())
}

// run wires and serves the process. It returns the exit code so deferred
// cleanup always runs before the process exits.
func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return 1
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	logger.SetGlobalLogger(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	st, cleanup, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("store initialization failed")
		return 1
	}
	defer cleanup()

	// --- Feeds ---
	feeds := feed.NewClient(feed.Config{
		DecisionAPIURL:    cfg.DecisionAPIURL,
		ForecastHorizon:   cfg.ForecastHorizon,
		ModelType:         cfg.ModelType,
		SupabaseURL:       cfg.SupabaseURL,
		SupabaseAnonKey:   cfg.SupabaseAnonKey,
		PortfolioTable:    cfg.PortfolioTable,
		PortfolioIDColumn: cfg.PortfolioIDColumn,
		TransactionTable:  cfg.TransactionTable,
		Timeout:           cfg.FeedTimeout,
	}, log)
	if !cfg.DecisionsConfigured() {
		log.Warn().Msg("DECISION_API_URL not set, decision refreshes are disabled")
	}
	if !cfg.SupabaseConfigured() {
		log.Warn().Msg("SUPABASE_URL/SUPABASE_ANON_KEY not set, valuation, transactions and directory are disabled")
	}

	// --- WebSocket hub ---
	hub := api.NewWSHub(log)
	go hub.Run(ctx)

	// --- Engine ---
	eng := engine.New(engine.Options{
		Feeds:           feeds,
		Store:           st,
		Publisher:       hub,
		StartingBalance: cfg.StartingBalance,
		Logger:          log,
	})

	if _, err := eng.LoadDirectory(ctx); err != nil {
		log.Warn().Err(err).Msg("portfolio directory unavailable at startup")
	}
	if cfg.DefaultPortfolioID != "" {
		if _, err := eng.SelectPortfolio(ctx, cfg.DefaultPortfolioID); err != nil {
			log.Warn().Err(err).Str("portfolio_id", cfg.DefaultPortfolioID).Msg("default portfolio not selected")
		} else if _, err := eng.RefreshValuation(ctx); err != nil {
			log.Warn().Err(err).Msg("initial valuation failed")
		}
	}

	// --- Auto-fetch scheduler ---
	runner := schedule.NewRunner(cfg.AutoFetchInterval, eng.Snapshot, eng.AutoRefresh, log)
	if err := runner.Start(ctx); err != nil {
		log.Error().Err(err).Msg("scheduler start failed")
		return 1
	}

	// --- Server ---
	handler := api.NewHandler(eng, hub, log).WithRateLimit(cfg.RefreshRateLimit, cfg.RefreshBurst)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler.Router(cfg.CORSOrigins),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.FeedTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if err := serve(ctx, srv, runner.Stop, log); err != nil {
		return 1
	}
	log.Info().Msg("portfolio-sync stopped")
	return 0
}

// serve runs srv until ctx is done or the listener fails, then stops the
// scheduler and drains in-flight requests.
func serve(ctx context.Context, srv *http.Server, stopScheduler func(), log zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("portfolio-sync listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down portfolio-sync...")
	case serveErr = <-errCh:
		log.Error().Err(serveErr).Msg("server error")
	}

	stopScheduler()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	return serveErr
}

// openStore picks PostgreSQL (with an optional Redis read-through cache)
// when DATABASE_URL is set and the in-memory store otherwise.
func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (store.Store, func(), error) {
	var cleanup []func()
	closeAll := func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}

	if cfg.DatabaseURL == "" {
		log.Warn().Msg("DATABASE_URL not set, using in-memory store (snapshots will not persist)")
		return store.NewMemoryStore(), closeAll, nil
	}

	if err := store.Migrate(cfg.DatabaseURL); err != nil {
		return nil, closeAll, fmt.Errorf("migrate: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, closeAll, fmt.Errorf("connect postgres: %w", err)
	}
	cleanup = append(cleanup, pool.Close)
	if err := pool.Ping(ctx); err != nil {
		closeAll()
		return nil, func() {}, fmt.Errorf("ping postgres: %w", err)
	}

	var st store.Store = store.NewPostgresStore(pool)
	log.Info().Msg("connected to PostgreSQL")

	// Wrap with Redis read-through cache if configured.
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
		log.Info().Dur("ttl", cfg.CacheTTL).Msg("Redis cache enabled")
	}

	return st, closeAll, nil
}
