package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/atmx/portfolio-sync/internal/metrics"
	"github.com/atmx/portfolio-sync/internal/model"
)

// Tick results.
const (
	TickIdle    = "idle"
	TickFetched = "fetched"
)

// SnapshotFunc returns the current portfolio view.
type SnapshotFunc func() model.PortfolioState

// FetchFunc performs one decision fetch.
type FetchFunc func(ctx context.Context) error

// Runner is the single recurring tick of a session: it evaluates
// ShouldAutoFetch and only then runs the fetch. Ticks never overlap; a tick
// that fires while a fetch is still running is skipped.
type Runner struct {
	cron     *cron.Cron
	chain    cron.Chain
	interval time.Duration
	snapshot SnapshotFunc
	fetch    FetchFunc
	now      func() time.Time
	log      zerolog.Logger

	mu      sync.Mutex
	startup sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// NewRunner creates a runner that ticks every interval.
func NewRunner(interval time.Duration, snapshot SnapshotFunc, fetch FetchFunc, log zerolog.Logger) *Runner {
	if interval <= 0 {
		interval = DefaultInterval
	}
	l := log.With().Str("component", "scheduler").Logger()
	cronLog := cron.PrintfLogger(&l)

	return &Runner{
		chain:    cron.NewChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		interval: interval,
		snapshot: snapshot,
		fetch:    fetch,
		now:      time.Now,
		log:      l,
	}
}

// WithClock overrides the wall clock, for tests.
func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	return r
}

// Start evaluates the schedule once immediately and then every interval
// until Stop is called or ctx is cancelled.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return fmt.Errorf("scheduler already started")
	}

	r.ctx, r.cancel = context.WithCancel(ctx)
	tickCtx := r.ctx

	// The start-up evaluation shares the wrapped job with the schedule so
	// it cannot overlap the first interval tick.
	job := r.chain.Then(cron.FuncJob(func() { r.Tick(tickCtx) }))
	r.cron = cron.New()
	r.cron.Schedule(cron.Every(r.interval), job)

	r.started = true
	r.cron.Start()
	r.startup.Add(1)
	go func() {
		defer r.startup.Done()
		job.Run()
	}()

	r.log.Info().Dur("interval", r.interval).Msg("Auto-fetch scheduler started")
	return nil
}

// Stop halts future ticks and waits for a running tick to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		return
	}
	r.cancel()
	<-r.cron.Stop().Done()
	r.startup.Wait()
	r.started = false
	r.log.Info().Msg("Auto-fetch scheduler stopped")
}

// Tick runs one evaluation and reports whether a fetch was performed.
func (r *Runner) Tick(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}

	if !ShouldAutoFetch(r.snapshot(), r.now()) {
		metrics.SchedulerTicks.WithLabelValues(TickIdle).Inc()
		return false
	}

	metrics.SchedulerTicks.WithLabelValues(TickFetched).Inc()
	r.log.Info().Msg("Market closed and no decisions applied today, fetching decisions")
	if err := r.fetch(ctx); err != nil {
		r.log.Warn().Err(err).Msg("Automatic decision fetch did not apply")
	}
	return true
}
