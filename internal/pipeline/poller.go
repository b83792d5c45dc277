package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/web3guy0/whalebot/internal/metrics"
	"github.com/web3guy0/whalebot/internal/watchlist"
)

// ═══════════════════════════════════════════════════════════════════════════════
// POLLER - Cycle orchestrator
// ═══════════════════════════════════════════════════════════════════════════════
//
// Every interval, each watchlist batch is run through the pipeline. Batches
// run concurrently up to a bound; one failing batch never aborts the others.
//
// ═══════════════════════════════════════════════════════════════════════════════

// PollerOptions tunes cycle timing
type PollerOptions struct {
	Interval    time.Duration
	Lookback    time.Duration // first-poll window
	Concurrency int
}

// CycleStats summarizes one cycle
type CycleStats struct {
	Started       time.Time     `json:"started"`
	Duration      time.Duration `json:"duration_ns"`
	Batches       int           `json:"batches"`
	FailedBatches int           `json:"failed_batches"`
	Skipped       int           `json:"skipped_batches"`
	BatchResult
}

// Status is a point-in-time view of the poller
type Status struct {
	Stage     Stage      `json:"stage"`
	Cycles    int        `json:"cycles"`
	Running   bool       `json:"running"`
	Batches   int        `json:"batches"`
	LastCycle CycleStats `json:"last_cycle"`
}

// Poller drives the pipeline on a fixed interval
type Poller struct {
	pipeline *Pipeline
	batches  []watchlist.Batch
	opts     PollerOptions
	metrics  *metrics.Metrics

	mu     sync.RWMutex
	since  map[int]time.Time // batch index -> next fetch window start
	status Status
}

// NewPoller creates a poller over a fixed batch partition
func NewPoller(p *Pipeline, batches []watchlist.Batch, opts PollerOptions) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.Lookback <= 0 {
		opts.Lookback = 24 * time.Hour
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}

	pl := &Poller{
		pipeline: p,
		batches:  batches,
		opts:     opts,
		metrics:  p.Metrics,
		since:    make(map[int]time.Time),
		status:   Status{Stage: StageIdle, Batches: len(batches)},
	}
	p.onStage = pl.setStage
	return pl
}

func (pl *Poller) setStage(s Stage) {
	pl.mu.Lock()
	pl.status.Stage = s
	pl.mu.Unlock()
}

// Status returns a copy of the current status
func (pl *Poller) Status() Status {
	pl.mu.RLock()
	defer pl.mu.RUnlock()
	return pl.status
}

// StatusText renders the status for chat commands
func (pl *Poller) StatusText() string {
	st := pl.Status()
	var b strings.Builder
	fmt.Fprintf(&b, "🐋 <b>WHALEBOT STATUS</b>\n")
	fmt.Fprintf(&b, "Stage: <b>%s</b>\n", st.Stage)
	fmt.Fprintf(&b, "Cycles: <b>%d</b> | Batches: <b>%d</b>\n", st.Cycles, st.Batches)
	if st.Cycles > 0 {
		lc := st.LastCycle
		fmt.Fprintf(&b, "Last cycle: %d tx, %d alerts, %d dupes, %d failed batches (%s)",
			lc.Fetched, lc.Sent, lc.Duplicates, lc.FailedBatches, lc.Duration.Round(time.Millisecond))
	}
	return b.String()
}

// sinceFor returns the fetch window start for a batch
func (pl *Poller) sinceFor(idx int, now time.Time) time.Time {
	pl.mu.RLock()
	defer pl.mu.RUnlock()
	if t, ok := pl.since[idx]; ok {
		return t
	}
	return now.Add(-pl.opts.Lookback)
}

// RunCycle processes every batch once
func (pl *Poller) RunCycle(ctx context.Context) CycleStats {
	now := pl.pipeline.Now
	stats := CycleStats{Started: now(), Batches: len(pl.batches)}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(pl.opts.Concurrency)

	for _, batch := range pl.batches {
		batch := batch
		g.Go(func() error {
			if ctx.Err() != nil {
				mu.Lock()
				stats.Skipped++
				mu.Unlock()
				return nil
			}

			fetchStart := now()
			res, err := pl.pipeline.ProcessBatch(ctx, batch, pl.sinceFor(batch.Index, fetchStart))

			mu.Lock()
			defer mu.Unlock()
			stats.add(res)

			if err != nil {
				stats.FailedBatches++
				pl.metrics.BatchDone(batch.Chain, "error")
				log.Warn().
					Err(err).
					Int("batch", batch.Index).
					Str("chain", batch.Chain).
					Int("addresses", len(batch.Addresses)).
					Msg("Batch failed, skipping until next cycle")
				return nil
			}

			pl.metrics.BatchDone(batch.Chain, "ok")
			pl.mu.Lock()
			pl.since[batch.Index] = fetchStart.Add(-pl.opts.Interval)
			pl.mu.Unlock()
			return nil
		})
	}
	g.Wait()

	stats.Duration = now().Sub(stats.Started)
	pl.metrics.CycleDone(stats.Duration)

	pl.mu.Lock()
	pl.status.Stage = StageIdle
	pl.status.Cycles++
	pl.status.LastCycle = stats
	pl.mu.Unlock()

	log.Info().
		Int("batches", stats.Batches).
		Int("failed", stats.FailedBatches).
		Int("tx", stats.Fetched).
		Int("alerts", stats.Sent).
		Int("duplicates", stats.Duplicates).
		Dur("took", stats.Duration).
		Msg("🔄 Cycle complete")

	return stats
}

// Run polls until ctx is cancelled; the first cycle starts immediately
func (pl *Poller) Run(ctx context.Context) {
	pl.mu.Lock()
	pl.status.Running = true
	pl.mu.Unlock()
	defer func() {
		pl.mu.Lock()
		pl.status.Running = false
		pl.mu.Unlock()
	}()

	log.Info().
		Int("batches", len(pl.batches)).
		Dur("interval", pl.opts.Interval).
		Int("concurrency", pl.opts.Concurrency).
		Msg("⚡ Poller started")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Poller stopped")
			return
		case <-timer.C:
			pl.RunCycle(ctx)
			timer.Reset(pl.opts.Interval)
		}
	}
}
