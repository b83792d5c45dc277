// Package backfill reconstructs whale alerts for a past window directly from
// the upstream source, for clients that connect after the fact.
package backfill

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/web3guy0/whalebot/internal/allium"
	"github.com/web3guy0/whalebot/internal/dedup"
	"github.com/web3guy0/whalebot/internal/enricher"
	"github.com/web3guy0/whalebot/internal/filter"
	"github.com/web3guy0/whalebot/internal/formatter"
	"github.com/web3guy0/whalebot/internal/types"
	"github.com/web3guy0/whalebot/internal/watchlist"
)

const (
	MinLookbackMinutes     = 1
	MaxLookbackMinutes     = 7 * 24 * 60
	DefaultLookbackMinutes = 60

	defaultPageLimit   = 100
	defaultMaxPages    = 10
	defaultCacheTTL    = time.Minute
	defaultConcurrency = 4
	defaultScanTimeout = 2 * time.Minute
)

// ErrAllBatchesFailed means no batch could be fetched at all
var ErrAllBatchesFailed = errors.New("backfill: every batch failed")

// Source is the upstream data backfill reads
type Source interface {
	WalletTransactions(ctx context.Context, addrs []allium.AddressRef, q allium.TxQuery) (*allium.TransactionsResponse, error)
	Prices(ctx context.Context, tokens []allium.TokenRef) (*allium.PricesResponse, error)
}

// Options configures a Service
type Options struct {
	Source      Source
	Batches     []watchlist.Batch
	Enricher    *enricher.Enricher
	Thresholds  filter.Thresholds
	CacheTTL    time.Duration
	PageLimit   int
	MaxPages    int
	Concurrency int
	ScanTimeout time.Duration
	Now         func() time.Time
}

// Result is one history response
type Result struct {
	Alerts          []types.Record `json:"alerts"`
	Cached          bool           `json:"cached"`
	LookbackMinutes int            `json:"lookback_minutes"`
}

type cacheEntry struct {
	alerts  []types.Record
	expires time.Time
}

// Service answers history queries with a short-lived per-window cache
type Service struct {
	opts  Options
	group singleflight.Group

	mu    sync.Mutex
	cache map[int]cacheEntry
}

// New creates a backfill service
func New(opts Options) *Service {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	if opts.PageLimit <= 0 {
		opts.PageLimit = defaultPageLimit
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = defaultMaxPages
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = defaultScanTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{opts: opts, cache: make(map[int]cacheEntry)}
}

// ClampLookback bounds a requested window to [1 minute, 7 days]
func ClampLookback(minutes int) int {
	switch {
	case minutes < MinLookbackMinutes:
		return MinLookbackMinutes
	case minutes > MaxLookbackMinutes:
		return MaxLookbackMinutes
	}
	return minutes
}

// History returns every above-threshold alert in the last lookbackMinutes,
// newest first. Concurrent calls for the same window share one upstream scan;
// the scan is detached from any single caller and bounded by ScanTimeout, so a
// caller that gives up only stops waiting.
func (s *Service) History(ctx context.Context, lookbackMinutes int) (Result, error) {
	lookback := ClampLookback(lookbackMinutes)
	res := Result{LookbackMinutes: lookback}

	if alerts, ok := s.cached(lookback); ok {
		res.Alerts, res.Cached = alerts, true
		return res, nil
	}

	ch := s.group.DoChan(strconv.Itoa(lookback), func() (interface{}, error) {
		scanCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ScanTimeout)
		defer cancel()

		alerts, err := s.scan(scanCtx, time.Duration(lookback)*time.Minute)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.cache[lookback] = cacheEntry{alerts: alerts, expires: s.opts.Now().Add(s.opts.CacheTTL)}
		s.mu.Unlock()
		return alerts, nil
	})

	select {
	case <-ctx.Done():
		return res, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return res, r.Err
		}
		res.Alerts = r.Val.([]types.Record)
		return res, nil
	}
}

func (s *Service) cached(lookback int) ([]types.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.cache[lookback]
	if !ok || !s.opts.Now().Before(e.expires) {
		return nil, false
	}
	return e.alerts, true
}

// PurgeExpired drops stale cache entries and returns how many were removed
func (s *Service) PurgeExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.opts.Now()
	removed := 0
	for k, e := range s.cache {
		if !now.Before(e.expires) {
			delete(s.cache, k)
			removed++
		}
	}
	return removed
}

func (s *Service) scan(ctx context.Context, lookback time.Duration) ([]types.Record, error) {
	start := s.opts.Now()
	cutoff := start.Add(-lookback)

	var (
		mu     sync.Mutex
		txs    []allium.WalletTransaction
		failed int
		g      errgroup.Group
	)
	g.SetLimit(s.opts.Concurrency)

	for _, batch := range s.opts.Batches {
		batch := batch
		g.Go(func() error {
			got, err := s.fetchBatch(ctx, batch, cutoff)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				log.Warn().Err(err).Int("batch", batch.Index).Str("chain", batch.Chain).Msg("Backfill batch failed")
			}
			txs = append(txs, got...)
			return nil
		})
	}
	g.Wait()

	if len(s.opts.Batches) > 0 && failed == len(s.opts.Batches) {
		return nil, ErrAllBatchesFailed
	}

	prices := enricher.BuildPriceMap(ctx, s.opts.Source, txs)

	seen := make(map[string]bool)
	var alerts []types.Record
	for _, tx := range txs {
		candidates, _ := s.opts.Enricher.Extract(tx, prices)
		for i := range candidates {
			c := &candidates[i]
			if c.Timestamp.Before(cutoff) || !s.opts.Thresholds.Pass(c) {
				continue
			}
			key := dedup.CandidateKey(c)
			if seen[key] {
				continue
			}
			seen[key] = true
			alerts = append(alerts, formatter.NewRecord(c))
		}
	}

	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].BlockTimestamp.After(alerts[j].BlockTimestamp)
	})
	if alerts == nil {
		alerts = []types.Record{}
	}

	log.Info().
		Dur("lookback", lookback).
		Int("tx", len(txs)).
		Int("alerts", len(alerts)).
		Dur("took", s.opts.Now().Sub(start)).
		Msg("📜 Backfill complete")
	return alerts, nil
}

// fetchBatch follows the cursor until the window is exhausted or the page cap is hit.
// Pages fetched before an error are still returned.
func (s *Service) fetchBatch(ctx context.Context, batch watchlist.Batch, cutoff time.Time) ([]allium.WalletTransaction, error) {
	var (
		txs    []allium.WalletTransaction
		cursor string
	)
	for page := 0; page < s.opts.MaxPages; page++ {
		resp, err := s.opts.Source.WalletTransactions(ctx, batch.Addresses, allium.TxQuery{
			Limit:  s.opts.PageLimit,
			Cursor: cursor,
			Since:  cutoff,
		})
		if err != nil {
			return txs, err
		}
		txs = append(txs, resp.Items...)
		// Items are newest first; an empty filtered page means we passed the cutoff
		if resp.Cursor == "" || len(resp.Items) == 0 {
			break
		}
		cursor = resp.Cursor
	}
	return txs, nil
}
