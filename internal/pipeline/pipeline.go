// Package pipeline turns watched-address activity into published alerts:
// fetch, price, extract, filter, dedup, format, record and broadcast.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/whalebot/internal/allium"
	"github.com/web3guy0/whalebot/internal/broadcast"
	"github.com/web3guy0/whalebot/internal/dedup"
	"github.com/web3guy0/whalebot/internal/discovery"
	"github.com/web3guy0/whalebot/internal/enricher"
	"github.com/web3guy0/whalebot/internal/filter"
	"github.com/web3guy0/whalebot/internal/formatter"
	"github.com/web3guy0/whalebot/internal/history"
	"github.com/web3guy0/whalebot/internal/metrics"
	"github.com/web3guy0/whalebot/internal/types"
	"github.com/web3guy0/whalebot/internal/watchlist"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PIPELINE - Per-batch alert flow
// ═══════════════════════════════════════════════════════════════════════════════
//
// Flow:
//   Fetch → Prices → Extract → Threshold → Dedup → Format → History → Broadcast
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	defaultPageLimit = 100
	defaultMaxPages  = 5
)

// Source is the upstream data the pipeline needs
type Source interface {
	WalletTransactions(ctx context.Context, addrs []allium.AddressRef, q allium.TxQuery) (*allium.TransactionsResponse, error)
	Prices(ctx context.Context, tokens []allium.TokenRef) (*allium.PricesResponse, error)
}

// Stage is the processing step the pipeline most recently entered
type Stage string

const (
	StageIdle         Stage = "idle"
	StageFetching     Stage = "fetching"
	StageEnriching    Stage = "enriching"
	StageFiltering    Stage = "filtering"
	StageDeduping     Stage = "deduping"
	StageFormatting   Stage = "formatting"
	StageBroadcasting Stage = "broadcasting"
)

// Deps wires the pipeline's collaborators
type Deps struct {
	Source      Source
	Enricher    *enricher.Enricher
	Thresholds  filter.Thresholds
	Dedup       dedup.Store
	History     *history.Buffer
	Broadcaster *broadcast.Broadcaster
	Discovery   *discovery.Tracker // optional
	Metrics     *metrics.Metrics   // optional

	PageLimit int
	MaxPages  int
	Now       func() time.Time
}

// BatchResult summarizes one processed batch
type BatchResult struct {
	Fetched        int            `json:"fetched"`
	Candidates     int            `json:"candidates"`
	BelowThreshold int            `json:"below_threshold"`
	Duplicates     int            `json:"duplicates"`
	DedupErrors    int            `json:"dedup_errors"`
	Sent           int            `json:"sent"`
	Drops          enricher.Drops `json:"drops"`
}

func (r *BatchResult) add(o BatchResult) {
	r.Fetched += o.Fetched
	r.Candidates += o.Candidates
	r.BelowThreshold += o.BelowThreshold
	r.Duplicates += o.Duplicates
	r.DedupErrors += o.DedupErrors
	r.Sent += o.Sent
	r.Drops.Add(o.Drops)
}

// Pipeline processes batches; it is safe for concurrent use
type Pipeline struct {
	Deps
	onStage func(Stage)
}

// New creates a pipeline
func New(deps Deps) *Pipeline {
	if deps.PageLimit <= 0 {
		deps.PageLimit = defaultPageLimit
	}
	if deps.MaxPages <= 0 {
		deps.MaxPages = defaultMaxPages
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Pipeline{Deps: deps, onStage: func(Stage) {}}
}

// ProcessBatch runs one batch end to end. The fetch honours ctx; once it has
// returned, the remaining steps run to completion even if ctx is cancelled so
// dedup marks and history appends are never left half done.
func (p *Pipeline) ProcessBatch(ctx context.Context, batch watchlist.Batch, since time.Time) (BatchResult, error) {
	var res BatchResult

	if err := ctx.Err(); err != nil {
		return res, err
	}

	p.onStage(StageFetching)
	txs, err := p.fetch(ctx, batch, since)
	if err != nil {
		return res, fmt.Errorf("fetch batch %d (%s): %w", batch.Index, batch.Chain, err)
	}
	res.Fetched = len(txs)
	if len(txs) == 0 {
		return res, nil
	}

	ctx = context.WithoutCancel(ctx)

	p.onStage(StageEnriching)
	prices := enricher.BuildPriceMap(ctx, p.Source, txs)

	for _, tx := range txs {
		candidates, drops := p.Enricher.Extract(tx, prices)
		res.Drops.Add(drops)
		res.Candidates += len(candidates)

		for i := range candidates {
			p.handle(ctx, &candidates[i], &res)
		}
	}

	p.Metrics.CandidatesDropped("no_amount", res.Drops.NoAmount)
	p.Metrics.CandidatesDropped("no_price", res.Drops.NoPrice)
	p.Metrics.CandidatesDropped("unsupported", res.Drops.Unsupported)
	p.Metrics.CandidatesDropped("below_threshold", res.BelowThreshold)
	p.Metrics.CandidatesDropped("duplicate", res.Duplicates)

	return res, nil
}

// fetch follows the cursor up to MaxPages
func (p *Pipeline) fetch(ctx context.Context, batch watchlist.Batch, since time.Time) ([]allium.WalletTransaction, error) {
	var (
		txs    []allium.WalletTransaction
		cursor string
	)
	for page := 0; page < p.MaxPages; page++ {
		resp, err := p.Source.WalletTransactions(ctx, batch.Addresses, allium.TxQuery{
			Limit:  p.PageLimit,
			Cursor: cursor,
			Since:  since,
		})
		if err != nil {
			return nil, err
		}
		txs = append(txs, resp.Items...)
		if resp.Cursor == "" || len(resp.Items) == 0 {
			break
		}
		cursor = resp.Cursor
	}
	return txs, nil
}

func (p *Pipeline) handle(ctx context.Context, c *types.Candidate, res *BatchResult) {
	p.onStage(StageFiltering)
	if !p.Thresholds.Pass(c) {
		res.BelowThreshold++
		log.Debug().
			Str("tx", c.TxHash).
			Str("kind", string(c.Kind)).
			Str("usd", c.USDValue.StringFixed(0)).
			Msg("Below threshold")
		return
	}

	p.onStage(StageDeduping)
	key := dedup.CandidateKey(c)
	seen, err := p.Dedup.CheckAndMark(ctx, key, p.Now())
	if err != nil {
		res.DedupErrors++
		p.Metrics.DedupError()
		log.Warn().Err(err).Str("key", key).Str("store", p.Dedup.Name()).Msg("Dedup unavailable, fail-open")
		seen = false
	}
	if seen {
		res.Duplicates++
		return
	}

	p.onStage(StageFormatting)
	msg := formatter.Format(c)
	stored := p.History.Append(types.StoredAlert{
		AcceptedAt: p.Now(),
		Candidate:  *c,
		Message:    msg,
	})

	if p.Discovery != nil {
		p.Discovery.Track(c)
	}

	p.onStage(StageBroadcasting)
	// Sink failures are logged and counted by the broadcaster
	_ = p.Broadcaster.Broadcast(ctx, stored.Message)

	res.Sent++
	p.Metrics.AlertAccepted(string(c.Kind), c.Chain)
	log.Info().
		Str("kind", string(c.Kind)).
		Str("chain", c.Chain).
		Str("symbol", c.DedupSymbol()).
		Str("usd", c.USDValue.StringFixed(0)).
		Str("tx", c.TxHash).
		Msg("🐋 Alert sent")
}
