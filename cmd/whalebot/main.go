// Whalebot - Multi-chain whale alert service
//
// Polls a curated watchlist of exchange, fund and protocol wallets through the
// Allium wallet API, prices every transfer, swap and bridge, and forwards the
// ones above the USD threshold to Telegram, a websocket stream and a REST API.
//
// Flow:
// 1. Load watchlist files and split them into 20-address batches per chain
// 2. Each cycle fetches new transactions for every batch concurrently
// 3. Enrich → threshold → dedup → format → fan out to every sink
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

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/web3guy0/whalebot/internal/allium"
	"github.com/web3guy0/whalebot/internal/api"
	"github.com/web3guy0/whalebot/internal/backfill"
	"github.com/web3guy0/whalebot/internal/broadcast"
	"github.com/web3guy0/whalebot/internal/config"
	"github.com/web3guy0/whalebot/internal/database"
	"github.com/web3guy0/whalebot/internal/dedup"
	"github.com/web3guy0/whalebot/internal/discovery"
	"github.com/web3guy0/whalebot/internal/enricher"
	"github.com/web3guy0/whalebot/internal/filter"
	"github.com/web3guy0/whalebot/internal/history"
	"github.com/web3guy0/whalebot/internal/labels"
	"github.com/web3guy0/whalebot/internal/metrics"
	"github.com/web3guy0/whalebot/internal/pipeline"
	"github.com/web3guy0/whalebot/internal/stream"
	"github.com/web3guy0/whalebot/internal/watchlist"
)

const (
	version     = "1.0.0"
	sinkTimeout = 15 * time.Second
)

func main() {
	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Load environment
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().
		Str("version", version).
		Dur("interval", cfg.PollInterval).
		Str("threshold", cfg.MinUSDThreshold.String()).
		Msg("🐋 Whalebot starting...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ====== WATCHLIST ======

	wl, err := watchlist.LoadDir(cfg.WatchlistDir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.WatchlistDir).Msg("Failed to load watchlist")
	}
	batches := wl.Batches(cfg.BatchSize, cfg.ExcludeChains)
	if len(batches) == 0 {
		log.Fatal().Msg("Watchlist is empty")
	}

	// ====== CORE COMPONENTS ======

	m := metrics.New()

	client := allium.NewClient(allium.Options{
		BaseURL:           cfg.AlliumBaseURL,
		ExplorerURL:       cfg.AlliumExplorerURL,
		APIKey:            cfg.AlliumAPIKey,
		RequestsPerSecond: cfg.AlliumRPS,
	})

	// Identity labels are best effort; a failed fetch keeps whatever is loaded
	registry := labels.New(wl)
	refreshIdentity := func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.IdentityTimeout)
		defer cancel()
		entries, err := client.IdentityEntities(ctx, nil, nil)
		if err != nil {
			log.Warn().Err(err).Int("identity", registry.Len()).Msg("⚠️ Identity labels unavailable, keeping current labels")
			return
		}
		registry.Merge(entries)
	}
	if cfg.IdentityEnrichment {
		refreshIdentity()
	} else {
		log.Info().Msg("Identity enrichment disabled, using watchlist labels only")
	}

	var (
		store       dedup.Store
		memory      *dedup.MemoryStore
		redisClient *redis.Client
	)
	if cfg.RedisURL != "" {
		rs, rc, err := dedup.NewRedisStoreFromURL(ctx, cfg.RedisURL, cfg.DedupTTL)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid REDIS_URL")
		}
		store, redisClient = rs, rc
		log.Info().Msg("🧠 Dedup store: redis")
	} else {
		memory = dedup.NewMemoryStore(cfg.DedupTTL)
		store = memory
		log.Info().Msg("🧠 Dedup store: memory")
	}

	var archive *database.Archive
	if cfg.DatabasePath != "" {
		archive, err = database.New(cfg.DatabasePath)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize archive")
		}
	}

	buffer := history.New(cfg.HistoryCapacity)
	queue := stream.NewQueue(cfg.QueueCapacity)
	hub := stream.NewHub(queue, stream.HubOptions{
		Keepalive: cfg.WSKeepalive,
		Origins:   cfg.CORSOrigins,
	}, m)
	tracker := discovery.NewTracker(discovery.DefaultCapacity, wl.Contains)

	m.GaugeFunc("stream", "queue_depth", "Messages waiting for the websocket hub",
		func() float64 { return float64(queue.Len()) })
	m.GaugeFunc("history", "length", "Alerts held in the recent-history buffer",
		func() float64 { return float64(buffer.Len()) })
	m.GaugeFunc("discovery", "addresses", "Discovered counterparties being tracked",
		func() float64 { return float64(tracker.Len()) })

	// ====== SINKS ======

	var poller *pipeline.Poller

	sinks := []broadcast.Sink{broadcast.NewStreamSink(queue, m)}
	var telegram *broadcast.Telegram
	var chatSink *broadcast.AsyncSink
	if cfg.TelegramEnabled() {
		telegram, err = broadcast.NewTelegram(broadcast.TelegramOptions{
			Token:  cfg.TelegramToken,
			ChatID: cfg.TelegramChatID,
			Status: func() string { return poller.StatusText() },
		})
		if err != nil {
			log.Warn().Err(err).Msg("⚠️ Telegram disabled")
			telegram = nil
		} else {
			// chat delivery runs on its own queue so a stalled Telegram API never holds up the stream
			chatSink = broadcast.NewAsyncSink(telegram, 256, sinkTimeout, m)
			sinks = append(sinks, chatSink)
		}
	} else {
		log.Warn().Msg("⚠️ TELEGRAM_BOT_TOKEN/TELEGRAM_CHAT_ID not set, chat alerts disabled")
	}
	if archive != nil {
		sinks = append(sinks, broadcast.NewArchiveSink(archive))
	}
	broadcaster := broadcast.New(sinkTimeout, m, sinks...)

	// ====== PIPELINE ======

	enrich := enricher.New(registry)
	thresholds := filter.Thresholds{Default: cfg.MinUSDThreshold, PerChain: cfg.ChainThresholds}

	p := pipeline.New(pipeline.Deps{
		Source:      client,
		Enricher:    enrich,
		Thresholds:  thresholds,
		Dedup:       store,
		History:     buffer,
		Broadcaster: broadcaster,
		Discovery:   tracker,
		Metrics:     m,
	})
	poller = pipeline.NewPoller(p, batches, pipeline.PollerOptions{
		Interval:    cfg.PollInterval,
		Lookback:    cfg.Lookback,
		Concurrency: cfg.BatchConcurrency,
	})

	backfiller := backfill.New(backfill.Options{
		Source:      client,
		Batches:     batches,
		Enricher:    enrich,
		Thresholds:  thresholds,
		CacheTTL:    cfg.HistoryCacheTTL,
		Concurrency: cfg.BatchConcurrency,
	})

	// ====== HOUSEKEEPING ======

	scheduler := cron.New()
	if memory != nil {
		scheduler.AddFunc("@every 10m", func() {
			if n := memory.Sweep(time.Now()); n > 0 {
				log.Debug().Int("evicted", n).Msg("🧹 Dedup keys swept")
			}
		})
	}
	scheduler.AddFunc("@every 1m", func() {
		backfiller.PurgeExpired()
	})
	if cfg.IdentityEnrichment && cfg.IdentityRefresh > 0 {
		if _, err := scheduler.AddFunc(fmt.Sprintf("@every %s", cfg.IdentityRefresh), refreshIdentity); err != nil {
			log.Warn().Err(err).Msg("⚠️ Identity refresh not scheduled")
		}
	}
	scheduler.Start()

	// ====== HTTP ======

	handler := &api.Handler{
		History:    buffer,
		Watchlist:  wl,
		Discovery:  tracker,
		Backfill:   backfiller,
		Stream:     hub,
		Poller:     poller,
		Metrics:    m,
		QueueDepth: queue.Len,
		Sinks:      broadcaster.Sinks,
	}
	if archive != nil {
		handler.Archive = archive
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(handler, cfg.CORSOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	printBanner(wl.Len(), len(batches), broadcaster.Sinks())

	if telegram != nil {
		telegram.Start()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		poller.Run(gctx)
		return nil
	})
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("🌐 HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Service stopped with error")
	}

	// Graceful shutdown
	log.Info().Msg("Shutting down...")

	<-scheduler.Stop().Done()
	if chatSink != nil {
		chatSink.Stop()
	}
	if telegram != nil {
		telegram.Stop()
	}
	if redisClient != nil {
		redisClient.Close()
	}
	if archive != nil {
		archive.Close()
	}

	log.Info().Msg("👋 Goodbye!")
}

func printBanner(addresses, batches int, sinks []string) {
	log.Info().Msg("")
	log.Info().Msg("╔══════════════════════════════════════════╗")
	log.Info().Msg("║          WHALE ALERT PIPELINE ACTIVE     ║")
	log.Info().Msg("║                                          ║")
	log.Info().Msgf("║  Watched addresses: %-20d ║", addresses)
	log.Info().Msgf("║  Batches:           %-20d ║", batches)
	log.Info().Msgf("║  Sinks:             %-20d ║", len(sinks))
	log.Info().Msg("║                                          ║")
	log.Info().Msg("║  → REST:  /api/whales, /api/map          ║")
	log.Info().Msg("║  → Live:  /api/ws/alerts                 ║")
	log.Info().Msg("╚══════════════════════════════════════════╝")
	log.Info().Msg("")
}
