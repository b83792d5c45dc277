package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/whalebot/internal/backfill"
	"github.com/web3guy0/whalebot/internal/discovery"
	"github.com/web3guy0/whalebot/internal/formatter"
	"github.com/web3guy0/whalebot/internal/history"
	"github.com/web3guy0/whalebot/internal/metrics"
	"github.com/web3guy0/whalebot/internal/pipeline"
	"github.com/web3guy0/whalebot/internal/types"
	"github.com/web3guy0/whalebot/internal/watchlist"
)

const (
	defaultLimit           = 100
	maxLimit               = 1000
	defaultArchiveLookback = 24 * 60
)

// HistoryService reconstructs past alerts from the upstream source
type HistoryService interface {
	History(ctx context.Context, lookbackMinutes int) (backfill.Result, error)
}

// ArchiveReader reads the durable alert archive
type ArchiveReader interface {
	Since(ctx context.Context, since time.Time, limit int) ([]types.Record, error)
	Stats(ctx context.Context) (map[string]interface{}, error)
}

// LiveStream serves websocket subscribers
type LiveStream interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
	Count() int
}

// StatusSource reports the poller's progress
type StatusSource interface {
	Status() pipeline.Status
}

// Handler holds everything the endpoints read. Optional fields may be nil.
type Handler struct {
	History   *history.Buffer
	Watchlist *watchlist.Watchlist
	Discovery *discovery.Tracker
	Backfill  HistoryService
	Archive   ArchiveReader
	Stream    LiveStream
	Poller    StatusSource
	Metrics   *metrics.Metrics

	QueueDepth func() int
	Sinks      func() []string
}

// ─── Alerts ───────────────────────────────────────────────────────────────────

func (h *Handler) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit := intParam(r, "limit", defaultLimit)
	if limit > maxLimit {
		limit = maxLimit
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	alerts := records(h.History.Recent(limit))
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"total":  h.History.Len(),
	})
}

func (h *Handler) handleByTx(w http.ResponseWriter, r *http.Request) {
	tx := chi.URLParam(r, "tx")
	alerts := records(h.History.ByTxID(tx))
	if len(alerts) == 0 {
		respondWithJSON(w, http.StatusNotFound, map[string]interface{}{
			"tx_hash": tx,
			"alerts":  alerts,
			"error":   "not found",
		})
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"tx_hash": tx,
		"alerts":  alerts,
	})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	lookback := intParam(r, "lookback_minutes", backfill.DefaultLookbackMinutes)
	if h.Backfill == nil {
		respondWithJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"alerts":           []types.Record{},
			"lookback_minutes": backfill.ClampLookback(lookback),
			"error":            "upstream client not configured",
		})
		return
	}

	res, err := h.Backfill.History(r.Context(), lookback)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		log.Warn().Err(err).Int("lookback", lookback).Msg("History request failed")
		respondWithJSON(w, status, map[string]interface{}{
			"alerts":           []types.Record{},
			"lookback_minutes": res.LookbackMinutes,
			"error":            err.Error(),
		})
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}

func (h *Handler) handleArchive(w http.ResponseWriter, r *http.Request) {
	if h.Archive == nil {
		respondWithError(w, http.StatusServiceUnavailable, "archive disabled")
		return
	}

	lookback := intParam(r, "lookback_minutes", defaultArchiveLookback)
	if lookback < 1 {
		lookback = 1
	}
	limit := intParam(r, "limit", defaultLimit)
	if limit < 1 || limit > maxLimit {
		limit = maxLimit
	}

	since := time.Now().Add(-time.Duration(lookback) * time.Minute)
	alerts, err := h.Archive.Since(r.Context(), since, limit)
	if err != nil {
		log.Error().Err(err).Msg("Archive query failed")
		respondWithError(w, http.StatusInternalServerError, "archive query failed")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"alerts":           alerts,
		"lookback_minutes": lookback,
	})
}

// ─── Map ──────────────────────────────────────────────────────────────────────

type mapAddress struct {
	Address string `json:"address"`
	Chain   string `json:"chain"`
}

type mapEntity struct {
	Label      string           `json:"label"`
	Category   string           `json:"category,omitempty"`
	Addresses  []mapAddress     `json:"addresses"`
	Discovered bool             `json:"discovered,omitempty"`
	TotalUSD   *decimal.Decimal `json:"total_usd,omitempty"`
	Count      int              `json:"count,omitempty"`
}

// handleMap groups watched addresses by label, then appends discovered
// counterparties whose label is not already present.
func (h *Handler) handleMap(w http.ResponseWriter, r *http.Request) {
	var (
		entities []*mapEntity
		byLabel  = make(map[string]*mapEntity)
	)

	if h.Watchlist != nil {
		for _, e := range h.Watchlist.Entries() {
			label := e.Label
			if label == "" {
				label = truncate(e.Address, 10)
			}
			ent, ok := byLabel[label]
			if !ok {
				ent = &mapEntity{Label: label, Category: e.Category}
				byLabel[label] = ent
				entities = append(entities, ent)
			}
			ent.Addresses = append(ent.Addresses, mapAddress{Address: e.Address, Chain: e.Chain})
		}
	}

	if h.Discovery != nil {
		for _, d := range h.Discovery.Snapshot() {
			label := d.Label
			if label == "" {
				label = formatter.ShortenAddress(d.Address)
			}
			if _, ok := byLabel[label]; ok {
				continue
			}
			total := d.TotalUSD
			ent := &mapEntity{
				Label:      label,
				Addresses:  []mapAddress{{Address: d.Address, Chain: d.Chain}},
				Discovered: true,
				TotalUSD:   &total,
				Count:      d.Count,
			}
			byLabel[label] = ent
			entities = append(entities, ent)
		}
	}

	if entities == nil {
		entities = []*mapEntity{}
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"entities": entities})
}

// ─── Status & stream ──────────────────────────────────────────────────────────

type statusResponse struct {
	Poller        *pipeline.Status       `json:"poller,omitempty"`
	Subscribers   int                    `json:"subscribers"`
	QueueDepth    int                    `json:"queue_depth"`
	HistoryLength int                    `json:"history_length"`
	Watched       int                    `json:"watched_addresses"`
	Discovered    int                    `json:"discovered_addresses"`
	Sinks         []string               `json:"sinks"`
	Archive       map[string]interface{} `json:"archive,omitempty"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		HistoryLength: h.History.Len(),
		Sinks:         []string{},
	}
	if h.Poller != nil {
		st := h.Poller.Status()
		resp.Poller = &st
	}
	if h.Stream != nil {
		resp.Subscribers = h.Stream.Count()
	}
	if h.QueueDepth != nil {
		resp.QueueDepth = h.QueueDepth()
	}
	if h.Watchlist != nil {
		resp.Watched = h.Watchlist.Len()
	}
	if h.Discovery != nil {
		resp.Discovered = h.Discovery.Len()
	}
	if h.Sinks != nil {
		resp.Sinks = h.Sinks()
	}
	if h.Archive != nil {
		stats, err := h.Archive.Stats(r.Context())
		if err != nil {
			log.Warn().Err(err).Msg("Archive stats failed")
		} else {
			resp.Archive = stats
		}
	}
	respondWithJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleLiveStream(w http.ResponseWriter, r *http.Request) {
	if h.Stream == nil {
		respondWithError(w, http.StatusServiceUnavailable, "live stream disabled")
		return
	}
	h.Stream.ServeWS(w, r)
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

func records(alerts []types.StoredAlert) []types.Record {
	out := make([]types.Record, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, a.Message.Record)
	}
	return out
}

// intParam reads a query integer, falling back to def when absent or malformed
func intParam(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}
