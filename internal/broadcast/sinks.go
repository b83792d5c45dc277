package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/whalebot/internal/metrics"
	"github.com/web3guy0/whalebot/internal/stream"
	"github.com/web3guy0/whalebot/internal/types"
)

// envelope is the live-stream wire format
type envelope struct {
	Type string       `json:"type"`
	Data types.Record `json:"data"`
}

// StreamSink serializes alerts onto the distribution queue
type StreamSink struct {
	queue   *stream.Queue
	metrics *metrics.Metrics
}

// NewStreamSink creates a sink feeding queue
func NewStreamSink(queue *stream.Queue, m *metrics.Metrics) *StreamSink {
	return &StreamSink{queue: queue, metrics: m}
}

func (s *StreamSink) Name() string { return "stream" }

// Send never blocks; a full queue loses its oldest message instead
func (s *StreamSink) Send(_ context.Context, msg types.Message) error {
	data, err := json.Marshal(envelope{Type: "alert", Data: msg.Record})
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	if s.queue.Push(data) {
		s.metrics.QueueDropped()
		log.Warn().Int("capacity", s.queue.Cap()).Msg("Distribution queue full, dropped oldest")
	}
	return nil
}

// AlertSaver persists alerts
type AlertSaver interface {
	SaveAlert(ctx context.Context, msg types.Message) error
}

// ArchiveSink writes every alert to durable storage
type ArchiveSink struct {
	store AlertSaver
}

// NewArchiveSink creates a sink writing to store
func NewArchiveSink(store AlertSaver) *ArchiveSink {
	return &ArchiveSink{store: store}
}

func (a *ArchiveSink) Name() string { return "archive" }

func (a *ArchiveSink) Send(ctx context.Context, msg types.Message) error {
	return a.store.SaveAlert(ctx, msg)
}
