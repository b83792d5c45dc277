// Package broadcast delivers accepted alerts to every configured sink.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/whalebot/internal/metrics"
	"github.com/web3guy0/whalebot/internal/types"
)

const defaultSinkTimeout = 10 * time.Second

// Sink is one delivery channel
type Sink interface {
	Name() string
	Send(ctx context.Context, msg types.Message) error
}

// Broadcaster fans one message out to independent sinks.
// A failing or slow sink never affects the others.
type Broadcaster struct {
	sinks   []Sink
	timeout time.Duration
	metrics *metrics.Metrics
}

// New creates a broadcaster over sinks
func New(timeout time.Duration, m *metrics.Metrics, sinks ...Sink) *Broadcaster {
	if timeout <= 0 {
		timeout = defaultSinkTimeout
	}
	return &Broadcaster{sinks: sinks, timeout: timeout, metrics: m}
}

// Sinks returns the names of the active sinks
func (b *Broadcaster) Sinks() []string {
	names := make([]string, len(b.sinks))
	for i, s := range b.sinks {
		names[i] = s.Name()
	}
	return names
}

// Broadcast sends msg to every sink concurrently and waits for all of them.
// The returned error joins the per-sink failures; they are already logged.
func (b *Broadcaster) Broadcast(ctx context.Context, msg types.Message) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	for _, sink := range b.sinks {
		wg.Add(1)
		go func(sink Sink) {
			defer wg.Done()

			sctx, cancel := context.WithTimeout(ctx, b.timeout)
			defer cancel()

			if err := sink.Send(sctx, msg); err != nil {
				log.Error().
					Err(err).
					Str("sink", sink.Name()).
					Str("tx", msg.Record.TxHash).
					Msg("Sink delivery failed")
				b.metrics.SinkFailed(sink.Name())

				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
				mu.Unlock()
			}
		}(sink)
	}

	wg.Wait()
	return errors.Join(errs...)
}
