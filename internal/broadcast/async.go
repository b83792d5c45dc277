package broadcast

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/whalebot/internal/metrics"
	"github.com/web3guy0/whalebot/internal/types"
)

const defaultAsyncBuffer = 256

// ErrSinkBacklogged is returned when a queued sink's buffer is full
var ErrSinkBacklogged = errors.New("sink backlog full")

// AsyncSink gives a slow sink its own bounded queue and worker so Send
// returns immediately. Messages are delivered in order, one at a time,
// each bounded by the sink timeout.
type AsyncSink struct {
	inner   Sink
	timeout time.Duration
	metrics *metrics.Metrics
	queue   chan types.Message

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	stopped bool
	done    chan struct{}
}

// NewAsyncSink starts a worker delivering to inner
func NewAsyncSink(inner Sink, buffer int, timeout time.Duration, m *metrics.Metrics) *AsyncSink {
	if buffer <= 0 {
		buffer = defaultAsyncBuffer
	}
	if timeout <= 0 {
		timeout = defaultSinkTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &AsyncSink{
		inner:   inner,
		timeout: timeout,
		metrics: m,
		queue:   make(chan types.Message, buffer),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *AsyncSink) Name() string { return a.inner.Name() }

// Send enqueues msg; a full backlog rejects it instead of blocking
func (a *AsyncSink) Send(_ context.Context, msg types.Message) error {
	select {
	case a.queue <- msg:
		return nil
	default:
		return ErrSinkBacklogged
	}
}

// Pending returns the number of queued messages
func (a *AsyncSink) Pending() int {
	return len(a.queue)
}

// Stop ends the worker and aborts the delivery in flight; queued messages
// not yet delivered are discarded
func (a *AsyncSink) Stop() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	a.cancel()
	a.mu.Unlock()
	<-a.done
}

func (a *AsyncSink) run() {
	defer close(a.done)
	for {
		select {
		case <-a.ctx.Done():
			return
		case msg := <-a.queue:
			if a.ctx.Err() != nil {
				return
			}
			a.deliver(msg)
		}
	}
}

func (a *AsyncSink) deliver(msg types.Message) {
	ctx, cancel := context.WithTimeout(a.ctx, a.timeout)
	defer cancel()

	if err := a.inner.Send(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("sink", a.inner.Name()).
			Str("tx", msg.Record.TxHash).
			Msg("Queued sink delivery failed")
		a.metrics.SinkFailed(a.inner.Name())
	}
}
