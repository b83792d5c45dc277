// Package stream carries serialized alerts from the broadcaster to live
// websocket subscribers.
package stream

import (
	"context"
	"sync"
)

// DefaultQueueCapacity bounds the distribution queue
const DefaultQueueCapacity = 5000

// Queue is a bounded FIFO between producers and the hub.
// Push never blocks: when full, the oldest item is discarded.
type Queue struct {
	mu     sync.Mutex
	items  [][]byte
	head   int
	size   int
	notify chan struct{}
}

// NewQueue creates a queue holding up to capacity items
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{
		items:  make([][]byte, capacity),
		notify: make(chan struct{}, 1),
	}
}

// Push appends item and reports whether the oldest item was dropped to make room
func (q *Queue) Push(item []byte) (dropped bool) {
	q.mu.Lock()
	if q.size == len(q.items) {
		q.items[q.head] = nil
		q.head = (q.head + 1) % len(q.items)
		q.size--
		dropped = true
	}
	q.items[(q.head+q.size)%len(q.items)] = item
	q.size++
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return dropped
}

// TryPop removes the oldest item without waiting
func (q *Queue) TryPop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == 0 {
		return nil, false
	}
	item := q.items[q.head]
	q.items[q.head] = nil
	q.head = (q.head + 1) % len(q.items)
	q.size--
	return item, true
}

// Pop blocks until an item is available or ctx is done
func (q *Queue) Pop(ctx context.Context) ([]byte, error) {
	for {
		if item, ok := q.TryPop(); ok {
			return item, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		}
	}
}

// Len returns the number of queued items
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Cap returns the queue capacity
func (q *Queue) Cap() int {
	return len(q.items)
}
