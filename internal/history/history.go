// Package history keeps the most recent accepted alerts in memory for the
// query API.
package history

import (
	"sync"

	"github.com/web3guy0/whalebot/internal/types"
)

// DefaultCapacity is the number of alerts retained
const DefaultCapacity = 1000

// Buffer is a fixed-capacity ring; the oldest alert is overwritten when full
type Buffer struct {
	mu    sync.RWMutex
	items []types.StoredAlert
	next  int // slot the next append writes
	size  int
	seq   uint64
}

// New creates a buffer holding up to capacity alerts
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{items: make([]types.StoredAlert, capacity)}
}

// Append stores a, assigning the next sequence number, and returns the stored copy
func (b *Buffer) Append(a types.StoredAlert) types.StoredAlert {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	a.Seq = b.seq
	a.Message.Record.Seq = b.seq

	b.items[b.next] = a
	b.next = (b.next + 1) % len(b.items)
	if b.size < len(b.items) {
		b.size++
	}
	return a
}

// Recent returns up to limit alerts, newest first. limit <= 0 returns all.
func (b *Buffer) Recent(limit int) []types.StoredAlert {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if limit <= 0 || limit > b.size {
		limit = b.size
	}
	out := make([]types.StoredAlert, 0, limit)
	for i := 0; i < limit; i++ {
		out = append(out, b.at(i))
	}
	return out
}

// ByTxID returns every retained alert for a transaction, newest first
func (b *Buffer) ByTxID(txHash string) []types.StoredAlert {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []types.StoredAlert
	for i := 0; i < b.size; i++ {
		if a := b.at(i); a.Candidate.TxHash == txHash {
			out = append(out, a)
		}
	}
	return out
}

// at returns the i-th newest alert; caller holds the lock
func (b *Buffer) at(i int) types.StoredAlert {
	n := len(b.items)
	return b.items[(b.next-1-i+n)%n]
}

// Len returns the number of retained alerts
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Cap returns the buffer capacity
func (b *Buffer) Cap() int {
	return len(b.items)
}
