// Package dedup remembers which alerts were already published so repeated
// polls of overlapping windows stay silent.
package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/web3guy0/whalebot/internal/types"
)

// DefaultTTL is how long a key stays marked
const DefaultTTL = 48 * time.Hour

// Key builds the dedup key for an alert: tx:type:symbol
func Key(txHash string, kind types.Kind, symbol string) string {
	if symbol == "" {
		symbol = "unknown"
	}
	return txHash + ":" + string(kind) + ":" + symbol
}

// CandidateKey builds the dedup key for a candidate
func CandidateKey(c *types.Candidate) string {
	return Key(c.TxHash, c.Kind, c.DedupSymbol())
}

// Store is an atomic check-and-mark set with per-key expiry.
// CheckAndMark reports seen=true when key was marked and not yet expired;
// otherwise it marks key until now+ttl and reports seen=false.
type Store interface {
	CheckAndMark(ctx context.Context, key string, now time.Time) (seen bool, err error)
	Name() string
}

// ═══════════════════════════════════════════════════════════════════════════════
// MEMORY STORE
// ═══════════════════════════════════════════════════════════════════════════════

// MemoryStore is a process-local Store. Expired keys are ignored on lookup
// and reclaimed by Sweep.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	expires map[string]time.Time
}

// NewMemoryStore creates an in-process store
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{ttl: ttl, expires: make(map[string]time.Time)}
}

// Name implements Store
func (m *MemoryStore) Name() string { return "memory" }

// CheckAndMark implements Store
func (m *MemoryStore) CheckAndMark(_ context.Context, key string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if exp, ok := m.expires[key]; ok && now.Before(exp) {
		return true, nil
	}
	m.expires[key] = now.Add(m.ttl)
	return false, nil
}

// Sweep drops expired keys and returns how many were removed
func (m *MemoryStore) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for k, exp := range m.expires {
		if !now.Before(exp) {
			delete(m.expires, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys, expired or not
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.expires)
}
