// Package discovery remembers counterparties of accepted alerts that are not
// on the watchlist, for the entity map.
package discovery

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/whalebot/internal/types"
	"github.com/web3guy0/whalebot/internal/watchlist"
)

// DefaultCapacity caps the number of tracked addresses
const DefaultCapacity = 500

// Entry is one discovered address with its accumulated volume
type Entry struct {
	Address  string          `json:"address"`
	Chain    string          `json:"chain"`
	Label    string          `json:"label,omitempty"`
	TotalUSD decimal.Decimal `json:"total_usd"`
	Count    int             `json:"count"`
}

// Watched reports whether an address is already on the watchlist
type Watched func(address, chain string) bool

// Tracker accumulates discovered addresses, evicting the lowest volume first
type Tracker struct {
	mu       sync.Mutex
	capacity int
	watched  Watched
	entries  map[string]*Entry
}

// NewTracker creates a tracker; watched may be nil
func NewTracker(capacity int, watched Watched) *Tracker {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Tracker{
		capacity: capacity,
		watched:  watched,
		entries:  make(map[string]*Entry),
	}
}

// Track records both parties of c
func (t *Tracker) Track(c *types.Candidate) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.add(c.From, c.FromLabel, c.Chain, c.USDValue)
	t.add(c.To, c.ToLabel, c.Chain, c.USDValue)
	t.evict()
}

func (t *Tracker) add(address, label, chain string, usd decimal.Decimal) {
	if address == "" || (t.watched != nil && t.watched(address, chain)) {
		return
	}
	key := chain + ":" + watchlist.NormalizeAddress(address, chain)
	if e, ok := t.entries[key]; ok {
		e.TotalUSD = e.TotalUSD.Add(usd)
		e.Count++
		if e.Label == "" {
			e.Label = label
		}
		return
	}
	t.entries[key] = &Entry{Address: address, Chain: chain, Label: label, TotalUSD: usd, Count: 1}
}

func (t *Tracker) evict() {
	over := len(t.entries) - t.capacity
	if over <= 0 {
		return
	}
	keys := make([]string, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return t.entries[keys[i]].TotalUSD.LessThan(t.entries[keys[j]].TotalUSD)
	})
	for _, k := range keys[:over] {
		delete(t.entries, k)
	}
}

// Snapshot returns copies of every entry, highest volume first
func (t *Tracker) Snapshot() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].TotalUSD.Equal(out[j].TotalUSD) {
			return out[i].TotalUSD.GreaterThan(out[j].TotalUSD)
		}
		return out[i].Address < out[j].Address
	})
	return out
}

// Len returns the number of tracked addresses
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
