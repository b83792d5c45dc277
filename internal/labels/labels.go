// Package labels merges the static watchlist with identity data fetched
// from the upstream so alerts can name counterparties nobody listed by hand.
package labels

import (
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/whalebot/internal/allium"
	"github.com/web3guy0/whalebot/internal/watchlist"
)

// Static is the hand-maintained label source; it always wins
type Static interface {
	Label(address, chain string) string
}

type identity struct {
	name     string
	project  string
	category string
}

// Registry resolves labels from the watchlist first, then identity data.
// Identity data can be swapped at any time with Merge.
type Registry struct {
	static Static

	mu       sync.RWMutex
	identity map[string]map[string]identity // chain -> normalized address
	count    int
}

// New creates a registry backed by static; a nil static is allowed
func New(static Static) *Registry {
	return &Registry{static: static, identity: make(map[string]map[string]identity)}
}

// Merge replaces the identity set with entries, skipping addresses the
// watchlist already labels. The first entry for an address wins.
// Returns the number of identity labels kept.
func (r *Registry) Merge(entries []allium.IdentityEntity) int {
	next := make(map[string]map[string]identity)
	count := 0
	for _, e := range entries {
		chain := strings.ToLower(e.Chain)
		if e.Address == "" || chain == "" {
			continue
		}
		if r.static != nil && r.static.Label(e.Address, chain) != "" {
			continue
		}
		addr := watchlist.NormalizeAddress(e.Address, chain)
		if next[chain] == nil {
			next[chain] = make(map[string]identity)
		}
		if _, dup := next[chain][addr]; dup {
			continue
		}
		next[chain][addr] = identity{name: e.Name, project: e.Project, category: e.Category}
		count++
	}

	r.mu.Lock()
	r.identity = next
	r.count = count
	r.mu.Unlock()

	log.Info().Int("identity", count).Int("fetched", len(entries)).Msg("🏷️ Label registry updated")
	return count
}

// Label implements enricher.LabelResolver. An empty chain searches every chain.
func (r *Registry) Label(address, chain string) string {
	if address == "" {
		return ""
	}
	if r.static != nil {
		if l := r.static.Label(address, chain); l != "" {
			return l
		}
	}
	if id, ok := r.lookup(address, chain); ok {
		if id.name != "" {
			return id.name
		}
		return id.project
	}
	return ""
}

// Project returns the identity project for an address, or ""
func (r *Registry) Project(address, chain string) string {
	id, _ := r.lookup(address, chain)
	return id.project
}

// Category returns the identity category (cex, dex, bridge, fund), or ""
func (r *Registry) Category(address, chain string) string {
	id, _ := r.lookup(address, chain)
	return id.category
}

// Len returns the number of identity labels held
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

func (r *Registry) lookup(address, chain string) (identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if chain != "" {
		chain = strings.ToLower(chain)
		id, ok := r.identity[chain][watchlist.NormalizeAddress(address, chain)]
		return id, ok
	}
	for ch, addrs := range r.identity {
		if id, ok := addrs[watchlist.NormalizeAddress(address, ch)]; ok {
			return id, true
		}
	}
	return identity{}, false
}
