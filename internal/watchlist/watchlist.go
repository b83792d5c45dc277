// Package watchlist loads the labelled addresses the poller watches and
// partitions them into per-chain request batches.
package watchlist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/whalebot/internal/allium"
)

// evmChains use case-insensitive hex addresses. Everything else
// (Solana base58, Bitcoin base58check) is case-sensitive.
var evmChains = map[string]bool{
	"ethereum": true, "polygon": true, "arbitrum": true, "optimism": true,
	"base": true, "avalanche": true, "bsc": true, "fantom": true,
	"gnosis": true, "celo": true, "linea": true, "scroll": true,
	"zksync": true, "blast": true, "mantle": true, "mode": true, "zora": true,
}

// IsEVM reports whether chain uses hex addresses
func IsEVM(chain string) bool {
	return evmChains[chain]
}

// NormalizeAddress lowercases EVM addresses and leaves others untouched
func NormalizeAddress(address, chain string) string {
	if !IsEVM(chain) {
		return address
	}
	if common.IsHexAddress(address) {
		return strings.ToLower(common.HexToAddress(address).Hex())
	}
	return strings.ToLower(address)
}

// Entry is one watched address
type Entry struct {
	Chain    string `json:"chain"`
	Address  string `json:"address"`
	Label    string `json:"label"`
	Category string `json:"category"`
}

// Batch is a group of addresses on one chain sent in a single upstream request
type Batch struct {
	Index     int
	Chain     string
	Addresses []allium.AddressRef
}

// file is the on-disk format: {"chain": "...", "addresses": {category: {label: address}}}
type file struct {
	Chain     string                       `json:"chain"`
	Addresses map[string]map[string]string `json:"addresses"`
}

// Watchlist maps chain -> normalized address -> entry
type Watchlist struct {
	entries map[string]map[string]Entry
}

// New returns an empty watchlist
func New() *Watchlist {
	return &Watchlist{entries: make(map[string]map[string]Entry)}
}

// LoadDir reads every *.json file in dir
func LoadDir(dir string) (*Watchlist, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	wl := New()
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		var f file
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if f.Chain == "" {
			return nil, fmt.Errorf("%s: missing chain", path)
		}
		before := wl.Len()
		for category, labels := range f.Addresses {
			for label, address := range labels {
				wl.Add(Entry{Chain: f.Chain, Address: address, Label: label, Category: category})
			}
		}
		log.Info().
			Str("chain", f.Chain).
			Str("file", filepath.Base(path)).
			Int("addresses", wl.Len()-before).
			Msg("📋 Watchlist loaded")
	}
	return wl, nil
}

// Add registers an address, normalizing it for its chain
func (w *Watchlist) Add(e Entry) {
	e.Chain = strings.ToLower(e.Chain)
	e.Address = NormalizeAddress(e.Address, e.Chain)
	if w.entries[e.Chain] == nil {
		w.entries[e.Chain] = make(map[string]Entry)
	}
	w.entries[e.Chain][e.Address] = e
}

// Label returns the label for an address, or "" when unknown.
// An empty chain searches every chain.
func (w *Watchlist) Label(address, chain string) string {
	if e, ok := w.lookup(address, chain); ok {
		return e.Label
	}
	return ""
}

// Contains reports whether the address is watched
func (w *Watchlist) Contains(address, chain string) bool {
	_, ok := w.lookup(address, chain)
	return ok
}

func (w *Watchlist) lookup(address, chain string) (Entry, bool) {
	if address == "" {
		return Entry{}, false
	}
	if chain != "" {
		e, ok := w.entries[chain][NormalizeAddress(address, chain)]
		return e, ok
	}
	for ch, addrs := range w.entries {
		if e, ok := addrs[NormalizeAddress(address, ch)]; ok {
			return e, true
		}
	}
	return Entry{}, false
}

// Entries returns every watched address sorted by chain then address
func (w *Watchlist) Entries() []Entry {
	out := make([]Entry, 0, w.Len())
	for _, addrs := range w.entries {
		for _, e := range addrs {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Chain != out[j].Chain {
			return out[i].Chain < out[j].Chain
		}
		return out[i].Address < out[j].Address
	})
	return out
}

// Len returns the number of watched addresses
func (w *Watchlist) Len() int {
	n := 0
	for _, addrs := range w.entries {
		n += len(addrs)
	}
	return n
}

// Batches splits the watchlist into groups of at most size addresses.
// A batch never mixes chains.
func (w *Watchlist) Batches(size int, exclude []string) []Batch {
	if size <= 0 {
		size = 20
	}
	skip := make(map[string]bool, len(exclude))
	for _, c := range exclude {
		skip[strings.ToLower(c)] = true
	}

	var batches []Batch
	var current *Batch
	for _, e := range w.Entries() {
		if skip[e.Chain] {
			continue
		}
		if current == nil || current.Chain != e.Chain || len(current.Addresses) == size {
			batches = append(batches, Batch{Index: len(batches), Chain: e.Chain})
			current = &batches[len(batches)-1]
		}
		current.Addresses = append(current.Addresses, allium.AddressRef{Chain: e.Chain, Address: e.Address})
	}
	return batches
}
