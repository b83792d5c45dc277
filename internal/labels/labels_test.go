package labels

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/whalebot/internal/allium"
	"github.com/web3guy0/whalebot/internal/enricher"
	"github.com/web3guy0/whalebot/internal/watchlist"
)

var _ enricher.LabelResolver = (*Registry)(nil)

const binance = "0x28c6c06298d514db089934071355e5743bf21d60"

func staticList() *watchlist.Watchlist {
	wl := watchlist.New()
	wl.Add(watchlist.Entry{Chain: "ethereum", Address: binance, Label: "Binance Hot", Category: "exchanges"})
	wl.Add(watchlist.Entry{Chain: "solana", Address: "SoLUnlabelled111", Label: ""})
	return wl
}

func TestLabel_WatchlistWinsOverIdentity(t *testing.T) {
	r := New(staticList())
	kept := r.Merge([]allium.IdentityEntity{
		{Address: "0x28C6C06298D514DB089934071355E5743BF21D60", Chain: "ethereum", Name: "Binance 14", Project: "binance", Category: "cex"},
		{Address: "0xAAAA000000000000000000000000000000000001", Chain: "Ethereum", Name: "Wintermute", Project: "wintermute", Category: "fund"},
	})

	assert.Equal(t, 1, kept, "watchlisted address is skipped")
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, "Binance Hot", r.Label(binance, "ethereum"))
	assert.Equal(t, "Wintermute", r.Label("0xaaaa000000000000000000000000000000000001", "ethereum"))
	assert.Equal(t, "wintermute", r.Project("0xAAAA000000000000000000000000000000000001", "ethereum"))
	assert.Equal(t, "fund", r.Category("0xaaaa000000000000000000000000000000000001", ""))
}

func TestLabel_FallsBackToProject(t *testing.T) {
	r := New(staticList())
	r.Merge([]allium.IdentityEntity{
		{Address: "0xbbbb000000000000000000000000000000000002", Chain: "base", Project: "aerodrome", Category: "dex"},
	})

	assert.Equal(t, "aerodrome", r.Label("0xBBBB000000000000000000000000000000000002", "base"))
	assert.Equal(t, "aerodrome", r.Label("0xbbbb000000000000000000000000000000000002", ""), "empty chain searches every chain")
	assert.Empty(t, r.Label("0xbbbb000000000000000000000000000000000002", "ethereum"))
	assert.Empty(t, r.Label("", "base"))
	assert.Empty(t, r.Label("0xunknown", "base"))
}

func TestMerge_UnlabelledWatchlistEntryTakesIdentity(t *testing.T) {
	r := New(staticList())
	r.Merge([]allium.IdentityEntity{{Address: "SoLUnlabelled111", Chain: "solana", Name: "Jupiter"}})

	assert.Equal(t, "Jupiter", r.Label("SoLUnlabelled111", "solana"))
	assert.Empty(t, r.Label("solunlabelled111", "solana"), "non-EVM addresses are case-sensitive")
}

func TestMerge_FirstEntryWinsAndReplacesPreviousSet(t *testing.T) {
	r := New(nil)
	r.Merge([]allium.IdentityEntity{
		{Address: "0xcccc000000000000000000000000000000000003", Chain: "ethereum", Name: "First"},
		{Address: "0xCCCC000000000000000000000000000000000003", Chain: "ethereum", Name: "Second"},
		{Address: "", Chain: "ethereum", Name: "NoAddress"},
	})
	assert.Equal(t, "First", r.Label("0xcccc000000000000000000000000000000000003", "ethereum"))
	require.Equal(t, 1, r.Len())

	r.Merge([]allium.IdentityEntity{{Address: "0xdddd000000000000000000000000000000000004", Chain: "ethereum", Name: "Fresh"}})
	assert.Empty(t, r.Label("0xcccc000000000000000000000000000000000003", "ethereum"))
	assert.Equal(t, "Fresh", r.Label("0xdddd000000000000000000000000000000000004", "ethereum"))
}

func TestRegistry_ConcurrentMergeAndLookup(t *testing.T) {
	r := New(staticList())
	entries := []allium.IdentityEntity{{Address: "0xeeee000000000000000000000000000000000005", Chain: "ethereum", Name: "Desk"}}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Merge(entries)
		}()
		go func() {
			defer wg.Done()
			_ = r.Label("0xeeee000000000000000000000000000000000005", "ethereum")
		}()
	}
	wg.Wait()
	assert.Equal(t, "Desk", r.Label("0xeeee000000000000000000000000000000000005", "ethereum"))
}
