package watchlist

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "ethereum.json", `{
		"chain": "ethereum",
		"addresses": {
			"exchanges": {
				"Binance Hot": "0x28C6c06298d514Db089934071355E5743bf21d60",
				"Coinbase Hot": "0xCOINBASE2222222222222222222222222222222222"
			}
		}
	}`)
	writeFile(t, dir, "solana.json", `{
		"chain": "solana",
		"addresses": {"whales": {"Big Sol": "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"}}
	}`)
	writeFile(t, dir, "notes.txt", "ignored")

	wl, err := LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 3, wl.Len())

	// EVM lookups are case-insensitive
	assert.Equal(t, "Binance Hot", wl.Label("0x28c6c06298d514db089934071355e5743bf21d60", "ethereum"))
	assert.Equal(t, "Coinbase Hot", wl.Label("0xcoinbase2222222222222222222222222222222222", "ethereum"))
	// Solana lookups are case-sensitive
	assert.Equal(t, "Big Sol", wl.Label("9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM", "solana"))
	assert.Empty(t, wl.Label("9wzdxwbbmkg8ztbnmquxvqrayrzzdsgydlvl9zytawwm", "solana"))
	// Chain-less lookup searches every chain
	assert.Equal(t, "Big Sol", wl.Label("9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM", ""))
	assert.True(t, wl.Contains("0x28C6C06298D514DB089934071355E5743BF21D60", "ethereum"))
	assert.False(t, wl.Contains("", "ethereum"))
}

func TestLoadDir_MissingChain(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.json", `{"addresses": {}}`)

	_, err := LoadDir(dir)
	require.Error(t, err)
}

func TestBatches(t *testing.T) {
	wl := New()
	for i := 0; i < 45; i++ {
		wl.Add(Entry{Chain: "ethereum", Address: fmt.Sprintf("0x%040d", i), Label: fmt.Sprintf("eth-%d", i)})
	}
	for i := 0; i < 5; i++ {
		wl.Add(Entry{Chain: "solana", Address: fmt.Sprintf("Sol%d", i)})
	}
	wl.Add(Entry{Chain: "bitcoin", Address: "bc1qxyz"})

	batches := wl.Batches(20, []string{"bitcoin"})
	require.Len(t, batches, 4)

	sizes := []int{20, 20, 5, 5}
	for i, b := range batches {
		assert.Equal(t, i, b.Index)
		assert.Len(t, b.Addresses, sizes[i])
		for _, a := range b.Addresses {
			assert.Equal(t, b.Chain, a.Chain, "batch must not mix chains")
		}
	}
	assert.Equal(t, "ethereum", batches[0].Chain)
	assert.Equal(t, "solana", batches[3].Chain)
}

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t,
		"0x28c6c06298d514db089934071355e5743bf21d60",
		NormalizeAddress("0x28C6c06298d514Db089934071355E5743bf21d60", "ethereum"))
	assert.Equal(t, "AbC", NormalizeAddress("AbC", "solana"))
	assert.True(t, IsEVM("base"))
	assert.False(t, IsEVM("bitcoin"))
}
