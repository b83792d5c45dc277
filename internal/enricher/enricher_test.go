package enricher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/whalebot/internal/allium"
	"github.com/web3guy0/whalebot/internal/dedup"
	"github.com/web3guy0/whalebot/internal/types"
)

const (
	weth = "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"
	usdc = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
)

func amt(s string) allium.Amount {
	return allium.Amount{Amount: decimal.NewNullDecimal(decimal.RequireFromString(s))}
}

type fakeLabels map[string]string

func (f fakeLabels) Label(address, chain string) string { return f[address] }

type fakePrices struct {
	calls   [][]allium.TokenRef
	failOn  int
	byToken map[string]decimal.Decimal
}

func (f *fakePrices) Prices(_ context.Context, tokens []allium.TokenRef) (*allium.PricesResponse, error) {
	f.calls = append(f.calls, tokens)
	if f.failOn > 0 && len(f.calls) == f.failOn {
		return nil, errors.New("boom")
	}
	resp := &allium.PricesResponse{}
	for _, t := range tokens {
		if p, ok := f.byToken[t.TokenAddress]; ok {
			resp.Items = append(resp.Items, allium.TokenPrice{Chain: t.Chain, Address: t.TokenAddress, Price: p})
		}
	}
	return resp, nil
}

func ethPrices() PriceMap {
	return PriceMap{
		{Address: weth, Chain: "ethereum"}: decimal.NewFromInt(3000),
		{Address: usdc, Chain: "ethereum"}: decimal.NewFromInt(1),
	}
}

func tx(chain string) allium.WalletTransaction {
	return allium.WalletTransaction{
		Hash:           "0xtx",
		Chain:          chain,
		Address:        "0xwhale",
		BlockTimestamp: allium.Timestamp{Time: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
	}
}

func TestNativeAndWrappedResolveToSamePrice(t *testing.T) {
	prices := ethPrices()
	native, ok := prices.Lookup(allium.Asset{Type: "native", Symbol: "ETH"}, "ethereum")
	require.True(t, ok)
	placeholder, ok := prices.Lookup(allium.Asset{Address: nativePlaceholder}, "ethereum")
	require.True(t, ok)
	wrapped, ok := prices.Lookup(allium.Asset{Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"}, "ethereum")
	require.True(t, ok)

	assert.True(t, native.Equal(wrapped))
	assert.True(t, placeholder.Equal(wrapped))

	_, ok = prices.Lookup(allium.Asset{Type: "native"}, "unknownchain")
	assert.False(t, ok)
}

func TestCollectTokens(t *testing.T) {
	in := tx("ethereum")
	in.AssetTransfers = []allium.Transfer{
		{Asset: allium.Asset{Type: "native"}},
		{Asset: allium.Asset{Address: weth}},
		{Asset: allium.Asset{Address: usdc}},
	}
	in.Activities = []allium.Activity{
		{Type: allium.ActivityDexTrade, AssetSold: allium.Asset{Address: usdc}, AssetBought: allium.Asset{Address: "0xPEPE"}},
		{Type: allium.ActivityAssetBridge, TokenInAsset: allium.Asset{Address: "0xbridged"}},
	}

	tokens := CollectTokens([]allium.WalletTransaction{in})
	addrs := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		addrs = append(addrs, tok.TokenAddress)
	}
	assert.ElementsMatch(t, []string{weth, usdc, "0xpepe", "0xbridged"}, addrs)
}

func TestBuildPriceMap_ChunksAndSkipsFailures(t *testing.T) {
	var txs []allium.WalletTransaction
	byToken := map[string]decimal.Decimal{}
	for i := 0; i < 450; i++ {
		in := tx("ethereum")
		addr := decimal.NewFromInt(int64(i)).String()
		in.AssetTransfers = []allium.Transfer{{Asset: allium.Asset{Address: "0xt" + addr}}}
		txs = append(txs, in)
		byToken["0xt"+addr] = decimal.NewFromInt(1)
	}
	src := &fakePrices{failOn: 2, byToken: byToken}

	prices := BuildPriceMap(context.Background(), src, txs)

	require.Len(t, src.calls, 3)
	assert.Len(t, src.calls[0], 200)
	assert.Len(t, src.calls[1], 200)
	assert.Len(t, src.calls[2], 50)
	assert.Len(t, prices, 250, "the failed chunk's tokens stay unpriced")
}

func TestExtract_Transfers(t *testing.T) {
	in := tx("ethereum")
	in.AssetTransfers = []allium.Transfer{
		{TransferType: "sent", FromAddress: "0xwhale", ToAddress: "0xbinance", Asset: allium.Asset{Type: "native", Symbol: "ETH"}, Amount: amt("100")},
		{TransferType: "received", Operation: "mint", Asset: allium.Asset{Address: usdc, Symbol: "USDC"}, Amount: amt("5000000")},
		{TransferType: "sent", Operation: "burn", Asset: allium.Asset{Address: usdc, Symbol: "USDC"}, Amount: amt("42")},
		{TransferType: "sent", Asset: allium.Asset{Address: usdc, Symbol: "USDC"}},
		{TransferType: "sent", Asset: allium.Asset{Address: "0xnoprice", Symbol: "JUNK"}, Amount: amt("1")},
	}
	e := New(fakeLabels{"0xbinance": "Binance Hot"})

	out, drops := e.Extract(in, ethPrices())

	require.Len(t, out, 3)
	assert.Equal(t, types.KindTransfer, out[0].Kind)
	assert.Equal(t, "Binance Hot", out[0].ToLabel)
	assert.Empty(t, out[0].FromLabel)
	assert.True(t, out[0].USDValue.Equal(decimal.NewFromInt(300000)))
	assert.Equal(t, types.KindMint, out[1].Kind)
	assert.Equal(t, types.KindBurn, out[2].Kind)
	assert.Equal(t, Drops{NoAmount: 1, NoPrice: 1}, drops)
}

func TestExtract_SolanaMintedBurned(t *testing.T) {
	wsol := "So11111111111111111111111111111111111111112"
	prices := PriceMap{{Address: wsol, Chain: "solana"}: decimal.NewFromInt(150)}
	in := tx("solana")
	in.AssetTransfers = []allium.Transfer{
		{TransferType: "minted", Asset: allium.Asset{Address: wsol, Symbol: "SOL"}, Amount: amt("10")},
		{TransferType: "burned", Asset: allium.Asset{Type: "native", Symbol: "SOL"}, Amount: amt("10")},
	}

	out, _ := New(nil).Extract(in, prices)
	require.Len(t, out, 2)
	assert.Equal(t, types.KindMint, out[0].Kind)
	assert.Equal(t, types.KindBurn, out[1].Kind)
}

func TestExtract_BitcoinTransfersUnsupported(t *testing.T) {
	in := tx("bitcoin")
	in.AssetTransfers = []allium.Transfer{{Asset: allium.Asset{Type: "native"}, Amount: amt("50")}}

	out, drops := New(nil).Extract(in, PriceMap{{Address: "btc", Chain: "bitcoin"}: decimal.NewFromInt(60000)})
	assert.Empty(t, out)
	assert.Equal(t, 1, drops.Unsupported)
}

func TestExtract_SwapLegs(t *testing.T) {
	tests := []struct {
		name    string
		sold    allium.Amount
		bought  allium.Amount
		want    string
		dropped bool
	}{
		{"both legs priced takes max", amt("1000000"), amt("400"), "1200000", false},
		{"only sold leg priced", amt("2000000"), allium.Amount{}, "2000000", false},
		{"only bought leg priced", allium.Amount{}, amt("10"), "30000", false},
		{"no legs", allium.Amount{}, allium.Amount{}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := tx("ethereum")
			in.Activities = []allium.Activity{{
				Type:         allium.ActivityDexTrade,
				Project:      "uniswap",
				AssetSold:    allium.Asset{Address: usdc, Symbol: "USDC"},
				AmountSold:   tt.sold,
				AssetBought:  allium.Asset{Type: "native", Symbol: "ETH"},
				AmountBought: tt.bought,
			}}

			out, drops := New(nil).Extract(in, ethPrices())
			if tt.dropped {
				assert.Empty(t, out)
				assert.Equal(t, 1, drops.NoAmount)
				return
			}
			require.Len(t, out, 1)
			c := out[0]
			assert.Equal(t, types.KindSwap, c.Kind)
			assert.Equal(t, "uniswap", c.Protocol)
			assert.Equal(t, "USDC/ETH", c.DedupSymbol())
			assert.True(t, c.USDValue.Equal(decimal.RequireFromString(tt.want)), c.USDValue.String())
		})
	}
}

func TestExtract_SwapUnpricedLegs(t *testing.T) {
	in := tx("ethereum")
	in.Activities = []allium.Activity{{
		Type:         allium.ActivityDexTrade,
		AssetSold:    allium.Asset{Address: "0xjunk"},
		AmountSold:   amt("1"),
		AssetBought:  allium.Asset{Address: "0xjunk2"},
		AmountBought: amt("2"),
	}}
	out, drops := New(nil).Extract(in, ethPrices())
	assert.Empty(t, out)
	assert.Equal(t, 1, drops.NoPrice)
}

func TestExtract_BridgeFallsBackToTokenOut(t *testing.T) {
	in := tx("ethereum")
	in.Activities = []allium.Activity{{
		Type:             allium.ActivityAssetBridge,
		Protocol:         "wormhole",
		SenderAddress:    "0xwhale",
		RecipientAddress: "0xdest",
		TokenInAsset:     allium.Asset{Address: "0xunpriced", Symbol: "wUSDC"},
		TokenInAmount:    amt("999"),
		TokenOutAsset:    allium.Asset{Address: usdc, Symbol: "USDC"},
		TokenOutAmount:   amt("2500000"),
		SourceChain:      "ethereum",
		DestinationChain: "solana",
	}, {
		Type: allium.ActivityLiquidityMint,
	}}

	out, drops := New(fakeLabels{"0xwhale": "Jump"}).Extract(in, ethPrices())
	require.Len(t, out, 1)
	c := out[0]
	assert.Equal(t, types.KindBridge, c.Kind)
	assert.Equal(t, "wUSDC", c.Symbol, "the token-in leg names the event")
	assert.True(t, c.Amount.Decimal.Equal(decimal.NewFromInt(999)))
	assert.Equal(t, "Jump", c.FromLabel)
	assert.Equal(t, "wormhole", c.Protocol)
	assert.Equal(t, "solana", c.DestinationChain)
	assert.True(t, c.USDValue.Equal(decimal.NewFromInt(2500000)))
	assert.Zero(t, drops.Total())
}

func TestExtract_BridgeKeyStableAcrossPriceMaps(t *testing.T) {
	in := tx("ethereum")
	in.Activities = []allium.Activity{{
		Type:             allium.ActivityAssetBridge,
		Protocol:         "across",
		SenderAddress:    "0xwhale",
		RecipientAddress: "0xwhale",
		TokenInAsset:     allium.Asset{Address: weth, Symbol: "WETH"},
		TokenInAmount:    amt("1000"),
		TokenOutAsset:    allium.Asset{Address: usdc, Symbol: "USDC"},
		TokenOutAmount:   amt("3000000"),
		SourceChain:      "ethereum",
		DestinationChain: "base",
	}}

	full, _ := New(nil).Extract(in, ethPrices())
	outOnly, _ := New(nil).Extract(in, PriceMap{{Address: usdc, Chain: "ethereum"}: decimal.NewFromInt(1)})
	require.Len(t, full, 1)
	require.Len(t, outOnly, 1)

	assert.Equal(t, "0xtx:bridge:WETH", dedup.CandidateKey(&full[0]))
	assert.Equal(t, dedup.CandidateKey(&full[0]), dedup.CandidateKey(&outOnly[0]))
	assert.True(t, outOnly[0].USDValue.Equal(decimal.NewFromInt(3000000)), "token-out leg still values the event")
}
