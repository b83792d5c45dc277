package enricher

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/whalebot/internal/allium"
	"github.com/web3guy0/whalebot/internal/watchlist"
)

// nativeToWrapped maps a chain's gas coin onto its canonical wrapped token so
// both resolve to one price series.
var nativeToWrapped = map[string]string{
	"ethereum": "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2", // WETH
	"polygon":  "0x0d500b1d8e8ef31e21c99d1db9a6444d3adf1270", // WMATIC
	"arbitrum": "0x82af49447d8a07e3bd95bd0d56f35241523fbab1", // WETH
	"optimism": "0x4200000000000000000000000000000000000006", // WETH
	"base":     "0x4200000000000000000000000000000000000006", // WETH
	"solana":   "So11111111111111111111111111111111111111112", // wSOL
	"bitcoin":  "btc",
}

// nativePlaceholder is the pseudo-address some indexers use for gas coins
const nativePlaceholder = "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"

// TokenKey identifies a price series
type TokenKey struct {
	Address string
	Chain   string
}

// PriceMap holds unit USD prices keyed by token
type PriceMap map[TokenKey]decimal.Decimal

// Lookup returns the price for an asset, following native/wrapped aliasing
func (m PriceMap) Lookup(asset allium.Asset, chain string) (decimal.Decimal, bool) {
	key, ok := assetKey(asset, chain)
	if !ok {
		return decimal.Zero, false
	}
	price, ok := m[key]
	if !ok || !price.IsPositive() {
		return decimal.Zero, false
	}
	return price, true
}

// WrappedAddress returns the wrapped token the chain's native coin prices as
func WrappedAddress(chain string) (string, bool) {
	addr, ok := nativeToWrapped[chain]
	return addr, ok
}

func assetKey(asset allium.Asset, chain string) (TokenKey, bool) {
	addr := asset.Address
	if asset.Type == "native" || addr == "" || strings.EqualFold(addr, nativePlaceholder) {
		wrapped, ok := nativeToWrapped[chain]
		if !ok {
			return TokenKey{}, false
		}
		addr = wrapped
	}
	return TokenKey{Address: watchlist.NormalizeAddress(addr, chain), Chain: chain}, true
}

// PriceSource is the price half of the upstream client
type PriceSource interface {
	Prices(ctx context.Context, tokens []allium.TokenRef) (*allium.PricesResponse, error)
}

// CollectTokens gathers the unique tokens referenced by transfers and activities
func CollectTokens(txs []allium.WalletTransaction) []allium.TokenRef {
	seen := make(map[TokenKey]bool)
	var tokens []allium.TokenRef

	add := func(asset allium.Asset, chain string) {
		key, ok := assetKey(asset, chain)
		if !ok || seen[key] {
			return
		}
		seen[key] = true
		tokens = append(tokens, allium.TokenRef{TokenAddress: key.Address, Chain: key.Chain})
	}

	for _, tx := range txs {
		for _, xfer := range tx.AssetTransfers {
			add(xfer.Asset, tx.Chain)
		}
		for _, act := range tx.Activities {
			switch act.Type {
			case allium.ActivityDexTrade:
				add(act.AssetBought, tx.Chain)
				add(act.AssetSold, tx.Chain)
			case allium.ActivityAssetBridge:
				add(act.TokenInAsset, tx.Chain)
				add(act.TokenOutAsset, tx.Chain)
			case allium.ActivityLiquidityMint, allium.ActivityLiquidityBurn:
				add(act.Token0, tx.Chain)
				add(act.Token1, tx.Chain)
			}
		}
	}
	return tokens
}

// BuildPriceMap fetches prices for every token the transactions reference.
// A failed chunk is logged and skipped; its tokens stay unpriced.
func BuildPriceMap(ctx context.Context, src PriceSource, txs []allium.WalletTransaction) PriceMap {
	tokens := CollectTokens(txs)
	prices := make(PriceMap, len(tokens))
	if len(tokens) == 0 {
		return prices
	}

	for start := 0; start < len(tokens); start += allium.MaxTokensPerRequest {
		end := start + allium.MaxTokensPerRequest
		if end > len(tokens) {
			end = len(tokens)
		}
		resp, err := src.Prices(ctx, tokens[start:end])
		if err != nil {
			log.Warn().Err(err).Int("offset", start).Msg("Price lookup failed")
			continue
		}
		for _, item := range resp.Items {
			prices[TokenKey{Address: watchlist.NormalizeAddress(item.Address, item.Chain), Chain: item.Chain}] = item.Price
		}
	}

	log.Debug().Int("priced", len(prices)).Int("tokens", len(tokens)).Msg("💲 Prices fetched")
	return prices
}
