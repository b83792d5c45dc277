// Package enricher turns raw wallet transactions into priced alert candidates.
package enricher

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/whalebot/internal/allium"
	"github.com/web3guy0/whalebot/internal/types"
)

// LabelResolver names known addresses
type LabelResolver interface {
	Label(address, chain string) string
}

// Drops counts events discarded during extraction, by reason
type Drops struct {
	NoAmount    int `json:"no_amount"`
	NoPrice     int `json:"no_price"`
	Unsupported int `json:"unsupported"`
}

// Add accumulates another batch of drop counts
func (d *Drops) Add(o Drops) {
	d.NoAmount += o.NoAmount
	d.NoPrice += o.NoPrice
	d.Unsupported += o.Unsupported
}

// Total returns the number of dropped events
func (d Drops) Total() int {
	return d.NoAmount + d.NoPrice + d.Unsupported
}

// Enricher extracts candidates from transactions
type Enricher struct {
	labels LabelResolver
}

// New creates an enricher. labels may be nil.
func New(labels LabelResolver) *Enricher {
	return &Enricher{labels: labels}
}

// Extract returns every priced candidate in tx. Order is transfers first,
// then activities, each in upstream order.
func (e *Enricher) Extract(tx allium.WalletTransaction, prices PriceMap) ([]types.Candidate, Drops) {
	var (
		out   []types.Candidate
		drops Drops
	)

	for _, xfer := range tx.AssetTransfers {
		c, reason := e.fromTransfer(tx, xfer, prices)
		if !drops.record(reason) {
			out = append(out, c)
		}
	}

	for _, act := range tx.Activities {
		var (
			c      types.Candidate
			reason dropReason
		)
		switch act.Type {
		case allium.ActivityDexTrade:
			c, reason = e.fromSwap(tx, act, prices)
		case allium.ActivityAssetBridge:
			c, reason = e.fromBridge(tx, act, prices)
		default:
			// LP mints/burns are already visible as token transfers
			continue
		}
		if !drops.record(reason) {
			out = append(out, c)
		}
	}

	return out, drops
}

type dropReason int

const (
	keep dropReason = iota
	dropNoAmount
	dropNoPrice
	dropUnsupported
)

// record counts reason and reports whether the event was dropped
func (d *Drops) record(reason dropReason) bool {
	switch reason {
	case dropNoAmount:
		d.NoAmount++
	case dropNoPrice:
		d.NoPrice++
	case dropUnsupported:
		d.Unsupported++
	default:
		return false
	}
	return true
}

func (e *Enricher) base(tx allium.WalletTransaction, kind types.Kind) types.Candidate {
	return types.Candidate{
		TxHash:    tx.Hash,
		Chain:     tx.Chain,
		Timestamp: tx.BlockTimestamp.Time,
		Kind:      kind,
	}
}

func (e *Enricher) label(address, chain string) string {
	if e.labels == nil || address == "" {
		return ""
	}
	return e.labels.Label(address, chain)
}

// ─── Transfers ────────────────────────────────────────────────────────────────

func transferKind(xfer allium.Transfer) types.Kind {
	switch strings.ToLower(xfer.Operation) {
	case "mint":
		return types.KindMint
	case "burn":
		return types.KindBurn
	}
	switch strings.ToLower(xfer.TransferType) {
	case "minted", "mint":
		return types.KindMint
	case "burned", "burn":
		return types.KindBurn
	}
	return types.KindTransfer
}

func (e *Enricher) fromTransfer(tx allium.WalletTransaction, xfer allium.Transfer, prices PriceMap) (types.Candidate, dropReason) {
	if tx.Chain == "bitcoin" {
		return types.Candidate{}, dropUnsupported
	}

	amount := xfer.Amount.Amount
	if !amount.Valid || !amount.Decimal.IsPositive() {
		return types.Candidate{}, dropNoAmount
	}
	price, ok := prices.Lookup(xfer.Asset, tx.Chain)
	if !ok {
		return types.Candidate{}, dropNoPrice
	}

	c := e.base(tx, transferKind(xfer))
	c.From = xfer.FromAddress
	c.To = xfer.ToAddress
	c.FromLabel = e.label(c.From, tx.Chain)
	c.ToLabel = e.label(c.To, tx.Chain)
	c.Symbol = xfer.Asset.Symbol
	c.Amount = amount
	c.USDValue = amount.Decimal.Mul(price)
	return c, keep
}

// ─── Activities ───────────────────────────────────────────────────────────────

// legValue prices one leg; ok is false when amount or price is missing
func legValue(asset allium.Asset, amount allium.Amount, chain string, prices PriceMap) (decimal.Decimal, bool) {
	if !amount.Amount.Valid || !amount.Amount.Decimal.IsPositive() {
		return decimal.Zero, false
	}
	price, ok := prices.Lookup(asset, chain)
	if !ok {
		return decimal.Zero, false
	}
	return amount.Amount.Decimal.Mul(price), true
}

func (e *Enricher) fromSwap(tx allium.WalletTransaction, act allium.Activity, prices PriceMap) (types.Candidate, dropReason) {
	soldUSD, soldOK := legValue(act.AssetSold, act.AmountSold, tx.Chain, prices)
	boughtUSD, boughtOK := legValue(act.AssetBought, act.AmountBought, tx.Chain, prices)

	var usd decimal.Decimal
	switch {
	case soldOK && boughtOK:
		usd = decimal.Max(soldUSD, boughtUSD)
	case soldOK:
		usd = soldUSD
	case boughtOK:
		usd = boughtUSD
	default:
		if !act.AmountSold.Amount.Valid && !act.AmountBought.Amount.Valid {
			return types.Candidate{}, dropNoAmount
		}
		return types.Candidate{}, dropNoPrice
	}

	c := e.base(tx, types.KindSwap)
	c.From = tx.FromAddress
	if c.From == "" {
		c.From = tx.Address
	}
	c.To = tx.ToAddress
	c.FromLabel = e.label(c.From, tx.Chain)
	c.ToLabel = e.label(c.To, tx.Chain)
	c.Sold = types.Leg{Symbol: act.AssetSold.Symbol, Amount: act.AmountSold.Amount}
	c.Bought = types.Leg{Symbol: act.AssetBought.Symbol, Amount: act.AmountBought.Amount}
	c.Protocol = firstNonEmpty(act.Protocol, act.Project)
	c.USDValue = usd
	return c, keep
}

// fromBridge identifies the event by its token-in leg so the dedup key does
// not depend on which leg happened to be priceable; token-out only values it.
func (e *Enricher) fromBridge(tx allium.WalletTransaction, act allium.Activity, prices PriceMap) (types.Candidate, dropReason) {
	usd, ok := legValue(act.TokenInAsset, act.TokenInAmount, tx.Chain, prices)
	if !ok {
		usd, ok = legValue(act.TokenOutAsset, act.TokenOutAmount, tx.Chain, prices)
	}
	if !ok {
		if !act.TokenInAmount.Amount.Valid && !act.TokenOutAmount.Amount.Valid {
			return types.Candidate{}, dropNoAmount
		}
		return types.Candidate{}, dropNoPrice
	}

	c := e.base(tx, types.KindBridge)
	c.From = act.SenderAddress
	c.To = act.RecipientAddress
	c.FromLabel = e.label(c.From, tx.Chain)
	c.ToLabel = e.label(c.To, tx.Chain)
	c.Symbol = act.TokenInAsset.Symbol
	c.Amount = act.TokenInAmount.Amount
	c.Protocol = firstNonEmpty(act.Protocol, act.Project)
	c.SourceChain = act.SourceChain
	c.DestinationChain = act.DestinationChain
	c.USDValue = usd
	return c, keep
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
