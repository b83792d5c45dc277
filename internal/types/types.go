package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SHARED TYPES - Avoid import cycles
// ═══════════════════════════════════════════════════════════════════════════════

// Kind is the alert category of a detected on-chain event
type Kind string

const (
	KindTransfer Kind = "transfer"
	KindMint     Kind = "mint"
	KindBurn     Kind = "burn"
	KindSwap     Kind = "swap"
	KindBridge   Kind = "bridge"
)

// Kinds lists every alert kind in display order
var Kinds = []Kind{KindTransfer, KindMint, KindBurn, KindSwap, KindBridge}

// Leg is one side of a multi-leg event (swap sold/bought)
type Leg struct {
	Symbol string
	Amount decimal.NullDecimal
}

// Candidate is an enriched, priced, not-yet-accepted alert.
// USDValue is always set by the enricher; candidates that cannot be
// priced never leave it.
type Candidate struct {
	TxHash    string
	Chain     string
	Timestamp time.Time
	Kind      Kind

	From      string
	To        string
	FromLabel string
	ToLabel   string

	Symbol   string
	Amount   decimal.NullDecimal
	USDValue decimal.Decimal

	// Swap
	Sold   Leg
	Bought Leg

	// Bridge (Protocol is also set for swaps)
	Protocol         string
	SourceChain      string
	DestinationChain string
}

// DedupSymbol returns the asset part of the dedup key
func (c *Candidate) DedupSymbol() string {
	if c.Kind == KindSwap {
		return orPlaceholder(c.Sold.Symbol, "?") + "/" + orPlaceholder(c.Bought.Symbol, "?")
	}
	return c.Symbol
}

func orPlaceholder(s, placeholder string) string {
	if s == "" {
		return placeholder
	}
	return s
}

// Record is the machine-readable form of an alert served over REST and the live stream
type Record struct {
	Seq               uint64    `json:"seq,omitempty"`
	TxHash            string    `json:"tx_hash"`
	Chain             string    `json:"chain"`
	BlockTimestamp    time.Time `json:"block_timestamp"`
	AlertType         Kind      `json:"alert_type"`
	Icon              string    `json:"icon"`
	FromAddress       string    `json:"from_address,omitempty"`
	ToAddress         string    `json:"to_address,omitempty"`
	FromLabel         string    `json:"from_label,omitempty"`
	ToLabel           string    `json:"to_label,omitempty"`
	AssetSymbol       string    `json:"asset_symbol,omitempty"`
	Amount            *float64  `json:"amount,omitempty"`
	USDValue          float64   `json:"usd_value"`
	Protocol          string    `json:"protocol,omitempty"`
	SourceChain       string    `json:"source_chain,omitempty"`
	DestinationChain  string    `json:"destination_chain,omitempty"`
	AssetSoldSymbol   string    `json:"asset_sold_symbol,omitempty"`
	AssetBoughtSymbol string    `json:"asset_bought_symbol,omitempty"`
	AmountSold        *float64  `json:"amount_sold,omitempty"`
	AmountBought      *float64  `json:"amount_bought,omitempty"`
	ExplorerURL       string    `json:"explorer_url,omitempty"`
}

// Message is what every broadcast sink receives
type Message struct {
	Text   string
	Record Record
	// Candidate keeps the exact decimals behind Record; nil when the
	// message was not built from a candidate
	Candidate *Candidate
}

// StoredAlert is an accepted alert owned by the history buffer.
// It is never mutated after insertion.
type StoredAlert struct {
	Seq        uint64
	AcceptedAt time.Time
	Candidate  Candidate
	Message    Message
}
