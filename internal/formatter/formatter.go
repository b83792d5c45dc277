// Package formatter renders accepted candidates as Telegram HTML and as the
// JSON record served to API and stream clients.
package formatter

import (
	"html"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/web3guy0/whalebot/internal/types"
)

var icons = map[types.Kind]string{
	types.KindTransfer: "🐋",
	types.KindMint:     "🌊",
	types.KindBurn:     "🔥",
	types.KindSwap:     "🔀",
	types.KindBridge:   "🌉",
}

var explorers = map[string]string{
	"ethereum": "https://etherscan.io/tx/",
	"bitcoin":  "https://mempool.space/tx/",
	"solana":   "https://solscan.io/tx/",
	"polygon":  "https://polygonscan.com/tx/",
	"arbitrum": "https://arbiscan.io/tx/",
	"optimism": "https://optimistic.etherscan.io/tx/",
	"base":     "https://basescan.org/tx/",
}

var (
	printer = message.NewPrinter(language.English)
	million = decimal.NewFromInt(1_000_000)
	oneK    = decimal.NewFromInt(1_000)
)

// Icon returns the emoji for kind
func Icon(kind types.Kind) string {
	if icon, ok := icons[kind]; ok {
		return icon
	}
	return icons[types.KindTransfer]
}

// ExplorerURL returns a block explorer link for the transaction, or "" for
// chains without a known explorer.
func ExplorerURL(chain, txHash string) string {
	base, ok := explorers[chain]
	if !ok {
		return ""
	}
	return base + txHash
}

// Format renders c as a Telegram message and a structured record
func Format(c *types.Candidate) types.Message {
	var text string
	switch c.Kind {
	case types.KindSwap:
		text = formatSwap(c)
	case types.KindBridge:
		text = formatBridge(c)
	default:
		text = formatTransfer(c)
	}
	cc := *c
	return types.Message{Text: text, Record: NewRecord(c), Candidate: &cc}
}

// NewRecord builds the machine-readable form of c
func NewRecord(c *types.Candidate) types.Record {
	r := types.Record{
		TxHash:           c.TxHash,
		Chain:            c.Chain,
		BlockTimestamp:   c.Timestamp,
		AlertType:        c.Kind,
		Icon:             Icon(c.Kind),
		FromAddress:      c.From,
		ToAddress:        c.To,
		FromLabel:        c.FromLabel,
		ToLabel:          c.ToLabel,
		AssetSymbol:      c.Symbol,
		Amount:           floatPtr(c.Amount),
		USDValue:         c.USDValue.InexactFloat64(),
		Protocol:         c.Protocol,
		SourceChain:      c.SourceChain,
		DestinationChain: c.DestinationChain,
		ExplorerURL:      ExplorerURL(c.Chain, c.TxHash),
	}
	if c.Kind == types.KindSwap {
		r.AssetSoldSymbol = c.Sold.Symbol
		r.AssetBoughtSymbol = c.Bought.Symbol
		r.AmountSold = floatPtr(c.Sold.Amount)
		r.AmountBought = floatPtr(c.Bought.Amount)
	}
	return r
}

func floatPtr(d decimal.NullDecimal) *float64 {
	if !d.Valid {
		return nil
	}
	f := d.Decimal.InexactFloat64()
	return &f
}

// ─── Text ─────────────────────────────────────────────────────────────────────

func formatTransfer(c *types.Candidate) string {
	return strings.Join([]string{
		Icon(c.Kind) + " <b>" + strings.ToUpper(string(c.Kind)) + "</b> on " + titleCase(c.Chain),
		FormatAmount(c.Amount) + " " + symbol(c.Symbol) + " (" + FormatUSD(c.USDValue) + ")",
		party(c.From, c.FromLabel) + " → " + party(c.To, c.ToLabel),
		txLink(c.Chain, c.TxHash),
	}, "\n")
}

func formatSwap(c *types.Candidate) string {
	protocol := c.Protocol
	if protocol == "" {
		protocol = "DEX"
	}
	return strings.Join([]string{
		Icon(c.Kind) + " <b>DEX TRADE</b> on " + titleCase(c.Chain) + " (" + html.EscapeString(protocol) + ")",
		"Sold " + FormatAmount(c.Sold.Amount) + " " + symbol(c.Sold.Symbol) +
			" → Bought " + FormatAmount(c.Bought.Amount) + " " + symbol(c.Bought.Symbol),
		"Value: " + FormatUSD(c.USDValue),
		"Trader: " + party(c.From, c.FromLabel),
		txLink(c.Chain, c.TxHash),
	}, "\n")
}

func formatBridge(c *types.Candidate) string {
	protocol := c.Protocol
	if protocol == "" {
		protocol = "Bridge"
	}
	return strings.Join([]string{
		Icon(c.Kind) + " <b>BRIDGE</b> via " + html.EscapeString(protocol),
		FormatAmount(c.Amount) + " " + symbol(c.Symbol) + " (" + FormatUSD(c.USDValue) + ")",
		chainName(c.SourceChain) + " → " + chainName(c.DestinationChain),
		party(c.From, c.FromLabel) + " → " + party(c.To, c.ToLabel),
		txLink(c.Chain, c.TxHash),
	}, "\n")
}

// titleCase builds a Caser per call; Casers are not safe for concurrent use
func titleCase(s string) string {
	return cases.Title(language.English).String(s)
}

func chainName(chain string) string {
	if chain == "" {
		return "?"
	}
	return titleCase(chain)
}

func symbol(s string) string {
	if s == "" {
		return "?"
	}
	return html.EscapeString(s)
}

// ShortenAddress renders 0x1234...abcd; short or empty addresses pass through
func ShortenAddress(addr string) string {
	if addr == "" {
		return "unknown"
	}
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

func party(addr, label string) string {
	if label != "" {
		return "<b>" + html.EscapeString(label) + "</b>"
	}
	return "<code>" + html.EscapeString(ShortenAddress(addr)) + "</code>"
}

func txLink(chain, txHash string) string {
	if url := ExplorerURL(chain, txHash); url != "" {
		return `<a href="` + html.EscapeString(url) + `">TX</a>`
	}
	short := txHash
	if len(short) > 10 {
		short = short[:10]
	}
	return "<code>" + html.EscapeString(short) + "...</code>"
}

// ─── Numbers ──────────────────────────────────────────────────────────────────

// FormatAmount renders a token quantity: 1,234 / 12.34 / 0.1234, or ? when unknown
func FormatAmount(d decimal.NullDecimal) string {
	if !d.Valid {
		return "?"
	}
	v := d.Decimal
	switch {
	case v.GreaterThanOrEqual(oneK):
		return printer.Sprintf("%d", v.Round(0).IntPart())
	case v.GreaterThanOrEqual(decimal.NewFromInt(1)):
		return v.StringFixed(2)
	default:
		return v.StringFixed(4)
	}
}

// FormatUSD renders a dollar value: $1.23M / $12,345 / $12.34
func FormatUSD(v decimal.Decimal) string {
	switch {
	case v.GreaterThanOrEqual(million):
		return "$" + printer.Sprintf("%.2f", v.Div(million).InexactFloat64()) + "M"
	case v.GreaterThanOrEqual(oneK):
		return "$" + printer.Sprintf("%d", v.Round(0).IntPart())
	default:
		return "$" + v.StringFixed(2)
	}
}
