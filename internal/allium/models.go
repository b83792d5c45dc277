package allium

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AddressRef identifies a wallet on a chain in a transactions request
type AddressRef struct {
	Chain   string `json:"chain"`
	Address string `json:"address"`
}

// TokenRef identifies a token in a prices request
type TokenRef struct {
	TokenAddress string `json:"token_address"`
	Chain        string `json:"chain"`
}

// Timestamp accepts RFC3339 as well as the zone-less timestamps the API
// sometimes returns; zone-less values are read as UTC.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// UnmarshalJSON implements json.Unmarshaler
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognised timestamp %q", s)
}

// Amount is a token quantity; Amount is invalid when the API omits it
type Amount struct {
	RawAmount string              `json:"raw_amount,omitempty"`
	AmountStr string              `json:"amount_str,omitempty"`
	Amount    decimal.NullDecimal `json:"amount"`
}

// Asset describes a token on EVM, Solana or Bitcoin.
// Type is "native" for the chain's gas coin.
type Asset struct {
	Type     string `json:"type,omitempty"`
	Address  string `json:"address,omitempty"`
	Name     string `json:"name,omitempty"`
	Symbol   string `json:"symbol,omitempty"`
	Decimals *int   `json:"decimals,omitempty"`
}

// Transfer is one asset movement inside a transaction.
// EVM marks mints/burns with Operation, Solana with TransferType minted/burned.
type Transfer struct {
	TransferType    string `json:"transfer_type"`
	Operation       string `json:"operation,omitempty"`
	TransactionHash string `json:"transaction_hash,omitempty"`
	LogIndex        *int   `json:"log_index,omitempty"`
	FromAddress     string `json:"from_address,omitempty"`
	ToAddress       string `json:"to_address,omitempty"`
	Asset           Asset  `json:"asset"`
	Amount          Amount `json:"amount"`
}

// Activity types the enricher understands
const (
	ActivityDexTrade        = "dex_trade"
	ActivityAssetBridge     = "asset_bridge"
	ActivityLiquidityMint   = "dex_liquidity_pool_mint"
	ActivityLiquidityBurn   = "dex_liquidity_pool_burn"
	ActivityLiquidityCreate = "dex_liquidity_pool_created"
)

// Activity is the union of decoded activity shapes; fields not relevant to
// Type stay zero. Unknown activity types decode with just Type set.
type Activity struct {
	Type            string `json:"type"`
	TransactionHash string `json:"transaction_hash,omitempty"`
	Project         string `json:"project,omitempty"`
	Protocol        string `json:"protocol,omitempty"`

	// dex_trade
	AssetBought  Asset  `json:"asset_bought"`
	AssetSold    Asset  `json:"asset_sold"`
	AmountBought Amount `json:"amount_bought"`
	AmountSold   Amount `json:"amount_sold"`

	// asset_bridge
	SenderAddress    string `json:"sender_address,omitempty"`
	RecipientAddress string `json:"recipient_address,omitempty"`
	TokenInAsset     Asset  `json:"token_in_asset"`
	TokenInAmount    Amount `json:"token_in_amount"`
	TokenOutAsset    Asset  `json:"token_out_asset"`
	TokenOutAmount   Amount `json:"token_out_amount"`
	Direction        string `json:"direction,omitempty"`
	SourceChain      string `json:"source_chain,omitempty"`
	DestinationChain string `json:"destination_chain,omitempty"`

	// liquidity pool mint/burn
	LiquidityPoolAddress string `json:"liquidity_pool_address,omitempty"`
	Token0               Asset  `json:"token0"`
	Token1               Asset  `json:"token1"`
	Token0Amount         Amount `json:"token0_amount"`
	Token1Amount         Amount `json:"token1_amount"`
}

// WalletTransaction is one item from /wallet/transactions
type WalletTransaction struct {
	ID             string     `json:"id"`
	Address        string     `json:"address"`
	Chain          string     `json:"chain"`
	Hash           string     `json:"hash"`
	Index          int        `json:"index"`
	BlockTimestamp Timestamp  `json:"block_timestamp"`
	BlockNumber    int64      `json:"block_number"`
	Labels         []string   `json:"labels,omitempty"`
	AssetTransfers []Transfer `json:"asset_transfers"`
	Activities     []Activity `json:"activities"`
	FromAddress    string     `json:"from_address,omitempty"`
	ToAddress      string     `json:"to_address,omitempty"`
}

// TransactionsResponse is a page of wallet transactions
type TransactionsResponse struct {
	Items  []WalletTransaction `json:"items"`
	Cursor string              `json:"cursor,omitempty"`
}

// TokenPrice is the latest USD price of a token
type TokenPrice struct {
	Timestamp *Timestamp      `json:"timestamp,omitempty"`
	Chain     string          `json:"chain"`
	Address   string          `json:"address"`
	Decimals  *int            `json:"decimals,omitempty"`
	Price     decimal.Decimal `json:"price"`
}

// PricesResponse is the body of /prices
type PricesResponse struct {
	Items []TokenPrice `json:"items"`
}
