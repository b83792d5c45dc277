// Package allium is the upstream source client: batched wallet-transaction
// queries and token price lookups against the Allium developer API.
package allium

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.allium.so/api/v1/developer"
	// DefaultExplorerURL serves the SQL explorer used for identity data
	DefaultExplorerURL = "https://api.allium.so/api/v1/explorer"

	// MaxAddressesPerRequest is the API cap for /wallet/transactions
	MaxAddressesPerRequest = 20
	// MaxTokensPerRequest is the API cap for /prices
	MaxTokensPerRequest = 200

	defaultTimeout = 30 * time.Second
	defaultLimit   = 100
)

var (
	// ErrCircuitOpen is returned while the upstream is considered down
	ErrCircuitOpen = errors.New("allium: circuit open")
	// ErrBatchTooLarge is returned for requests above the API caps
	ErrBatchTooLarge = errors.New("allium: batch too large")
)

// APIError is a non-2xx response from the upstream
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("allium: HTTP %d: %s", e.StatusCode, e.Body)
}

// Transient reports whether the failure is worth trying again next cycle
func (e *APIError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Options configures a Client
type Options struct {
	BaseURL           string
	ExplorerURL       string
	APIKey            string
	Timeout           time.Duration
	RequestsPerSecond int
	HTTPClient        *http.Client
}

// Client is a thin wrapper around the Allium REST API.
// Requests are rate limited and guarded by a circuit breaker; nothing is
// retried inside a call, the poller retries on its next cycle.
type Client struct {
	baseURL     string
	explorerURL string
	apiKey      string
	httpClient  *http.Client
	breaker     *gobreaker.CircuitBreaker
	limiter     *rate.Limiter
}

// NewClient creates a new Allium client
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.ExplorerURL == "" {
		opts.ExplorerURL = DefaultExplorerURL
	}
	if opts.Timeout == 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "allium",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return !apiErr.Transient()
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("⚡ Upstream circuit breaker state changed")
		},
	})

	return &Client{
		baseURL:     opts.BaseURL,
		explorerURL: opts.ExplorerURL,
		apiKey:      opts.APIKey,
		httpClient:  opts.HTTPClient,
		breaker:     breaker,
		limiter:     rate.NewLimiter(limit, 1),
	}
}

// TxQuery narrows a wallet transactions request
type TxQuery struct {
	Limit  int
	Cursor string
	// Since drops transactions older than this instant (client-side)
	Since time.Time
}

// WalletTransactions fetches transactions for up to 20 addresses
func (c *Client) WalletTransactions(ctx context.Context, addrs []AddressRef, q TxQuery) (*TransactionsResponse, error) {
	if len(addrs) > MaxAddressesPerRequest {
		return nil, fmt.Errorf("%w: %d addresses", ErrBatchTooLarge, len(addrs))
	}
	if len(addrs) == 0 {
		return &TransactionsResponse{}, nil
	}

	params := url.Values{}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	params.Set("limit", strconv.Itoa(limit))
	if q.Cursor != "" {
		params.Set("cursor", q.Cursor)
	}

	var resp TransactionsResponse
	if err := c.post(ctx, "/wallet/transactions", params, addrs, &resp); err != nil {
		return nil, err
	}

	if !q.Since.IsZero() {
		kept := resp.Items[:0]
		for _, tx := range resp.Items {
			if !tx.BlockTimestamp.Before(q.Since) {
				kept = append(kept, tx)
			}
		}
		resp.Items = kept
	}
	return &resp, nil
}

// Prices fetches the latest prices for up to 200 tokens.
// Tokens the API does not know are simply absent from the response.
func (c *Client) Prices(ctx context.Context, tokens []TokenRef) (*PricesResponse, error) {
	if len(tokens) > MaxTokensPerRequest {
		return nil, fmt.Errorf("%w: %d tokens", ErrBatchTooLarge, len(tokens))
	}
	if len(tokens) == 0 {
		return &PricesResponse{}, nil
	}

	var resp PricesResponse
	if err := c.post(ctx, "/prices", nil, tokens, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, path string, params url.Values, body, out interface{}) error {
	return c.postTo(ctx, c.baseURL, path, params, body, out)
}

func (c *Client) postTo(ctx context.Context, base, path string, params url.Values, body, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.doPost(ctx, base, path, params, body, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s", ErrCircuitOpen, path)
	}
	return err
}

func (c *Client) doPost(ctx context.Context, base, path string, params url.Values, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	fullURL := base + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
