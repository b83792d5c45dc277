package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all configuration for the alert service
type Config struct {
	// Upstream data source
	AlliumAPIKey      string
	AlliumBaseURL     string
	AlliumExplorerURL string
	AlliumRPS         int

	// Identity labels (falls back to watchlist labels when unavailable)
	IdentityEnrichment bool
	IdentityTimeout    time.Duration
	IdentityRefresh    time.Duration

	// Telegram (optional - chat sink disabled when either is empty)
	TelegramToken  string
	TelegramChatID string

	// Dedup
	RedisURL string
	DedupTTL time.Duration

	// Polling
	PollInterval     time.Duration
	Lookback         time.Duration
	BatchSize        int
	BatchConcurrency int
	ExcludeChains    []string
	WatchlistDir     string

	// Thresholds
	MinUSDThreshold decimal.Decimal
	ChainThresholds map[string]decimal.Decimal

	// Buffers
	HistoryCapacity int
	QueueCapacity   int
	WSKeepalive     time.Duration

	// HTTP
	HTTPAddr        string
	CORSOrigins     []string
	HistoryCacheTTL time.Duration

	// Archive (empty disables it)
	DatabasePath string

	Debug bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		AlliumAPIKey:      os.Getenv("ALLIUM_API_KEY"),
		AlliumBaseURL:     getEnv("ALLIUM_BASE_URL", "https://api.allium.so/api/v1/developer"),
		AlliumExplorerURL: getEnv("ALLIUM_EXPLORER_URL", "https://api.allium.so/api/v1/explorer"),
		AlliumRPS:         getEnvInt("ALLIUM_RPS", 5),

		IdentityEnrichment: getEnvBool("IDENTITY_ENRICHMENT", true),
		IdentityTimeout:    getEnvDuration("IDENTITY_TIMEOUT", 30*time.Second),
		IdentityRefresh:    getEnvDuration("IDENTITY_REFRESH", 24*time.Hour),

		TelegramToken:  os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID: os.Getenv("TELEGRAM_CHAT_ID"),

		RedisURL: os.Getenv("REDIS_URL"),
		DedupTTL: getEnvDuration("DEDUP_TTL", 48*time.Hour),

		PollInterval:     getEnvDuration("POLL_INTERVAL", 60*time.Second),
		Lookback:         getEnvDuration("LOOKBACK", 24*time.Hour),
		BatchSize:        getEnvInt("BATCH_SIZE", 20),
		BatchConcurrency: getEnvInt("BATCH_CONCURRENCY", 4),
		ExcludeChains:    getEnvList("EXCLUDE_CHAINS", []string{"bitcoin"}),
		WatchlistDir:     getEnv("WATCHLIST_DIR", "data/watchlist"),

		MinUSDThreshold: getEnvDecimal("MIN_USD_THRESHOLD", decimal.NewFromInt(1_000_000)),

		HistoryCapacity: getEnvInt("HISTORY_CAPACITY", 1000),
		QueueCapacity:   getEnvInt("QUEUE_CAPACITY", 5000),
		WSKeepalive:     getEnvDuration("WS_KEEPALIVE", 25*time.Second),

		HTTPAddr:        getEnv("HTTP_ADDR", ":8000"),
		CORSOrigins:     getEnvList("CORS_ORIGINS", []string{"http://localhost:5173", "http://localhost:3000"}),
		HistoryCacheTTL: getEnvDuration("HISTORY_CACHE_TTL", 60*time.Second),

		DatabasePath: os.Getenv("DATABASE_PATH"),

		Debug: getEnvBool("DEBUG", false),
	}

	thresholds, err := ParseChainThresholds(os.Getenv("CHAIN_THRESHOLDS"))
	if err != nil {
		return nil, fmt.Errorf("invalid CHAIN_THRESHOLDS: %w", err)
	}
	cfg.ChainThresholds = thresholds

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks required fields and ranges
func (c *Config) Validate() error {
	if c.AlliumAPIKey == "" {
		return fmt.Errorf("ALLIUM_API_KEY is required")
	}
	if c.BatchSize <= 0 || c.BatchSize > 20 {
		return fmt.Errorf("BATCH_SIZE must be between 1 and 20, got %d", c.BatchSize)
	}
	if c.BatchConcurrency <= 0 {
		return fmt.Errorf("BATCH_CONCURRENCY must be positive, got %d", c.BatchConcurrency)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}
	if c.DedupTTL <= 0 {
		return fmt.Errorf("DEDUP_TTL must be positive")
	}
	if c.HistoryCapacity <= 0 || c.QueueCapacity <= 0 {
		return fmt.Errorf("HISTORY_CAPACITY and QUEUE_CAPACITY must be positive")
	}
	if c.WSKeepalive <= 0 {
		return fmt.Errorf("WS_KEEPALIVE must be positive")
	}
	if c.IdentityEnrichment && c.IdentityTimeout <= 0 {
		return fmt.Errorf("IDENTITY_TIMEOUT must be positive")
	}
	if c.MinUSDThreshold.IsNegative() {
		return fmt.Errorf("MIN_USD_THRESHOLD must not be negative")
	}
	return nil
}

// TelegramEnabled reports whether the chat sink is configured
func (c *Config) TelegramEnabled() bool {
	return c.TelegramToken != "" && c.TelegramChatID != ""
}

// ParseChainThresholds parses "solana=250000,base=500000"
func ParseChainThresholds(raw string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		chain, value, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("expected chain=usd, got %q", part)
		}
		chain = strings.ToLower(strings.TrimSpace(chain))
		d, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("threshold for %s: %w", chain, err)
		}
		if chain == "" || d.IsNegative() {
			return nil, fmt.Errorf("invalid threshold %q", part)
		}
		out[chain] = d
	}
	return out, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
