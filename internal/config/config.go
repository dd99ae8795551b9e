// Package config defines the top-level configuration for updownbot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by UPDOWNBOT_* environment
// variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Database   DatabaseConfig   `toml:"database"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Kafka      KafkaConfig      `toml:"kafka"`
	Notify     NotifyConfig     `toml:"notify"`
	Feeds      FeedsConfig      `toml:"feeds"`
	Whale      WhaleConfig      `toml:"whale"`
	Engine     EngineConfig     `toml:"engine"`
	Risk       RiskConfig       `toml:"risk"`
	Metrics    MetricsConfig    `toml:"metrics"`
	Mode       string           `toml:"mode"`
	PaperMode  bool             `toml:"paper_mode"`
	LogLevel   string           `toml:"log_level"`
}

// WalletConfig holds the Polygon wallet used for CLOB order signing.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	FunderAddress    string `toml:"funder_address"`
}

// PolymarketConfig holds API endpoints and chain parameters.
type PolymarketConfig struct {
	ClobHost      string `toml:"clob_host"`
	GammaHost     string `toml:"gamma_host"`
	BookWSHost    string `toml:"book_ws_host"`
	PriceWSHost   string `toml:"price_ws_host"`
	ChainID       int    `toml:"chain_id"`
	SignatureType int    `toml:"signature_type"`
	ApiKey        string `toml:"api_key"`
	ApiSecret     string `toml:"api_secret"`
	ApiPassphrase string `toml:"api_passphrase"`
}

// DatabaseConfig holds PostgreSQL connection parameters for the ledger.
// When no DSN or host is configured the ledger degrades to in-memory.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// Configured reports whether a database target was provided at all.
func (d DatabaseConfig) Configured() bool {
	return strings.TrimSpace(d.DSN) != "" || strings.TrimSpace(d.Host) != ""
}

// RedisConfig holds Redis connection parameters for the start-price cache
// and settlement locks. Optional.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the trade and
// book-snapshot archiver. Optional.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// KafkaConfig holds the broker list and topic for the Kafka alert sender.
// Optional.
type KafkaConfig struct {
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
}

// NotifyConfig holds notification channel credentials and the event filter.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// FeedsConfig tunes the two streaming clients.
type FeedsConfig struct {
	// Symbols tracked on the reference price stream, e.g. ["btc","eth"].
	Symbols []string `toml:"symbols"`
	// RetentionSeconds bounds the per-symbol tick ring buffer.
	RetentionSeconds int `toml:"retention_seconds"`
	// StartPriceCacheSeconds bounds the ValueAt memo cache.
	StartPriceCacheSeconds int `toml:"start_price_cache_seconds"`
	// NewWindowGraceSeconds is how close to "now" a lookup must be before
	// falling back to the earliest buffered tick.
	NewWindowGraceSeconds int `toml:"new_window_grace_seconds"`
	// PricePingSeconds / BookPingSeconds are the keepalive intervals.
	PricePingSeconds int `toml:"price_ping_seconds"`
	BookPingSeconds  int `toml:"book_ping_seconds"`
	// ReconnectBaseSeconds / ReconnectMaxSeconds parameterize backoff.
	ReconnectBaseSeconds int `toml:"reconnect_base_seconds"`
	ReconnectMaxSeconds  int `toml:"reconnect_max_seconds"`
	// RateLimitWaitSeconds is the forced wait after a rate-limited close.
	RateLimitWaitSeconds int `toml:"rate_limit_wait_seconds"`
	// SnapshotMinIntervalSeconds rate-limits REST book snapshots per
	// instrument.
	SnapshotMinIntervalSeconds int `toml:"snapshot_min_interval_seconds"`
	// TopLevels is how many levels per side are inspected for imbalance.
	TopLevels int `toml:"top_levels"`
}

// WhaleConfig holds the pattern-detector thresholds. These are empirically
// tuned defaults carried over from live trading, not derived values.
type WhaleConfig struct {
	LargeOrderSize    float64 `toml:"large_order_size"`
	LayeringLevels    int     `toml:"layering_levels"`
	SweepLevels       int     `toml:"sweep_levels"`
	SweepDropRatio    float64 `toml:"sweep_drop_ratio"`
	IcebergRefillRate float64 `toml:"iceberg_refill_rate"`
	IcebergRepeats    int     `toml:"iceberg_repeats"`
	SpoofWindowSec    int     `toml:"spoof_window_sec"`
	MaxRecentSignals  int     `toml:"max_recent_signals"`
}

// EngineConfig tunes the signal composition loop.
type EngineConfig struct {
	Assets             []string `toml:"assets"`
	WindowSeconds      []int    `toml:"window_seconds"`
	TickMillis         int      `toml:"tick_millis"`
	MarketRefreshSec   int      `toml:"market_refresh_sec"`
	SettleEveryTicks   int      `toml:"settle_every_ticks"`
	EntryWindowSec     int      `toml:"entry_window_sec"`
	MispriceSumMax     float64  `toml:"misprice_sum_max"`
	DeepValueMax       float64  `toml:"deep_value_max"`
	ImbalanceThreshold float64  `toml:"imbalance_threshold"`
	ImbalanceSamples   int      `toml:"imbalance_samples"`
	MomentumLookback   int      `toml:"momentum_lookback"`
	WhaleFreshnessSec  int      `toml:"whale_freshness_sec"`
	GateStartSec       int      `toml:"gate_start_sec"`
	GateEndSec         int      `toml:"gate_end_sec"`
	StrikeTolerance    float64  `toml:"strike_tolerance"`
	MinMove60s         float64  `toml:"min_move_60s"`
	RepriceMaxAsk      float64  `toml:"reprice_max_ask"`
}

// RiskConfig holds bankroll and per-trade caps.
type RiskConfig struct {
	Bankroll        float64 `toml:"bankroll"`
	MaxTradeUSD     float64 `toml:"max_trade_usd"`
	CapArb          float64 `toml:"cap_arb"`
	CapLogic        float64 `toml:"cap_logic"`
	CapDefault      float64 `toml:"cap_default"`
	KellyFraction   float64 `toml:"kelly_fraction"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// Defaults returns the built-in configuration. Values mirror the thresholds
// the strategy was tuned with in production.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost:      "https://clob.polymarket.com",
			GammaHost:     "https://gamma-api.polymarket.com",
			BookWSHost:    "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			PriceWSHost:   "wss://ws-live-data.polymarket.com",
			ChainID:       137,
			SignatureType: 2,
		},
		Database: DatabaseConfig{
			Port:         5432,
			SSLMode:      "require",
			PoolMaxConns: 4,
			PoolMinConns: 1,
		},
		Feeds: FeedsConfig{
			Symbols:                    []string{"btc", "eth", "sol", "xrp"},
			RetentionSeconds:           600,
			StartPriceCacheSeconds:     1800,
			NewWindowGraceSeconds:      90,
			PricePingSeconds:           6,
			BookPingSeconds:            20,
			ReconnectBaseSeconds:       5,
			ReconnectMaxSeconds:        60,
			RateLimitWaitSeconds:       60,
			SnapshotMinIntervalSeconds: 10,
			TopLevels:                  5,
		},
		Whale: WhaleConfig{
			LargeOrderSize:    5000,
			LayeringLevels:    5,
			SweepLevels:       3,
			SweepDropRatio:    0.5,
			IcebergRefillRate: 1.1,
			IcebergRepeats:    3,
			SpoofWindowSec:    10,
			MaxRecentSignals:  20,
		},
		Engine: EngineConfig{
			Assets:             []string{"btc", "eth", "sol", "xrp"},
			WindowSeconds:      []int{300, 900},
			TickMillis:         500,
			MarketRefreshSec:   5,
			SettleEveryTicks:   200,
			EntryWindowSec:     240,
			MispriceSumMax:     0.98,
			DeepValueMax:       0.30,
			ImbalanceThreshold: 0.30,
			ImbalanceSamples:   60,
			MomentumLookback:   3,
			WhaleFreshnessSec:  30,
			GateStartSec:       40,
			GateEndSec:         25,
			StrikeTolerance:    0.0005,
			MinMove60s:         0.001,
			RepriceMaxAsk:      0.75,
		},
		Risk: RiskConfig{
			Bankroll:      1000,
			MaxTradeUSD:   10,
			CapArb:        0.15,
			CapLogic:      0.10,
			CapDefault:    0.05,
			KellyFraction: 0.25,
		},
		Metrics: MetricsConfig{
			Addr: ":9091",
		},
		Mode:      "trade",
		PaperMode: true,
		LogLevel:  "info",
	}
}

// Validate checks invariants that would make the engine misbehave silently.
// It is called once at startup and is allowed to abort the process.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Mode) {
	case "trade", "monitor", "settle":
	default:
		return fmt.Errorf("config: unsupported mode %q", c.Mode)
	}
	if len(c.Feeds.Symbols) == 0 {
		return fmt.Errorf("config: feeds.symbols must not be empty")
	}
	if len(c.Engine.Assets) == 0 {
		return fmt.Errorf("config: engine.assets must not be empty")
	}
	for _, w := range c.Engine.WindowSeconds {
		if w != 300 && w != 900 {
			return fmt.Errorf("config: engine.window_seconds entry %d: only 300 and 900 are traded", w)
		}
	}
	if c.Engine.TickMillis <= 0 {
		return fmt.Errorf("config: engine.tick_millis must be positive")
	}
	if c.Engine.GateEndSec >= c.Engine.GateStartSec {
		return fmt.Errorf("config: engine gate band inverted (%d >= %d)",
			c.Engine.GateEndSec, c.Engine.GateStartSec)
	}
	if c.Engine.MispriceSumMax <= 0 || c.Engine.MispriceSumMax >= 1 {
		return fmt.Errorf("config: engine.misprice_sum_max must be in (0,1)")
	}
	if c.Risk.Bankroll <= 0 {
		return fmt.Errorf("config: risk.bankroll must be positive")
	}
	if !c.PaperMode {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			return fmt.Errorf("config: live mode requires wallet.private_key or wallet.encrypted_key_path")
		}
	}
	return nil
}
