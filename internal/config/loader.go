package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads configuration from an optional TOML file, then applies
// UPDOWNBOT_* environment overrides on top of it. A missing file is not an
// error; defaults plus environment are enough to run in paper mode.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return nil, fmt.Errorf("config: decode %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: stat %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(c *Config) {
	setStr("UPDOWNBOT_MODE", &c.Mode)
	setBool("UPDOWNBOT_PAPER_MODE", &c.PaperMode)
	setStr("UPDOWNBOT_LOG_LEVEL", &c.LogLevel)

	setStr("UPDOWNBOT_WALLET_PRIVATE_KEY", &c.Wallet.PrivateKey)
	setStr("UPDOWNBOT_WALLET_KEY_PATH", &c.Wallet.EncryptedKeyPath)
	setStr("UPDOWNBOT_WALLET_KEY_PASSWORD", &c.Wallet.KeyPassword)
	setStr("UPDOWNBOT_WALLET_FUNDER", &c.Wallet.FunderAddress)

	setStr("UPDOWNBOT_CLOB_HOST", &c.Polymarket.ClobHost)
	setStr("UPDOWNBOT_GAMMA_HOST", &c.Polymarket.GammaHost)
	setStr("UPDOWNBOT_BOOK_WS_HOST", &c.Polymarket.BookWSHost)
	setStr("UPDOWNBOT_PRICE_WS_HOST", &c.Polymarket.PriceWSHost)
	setInt("UPDOWNBOT_CHAIN_ID", &c.Polymarket.ChainID)
	setStr("UPDOWNBOT_API_KEY", &c.Polymarket.ApiKey)
	setStr("UPDOWNBOT_API_SECRET", &c.Polymarket.ApiSecret)
	setStr("UPDOWNBOT_API_PASSPHRASE", &c.Polymarket.ApiPassphrase)

	setStr("UPDOWNBOT_DATABASE_DSN", &c.Database.DSN)
	setStr("UPDOWNBOT_DATABASE_HOST", &c.Database.Host)
	setInt("UPDOWNBOT_DATABASE_PORT", &c.Database.Port)
	setStr("UPDOWNBOT_DATABASE_NAME", &c.Database.Database)
	setStr("UPDOWNBOT_DATABASE_USER", &c.Database.User)
	setStr("UPDOWNBOT_DATABASE_PASSWORD", &c.Database.Password)
	setBool("UPDOWNBOT_DATABASE_MIGRATIONS", &c.Database.RunMigrations)

	setStr("UPDOWNBOT_REDIS_ADDR", &c.Redis.Addr)
	setStr("UPDOWNBOT_REDIS_PASSWORD", &c.Redis.Password)
	setInt("UPDOWNBOT_REDIS_DB", &c.Redis.DB)

	setStr("UPDOWNBOT_S3_ENDPOINT", &c.S3.Endpoint)
	setStr("UPDOWNBOT_S3_REGION", &c.S3.Region)
	setStr("UPDOWNBOT_S3_BUCKET", &c.S3.Bucket)
	setStr("UPDOWNBOT_S3_ACCESS_KEY", &c.S3.AccessKey)
	setStr("UPDOWNBOT_S3_SECRET_KEY", &c.S3.SecretKey)

	setStringSlice("UPDOWNBOT_KAFKA_BROKERS", &c.Kafka.Brokers)
	setStr("UPDOWNBOT_KAFKA_TOPIC", &c.Kafka.Topic)

	setStr("UPDOWNBOT_TELEGRAM_TOKEN", &c.Notify.TelegramToken)
	setStr("UPDOWNBOT_TELEGRAM_CHAT_ID", &c.Notify.TelegramChatID)
	setStr("UPDOWNBOT_DISCORD_WEBHOOK", &c.Notify.DiscordWebhookURL)

	setStringSlice("UPDOWNBOT_FEED_SYMBOLS", &c.Feeds.Symbols)
	setStringSlice("UPDOWNBOT_ASSETS", &c.Engine.Assets)
	setFloat64("UPDOWNBOT_BANKROLL", &c.Risk.Bankroll)
	setFloat64("UPDOWNBOT_MAX_TRADE_USD", &c.Risk.MaxTradeUSD)
	setBool("UPDOWNBOT_METRICS_ENABLED", &c.Metrics.Enabled)
	setStr("UPDOWNBOT_METRICS_ADDR", &c.Metrics.Addr)
}

func setStr(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(key string, dst *int) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(key string, dst *float64) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(key string, dst *bool) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(key string, dst *time.Duration) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func setStringSlice(key string, dst *[]string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			*dst = out
		}
	}
}
