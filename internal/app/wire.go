package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/updownbot/internal/blob/s3"
	"github.com/alanyoungcy/updownbot/internal/cache/redis"
	"github.com/alanyoungcy/updownbot/internal/config"
	"github.com/alanyoungcy/updownbot/internal/crypto"
	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/feed"
	"github.com/alanyoungcy/updownbot/internal/notify"
	"github.com/alanyoungcy/updownbot/internal/platform/polymarket"
	"github.com/alanyoungcy/updownbot/internal/store/memory"
	"github.com/alanyoungcy/updownbot/internal/store/postgres"
)

// Dependencies bundles everything the operating modes need. Constructed by
// Wire, torn down by the returned cleanup function.
type Dependencies struct {
	Ledger     domain.Ledger
	StartCache domain.StartPriceCache // nil without Redis
	Locker     domain.SlugLocker
	Directory  domain.Directory
	Venue      domain.Venue
	Snapshots  feed.Snapshotter
	Archiver   *s3blob.Archiver // nil without S3
	Notifier   *notify.Notifier
	Clob       *polymarket.ClobClient
}

// Wire constructs the concrete dependency implementations. Postgres, Redis,
// S3 and Kafka are all optional; each degrades to an in-memory or no-op
// stand-in so a bare config can still paper trade.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	if cfg.Database.Configured() {
		pg, err := postgres.New(ctx, cfg.Database)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pg.Close)
		if cfg.Database.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.Ledger = postgres.NewLedger(pg.Pool())
	} else {
		logger.Warn("no database configured, trades are tracked in memory only")
		deps.Ledger = memory.NewLedger()
	}

	if cfg.Redis.Addr != "" {
		rc, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = rc.Close() })
		deps.StartCache = redis.NewStartPriceCache(rc)
		deps.Locker = redis.NewSlugLocker(rc)
	} else {
		deps.Locker = memory.NewSlugLocker()
	}

	deps.Directory = polymarket.NewGammaClient(cfg.Polymarket.GammaHost, logger)

	clob, err := buildClob(ctx, cfg, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.Snapshots = clob
	deps.Clob = clob
	if cfg.PaperMode {
		deps.Venue = polymarket.NewPaperVenue(logger)
	} else {
		deps.Venue = clob
	}

	if cfg.S3.Bucket != "" {
		s3c, err := s3blob.New(ctx, cfg.S3)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3c), logger)
	}

	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		ks, err := notify.NewKafkaSender(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: kafka: %w", err)
		}
		closers = append(closers, func() { _ = ks.Close() })
		senders = append(senders, ks)
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// buildClob constructs the CLOB client. In paper mode it stays unsigned and
// serves only public endpoints (book snapshots); live mode requires a wallet
// key and derives API credentials when none are configured.
func buildClob(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*polymarket.ClobClient, error) {
	var signer *crypto.Signer
	var hmacAuth *crypto.HMACAuth

	if !cfg.PaperMode {
		keyHex, err := crypto.LoadKey(cfg.Wallet.PrivateKey, cfg.Wallet.EncryptedKeyPath, cfg.Wallet.KeyPassword)
		if err != nil {
			return nil, fmt.Errorf("wire: wallet key: %w", err)
		}
		signer, err = crypto.NewSigner(keyHex, cfg.Polymarket.ChainID)
		if err != nil {
			return nil, fmt.Errorf("wire: signer: %w", err)
		}
		if cfg.Polymarket.ApiKey != "" {
			hmacAuth = &crypto.HMACAuth{
				Key:        cfg.Polymarket.ApiKey,
				Secret:     cfg.Polymarket.ApiSecret,
				Passphrase: cfg.Polymarket.ApiPassphrase,
			}
		}
	}

	clob := polymarket.NewClobClient(
		cfg.Polymarket.ClobHost,
		signer,
		hmacAuth,
		cfg.Wallet.FunderAddress,
		cfg.Polymarket.SignatureType,
	)

	if !cfg.PaperMode && hmacAuth == nil {
		if err := clob.DeriveAPIKey(ctx); err != nil {
			return nil, fmt.Errorf("wire: derive api key: %w", err)
		}
		logger.Info("derived clob api credentials")
	}
	return clob, nil
}
