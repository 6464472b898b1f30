package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/snipebot/internal/blob/s3"
	"github.com/alanyoungcy/snipebot/internal/cache/redis"
	"github.com/alanyoungcy/snipebot/internal/config"
	"github.com/alanyoungcy/snipebot/internal/domain"
	"github.com/alanyoungcy/snipebot/internal/notify"
	"github.com/alanyoungcy/snipebot/internal/server/handler"
	"github.com/alanyoungcy/snipebot/internal/store/postgres"
)

// Dependencies bundles the infrastructure the modes run on. Every field is
// optional: a feature without credentials is left nil and listed in Disabled.
type Dependencies struct {
	// Stores
	PositionStore domain.PositionStore
	TradeStore    *postgres.TradeStore
	AuditStore    domain.AuditStore

	// Caches
	SnapshotCache domain.SnapshotCache
	RiskState     domain.RiskStateStore
	RateLimiter   domain.RateLimiter
	LockManager   domain.LockManager
	SignalBus     domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader *s3blob.Reader
	Archiver   *s3blob.Archiver

	// Notifications
	Notifier *notify.Notifier

	// HealthChecks ping every connected backend.
	HealthChecks map[string]handler.Check

	// Disabled lists the features switched off for missing credentials.
	Disabled []string
}

// disable records a feature as switched off and logs it loudly.
func (d *Dependencies) disable(ctx context.Context, logger *slog.Logger, feature, reason string) {
	d.Disabled = append(d.Disabled, feature)
	logger.WarnContext(ctx, "wire: feature disabled",
		slog.String("feature", feature),
		slog.String("reason", reason),
	)
}

// announceDisabled sends one feature_disabled notification per switched-off
// feature. It must run after the notifier is built.
func (d *Dependencies) announceDisabled(ctx context.Context) {
	for _, f := range d.Disabled {
		d.Notifier.Notify(ctx, domain.EventFeatureDisabled, "Feature disabled",
			fmt.Sprintf("%s is disabled: credentials are not configured", f))
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources. Backends without credentials are
// skipped; a configured backend that cannot be reached is an error.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	logger = logger.With(slog.String("component", "wire"))

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{HealthChecks: make(map[string]handler.Check)}
	backtest := strings.ToLower(cfg.Mode) == "backtest"

	// --- PostgreSQL ---
	switch {
	case backtest:
	case !cfg.Postgres.Enabled():
		deps.disable(ctx, logger, "postgres", "postgres.dsn and postgres.host are empty")
	default:
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.PositionStore = postgres.NewPositionStore(pool)
		deps.TradeStore = postgres.NewTradeStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.HealthChecks["postgres"] = pool.Ping
	}

	// --- Redis ---
	switch {
	case backtest:
	case cfg.Redis.Addr == "":
		deps.disable(ctx, logger, "redis", "redis.addr is empty")
	default:
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.SnapshotCache = redis.NewSnapshotCache(redisClient)
		deps.RiskState = redis.NewRiskStateStore(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.HealthChecks["redis"] = redisClient.Ping
	}

	// --- S3 blob storage ---
	// A backtest reading an s3:// source gets a client for the source bucket.
	bucket := cfg.S3.Bucket
	if backtest && bucket == "" && strings.HasPrefix(cfg.Backtest.Source, "s3://") {
		bucket, _, _ = s3blob.ParseURI(cfg.Backtest.Source)
	}
	if bucket == "" {
		if !backtest {
			deps.disable(ctx, logger, "s3 archive", "s3.bucket is empty")
		}
	} else {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		deps.BlobReader = s3blob.NewReader(s3Client)
		if !backtest {
			deps.BlobWriter = s3blob.NewWriter(s3Client)
			deps.HealthChecks["s3"] = s3Client.Health
			if deps.TradeStore != nil {
				var opts []s3blob.ArchiverOption
				if deps.AuditStore != nil {
					opts = append(opts, s3blob.WithAudit(deps.AuditStore))
				}
				deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.BlobReader, deps.TradeStore, logger, opts...)
			}
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramAPIURL,
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, cfg.Notify.Timeout.Duration, logger)
	closers = append(closers, deps.Notifier.Wait)
	if !deps.Notifier.Enabled() && !backtest {
		deps.disable(ctx, logger, "notifications", "no telegram token/chat id or discord webhook")
	}

	return deps, cleanup, nil
}
