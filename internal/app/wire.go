package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/arbwatch/internal/blob/s3"
	"github.com/alanyoungcy/arbwatch/internal/cache/redis"
	"github.com/alanyoungcy/arbwatch/internal/config"
	"github.com/alanyoungcy/arbwatch/internal/domain"
	"github.com/alanyoungcy/arbwatch/internal/notify"
	"github.com/alanyoungcy/arbwatch/internal/pipeline"
	"github.com/alanyoungcy/arbwatch/internal/store/postgres"
)

// Dependencies bundles every backend dependency the application modes need.
// Each backend is optional: a field stays nil when its config block is
// disabled, and the modes degrade to in-process behavior. Wire constructs
// the set and the returned cleanup function tears it down.
type Dependencies struct {
	// Postgres stores, nil without [postgres].
	MarketStore      domain.MarketStore
	OpportunityStore domain.OpportunityStore
	AlertStore       domain.AlertStore
	AuditStore       domain.AuditStore

	// Redis caches and coordination, nil without [redis].
	QuoteCache  domain.QuoteCache
	MatchCache  domain.MatchCache
	DedupStore  domain.DedupStore
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	Leader      pipeline.LeaderElector
	SignalBus   domain.SignalBus

	// S3 blob storage, nil without [s3].
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Notifier is always built; with no channels configured it is a no-op.
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// must be called on shutdown to release connections.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	if cfg.Postgres.Enabled {
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
		deps.MarketStore = postgres.NewMarketStore(pool)
		deps.OpportunityStore = postgres.NewOpportunityStore(pool)
		deps.AlertStore = postgres.NewAlertStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
	}

	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			PoolSize:    cfg.Redis.PoolSize,
			MaxRetries:  cfg.Redis.MaxRetries,
			DialTimeout: cfg.Redis.DialTimeout.Duration,
			TLSEnabled:  cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.QuoteCache = redis.NewQuoteCache(redisClient, 0)
		deps.MatchCache = redis.NewMatchCache(redisClient, cfg.Match.CacheTTL.Duration)
		deps.DedupStore = redis.NewDedupStore(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		lm := redis.NewLockManager(redisClient)
		deps.LockManager = lm
		deps.Leader = lm
		deps.SignalBus = redis.NewSignalBus(redisClient)
	}

	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		if err := s3Client.Health(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		// The archiver reads history out of Postgres, so it exists only
		// when both blob storage and the stores are wired.
		if deps.OpportunityStore != nil && deps.AlertStore != nil {
			deps.Archiver = s3blob.NewArchiver(
				deps.BlobWriter,
				deps.OpportunityStore,
				deps.AlertStore,
				deps.AuditStore,
			)
		}
	}

	var senders []notify.Sender
	if cfg.Notify.Telegram.Token != "" && cfg.Notify.Telegram.ChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.Telegram.Token,
			cfg.Notify.Telegram.ChatID,
		))
	}
	if cfg.Notify.Discord.WebhookURL != "" {
		ds := notify.NewDiscordSender(cfg.Notify.Discord.WebhookURL)
		if cfg.Notify.Discord.Username != "" || cfg.Notify.Discord.AvatarURL != "" {
			ds.SetIdentity(cfg.Notify.Discord.Username, cfg.Notify.Discord.AvatarURL)
		}
		senders = append(senders, ds)
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
