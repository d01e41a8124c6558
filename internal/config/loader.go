package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ARBWATCH_* environment variable overrides, and
// returns the final Config. An empty path skips the file and uses defaults
// plus environment only. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ARBWATCH_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── App ──
	setStr(&cfg.App.Mode, "ARBWATCH_APP_MODE")
	setStr(&cfg.App.Mode, "ARBWATCH_MODE") // shorthand alias
	setDuration(&cfg.App.PollInterval, "ARBWATCH_APP_POLL_INTERVAL")
	setDuration(&cfg.App.EvaluateInterval, "ARBWATCH_APP_EVALUATE_INTERVAL")
	setStr(&cfg.App.LogLevel, "ARBWATCH_APP_LOG_LEVEL")
	setStr(&cfg.App.LogLevel, "ARBWATCH_LOG_LEVEL") // shorthand alias
	setStr(&cfg.App.RunID, "ARBWATCH_APP_RUN_ID")
	setStr(&cfg.App.RunID, "ARBWATCH_RUN_ID") // shorthand alias

	// ── Sources: polymarket ──
	setBool(&cfg.Sources.Polymarket.Enabled, "ARBWATCH_SOURCES_POLYMARKET_ENABLED")
	setStr(&cfg.Sources.Polymarket.BaseURL, "ARBWATCH_SOURCES_POLYMARKET_BASE_URL")
	setStr(&cfg.Sources.Polymarket.ClobURL, "ARBWATCH_SOURCES_POLYMARKET_CLOB_URL")
	setInt(&cfg.Sources.Polymarket.MarketsLimit, "ARBWATCH_SOURCES_POLYMARKET_MARKETS_LIMIT")
	setFloat64(&cfg.Sources.Polymarket.RequestsPerSecond, "ARBWATCH_SOURCES_POLYMARKET_REQUESTS_PER_SECOND")
	setInt(&cfg.Sources.Polymarket.RequestsPerMinute, "ARBWATCH_SOURCES_POLYMARKET_REQUESTS_PER_MINUTE")
	setInt(&cfg.Sources.Polymarket.BurstSize, "ARBWATCH_SOURCES_POLYMARKET_BURST_SIZE")

	// ── Sources: kalshi ──
	setBool(&cfg.Sources.Kalshi.Enabled, "ARBWATCH_SOURCES_KALSHI_ENABLED")
	setStr(&cfg.Sources.Kalshi.BaseURL, "ARBWATCH_SOURCES_KALSHI_BASE_URL")
	setInt(&cfg.Sources.Kalshi.MarketsLimit, "ARBWATCH_SOURCES_KALSHI_MARKETS_LIMIT")
	setFloat64(&cfg.Sources.Kalshi.RequestsPerSecond, "ARBWATCH_SOURCES_KALSHI_REQUESTS_PER_SECOND")
	setInt(&cfg.Sources.Kalshi.RequestsPerMinute, "ARBWATCH_SOURCES_KALSHI_REQUESTS_PER_MINUTE")
	setInt(&cfg.Sources.Kalshi.BurstSize, "ARBWATCH_SOURCES_KALSHI_BURST_SIZE")
	setStr(&cfg.Sources.Kalshi.ApiKeyID, "ARBWATCH_SOURCES_KALSHI_API_KEY_ID")
	setStr(&cfg.Sources.Kalshi.PrivateKeyPEM, "ARBWATCH_SOURCES_KALSHI_PRIVATE_KEY_PEM")
	setStr(&cfg.Sources.Kalshi.PrivateKeyPath, "ARBWATCH_SOURCES_KALSHI_PRIVATE_KEY_PATH")
	setStr(&cfg.Sources.Kalshi.EncryptedKeyPath, "ARBWATCH_SOURCES_KALSHI_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Sources.Kalshi.KeyPassword, "ARBWATCH_SOURCES_KALSHI_KEY_PASSWORD")

	// ── Sources: manifold ──
	setBool(&cfg.Sources.Manifold.Enabled, "ARBWATCH_SOURCES_MANIFOLD_ENABLED")
	setStr(&cfg.Sources.Manifold.BaseURL, "ARBWATCH_SOURCES_MANIFOLD_BASE_URL")
	setInt(&cfg.Sources.Manifold.MarketsLimit, "ARBWATCH_SOURCES_MANIFOLD_MARKETS_LIMIT")
	setFloat64(&cfg.Sources.Manifold.RequestsPerSecond, "ARBWATCH_SOURCES_MANIFOLD_REQUESTS_PER_SECOND")
	setInt(&cfg.Sources.Manifold.RequestsPerMinute, "ARBWATCH_SOURCES_MANIFOLD_REQUESTS_PER_MINUTE")
	setInt(&cfg.Sources.Manifold.BurstSize, "ARBWATCH_SOURCES_MANIFOLD_BURST_SIZE")

	// ── Sources: limitless ──
	setBool(&cfg.Sources.Limitless.Enabled, "ARBWATCH_SOURCES_LIMITLESS_ENABLED")
	setStr(&cfg.Sources.Limitless.BaseURL, "ARBWATCH_SOURCES_LIMITLESS_BASE_URL")
	setInt(&cfg.Sources.Limitless.MarketsLimit, "ARBWATCH_SOURCES_LIMITLESS_MARKETS_LIMIT")
	setFloat64(&cfg.Sources.Limitless.RequestsPerSecond, "ARBWATCH_SOURCES_LIMITLESS_REQUESTS_PER_SECOND")
	setInt(&cfg.Sources.Limitless.RequestsPerMinute, "ARBWATCH_SOURCES_LIMITLESS_REQUESTS_PER_MINUTE")
	setInt(&cfg.Sources.Limitless.BurstSize, "ARBWATCH_SOURCES_LIMITLESS_BURST_SIZE")

	// ── Sources: metaculus ──
	setBool(&cfg.Sources.Metaculus.Enabled, "ARBWATCH_SOURCES_METACULUS_ENABLED")
	setStr(&cfg.Sources.Metaculus.BaseURL, "ARBWATCH_SOURCES_METACULUS_BASE_URL")
	setInt(&cfg.Sources.Metaculus.MarketsLimit, "ARBWATCH_SOURCES_METACULUS_MARKETS_LIMIT")
	setFloat64(&cfg.Sources.Metaculus.RequestsPerSecond, "ARBWATCH_SOURCES_METACULUS_REQUESTS_PER_SECOND")
	setInt(&cfg.Sources.Metaculus.RequestsPerMinute, "ARBWATCH_SOURCES_METACULUS_REQUESTS_PER_MINUTE")
	setInt(&cfg.Sources.Metaculus.BurstSize, "ARBWATCH_SOURCES_METACULUS_BURST_SIZE")

	// ── Match ──
	setInt(&cfg.Match.MinSources, "ARBWATCH_MATCH_MIN_SOURCES")
	setFloat64(&cfg.Match.ConfidenceThreshold, "ARBWATCH_MATCH_CONFIDENCE_THRESHOLD")
	setDuration(&cfg.Match.CacheTTL, "ARBWATCH_MATCH_CACHE_TTL")

	// ── Scoring ──
	setFloat64(&cfg.Scoring.MinSpread, "ARBWATCH_SCORING_MIN_SPREAD")
	setBool(&cfg.Scoring.PrioritizeNewEvents, "ARBWATCH_SCORING_PRIORITIZE_NEW_EVENTS")
	setInt(&cfg.Scoring.NewEventHours, "ARBWATCH_SCORING_NEW_EVENT_HOURS")

	// ── Webhook ──
	setStr(&cfg.Webhook.URL, "ARBWATCH_WEBHOOK_URL")
	setStr(&cfg.Webhook.HealthURL, "ARBWATCH_WEBHOOK_HEALTH_URL")
	setInt(&cfg.Webhook.SchemaVersion, "ARBWATCH_WEBHOOK_SCHEMA_VERSION")
	setDuration(&cfg.Webhook.Timeout, "ARBWATCH_WEBHOOK_TIMEOUT")
	setInt(&cfg.Webhook.MaxAttempts, "ARBWATCH_WEBHOOK_MAX_ATTEMPTS")
	setDuration(&cfg.Webhook.DedupTTL, "ARBWATCH_WEBHOOK_DEDUP_TTL")

	// ── Notify ──
	setStr(&cfg.Notify.Discord.WebhookURL, "ARBWATCH_NOTIFY_DISCORD_WEBHOOK_URL")
	setStr(&cfg.Notify.Discord.Username, "ARBWATCH_NOTIFY_DISCORD_USERNAME")
	setStr(&cfg.Notify.Discord.AvatarURL, "ARBWATCH_NOTIFY_DISCORD_AVATAR_URL")
	setStr(&cfg.Notify.Telegram.Token, "ARBWATCH_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.Telegram.ChatID, "ARBWATCH_NOTIFY_TELEGRAM_CHAT_ID")
	setStringSlice(&cfg.Notify.Events, "ARBWATCH_NOTIFY_EVENTS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "ARBWATCH_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ARBWATCH_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARBWATCH_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARBWATCH_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ARBWATCH_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ARBWATCH_REDIS_MAX_RETRIES")
	setDuration(&cfg.Redis.DialTimeout, "ARBWATCH_REDIS_DIAL_TIMEOUT")
	setBool(&cfg.Redis.TLSEnabled, "ARBWATCH_REDIS_TLS_ENABLED")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "ARBWATCH_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "ARBWATCH_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "ARBWATCH_POSTGRES_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "ARBWATCH_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ARBWATCH_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ARBWATCH_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ARBWATCH_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ARBWATCH_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ARBWATCH_POSTGRES_SSLMODE")
	setStr(&cfg.Postgres.SSLMode, "ARBWATCH_POSTGRES_SSL_MODE") // compatibility alias
	setInt(&cfg.Postgres.PoolMaxConns, "ARBWATCH_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ARBWATCH_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ARBWATCH_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "ARBWATCH_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ARBWATCH_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ARBWATCH_S3_REGION")
	setStr(&cfg.S3.Bucket, "ARBWATCH_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ARBWATCH_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ARBWATCH_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ARBWATCH_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ARBWATCH_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.RetentionDays, "ARBWATCH_S3_RETENTION_DAYS")
	setStr(&cfg.S3.ArchiveCron, "ARBWATCH_S3_ARCHIVE_CRON")

	// ── Server ──
	setInt(&cfg.Server.Port, "ARBWATCH_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ARBWATCH_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "ARBWATCH_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimitPerMinute, "ARBWATCH_SERVER_RATE_LIMIT_PER_MINUTE")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
