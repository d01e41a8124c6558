// Package config defines the top-level configuration for arbwatch and
// provides loading and validation helpers.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ARBWATCH_* environment variables.
type Config struct {
	App      AppConfig      `toml:"app"`
	Sources  SourcesConfig  `toml:"sources"`
	Match    MatchConfig    `toml:"match"`
	Scoring  ScoringConfig  `toml:"scoring"`
	Alerts   AlertsConfig   `toml:"alerts"`
	Webhook  WebhookConfig  `toml:"webhook"`
	Notify   NotifyConfig   `toml:"notify"`
	Redis    RedisConfig    `toml:"redis"`
	Postgres PostgresConfig `toml:"postgres"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
}

// AppConfig holds process-wide settings.
type AppConfig struct {
	// Mode selects what the process runs: "monitor" (polling pipeline only),
	// "server" (HTTP API only), or "all" (both).
	Mode string `toml:"mode"`
	// PollInterval is the pause between full market polling cycles per source.
	PollInterval duration `toml:"poll_interval"`
	// EvaluateInterval is the pause between match/score/alert passes over the
	// latest snapshots.
	EvaluateInterval duration `toml:"evaluate_interval"`
	LogLevel         string   `toml:"log_level"`
	// RunID tags webhook idempotency keys for one deployment. Leave empty to
	// let restarts share webhook dedup state.
	RunID string `toml:"run_id"`
}

// SourcesConfig holds per-source polling settings. Each source toggles
// independently; a disabled source is skipped by the poller and absent from
// health reporting.
type SourcesConfig struct {
	Polymarket PolymarketSourceConfig `toml:"polymarket"`
	Kalshi     KalshiSourceConfig     `toml:"kalshi"`
	Manifold   SourceConfig           `toml:"manifold"`
	Limitless  SourceConfig           `toml:"limitless"`
	Metaculus  SourceConfig           `toml:"metaculus"`
}

// SourceConfig is the settings block shared by every market data source.
type SourceConfig struct {
	Enabled      bool   `toml:"enabled"`
	BaseURL      string `toml:"base_url"`
	MarketsLimit int    `toml:"markets_limit"`
	// RequestsPerSecond, RequestsPerMinute, and BurstSize feed this source's
	// rate-limit bucket. Zero values fall back to the built-in budget.
	RequestsPerSecond float64 `toml:"requests_per_second"`
	RequestsPerMinute int     `toml:"requests_per_minute"`
	BurstSize         int     `toml:"burst_size"`
}

// PolymarketSourceConfig extends the shared block with the CLOB price API
// endpoint, which is separate from the Gamma markets API.
type PolymarketSourceConfig struct {
	Enabled           bool    `toml:"enabled"`
	BaseURL           string  `toml:"base_url"`
	ClobURL           string  `toml:"clob_url"`
	MarketsLimit      int     `toml:"markets_limit"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	RequestsPerMinute int     `toml:"requests_per_minute"`
	BurstSize         int     `toml:"burst_size"`
}

// Common returns the subset of settings shared by every source.
func (p PolymarketSourceConfig) Common() SourceConfig {
	return SourceConfig{
		Enabled:           p.Enabled,
		BaseURL:           p.BaseURL,
		MarketsLimit:      p.MarketsLimit,
		RequestsPerSecond: p.RequestsPerSecond,
		RequestsPerMinute: p.RequestsPerMinute,
		BurstSize:         p.BurstSize,
	}
}

// KalshiSourceConfig extends the shared block with API credentials. Kalshi
// signs requests with an RSA key supplied through one of private_key_pem,
// private_key_path, or encrypted_key_path; without credentials requests go
// out unauthenticated, which the public market endpoints accept.
type KalshiSourceConfig struct {
	Enabled           bool    `toml:"enabled"`
	BaseURL           string  `toml:"base_url"`
	MarketsLimit      int     `toml:"markets_limit"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	RequestsPerMinute int     `toml:"requests_per_minute"`
	BurstSize         int     `toml:"burst_size"`
	ApiKeyID          string  `toml:"api_key_id"`
	PrivateKeyPEM     string  `toml:"private_key_pem"`
	PrivateKeyPath    string  `toml:"private_key_path"`
	EncryptedKeyPath  string  `toml:"encrypted_key_path"`
	KeyPassword       string  `toml:"key_password"`
}

// Common returns the subset of settings shared by every source.
func (k KalshiSourceConfig) Common() SourceConfig {
	return SourceConfig{
		Enabled:           k.Enabled,
		BaseURL:           k.BaseURL,
		MarketsLimit:      k.MarketsLimit,
		RequestsPerSecond: k.RequestsPerSecond,
		RequestsPerMinute: k.RequestsPerMinute,
		BurstSize:         k.BurstSize,
	}
}

func (k KalshiSourceConfig) keySourceCount() int {
	n := 0
	for _, v := range []string{k.PrivateKeyPEM, k.PrivateKeyPath, k.EncryptedKeyPath} {
		if v != "" {
			n++
		}
	}
	return n
}

// HasCredentials reports whether a complete signing credential is configured:
// an API key ID plus at least one private key source.
func (k KalshiSourceConfig) HasCredentials() bool {
	return k.ApiKeyID != "" && k.keySourceCount() > 0
}

// ByName returns the shared settings for every source keyed by its adapter
// name. Endpoint and credential extensions are dropped; callers that need
// them use the typed fields directly.
func (s SourcesConfig) ByName() map[string]SourceConfig {
	return map[string]SourceConfig{
		"polymarket": s.Polymarket.Common(),
		"kalshi":     s.Kalshi.Common(),
		"manifold":   s.Manifold,
		"limitless":  s.Limitless,
		"metaculus":  s.Metaculus,
	}
}

// EnabledSources returns the names of the enabled sources in sorted order.
func (s SourcesConfig) EnabledSources() []string {
	byName := s.ByName()
	names := make([]string, 0, len(byName))
	for name, sc := range byName {
		if sc.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// MatchConfig tunes cross-source event matching.
type MatchConfig struct {
	// MinSources is the least number of distinct sources a grouped event needs
	// before it counts as a match. Never below 2; a single source cannot
	// produce a cross-market spread.
	MinSources int `toml:"min_sources"`
	// ConfidenceThreshold is the floor a match confidence must clear before
	// the match is announced.
	ConfidenceThreshold float64 `toml:"confidence_threshold"`
	// CacheTTL bounds how long an announced match suppresses repeats.
	CacheTTL duration `toml:"cache_ttl"`
}

// ScoringConfig tunes opportunity scoring.
type ScoringConfig struct {
	// MinSpread is the smallest absolute mid spread (0-1 scale) worth
	// emitting as an opportunity.
	MinSpread           float64 `toml:"min_spread"`
	PrioritizeNewEvents bool    `toml:"prioritize_new_events"`
	// NewEventHours is the age cutoff for treating a market as new.
	NewEventHours int `toml:"new_event_hours"`
}

// AlertsConfig holds the user-defined probability alert rules.
type AlertsConfig struct {
	Rules []AlertRuleConfig `toml:"rules"`
}

// AlertRuleConfig is the TOML shape of one alert rule. Optional thresholds
// stay nil when the key is absent.
type AlertRuleConfig struct {
	Name            string                 `toml:"name"`
	MarketID        string                 `toml:"market_id"`
	MinProbability  *float64               `toml:"min_probability"`
	MaxProbability  *float64               `toml:"max_probability"`
	MinDelta        *float64               `toml:"min_delta"`
	CooldownSeconds int                    `toml:"cooldown_seconds"`
	Once            bool                   `toml:"once"`
	Severity        string                 `toml:"severity"`
	Escalate        []EscalationRuleConfig `toml:"escalate"`
	ReasonTemplate  string                 `toml:"reason_template"`
}

// EscalationRuleConfig raises a fired alert's severity when its condition
// matches.
type EscalationRuleConfig struct {
	MinProbability *float64 `toml:"min_probability"`
	MinDelta       *float64 `toml:"min_delta"`
	Severity       string   `toml:"severity"`
}

// DomainRules converts the configured rules to their domain form. Rules
// without a name get a positional one so engine state and logs can refer to
// them. Severity strings are normalized but not checked here; Config.Validate
// reports unknown severities.
func (a AlertsConfig) DomainRules() []domain.AlertRule {
	rules := make([]domain.AlertRule, 0, len(a.Rules))
	for i, rc := range a.Rules {
		rules = append(rules, rc.domainRule(i))
	}
	return rules
}

func (rc AlertRuleConfig) domainRule(idx int) domain.AlertRule {
	name := strings.TrimSpace(rc.Name)
	if name == "" {
		name = fmt.Sprintf("rule-%d", idx+1)
	}

	var esc []domain.EscalationRule
	for _, ec := range rc.Escalate {
		esc = append(esc, domain.EscalationRule{
			MinProbability: ec.MinProbability,
			MinDelta:       ec.MinDelta,
			Severity:       normalizeSeverity(ec.Severity),
		})
	}

	return domain.AlertRule{
		Name:           name,
		MarketID:       strings.TrimSpace(rc.MarketID),
		MinProbability: rc.MinProbability,
		MaxProbability: rc.MaxProbability,
		MinDelta:       rc.MinDelta,
		Cooldown:       time.Duration(rc.CooldownSeconds) * time.Second,
		Once:           rc.Once,
		Severity:       normalizeSeverity(rc.Severity),
		Escalate:       esc,
		ReasonTemplate: rc.ReasonTemplate,
	}
}

// normalizeSeverity lowercases a severity name and defaults the empty string
// to info.
func normalizeSeverity(s string) domain.Severity {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return domain.SeverityInfo
	}
	return domain.Severity(s)
}

// WebhookConfig controls the outbound alert webhook. Delivery is disabled
// while URL is empty. Both URLs normally arrive via environment variables
// (ARBWATCH_WEBHOOK_URL, ARBWATCH_WEBHOOK_HEALTH_URL) since webhook URLs
// routinely embed access tokens.
type WebhookConfig struct {
	URL string `toml:"url"`
	// HealthURL is a separate channel for source-health notices so they never
	// drown out opportunity alerts.
	HealthURL     string   `toml:"health_url"`
	SchemaVersion int      `toml:"schema_version"`
	Timeout       duration `toml:"timeout"`
	MaxAttempts   int      `toml:"max_attempts"`
	DedupTTL      duration `toml:"dedup_ttl"`
}

// NotifyConfig holds chat notification channels. A channel with empty
// credentials is simply not built.
type NotifyConfig struct {
	Discord  DiscordConfig  `toml:"discord"`
	Telegram TelegramConfig `toml:"telegram"`
	// Events filters which event kinds are delivered: "opportunity", "alert",
	// "status". Empty means all.
	Events []string `toml:"events"`
}

// DiscordConfig holds Discord webhook notification settings.
type DiscordConfig struct {
	WebhookURL string `toml:"webhook_url"`
	Username   string `toml:"username"`
	AvatarURL  string `toml:"avatar_url"`
}

// TelegramConfig holds Telegram bot notification settings.
type TelegramConfig struct {
	Token  string `toml:"token"`
	ChatID string `toml:"chat_id"`
}

// RedisConfig holds Redis connection parameters. Redis backs the quote and
// match caches, webhook dedup, the poller leader lock, and the websocket
// signal bus. With Enabled false the process runs single-instance without
// cross-process caching or dedup.
type RedisConfig struct {
	Enabled     bool     `toml:"enabled"`
	Addr        string   `toml:"addr"`
	Password    string   `toml:"password"`
	DB          int      `toml:"db"`
	PoolSize    int      `toml:"pool_size"`
	MaxRetries  int      `toml:"max_retries"`
	DialTimeout duration `toml:"dial_timeout"`
	TLSEnabled  bool     `toml:"tls_enabled"`
}

// PostgresConfig holds PostgreSQL connection parameters. Postgres persists
// market snapshots, opportunities, alert events, and the audit log.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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

// S3Config holds S3-compatible object storage parameters for the monthly
// history archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	// RetentionDays is how long rows stay in Postgres before the archive job
	// uploads and prunes them. Zero disables pruning.
	RetentionDays int `toml:"retention_days"`
	// ArchiveCron is a five-field cron expression for the archive job.
	ArchiveCron string `toml:"archive_cron"`
}

// ServerConfig holds HTTP API settings. APIKey normally arrives via
// ARBWATCH_SERVER_API_KEY; when empty, request authentication is disabled.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimitPerMinute caps API requests per client IP.
	RateLimitPerMinute int `toml:"rate_limit_per_minute"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		App: AppConfig{
			Mode:             "all",
			PollInterval:     duration{60 * time.Second},
			EvaluateInterval: duration{30 * time.Second},
			LogLevel:         "info",
		},
		Sources: SourcesConfig{
			Polymarket: PolymarketSourceConfig{
				Enabled:           true,
				BaseURL:           "https://gamma-api.polymarket.com",
				ClobURL:           "https://clob.polymarket.com",
				MarketsLimit:      50,
				RequestsPerSecond: 3.0,
				RequestsPerMinute: 180,
				BurstSize:         15,
			},
			Kalshi: KalshiSourceConfig{
				Enabled:           true,
				BaseURL:           "https://api.elections.kalshi.com/trade-api/v2",
				MarketsLimit:      50,
				RequestsPerSecond: 1.0,
				RequestsPerMinute: 60,
				BurstSize:         5,
			},
			Manifold: SourceConfig{
				Enabled:           true,
				BaseURL:           "https://api.manifold.markets",
				MarketsLimit:      50,
				RequestsPerSecond: 2.0,
				RequestsPerMinute: 120,
				BurstSize:         10,
			},
			Limitless: SourceConfig{
				Enabled:           true,
				BaseURL:           "https://api.limitless.exchange",
				MarketsLimit:      50,
				RequestsPerSecond: 2.5,
				RequestsPerMinute: 150,
				BurstSize:         12,
			},
			Metaculus: SourceConfig{
				Enabled:           true,
				BaseURL:           "https://www.metaculus.com/api2",
				MarketsLimit:      50,
				RequestsPerSecond: 1.5,
				RequestsPerMinute: 90,
				BurstSize:         8,
			},
		},
		Match: MatchConfig{
			MinSources:          2,
			ConfidenceThreshold: 0.7,
			CacheTTL:            duration{24 * time.Hour},
		},
		Scoring: ScoringConfig{
			MinSpread:           0.08,
			PrioritizeNewEvents: true,
			NewEventHours:       24,
		},
		Webhook: WebhookConfig{
			SchemaVersion: 1,
			Timeout:       duration{15 * time.Second},
			MaxAttempts:   5,
			DedupTTL:      duration{24 * time.Hour},
		},
		Notify: NotifyConfig{
			Discord: DiscordConfig{Username: "arbwatch"},
			Events:  []string{"opportunity", "alert", "status"},
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			PoolSize:    20,
			MaxRetries:  3,
			DialTimeout: duration{5 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "arbwatch",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "arbwatch-data",
			UseSSL:         false,
			ForcePathStyle: true,
			RetentionDays:  90,
			ArchiveCron:    "0 3 1 * *",
		},
		Server: ServerConfig{
			Port:               8000,
			CORSOrigins:        []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitPerMinute: 120,
		},
	}
}

// validModes enumerates the accepted values for AppConfig.Mode.
var validModes = map[string]bool{
	"monitor": true,
	"server":  true,
	"all":     true,
}

// validLogLevels enumerates the accepted values for AppConfig.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validNotifyEvents enumerates the accepted values for NotifyConfig.Events.
var validNotifyEvents = map[string]bool{
	"opportunity": true,
	"alert":       true,
	"status":      true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.App.Mode)

	// App
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("app: unknown mode %q (valid: monitor, server, all)", c.App.Mode))
	}
	if !validLogLevels[strings.ToLower(c.App.LogLevel)] {
		errs = append(errs, fmt.Sprintf("app: unknown log_level %q (valid: debug, info, warn, error)", c.App.LogLevel))
	}
	if c.App.PollInterval.Duration <= 0 {
		errs = append(errs, "app: poll_interval must be > 0")
	}
	if c.App.EvaluateInterval.Duration <= 0 {
		errs = append(errs, "app: evaluate_interval must be > 0")
	}

	// Sources - polling modes need at least one enabled source.
	polls := mode == "monitor" || mode == "all"
	if polls && len(c.Sources.EnabledSources()) == 0 {
		errs = append(errs, "sources: at least one source must be enabled for mode "+c.App.Mode)
	}
	byName := c.Sources.ByName()
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		sc := byName[name]
		if !sc.Enabled {
			continue
		}
		if sc.BaseURL == "" {
			errs = append(errs, fmt.Sprintf("sources: %s: base_url must not be empty", name))
		}
		if sc.MarketsLimit < 0 {
			errs = append(errs, fmt.Sprintf("sources: %s: markets_limit must be >= 0", name))
		}
	}
	if c.Sources.Polymarket.Enabled && c.Sources.Polymarket.ClobURL == "" {
		errs = append(errs, "sources: polymarket: clob_url must not be empty")
	}

	// Kalshi credentials must be complete when any part is supplied.
	k := c.Sources.Kalshi
	if k.ApiKeyID != "" && k.keySourceCount() == 0 {
		errs = append(errs, "sources: kalshi: a private key source is required when api_key_id is set")
	}
	if k.ApiKeyID == "" && k.keySourceCount() > 0 {
		errs = append(errs, "sources: kalshi: api_key_id is required when a private key is configured")
	}
	if k.EncryptedKeyPath != "" && k.KeyPassword == "" {
		errs = append(errs, "sources: kalshi: key_password is required when encrypted_key_path is set")
	}

	// Match
	if c.Match.MinSources < 2 {
		errs = append(errs, fmt.Sprintf("match: min_sources must be >= 2, got %d", c.Match.MinSources))
	}
	if c.Match.ConfidenceThreshold < 0 || c.Match.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Sprintf("match: confidence_threshold must be in [0,1], got %v", c.Match.ConfidenceThreshold))
	}
	if c.Match.CacheTTL.Duration < 0 {
		errs = append(errs, "match: cache_ttl must be >= 0")
	}

	// Scoring
	if c.Scoring.MinSpread <= 0 || c.Scoring.MinSpread >= 1 {
		errs = append(errs, fmt.Sprintf("scoring: min_spread must be in (0,1), got %v", c.Scoring.MinSpread))
	}
	if c.Scoring.PrioritizeNewEvents && c.Scoring.NewEventHours < 1 {
		errs = append(errs, "scoring: new_event_hours must be >= 1 when prioritize_new_events is set")
	}

	// Alerts - each rule carries the domain invariants.
	for _, rule := range c.Alerts.DomainRules() {
		if err := rule.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("alerts: rule %q: %v", rule.Name, err))
		}
	}

	// Webhook - checked only when delivery is configured.
	if c.Webhook.URL != "" {
		if c.Webhook.SchemaVersion < 1 {
			errs = append(errs, fmt.Sprintf("webhook: schema_version must be >= 1, got %d", c.Webhook.SchemaVersion))
		}
		if c.Webhook.Timeout.Duration <= 0 {
			errs = append(errs, "webhook: timeout must be > 0")
		}
		if c.Webhook.MaxAttempts < 1 {
			errs = append(errs, "webhook: max_attempts must be >= 1")
		}
		if c.Webhook.DedupTTL.Duration < 0 {
			errs = append(errs, "webhook: dedup_ttl must be >= 0")
		}
	}

	// Notify - Telegram needs both halves of the credential.
	if (c.Notify.Telegram.Token != "") != (c.Notify.Telegram.ChatID != "") {
		errs = append(errs, "notify: telegram token and chat_id must be set together")
	}
	for _, ev := range c.Notify.Events {
		if !validNotifyEvents[strings.ToLower(ev)] {
			errs = append(errs, fmt.Sprintf("notify: unknown event %q (valid: opportunity, alert, status)", ev))
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.RetentionDays < 0 {
			errs = append(errs, "s3: retention_days must be >= 0")
		}
		if c.S3.ArchiveCron != "" && len(strings.Fields(c.S3.ArchiveCron)) != 5 {
			errs = append(errs, fmt.Sprintf("s3: archive_cron must have 5 fields, got %q", c.S3.ArchiveCron))
		}
	}

	// Server
	if mode == "server" || mode == "all" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimitPerMinute < 1 {
			errs = append(errs, "server: rate_limit_per_minute must be >= 1")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
