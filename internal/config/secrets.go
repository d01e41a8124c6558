package config

const redacted = "***"

// RedactedConfig copies cfg and blanks every credential-bearing field with
// "***". The startup log prints the result, so anything that could leak a
// token belongs on this list.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	// Kalshi credentials
	redact(&out.Sources.Kalshi.ApiKeyID)
	redact(&out.Sources.Kalshi.PrivateKeyPEM)
	redact(&out.Sources.Kalshi.KeyPassword)

	// Webhook URLs routinely embed access tokens.
	redact(&out.Webhook.URL)
	redact(&out.Webhook.HealthURL)

	// Notify
	redact(&out.Notify.Discord.WebhookURL)
	redact(&out.Notify.Telegram.Token)

	// Redis
	redact(&out.Redis.Password)

	// Postgres
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	// S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Server
	redact(&out.Server.APIKey)

	// Detach the slice fields; the shallow copy above still shares their
	// backing arrays with the live config.
	out.Notify.Events = cloneSlice(cfg.Notify.Events)
	out.Server.CORSOrigins = cloneSlice(cfg.Server.CORSOrigins)
	out.Alerts.Rules = cloneSlice(cfg.Alerts.Rules)

	return out
}

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}
