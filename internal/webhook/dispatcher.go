package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/arbwatch/internal/domain"
	"github.com/alanyoungcy/arbwatch/internal/retry"
)

const (
	userAgent      = "arbwatch/1"
	maxBodySnippet = 1024

	// defaultDedupTTL bounds how long a delivered key suppresses repeats.
	defaultDedupTTL = 24 * time.Hour
)

// Dispatcher posts envelopes to webhook URLs. Delivery is best-effort:
// retryable failures go through the executor's backoff policy, non-retryable
// 4xx responses are logged and swallowed, and an optional dedup store
// suppresses re-sending a key that was already delivered.
type Dispatcher struct {
	client   *http.Client
	exec     *retry.Executor
	dedup    domain.DedupStore
	dedupTTL time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewDispatcher builds a dispatcher. dedup may be nil to disable local
// duplicate suppression.
func NewDispatcher(client *http.Client, exec *retry.Executor, dedup domain.DedupStore, logger *slog.Logger) *Dispatcher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Dispatcher{
		client:   client,
		exec:     exec,
		dedup:    dedup,
		dedupTTL: defaultDedupTTL,
		logger:   logger.With(slog.String("component", "webhook")),
		now:      time.Now,
	}
}

// SetDedupTTL overrides how long a delivered idempotency key suppresses
// repeats. Non-positive values keep the current TTL.
func (d *Dispatcher) SetDedupTTL(ttl time.Duration) {
	if ttl > 0 {
		d.dedupTTL = ttl
	}
}

// Send delivers one envelope. The body is fully constructed before the first
// network attempt and reused verbatim across retries, all of which carry the
// same Idempotency-Key header.
func (d *Dispatcher) Send(ctx context.Context, url string, env Envelope) error {
	if url == "" {
		return errors.New("webhook: url must be non-empty")
	}
	if env.SchemaVersion < 1 {
		return fmt.Errorf("webhook: schema_version %d must be >= 1", env.SchemaVersion)
	}

	key, err := IdempotencyKey(env)
	if err != nil {
		return err
	}
	if env.SentAt == "" {
		env = env.Stamp(d.now())
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("webhook: marshal envelope: %w", err)
	}

	safeURL := RedactURL(url)

	if d.dedup != nil {
		first, err := d.dedup.MarkDelivered(ctx, key, d.dedupTTL)
		if err != nil {
			d.logger.Warn("dedup store unavailable, sending anyway",
				slog.String("url", safeURL),
				slog.String("error", err.Error()))
		} else if !first {
			d.logger.Info("duplicate delivery suppressed",
				slog.String("url", safeURL),
				slog.String("idempotency_key", key))
			return nil
		}
	}

	d.logger.Info("webhook send start",
		slog.String("url", safeURL),
		slog.String("idempotency_key", key))

	op := func(ctx context.Context) error {
		return d.post(ctx, url, key, body)
	}

	err = d.exec.Do(ctx, "webhook.send", op)
	if err == nil {
		d.logger.Info("webhook send ok", slog.String("url", safeURL))
		return nil
	}

	// Non-retryable 4xx is terminal but not an error to the caller:
	// delivery is best-effort and the failure is already logged.
	var fatal *retry.FatalError
	if errors.As(err, &fatal) && fatal.Kind == retry.KindClientError {
		d.logger.Warn("webhook send rejected",
			slog.String("url", safeURL),
			slog.String("error", fatal.Err.Error()))
		return nil
	}

	return fmt.Errorf("webhook: send to %s: %w", safeURL, err)
}

func (d *Dispatcher) post(ctx context.Context, url, key string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Idempotency-Key", key)

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodySnippet))
	return &retry.HTTPError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       string(bytes.TrimSpace(snippet)),
	}
}
