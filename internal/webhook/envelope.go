// Package webhook delivers alert payloads over HTTP with a stable
// idempotency key and classified retries. Receivers deduplicate on the key,
// so a retried delivery of the same logical alert is always safe.
package webhook

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

// SchemaVersion is the current wire schema. It increments only on breaking
// changes: field removal, renames, or incompatible type changes. New optional
// fields never bump it, and receivers must ignore unknown fields.
const SchemaVersion = 1

// Envelope is the webhook wire payload.
type Envelope struct {
	SchemaVersion int              `json:"schema_version"`
	Content       string           `json:"content"`
	Embeds        []map[string]any `json:"embeds,omitempty"`
	RunID         string           `json:"run_id,omitempty"`
	SentAt        string           `json:"sent_at,omitempty"`
}

// NewEnvelope builds a current-version envelope.
func NewEnvelope(content string, embeds []map[string]any) Envelope {
	return Envelope{
		SchemaVersion: SchemaVersion,
		Content:       content,
		Embeds:        embeds,
	}
}

// Stamp records the send time. The timestamp is excluded from the
// idempotency key, so stamping never changes the key.
func (e Envelope) Stamp(t time.Time) Envelope {
	e.SentAt = t.UTC().Format(time.RFC3339)
	return e
}

// canonicalBody renders the envelope as sorted-key compact JSON with the
// send timestamp stripped.
func canonicalBody(e Envelope) ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("webhook: marshal envelope: %w", err)
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("webhook: canonicalize envelope: %w", err)
	}
	delete(m, "sent_at")

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("webhook: canonicalize envelope: %w", err)
	}
	return out, nil
}

// IdempotencyKey derives the stable delivery key for an envelope: the run id
// (or "no_run_id") joined with the first 32 hex chars of the SHA-256 of the
// canonical body. Retries of the same logical alert always produce the same
// key regardless of when they are sent.
func IdempotencyKey(e Envelope) (string, error) {
	body, err := canonicalBody(e)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(body)
	digest := hex.EncodeToString(sum[:])[:32]

	runID := e.RunID
	if runID == "" {
		runID = "no_run_id"
	}
	return runID + ":" + digest, nil
}

// RedactURL strips credentials and query strings so webhook URLs are safe to
// log: scheme, host, port, and path only.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "[REDACTED]"
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s%s", scheme, u.Host, u.Path)
}
