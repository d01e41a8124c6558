package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

type fakeWriter struct {
	paths        []string
	bodies       [][]byte
	contentTypes []string
	err          error
}

func (f *fakeWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	if f.err != nil {
		return f.err
	}
	body, _ := io.ReadAll(data)
	f.paths = append(f.paths, path)
	f.bodies = append(f.bodies, body)
	f.contentTypes = append(f.contentTypes, contentType)
	return nil
}

func (f *fakeWriter) PutMultipart(_ context.Context, path string, data io.Reader, _ int64) error {
	return f.Put(context.Background(), path, data, "")
}

type fakeOppStore struct {
	opps []domain.Opportunity
	err  error
}

func (f *fakeOppStore) ListBefore(_ context.Context, _ time.Time) ([]domain.Opportunity, error) {
	return f.opps, f.err
}

type fakeAlertStore struct {
	events []domain.AlertEvent
}

func (f *fakeAlertStore) ListBefore(_ context.Context, _ time.Time) ([]domain.AlertEvent, error) {
	return f.events, nil
}

type fakeAudit struct {
	events  []string
	details []map[string]any
}

func (f *fakeAudit) Log(_ context.Context, event string, detail map[string]any) error {
	f.events = append(f.events, event)
	f.details = append(f.details, detail)
	return nil
}

func (f *fakeAudit) List(_ context.Context, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func TestArchiveOpportunitiesWritesMonthPartitionedJSONL(t *testing.T) {
	opps := []domain.Opportunity{
		{ID: "a", Title: "one", SpreadPct: 2.0, DetectedAt: time.Date(2025, 12, 30, 0, 0, 0, 0, time.UTC)},
		{ID: "b", Title: "two", SpreadPct: 3.5, DetectedAt: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)},
	}
	w := &fakeWriter{}
	audit := &fakeAudit{}
	arch := NewArchiver(w, &fakeOppStore{opps: opps}, &fakeAlertStore{}, audit)

	cutoff := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	count, err := arch.ArchiveOpportunities(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("ArchiveOpportunities: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}

	if len(w.paths) != 1 || w.paths[0] != "archive/opportunities/2026-01.jsonl" {
		t.Fatalf("paths = %v", w.paths)
	}
	if w.contentTypes[0] != "application/x-ndjson" {
		t.Fatalf("content type = %q", w.contentTypes[0])
	}

	lines := bytes.Split(bytes.TrimRight(w.bodies[0], "\n"), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("expected 2 JSONL lines, got %d", len(lines))
	}
	var first domain.Opportunity
	if err := json.Unmarshal(lines[0], &first); err != nil {
		t.Fatalf("line 0 is not valid JSON: %v", err)
	}
	if first.ID != "a" || first.SpreadPct != 2.0 {
		t.Fatalf("line 0 = %+v", first)
	}

	if len(audit.events) != 1 || audit.events[0] != "archive.opportunities" {
		t.Fatalf("audit events = %v", audit.events)
	}
	if audit.details[0]["count"] != int64(2) {
		t.Fatalf("audit count = %v", audit.details[0]["count"])
	}
}

func TestArchiveAlertEventsPath(t *testing.T) {
	events := []domain.AlertEvent{
		{ID: "e1", Rule: "btc-high", Probability: 0.91, FiredAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)},
	}
	w := &fakeWriter{}
	arch := NewArchiver(w, &fakeOppStore{}, &fakeAlertStore{events: events}, nil)

	count, err := arch.ArchiveAlertEvents(context.Background(), time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ArchiveAlertEvents: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
	if w.paths[0] != "archive/alert_events/2026-02.jsonl" {
		t.Fatalf("path = %q", w.paths[0])
	}
}

func TestArchiveSkipsUploadWhenEmpty(t *testing.T) {
	w := &fakeWriter{}
	audit := &fakeAudit{}
	arch := NewArchiver(w, &fakeOppStore{}, &fakeAlertStore{}, audit)

	count, err := arch.ArchiveOpportunities(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("ArchiveOpportunities: %v", err)
	}
	if count != 0 {
		t.Fatalf("count = %d, want 0", count)
	}
	if len(w.paths) != 0 {
		t.Fatal("no upload expected for an empty window")
	}
	if len(audit.events) != 0 {
		t.Fatal("no audit entry expected for an empty window")
	}
}

func TestArchivePropagatesQueryAndUploadErrors(t *testing.T) {
	arch := NewArchiver(&fakeWriter{}, &fakeOppStore{err: errors.New("db down")}, &fakeAlertStore{}, nil)
	if _, err := arch.ArchiveOpportunities(context.Background(), time.Now()); err == nil ||
		!strings.Contains(err.Error(), "query") {
		t.Fatalf("expected query error, got %v", err)
	}

	arch = NewArchiver(
		&fakeWriter{err: errors.New("bucket gone")},
		&fakeOppStore{opps: []domain.Opportunity{{ID: "a"}}},
		&fakeAlertStore{},
		nil,
	)
	if _, err := arch.ArchiveOpportunities(context.Background(), time.Now()); err == nil ||
		!strings.Contains(err.Error(), "upload") {
		t.Fatalf("expected upload error, got %v", err)
	}
}
