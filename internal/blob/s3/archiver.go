package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

// ---------------------------------------------------------------------------
// Narrow store interfaces required by the archiver.
//
// The archiver only requires the query methods it actually calls, not the
// full domain store interfaces. The Postgres stores satisfy these implicitly
// through their ListBefore methods.
// ---------------------------------------------------------------------------

// OpportunityArchiveStore provides read access to opportunity history for
// archival purposes.
type OpportunityArchiveStore interface {
	// ListBefore returns all opportunities detected strictly before the given
	// cutoff time.
	ListBefore(ctx context.Context, before time.Time) ([]domain.Opportunity, error)
}

// AlertArchiveStore provides read access to fired alerts for archival
// purposes.
type AlertArchiveStore interface {
	// ListBefore returns all alert events fired strictly before the given
	// cutoff time.
	ListBefore(ctx context.Context, before time.Time) ([]domain.AlertEvent, error)
}

// ---------------------------------------------------------------------------
// ArchiveImpl
// ---------------------------------------------------------------------------

// ArchiveImpl implements domain.Archiver by querying the domain stores for
// old records, serializing them to JSONL, and uploading the result to S3.
//
// Deletion of the archived records from the primary store is intentionally
// NOT performed here -- that is a separate, explicit step to be executed
// after the archive has been verified.
type ArchiveImpl struct {
	writer domain.BlobWriter
	opps   OpportunityArchiveStore
	alerts AlertArchiveStore
	audit  domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl. The audit store may be nil, in which
// case archival events are not recorded.
func NewArchiver(
	writer domain.BlobWriter,
	opps OpportunityArchiveStore,
	alerts AlertArchiveStore,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer: writer,
		opps:   opps,
		alerts: alerts,
		audit:  audit,
	}
}

// ArchiveOpportunities queries all opportunities before the cutoff,
// serializes them to JSONL, and uploads the file to S3 at
// archive/opportunities/YYYY-MM.jsonl. The archival event is recorded in the
// audit log and the count of archived records is returned.
func (a *ArchiveImpl) ArchiveOpportunities(ctx context.Context, before time.Time) (int64, error) {
	opps, err := a.opps.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive opportunities query: %w", err)
	}
	if len(opps) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(opps)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive opportunities marshal: %w", err)
	}

	path := archivePath("opportunities", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive opportunities upload: %w", err)
	}

	count := int64(len(opps))

	if err := a.logArchive(ctx, "archive.opportunities", path, count, before); err != nil {
		return count, fmt.Errorf("s3blob: archive opportunities audit log: %w", err)
	}

	return count, nil
}

// ArchiveAlertEvents queries all fired alerts before the cutoff, serializes
// them to JSONL, and uploads the file to S3 at
// archive/alert_events/YYYY-MM.jsonl. The archival event is recorded in the
// audit log and the count of archived records is returned.
func (a *ArchiveImpl) ArchiveAlertEvents(ctx context.Context, before time.Time) (int64, error) {
	events, err := a.alerts.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive alert events query: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(events)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive alert events marshal: %w", err)
	}

	path := archivePath("alert_events", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive alert events upload: %w", err)
	}

	count := int64(len(events))

	if err := a.logArchive(ctx, "archive.alert_events", path, count, before); err != nil {
		return count, fmt.Errorf("s3blob: archive alert events audit log: %w", err)
	}

	return count, nil
}

func (a *ArchiveImpl) logArchive(ctx context.Context, event, path string, count int64, before time.Time) error {
	if a.audit == nil {
		return nil
	}
	return a.audit.Log(ctx, event, map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	})
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/opportunities/2026-01.jsonl
//	archive/alert_events/2026-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
