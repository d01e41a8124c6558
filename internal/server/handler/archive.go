package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

// archiveKinds maps the public path segment to the blob key segment.
var archiveKinds = map[string]string{
	"opportunities": "opportunities",
	"alerts":        "alert_events",
	"alert_events":  "alert_events",
}

// ArchiveHandler streams archived history out of blob storage.
type ArchiveHandler struct {
	reader domain.BlobReader // optional; when nil, endpoints return 501
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler. reader may be nil when blob
// storage is not configured.
func NewArchiveHandler(reader domain.BlobReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{
		reader: reader,
		logger: logHandler(logger, "archive"),
	}
}

type archiveMonth struct {
	Month      string    `json:"month"`
	SizeBytes  int64     `json:"size_bytes"`
	ModifiedAt time.Time `json:"modified_at"`
}

// ListMonths reports which monthly archive files exist for a kind, with
// sizes, so clients can discover what GetMonth can serve.
// GET /api/archive/{kind}
func (h *ArchiveHandler) ListMonths(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		writeError(w, http.StatusNotImplemented, "archive storage not configured")
		return
	}
	kind, ok := archiveKinds[r.PathValue("kind")]
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown archive kind")
		return
	}

	prefix := "archive/" + kind + "/"
	infos, err := h.reader.List(r.Context(), prefix)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: archive list failed",
			slog.String("prefix", prefix),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list archives")
		return
	}

	months := make([]archiveMonth, 0, len(infos))
	for _, info := range infos {
		name := strings.TrimSuffix(strings.TrimPrefix(info.Path, prefix), ".jsonl")
		if _, err := time.Parse("2006-01", name); err != nil {
			continue
		}
		months = append(months, archiveMonth{
			Month:      name,
			SizeBytes:  info.Size,
			ModifiedAt: info.LastModified,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"kind":   kind,
		"months": months,
	})
}

// GetMonth streams one month's archived records as JSON Lines, exactly as
// the archiver wrote them.
// GET /api/archive/{kind}/{month}   kind: opportunities|alerts, month: YYYY-MM
func (h *ArchiveHandler) GetMonth(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		writeError(w, http.StatusNotImplemented, "archive storage not configured")
		return
	}

	kind, ok := archiveKinds[r.PathValue("kind")]
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown archive kind")
		return
	}
	month := r.PathValue("month")
	if _, err := time.Parse("2006-01", month); err != nil {
		writeError(w, http.StatusBadRequest, "month must be formatted YYYY-MM")
		return
	}

	path := fmt.Sprintf("archive/%s/%s.jsonl", kind, month)
	body, err := h.reader.Get(r.Context(), path)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no archive for that month")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: archive fetch failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to fetch archive")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	if _, err := io.Copy(w, body); err != nil {
		// Headers are already out; all that is left is to log.
		h.logger.WarnContext(r.Context(), "handler: archive stream interrupted",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}
