package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

// Callers may ask for any page size up to this cap.
const maxListLimit = 500

// writeJSON sends v as the response body with the given status. A value that
// cannot be marshaled turns into a plain 500 instead of a half-written body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends the standard {"error": msg} body.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseListOpts reads the shared history-query parameters: limit (default 50,
// capped), offset, and an optional since/until window. Time bounds accept
// RFC 3339 or a bare date (2006-01-02, taken as UTC midnight). Bad values
// fall back to the defaults rather than erroring.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	opts := domain.ListOpts{
		Limit:  intParam(q, "limit", 50, 1),
		Offset: intParam(q, "offset", 0, 0),
	}
	if opts.Limit > maxListLimit {
		opts.Limit = maxListLimit
	}
	if t, ok := parseTimeParam(q.Get("since")); ok {
		opts.Since = &t
	}
	if t, ok := parseTimeParam(q.Get("until")); ok {
		opts.Until = &t
	}
	return opts
}

// intParam returns the named query parameter as an int, or def when it is
// absent, malformed, or below floor.
func intParam(q url.Values, name string, def, floor int) int {
	v := q.Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < floor {
		return def
	}
	return n
}

func parseTimeParam(v string) (time.Time, bool) {
	if v == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, true
	}
	if t, err := time.ParseInLocation("2006-01-02", v, time.UTC); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// logHandler tags log lines with the handler name.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
