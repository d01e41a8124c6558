package pipeline

import (
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

// unhealthyAfter is the number of consecutive failed poll cycles after which
// a previously healthy source is reported unhealthy.
const unhealthyAfter = 3

// SourceSnapshot is the latest complete poll result for one source. Quotes
// are keyed by market ID. A snapshot is immutable once stored: each cycle
// builds a fresh one and replaces the previous one wholesale.
type SourceSnapshot struct {
	Source    string
	Markets   []domain.Market
	Quotes    map[string][]domain.Quote
	FetchedAt time.Time
}

// SnapshotTable is the shared state between the poll loops and the
// evaluation pass: the newest snapshot per source plus rolling health
// counters. Pollers write, the evaluator and the status API read.
type SnapshotTable struct {
	mu        sync.RWMutex
	snapshots map[string]SourceSnapshot
	statuses  map[string]*domain.SourceStatus
	now       func() time.Time
}

// NewSnapshotTable creates an empty table.
func NewSnapshotTable() *SnapshotTable {
	return &SnapshotTable{
		snapshots: make(map[string]SourceSnapshot),
		statuses:  make(map[string]*domain.SourceStatus),
		now:       time.Now,
	}
}

// Update replaces the stored snapshot for the snapshot's source.
func (t *SnapshotTable) Update(snap SourceSnapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snapshots[snap.Source] = snap
}

// statusLocked returns the status record for source, creating it on first
// use. Callers must hold t.mu.
func (t *SnapshotTable) statusLocked(source string) *domain.SourceStatus {
	st, ok := t.statuses[source]
	if !ok {
		st = &domain.SourceStatus{Source: source}
		t.statuses[source] = st
	}
	return st
}

// RecordSuccess marks a completed poll cycle for the source.
func (t *SnapshotTable) RecordSuccess(source string, markets int, latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.statusLocked(source)
	now := t.now()
	st.Healthy = true
	st.LastSuccess = &now
	st.ConsecutiveErrors = 0
	st.Markets = markets
	st.LatencyMS = latency.Milliseconds()
}

// RecordError marks a failed poll cycle. A source with no success yet is
// unhealthy from its first failure; an established source keeps its healthy
// flag until unhealthyAfter consecutive failures.
func (t *SnapshotTable) RecordError(source string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.statusLocked(source)
	now := t.now()
	st.LastError = err.Error()
	st.LastErrorAt = &now
	st.ErrorCount++
	st.ConsecutiveErrors++
	if st.LastSuccess == nil || st.ConsecutiveErrors >= unhealthyAfter {
		st.Healthy = false
	}
}

// MarketsBySource returns the market list of every stored snapshot, keyed by
// source. The slices share backing arrays with the stored snapshots, which
// are never mutated in place.
func (t *SnapshotTable) MarketsBySource() map[string][]domain.Market {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string][]domain.Market, len(t.snapshots))
	for source, snap := range t.snapshots {
		out[source] = snap.Markets
	}
	return out
}

// Quotes returns the stored quotes for one market of one source, or nil
// when the source or market is unknown.
func (t *SnapshotTable) Quotes(source, marketID string) []domain.Quote {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snap, ok := t.snapshots[source]
	if !ok {
		return nil
	}
	return snap.Quotes[marketID]
}

// Snapshot returns the stored snapshot for one source.
func (t *SnapshotTable) Snapshot(source string) (SourceSnapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snap, ok := t.snapshots[source]
	return snap, ok
}

// Statuses returns a copy of every source status, sorted by source name.
func (t *SnapshotTable) Statuses() []domain.SourceStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.SourceStatus, 0, len(t.statuses))
	for _, st := range t.statuses {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

// Healthy reports whether at least one source has been polled and every
// source seen so far is healthy.
func (t *SnapshotTable) Healthy() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.statuses) == 0 {
		return false
	}
	for _, st := range t.statuses {
		if !st.Healthy {
			return false
		}
	}
	return true
}
