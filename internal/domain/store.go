package domain

import (
	"context"
	"time"
)

// ListOpts narrows and pages the history queries: a time window plus
// limit/offset. Nil time bounds leave that side open.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore persists per-cycle market snapshots.
type MarketStore interface {
	Upsert(ctx context.Context, market Market) error
	UpsertBatch(ctx context.Context, markets []Market) error
	Get(ctx context.Context, source, marketID string) (Market, error)
	ListBySource(ctx context.Context, source string, opts ListOpts) ([]Market, error)
	Count(ctx context.Context) (int64, error)
}

// OpportunityStore persists detected opportunity history.
type OpportunityStore interface {
	Insert(ctx context.Context, opp Opportunity) error
	ListRecent(ctx context.Context, limit int) ([]Opportunity, error)
	ListBefore(ctx context.Context, before time.Time) ([]Opportunity, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AlertStore persists fired alert events.
type AlertStore interface {
	Insert(ctx context.Context, event AlertEvent) error
	ListRecent(ctx context.Context, opts ListOpts) ([]AlertEvent, error)
	ListBefore(ctx context.Context, before time.Time) ([]AlertEvent, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditEntry is one recorded operational event.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore keeps the append-only record of operational events such as
// archive runs and credential failures.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
