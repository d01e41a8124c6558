// Package source defines the contract every market data source implements
// and the registry the poller iterates. Each concrete client lives in its
// own subpackage (polymarket, kalshi, manifold, limitless, metaculus); the
// rest of the system depends only on the Adapter interface.
package source

import (
	"context"
	"fmt"
	"sort"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

// Adapter is the narrow per-source contract. A failure from any method is
// isolated to that source by the poll loop; it must never take down the
// cycle for other sources.
type Adapter interface {
	// Name returns the stable lowercase source identifier ("polymarket",
	// "kalshi", ...) used for rate-limit buckets, market keys, and logs.
	Name() string

	// ListActiveMarkets returns the current open binary markets. The result
	// replaces the previous cycle's snapshot wholesale.
	ListActiveMarkets(ctx context.Context) ([]domain.Market, error)

	// ListOutcomes returns the outcomes of one market, typically YES/NO.
	ListOutcomes(ctx context.Context, market domain.Market) ([]domain.Outcome, error)

	// GetQuotes returns one quote per outcome. Prices the source does not
	// expose stay nil; an outcome with no price at all still yields a Quote
	// so the caller sees the full outcome set.
	GetQuotes(ctx context.Context, market domain.Market, outcomes []domain.Outcome) ([]domain.Quote, error)
}

// Registry holds the enabled adapters for one process, keyed by name.
type Registry struct {
	byName map[string]Adapter
	names  []string
}

// NewRegistry builds a registry from the given adapters. Duplicate names are
// a wiring error.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{byName: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		name := a.Name()
		if name == "" {
			return nil, fmt.Errorf("source: adapter with empty name")
		}
		if _, ok := r.byName[name]; ok {
			return nil, fmt.Errorf("source: duplicate adapter %q", name)
		}
		r.byName[name] = a
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)
	return r, nil
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (Adapter, bool) {
	a, ok := r.byName[name]
	return a, ok
}

// Names returns the registered source names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// All returns the registered adapters ordered by name.
func (r *Registry) All() []Adapter {
	out := make([]Adapter, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.byName[name])
	}
	return out
}
