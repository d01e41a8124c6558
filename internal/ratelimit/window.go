package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

// sweepThreshold bounds how many keys accumulate before a full sweep of
// expired windows runs inside Allow.
const sweepThreshold = 4096

// KeyedWindow is an in-process sliding-window limiter over arbitrary string
// keys, for single-instance deployments where the Redis limiter is not
// configured. Unlike Limiter it never blocks: Allow answers immediately.
type KeyedWindow struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	now     func() time.Time
}

// NewKeyedWindow creates an empty KeyedWindow.
func NewKeyedWindow() *KeyedWindow {
	return &KeyedWindow{
		windows: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Allow reports whether one more request for the key fits under limit
// requests per window, counting it when it does.
func (k *KeyedWindow) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return true, nil
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	cutoff := now.Add(-window)

	if len(k.windows) > sweepThreshold {
		k.sweepLocked(cutoff)
	}

	kept := pruneWindow(k.windows[key], cutoff)
	if len(kept) >= limit {
		k.windows[key] = kept
		return false, nil
	}

	k.windows[key] = append(kept, now)
	return true, nil
}

// sweepLocked drops keys whose newest entry has aged out. Entries are
// appended in time order, so the last one is the newest.
func (k *KeyedWindow) sweepLocked(cutoff time.Time) {
	for key, entries := range k.windows {
		if len(entries) == 0 || !entries[len(entries)-1].After(cutoff) {
			delete(k.windows, key)
		}
	}
}

func pruneWindow(entries []time.Time, cutoff time.Time) []time.Time {
	kept := entries[:0]
	for _, t := range entries {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

// Compile-time interface check.
var _ domain.RateLimiter = (*KeyedWindow)(nil)
