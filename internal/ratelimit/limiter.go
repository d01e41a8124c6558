// Package ratelimit provides the per-source limiter that paces outbound API
// calls. Each source gets a token bucket for short-term pacing and a sliding
// sixty-second window for per-minute caps; Acquire blocks until both allow
// another call.
package ratelimit

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Limit is the outbound call budget for one source.
type Limit struct {
	// Rate is the sustained token refill rate in calls per second.
	Rate float64
	// PerMinute caps calls inside any sliding sixty-second window.
	PerMinute int
	// Burst is the token bucket capacity.
	Burst int
}

func (l Limit) normalized() Limit {
	d := defaultLimit
	if l.Rate <= 0 {
		l.Rate = d.Rate
	}
	if l.PerMinute <= 0 {
		l.PerMinute = d.PerMinute
	}
	if l.Burst <= 0 {
		l.Burst = d.Burst
	}
	return l
}

var defaultLimit = Limit{Rate: 1.0, PerMinute: 60, Burst: 5}

// DefaultLimits returns the built-in budgets for the known sources. Unknown
// sources fall back to the conservative default.
func DefaultLimits() map[string]Limit {
	return map[string]Limit{
		"polymarket": {Rate: 3.0, PerMinute: 180, Burst: 15},
		"kalshi":     {Rate: 1.0, PerMinute: 60, Burst: 5},
		"manifold":   {Rate: 2.0, PerMinute: 120, Burst: 10},
		"limitless":  {Rate: 2.5, PerMinute: 150, Burst: 12},
		"metaculus":  {Rate: 1.5, PerMinute: 90, Burst: 8},
	}
}

// Status is a point-in-time snapshot of one source's limiter state.
type Status struct {
	Source     string
	Rate       float64
	Burst      int
	PerMinute  int
	Tokens     float64
	WindowUsed int
}

type sourceState struct {
	mu     sync.Mutex
	tokens float64
	last   time.Time
	window []time.Time
}

// Limiter paces calls per source. The zero value is not usable; construct
// with NewLimiter.
type Limiter struct {
	mu     sync.Mutex
	limits map[string]Limit
	states map[string]*sourceState
	logger *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewLimiter builds a limiter from per-source limits. Sources absent from the
// map get the conservative default budget on first use.
func NewLimiter(limits map[string]Limit, logger *slog.Logger) *Limiter {
	normalized := make(map[string]Limit, len(limits))
	for source, lim := range limits {
		normalized[source] = lim.normalized()
	}
	return &Limiter{
		limits: normalized,
		states: make(map[string]*sourceState),
		logger: logger.With(slog.String("component", "ratelimit")),
		now:    time.Now,
		sleep:  sleepContext,
	}
}

// Limits returns the budget used for the given source.
func (l *Limiter) Limits(source string) Limit {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limits[source]; ok {
		return lim
	}
	return defaultLimit
}

func (l *Limiter) state(source string) (*sourceState, Limit) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limits[source]
	if !ok {
		lim = defaultLimit
		l.limits[source] = lim
	}
	st, ok := l.states[source]
	if !ok {
		st = &sourceState{tokens: float64(lim.Burst), last: l.now()}
		l.states[source] = st
	}
	return st, lim
}

// Acquire blocks until the source may make one more call, then consumes a
// token and records the call in the minute window. Token consumption and the
// window append happen under one critical section; waiting happens outside
// it so concurrent sources never stall each other.
func (l *Limiter) Acquire(ctx context.Context, source string) error {
	st, lim := l.state(source)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		st.mu.Lock()
		now := l.now()
		st.refill(now, lim)
		st.prune(now)

		if len(st.window) >= lim.PerMinute {
			wait := time.Minute - now.Sub(st.window[0])
			st.mu.Unlock()
			if wait > 0 {
				l.logger.Debug("minute window full, waiting",
					slog.String("source", source),
					slog.Duration("wait", wait))
				if err := l.sleep(ctx, wait); err != nil {
					return err
				}
			}
			continue
		}

		if st.tokens < 1 {
			wait := time.Duration((1 - st.tokens) / lim.Rate * float64(time.Second))
			st.mu.Unlock()
			if wait > 0 {
				if err := l.sleep(ctx, wait); err != nil {
					return err
				}
			}
			continue
		}

		st.tokens--
		st.window = append(st.window, now)
		st.mu.Unlock()
		return nil
	}
}

// Status reports the current limiter state for one source.
func (l *Limiter) Status(source string) Status {
	st, lim := l.state(source)

	st.mu.Lock()
	defer st.mu.Unlock()
	now := l.now()
	st.refill(now, lim)
	st.prune(now)

	return Status{
		Source:     source,
		Rate:       lim.Rate,
		Burst:      lim.Burst,
		PerMinute:  lim.PerMinute,
		Tokens:     st.tokens,
		WindowUsed: len(st.window),
	}
}

// Snapshot reports the limiter state for every source seen so far, sorted by
// source name.
func (l *Limiter) Snapshot() []Status {
	l.mu.Lock()
	sources := make([]string, 0, len(l.states))
	for source := range l.states {
		sources = append(sources, source)
	}
	l.mu.Unlock()

	sort.Strings(sources)
	out := make([]Status, 0, len(sources))
	for _, source := range sources {
		out = append(out, l.Status(source))
	}
	return out
}

func (s *sourceState) refill(now time.Time, lim Limit) {
	elapsed := now.Sub(s.last).Seconds()
	if elapsed > 0 {
		s.tokens = min(float64(lim.Burst), s.tokens+elapsed*lim.Rate)
	}
	s.last = now
}

func (s *sourceState) prune(now time.Time) {
	cut := 0
	for cut < len(s.window) && now.Sub(s.window[cut]) >= time.Minute {
		cut++
	}
	if cut > 0 {
		s.window = append(s.window[:0], s.window[cut:]...)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
