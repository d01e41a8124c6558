package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

const (
	// archiveLockKey serializes archive runs across replicas.
	archiveLockKey = "archive:run"
	archiveLockTTL = 10 * time.Minute
)

// Pruner deletes rows older than a cutoff and reports how many went.
type Pruner interface {
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// Archiver moves aged opportunity and alert history from the database to
// cold storage, then prunes the archived rows.
type Archiver struct {
	blobArchiver  domain.Archiver
	opportunities Pruner // optional, nil keeps archived rows in place
	alerts        Pruner // optional
	// lock, when set, makes runs mutually exclusive across replicas.
	lock          domain.LockManager
	retentionDays int
	logger        *slog.Logger
	now           func() time.Time
}

// NewArchiver creates an Archiver. Either pruner may be nil, in which case
// the corresponding rows stay in the database after archiving.
func NewArchiver(blobArchiver domain.Archiver, opportunities, alerts Pruner, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver:  blobArchiver,
		opportunities: opportunities,
		alerts:        alerts,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "archiver")),
		now:           time.Now,
	}
}

// WithLock makes archive runs mutually exclusive across replicas. A run
// that finds the lock held is skipped; the holder archives for everyone.
func (a *Archiver) WithLock(lm domain.LockManager) *Archiver {
	a.lock = lm
	return a
}

// Run executes a single archive run. It calculates the cutoff time from
// retentionDays, uploads everything older than the cutoff, and prunes rows
// only after their archive upload succeeded.
func (a *Archiver) Run(ctx context.Context) error {
	if a.lock != nil {
		unlock, err := a.lock.Acquire(ctx, archiveLockKey, archiveLockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				a.logger.Info("archive run skipped, another replica holds the lock")
				return nil
			}
			return fmt.Errorf("acquiring archive lock: %w", err)
		}
		defer unlock()
	}

	cutoff := a.now().UTC().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
	a.logger.Info("starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays))

	oppsArchived, err := a.blobArchiver.ArchiveOpportunities(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving opportunities before %v: %w", cutoff, err)
	}
	oppsPruned, err := a.prune(ctx, a.opportunities, cutoff)
	if err != nil {
		return fmt.Errorf("pruning opportunities before %v: %w", cutoff, err)
	}

	alertsArchived, err := a.blobArchiver.ArchiveAlertEvents(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving alert events before %v: %w", cutoff, err)
	}
	alertsPruned, err := a.prune(ctx, a.alerts, cutoff)
	if err != nil {
		return fmt.Errorf("pruning alert events before %v: %w", cutoff, err)
	}

	a.logger.Info("archive run complete",
		slog.Int64("opportunities_archived", oppsArchived),
		slog.Int64("opportunities_pruned", oppsPruned),
		slog.Int64("alerts_archived", alertsArchived),
		slog.Int64("alerts_pruned", alertsPruned))
	return nil
}

func (a *Archiver) prune(ctx context.Context, p Pruner, cutoff time.Time) (int64, error) {
	if p == nil {
		return 0, nil
	}
	return p.DeleteBefore(ctx, cutoff)
}

// RunCron runs the archiver on a cron schedule until the context is
// cancelled. It supports cron expressions in the standard 5-field format:
// "minute hour day-of-month month day-of-week"
//
// Example: "0 3 1 * *" runs at 3:00 AM on the 1st of every month.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	a.logger.Info("archiver cron started", slog.String("cron", cronExpr))

	for {
		next, err := nextCronTime(cronExpr, a.now().UTC())
		if err != nil {
			return fmt.Errorf("parsing cron expression %q: %w", cronExpr, err)
		}

		waitDuration := time.Until(next)
		a.logger.Info("archiver waiting for next cron trigger",
			slog.Time("next_run", next),
			slog.Duration("wait", waitDuration))

		timer := time.NewTimer(waitDuration)
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.Info("archiver cron stopped")
			return ctx.Err()
		case <-timer.C:
			if err := a.Run(ctx); err != nil {
				a.logger.Error("archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// schedule is a parsed 5-field cron expression. A nil set means the field
// was a bare wildcard and matches every value.
type schedule struct {
	minutes  map[int]bool
	hours    map[int]bool
	days     map[int]bool
	months   map[int]bool
	weekdays map[int]bool
}

func (s schedule) matches(t time.Time) bool {
	return inSet(s.minutes, t.Minute()) &&
		inSet(s.hours, t.Hour()) &&
		inSet(s.days, t.Day()) &&
		inSet(s.months, int(t.Month())) &&
		inSet(s.weekdays, int(t.Weekday()))
}

func inSet(set map[int]bool, v int) bool {
	return set == nil || set[v]
}

// parseCron parses "minute hour day-of-month month day-of-week". Fields
// accept "*", plain values, comma lists, ranges ("1-5"), and steps
// ("*/15"). Sunday is weekday 0.
func parseCron(expr string) (schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return schedule{}, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}

	var s schedule
	specs := []struct {
		name     string
		min, max int
		dst      *map[int]bool
	}{
		{"minute", 0, 59, &s.minutes},
		{"hour", 0, 23, &s.hours},
		{"day-of-month", 1, 31, &s.days},
		{"month", 1, 12, &s.months},
		{"day-of-week", 0, 6, &s.weekdays},
	}
	for i, spec := range specs {
		set, err := parseField(fields[i], spec.min, spec.max)
		if err != nil {
			return schedule{}, fmt.Errorf("parsing %s field: %w", spec.name, err)
		}
		*spec.dst = set
	}
	return s, nil
}

// parseField expands one field into its value set, nil meaning everything.
func parseField(field string, min, max int) (map[int]bool, error) {
	if field == "*" {
		return nil, nil
	}

	set := make(map[int]bool)
	for _, part := range strings.Split(field, ",") {
		part = strings.TrimSpace(part)

		step := 1
		if base, stepStr, ok := strings.Cut(part, "/"); ok {
			n, err := strconv.Atoi(stepStr)
			if err != nil || n < 1 {
				return nil, fmt.Errorf("invalid step in %q", part)
			}
			step, part = n, base
		}

		lo, hi := min, max
		if part != "*" {
			fromStr, toStr, isRange := strings.Cut(part, "-")
			from, err := strconv.Atoi(fromStr)
			if err != nil {
				return nil, fmt.Errorf("invalid cron field value %q", part)
			}
			lo, hi = from, from
			if isRange {
				to, err := strconv.Atoi(toStr)
				if err != nil || to < from {
					return nil, fmt.Errorf("invalid range %q", part)
				}
				hi = to
			}
		}
		if lo < min || hi > max {
			return nil, fmt.Errorf("%q out of range %d-%d", part, min, max)
		}
		for v := lo; v <= hi; v += step {
			set[v] = true
		}
	}
	return set, nil
}

// nextCronTime finds the first minute boundary after 'after' that matches
// expr, scanning at most a year ahead.
func nextCronTime(expr string, after time.Time) (time.Time, error) {
	sched, err := parseCron(expr)
	if err != nil {
		return time.Time{}, err
	}

	limit := after.AddDate(1, 0, 1)
	for t := after.Truncate(time.Minute).Add(time.Minute); t.Before(limit); t = t.Add(time.Minute) {
		if sched.matches(t) {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("no matching time within a year for %q", expr)
}
