package retry

import (
	"context"
	"log/slog"
	"time"
)

const (
	// DefaultMaxAttempts bounds every retryable operation.
	DefaultMaxAttempts = 5

	// dataErrorMaxAttempts caps parse failures, which rarely heal on retry.
	dataErrorMaxAttempts = 2
)

// Operation is a single attempt of an outbound call.
type Operation func(ctx context.Context) error

// Executor runs operations with classified, per-kind backoff. Failures that
// classify as non-retryable return a *FatalError immediately; retryable
// failures that exhaust the budget return a *RetryableError.
type Executor struct {
	maxAttempts int
	logger      *slog.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewExecutor returns an executor with the given attempt budget. A budget
// below 1 falls back to DefaultMaxAttempts.
func NewExecutor(maxAttempts int, logger *slog.Logger) *Executor {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Executor{
		maxAttempts: maxAttempts,
		logger:      logger.With(slog.String("component", "retry")),
		sleep:       sleepContext,
	}
}

// Do runs op until it succeeds, fails fatally, or exhausts the attempt
// budget. Backoff sleeps are cut short by ctx cancellation.
func (e *Executor) Do(ctx context.Context, name string, op Operation) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}

		kind := Classify(err)
		if !kind.Retryable() {
			e.logger.Error("operation failed fatally",
				slog.String("op", name),
				slog.String("kind", string(kind)),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
			return &FatalError{Kind: kind, Err: err}
		}

		limit := e.maxAttempts
		if kind == KindDataError && limit > dataErrorMaxAttempts {
			limit = dataErrorMaxAttempts
		}
		if attempt >= limit {
			e.logger.Error("operation exhausted retries",
				slog.String("op", name),
				slog.String("kind", string(kind)),
				slog.Int("attempts", attempt),
				slog.String("error", err.Error()))
			return &RetryableError{Kind: kind, Attempts: attempt, Err: err}
		}

		delay := Delay(kind, attempt)
		e.logger.Warn("operation failed, retrying",
			slog.String("op", name),
			slog.String("kind", string(kind)),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()))

		if err := e.sleep(ctx, delay); err != nil {
			return err
		}
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
