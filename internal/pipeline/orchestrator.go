package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

const (
	// leaderKey names the lock that elects the single evaluating replica.
	leaderKey = "monitor:evaluate"
	// leaderTTL bounds how long a dead leader blocks takeover.
	leaderTTL = 30 * time.Second
	// leaderRetry is the standby polling cadence for leadership.
	leaderRetry = 10 * time.Second
)

// LeaderElector grants a self-renewing exclusive lock. The returned release
// function gives leadership up. Acquisition while another holder exists
// returns domain.ErrLockHeld.
type LeaderElector interface {
	Hold(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// Orchestrator runs the whole monitor: one poll loop per source, the
// evaluation loop, and the archive cron, all inside one errgroup.
type Orchestrator struct {
	pollers          []*Poller
	evaluator        *Evaluator
	archiver         *Archiver
	leader           LeaderElector
	pollInterval     time.Duration
	evaluateInterval time.Duration
	archiveCron      string
	logger           *slog.Logger
}

// NewOrchestrator wires the monitor's goroutines together. archiver and
// leader may be nil: without an archiver the cron loop is skipped, without
// a leader elector every replica evaluates.
func NewOrchestrator(
	pollers []*Poller,
	evaluator *Evaluator,
	archiver *Archiver,
	leader LeaderElector,
	pollInterval time.Duration,
	evaluateInterval time.Duration,
	archiveCron string,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		pollers:          pollers,
		evaluator:        evaluator,
		archiver:         archiver,
		leader:           leader,
		pollInterval:     pollInterval,
		evaluateInterval: evaluateInterval,
		archiveCron:      archiveCron,
		logger:           logger.With(slog.String("component", "orchestrator")),
	}
}

// Run starts all loops as concurrent goroutines using an errgroup. Each
// goroutine respects ctx cancellation. If any goroutine returns a
// non-context error, the errgroup cancels the shared context and Run
// returns that error.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("monitor starting",
		slog.Int("sources", len(o.pollers)),
		slog.Duration("poll_interval", o.pollInterval),
		slog.Duration("evaluate_interval", o.evaluateInterval))

	g, ctx := errgroup.WithContext(ctx)

	// 1. One poll loop per source.
	for _, p := range o.pollers {
		g.Go(func() error {
			o.logger.Info("starting poll loop", slog.String("source", p.Source()))
			err := p.RunLoop(ctx, o.pollInterval)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("poller %s: %w", p.Source(), err)
		})
	}

	// 2. Evaluation loop, leader-gated when an elector is configured.
	g.Go(func() error {
		err := o.runEvaluation(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("evaluation: %w", err)
	})

	// 3. Archiver on cron schedule.
	if o.archiver != nil && o.archiveCron != "" {
		g.Go(func() error {
			o.logger.Info("starting archiver cron")
			err := o.archiver.RunCron(ctx, o.archiveCron)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("archiver: %w", err)
		})
	}

	err := g.Wait()
	if err != nil {
		o.logger.Error("monitor stopped with error", slog.String("error", err.Error()))
		return err
	}

	o.logger.Info("monitor stopped cleanly")
	return nil
}

// runEvaluation runs the evaluation loop. With a leader elector configured
// only the lock holder evaluates; every other replica polls for leadership
// and takes over once the current leader's lock lapses. A replica that
// cannot reach the elector stands by rather than risking a second evaluator.
func (o *Orchestrator) runEvaluation(ctx context.Context) error {
	if o.leader == nil {
		o.logger.Info("starting evaluation loop")
		return o.evaluateLoop(ctx)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		release, err := o.leader.Hold(ctx, leaderKey, leaderTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				o.logger.Debug("evaluation led by another replica, standing by")
			} else {
				o.logger.Warn("leader election unavailable, standing by",
					slog.String("error", err.Error()))
			}
			if err := sleepContext(ctx, leaderRetry); err != nil {
				return err
			}
			continue
		}

		o.logger.Info("leadership acquired, starting evaluation loop")
		err = o.evaluateLoop(ctx)
		release()
		return err
	}
}

// evaluateLoop evaluates immediately, then on every interval tick until the
// context is cancelled.
func (o *Orchestrator) evaluateLoop(ctx context.Context) error {
	if _, err := o.evaluator.Evaluate(ctx); err != nil && ctx.Err() == nil {
		o.logger.Error("evaluation failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(o.evaluateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("evaluation loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := o.evaluator.Evaluate(ctx); err != nil && ctx.Err() == nil {
				o.logger.Error("evaluation failed", slog.String("error", err.Error()))
			}
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
