// Package worker runs the periodic scheduling sweeps: waitlist expiry and
// matching, recurring generation and outbox delivery.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/telemedicine-scheduling/internal/observability/metrics"
	redisclient "github.com/hackgods/telemedicine-scheduling/internal/redis"
)

// Step is one sweep. It returns how many items it handled.
type Step struct {
	Name string
	Run  func(ctx context.Context) (int, error)
}

type Runner struct {
	steps   []Step
	locker  redisclient.Locker
	logger  zerolog.Logger
	metrics *metrics.SchedulingMetrics
	timeout time.Duration
}

func NewRunner(locker redisclient.Locker, logger zerolog.Logger, m *metrics.SchedulingMetrics, timeout time.Duration, steps ...Step) *Runner {
	if locker == nil {
		locker = redisclient.NewLocalLocker()
	}
	if timeout <= 0 {
		timeout = 50 * time.Second
	}
	return &Runner{
		steps:   steps,
		locker:  locker,
		logger:  logger.With().Str("component", "sweep-worker").Logger(),
		metrics: m,
		timeout: timeout,
	}
}

// Result reports one step of a pass. Skipped means another replica held the
// step's lock.
type Result struct {
	Step    string
	Handled int
	Skipped bool
	Err     error
}

// RunOnce executes every step in order. A failing step is logged and does
// not stop the ones after it.
func (r *Runner) RunOnce(ctx context.Context) []Result {
	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	results := make([]Result, 0, len(r.steps))
	for _, step := range r.steps {
		if runCtx.Err() != nil {
			break
		}
		res := Result{Step: step.Name}
		start := time.Now()
		err := r.locker.WithLock(runCtx, redisclient.SweepLockKey(step.Name), func(ctx context.Context) error {
			n, err := step.Run(ctx)
			res.Handled = n
			return err
		})
		switch {
		case errors.Is(err, redisclient.ErrLockNotAcquired):
			res.Skipped = true
			r.metrics.ObserveSweepItem(step.Name, "skipped")
			r.logger.Debug().Str("step", step.Name).Msg("sweep held elsewhere, skipping")
		case err != nil:
			res.Err = err
			r.metrics.ObserveSweepItem(step.Name, "step_failed")
			r.logger.Error().Err(err).Str("step", step.Name).Msg("sweep step failed")
		default:
			r.logger.Info().
				Str("step", step.Name).
				Int("handled", res.Handled).
				Dur("took", time.Since(start)).
				Msg("sweep step complete")
		}
		results = append(results, res)
	}
	return results
}

// Run performs a pass immediately and then every interval until ctx ends.
func (r *Runner) Run(ctx context.Context, interval time.Duration) {
	r.RunOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("shutdown signal received, stopping sweep worker")
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}
