package helpers

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cankoe/reminder-scheduler/internal/notifier"
)

type Runner interface {
	Now() time.Time
	RunOnce(ctx context.Context, now time.Time) (notifier.RunSummary, error)
}

// Locker runs fn only while holding a lease shared with other replicas.
type Locker interface {
	Do(ctx context.Context, fn func(context.Context) error) (bool, error)
}

// ScheduledRun returns the function a periodic trigger calls on every tick.
// With a nil locker every tick runs; otherwise ticks that lose the lease are
// skipped.
func ScheduledRun(ctx context.Context, r Runner, locker Locker) func() {
	return func() {
		run := func(ctx context.Context) error {
			_, err := r.RunOnce(ctx, r.Now())
			return err
		}

		var err error
		if locker == nil {
			err = run(ctx)
		} else {
			var ran bool
			ran, err = locker.Do(ctx, run)
			if err == nil && !ran {
				log.Debug().Msg("Run lease held elsewhere, skipping tick")
				return
			}
		}

		switch {
		case err == nil:
		case errors.Is(err, context.Canceled):
			log.Info().Msg("Run interrupted by shutdown")
		default:
			log.Error().Err(err).Msg("Scheduled run failed")
		}
	}
}
