// Package daemon drives repeated sync attempts and exposes their status.
package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/kamikazebr/keydist/internal/config"
	"github.com/kamikazebr/keydist/internal/logging"
)

// Job is one unit of scheduled work
type Job func(ctx context.Context)

// Scheduler decides when a job runs
type Scheduler interface {
	Run(ctx context.Context, job Job) error
}

// Once runs the job a single time
type Once struct{}

func (Once) Run(ctx context.Context, job Job) error {
	job(ctx)
	return nil
}

// Periodic runs the job immediately and then at every activation of its
// schedule until the context is cancelled. Runs never overlap: the next
// activation is computed after the previous run returns, so an overrunning
// attempt skips the activations it missed.
type Periodic struct {
	Schedule cron.Schedule
	Logger   zerolog.Logger
	Now      func() time.Time
}

// NewPeriodic creates a periodic scheduler from the timer settings
func NewPeriodic(s config.Settings, logger zerolog.Logger) (*Periodic, error) {
	schedule, err := ParseSchedule(s)
	if err != nil {
		return nil, err
	}
	return &Periodic{
		Schedule: schedule,
		Logger:   logging.Component(logger, "scheduler"),
		Now:      time.Now,
	}, nil
}

// ParseSchedule returns the cron expression override when set, otherwise a
// fixed delay of INTERNAL_TIMER_INTERVAL seconds.
func ParseSchedule(s config.Settings) (cron.Schedule, error) {
	if s.InternalTimerSchedule != "" {
		schedule, err := cron.ParseStandard(s.InternalTimerSchedule)
		if err != nil {
			return nil, fmt.Errorf("invalid timer schedule %q: %w", s.InternalTimerSchedule, err)
		}
		return schedule, nil
	}
	if s.InternalTimerInterval <= 0 {
		return nil, fmt.Errorf("timer interval must be positive, got %d", s.InternalTimerInterval)
	}
	return cron.ConstantDelaySchedule{Delay: s.TimerInterval()}, nil
}

func (p *Periodic) Run(ctx context.Context, job Job) error {
	now := p.Now
	if now == nil {
		now = time.Now
	}

	p.Logger.Info().Msg("periodic sync started")
	for {
		if ctx.Err() != nil {
			p.Logger.Info().Msg("periodic sync stopped")
			return nil
		}

		job(ctx)

		next := p.Schedule.Next(now())
		p.Logger.Debug().Time("next_run", next).Msg("waiting for next activation")

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			p.Logger.Info().Msg("periodic sync stopped")
			return nil
		case <-timer.C:
		}
	}
}
