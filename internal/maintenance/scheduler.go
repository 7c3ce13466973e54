// Package maintenance schedules periodic database housekeeping.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/deploydeck/internal/log"
	"github.com/vovakirdan/deploydeck/internal/metrics"
)

const jobName = "db-maintenance"

// Maintainer performs one housekeeping pass.
type Maintainer interface {
	Maintain(ctx context.Context) error
}

// Scheduler runs a Maintainer on a cron schedule.
type Scheduler struct {
	target   Maintainer
	schedule string
	timeout  time.Duration
	log      *zerolog.Logger

	cron gocron.Scheduler
}

// New validates schedule (standard five-field cron, UTC) and prepares the
// job. Nothing runs until Run is called.
func New(target Maintainer, schedule string, logger *zerolog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		target:   target,
		schedule: schedule,
		timeout:  time.Minute,
		log:      log.OrNop(logger),
	}

	cron, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
		gocron.WithLogger(gocronLogger{s.log}),
	)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	_, err = cron.NewJob(
		gocron.CronJob(schedule, false),
		gocron.NewTask(func() { _ = s.RunOnce(context.Background()) }),
		gocron.WithName(jobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = cron.Shutdown()
		return nil, fmt.Errorf("schedule %q: %w", schedule, err)
	}

	s.cron = cron
	return s, nil
}

// Run starts the scheduler and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	s.log.Info().Str("schedule", s.schedule).Msg("maintenance scheduled")

	<-ctx.Done()
	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("shutdown scheduler: %w", err)
	}
	return nil
}

// RunOnce performs a single maintenance pass and records its outcome.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	if err := s.target.Maintain(ctx); err != nil {
		metrics.MaintenanceRuns.WithLabelValues("error").Inc()
		s.log.Error().Err(err).Msg("database maintenance failed")
		return err
	}
	metrics.MaintenanceRuns.WithLabelValues("ok").Inc()
	s.log.Info().Dur("duration", time.Since(start)).Msg("database maintenance done")
	return nil
}

// gocronLogger adapts zerolog to gocron's key/value logger.
type gocronLogger struct {
	log *zerolog.Logger
}

func (l gocronLogger) Debug(msg string, args ...any) { l.log.Debug().Fields(args).Msg(msg) }
func (l gocronLogger) Info(msg string, args ...any)  { l.log.Debug().Fields(args).Msg(msg) }
func (l gocronLogger) Warn(msg string, args ...any)  { l.log.Warn().Fields(args).Msg(msg) }
func (l gocronLogger) Error(msg string, args ...any) { l.log.Error().Fields(args).Msg(msg) }
