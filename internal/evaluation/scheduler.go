package evaluation

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler triggers evaluation ticks on a cron schedule. A tick that fails
// wholesale (storage unreachable before any entity ran) is retried with
// bounded backoff; per-entity failures are already isolated inside the tick
// and are not retried here.
type Scheduler struct {
	service  *Service
	schedule string
	cron     *cron.Cron
	log      zerolog.Logger

	maxRetries int
	baseDelay  time.Duration
}

// NewScheduler creates a scheduler for the given cron expression. The
// expression uses six fields, seconds first.
func NewScheduler(service *Service, schedule string, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		service:    service,
		schedule:   schedule,
		cron:       cron.New(cron.WithSeconds()),
		log:        log.With().Str("component", "scheduler").Logger(),
		maxRetries: 3,
		baseDelay:  5 * time.Second,
	}
}

// Start registers the tick job and starts the cron loop
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.schedule, func() { s.runWithRetry(ctx) })
	if err != nil {
		return err
	}

	s.cron.Start()
	s.log.Info().Str("schedule", s.schedule).Msg("evaluation scheduler started")
	return nil
}

// Stop halts the cron loop, waiting for a running tick to finish
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.log.Info().Msg("evaluation scheduler stopped")
}

func (s *Scheduler) runWithRetry(ctx context.Context) {
	delay := s.baseDelay
	for attempt := 0; ; attempt++ {
		_, err := s.service.RunTick(ctx)
		if err == nil {
			return
		}
		if attempt >= s.maxRetries {
			s.log.Error().Err(err).Int("attempts", attempt+1).Msg("evaluation tick abandoned")
			return
		}

		s.log.Warn().Err(err).Dur("retry_in", delay).Msg("evaluation tick failed, retrying")
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
	}
}
