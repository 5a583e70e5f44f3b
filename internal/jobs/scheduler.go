package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"framestack/internal/tasks"
)

// Scheduler enqueues a sweep task on the configured cron schedule. The
// sweep itself runs in the worker.
type Scheduler struct {
	cron     *cron.Cron
	queue    tasks.Enqueuer
	schedule string
	log      zerolog.Logger
}

func NewScheduler(queue tasks.Enqueuer, schedule string, log zerolog.Logger) *Scheduler {
	c := cron.New(cron.WithSeconds())
	return &Scheduler{
		cron:     c,
		queue:    queue,
		schedule: schedule,
		log:      log,
	}
}

func (s *Scheduler) Start() error {
	if s.queue == nil || s.schedule == "" {
		s.log.Warn().Msg("sweep schedule disabled")
		return nil
	}

	if _, err := s.cron.AddFunc(s.schedule, s.enqueueSweep); err != nil {
		return err
	}

	s.cron.Start()
	s.log.Info().Str("schedule", s.schedule).Msg("sweep scheduled")
	return nil
}

// Stop stops the cron and waits up to timeout for a running enqueue.
func (s *Scheduler) Stop(timeout time.Duration) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-time.After(timeout):
		s.log.Warn().Msg("scheduler stop timed out")
	}
}

func (s *Scheduler) enqueueSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	id, err := tasks.EnqueueSweep(ctx, s.queue, "schedule")
	if err != nil {
		s.log.Error().Err(err).Msg("enqueue sweep failed")
		return
	}
	s.log.Debug().Str("message_id", id).Msg("sweep enqueued")
}
