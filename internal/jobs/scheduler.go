package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"roomlens/internal/queue"
)

// Scheduler enqueues the periodic sweep that fails jobs stuck in a
// non-terminal state after a worker crash.
type Scheduler struct {
	cron     *cron.Cron
	producer *queue.Producer
	log      zerolog.Logger
}

func NewScheduler(producer *queue.Producer, log zerolog.Logger) *Scheduler {
	c := cron.New(cron.WithSeconds())
	return &Scheduler{
		cron:     c,
		producer: producer,
		log:      log,
	}
}

func (s *Scheduler) Start() error {
	if s.producer == nil {
		return nil
	}

	if _, err := s.cron.AddFunc("0 */5 * * * *", s.enqueueSweep); err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		s.log.Warn().Msg("scheduler stop timed out")
	}
}

func (s *Scheduler) enqueueSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.producer.Enqueue(ctx, queue.Message{Type: queue.TaskSweep}); err != nil {
		s.log.Error().Err(err).Msg("enqueue sweep failed")
	}
}
