package escrow

import (
	"context"
	"fmt"
	"time"

	log "github.com/inconshreveable/log15"
	"github.com/robfig/cron/v3"
)

// DefaultCheckpointCron runs the global checkpoint five minutes past
// midnight UTC, just after a daily epoch boundary.
const DefaultCheckpointCron = "0 5 0 * * *"

// Scheduler advances the global line on a cron schedule so history stays
// materialized through quiet periods.
type Scheduler struct {
	Cron    *cron.Cron
	service *Service
	log     log.Logger
}

// NewScheduler registers the checkpoint job. The expression takes a seconds
// field.
func NewScheduler(service *Service, expr string) (*Scheduler, error) {
	if expr == "" {
		expr = DefaultCheckpointCron
	}
	s := &Scheduler{
		Cron:    cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC)),
		service: service,
		log:     log.New("module", "scheduler"),
	}
	if _, err := s.Cron.AddFunc(expr, s.checkpoint); err != nil {
		return nil, fmt.Errorf("register checkpoint task: %w", err)
	}
	return s, nil
}

// Run starts the cron loop and blocks until ctx is done, then waits for a
// running job to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Cron.Start()
	s.log.Info("scheduler started", "jobs", len(s.Cron.Entries()))

	<-ctx.Done()
	<-s.Cron.Stop().Done()
	s.log.Info("scheduler stopped")
	return ctx.Err()
}

// RunNow executes the checkpoint job immediately.
func (s *Scheduler) RunNow() {
	s.checkpoint()
}

func (s *Scheduler) checkpoint() {
	n, err := s.service.Checkpoint(context.Background())
	if err != nil {
		s.log.Error("scheduled checkpoint", "err", err)
		return
	}
	s.log.Info("scheduled checkpoint", "appended", n)
}
