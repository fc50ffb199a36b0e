package lifecycle

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// DefaultSweepSchedule runs the expiry sweep every ten minutes.
const DefaultSweepSchedule = "*/10 * * * *"

// Sweeper periodically expires stale requests.
type Sweeper struct {
	manager *Manager
	cron    *cron.Cron
	log     *logrus.Entry
}

// NewSweeper creates a sweeper on the given cron schedule.
func NewSweeper(manager *Manager, schedule string, log *logrus.Logger) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}

	s := &Sweeper{
		manager: manager,
		cron:    cron.New(),
		log:     log.WithField("component", "lifecycle.sweeper"),
	}

	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Sweeper) sweep() {
	count, err := s.manager.ExpireStale(context.Background())
	if err != nil {
		s.log.WithError(err).Error("expiry sweep failed")
		return
	}
	if count > 0 {
		s.log.WithField("count", count).Info("expiry sweep completed")
	}
}

// Start begins scheduled sweeps.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}
