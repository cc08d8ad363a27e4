package session

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// DefaultSweepSchedule runs the expiry sweep every five minutes.
const DefaultSweepSchedule = "@every 5m"

// SweepFunc removes expired sessions and reports how many went.
// Manager.Sweep and the engine's Sweep both fit.
type SweepFunc func(ctx context.Context) (int, error)

// Sweeper runs a SweepFunc on a cron schedule.
type Sweeper struct {
	sweep   SweepFunc
	cron    *cron.Cron
	timeout time.Duration
}

// NewSweeper schedules sweep. An empty schedule uses DefaultSweepSchedule.
func NewSweeper(sweep SweepFunc, schedule string) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	s := &Sweeper{
		sweep:   sweep,
		cron:    cron.New(),
		timeout: time.Minute,
	}
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	n, err := s.sweep(ctx)
	if err != nil {
		log.Error().Err(err).Int("removed", n).Msg("session sweep failed")
	}
}

// Start begins the schedule in its own goroutine.
func (s *Sweeper) Start() { s.cron.Start() }

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}
