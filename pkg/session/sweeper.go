package session

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	// DefaultRetention keeps transcripts for a week.
	DefaultRetention = 7 * 24 * time.Hour
	// DefaultSweepSchedule runs the sweep nightly.
	DefaultSweepSchedule = "0 3 * * *"
)

// Sweeper deletes expired session transcripts on a cron schedule.
type Sweeper struct {
	logger    zerolog.Logger
	store     *Store
	retention time.Duration
	cron      *cron.Cron
}

// NewSweeper creates a retention sweeper over the store. A zero retention
// uses the default; an empty schedule uses the nightly default.
func NewSweeper(store *Store, retention time.Duration, schedule string, logger zerolog.Logger) (*Sweeper, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}

	s := &Sweeper{
		logger:    logger.With().Str("component", "session-sweeper").Logger(),
		store:     store,
		retention: retention,
		cron:      cron.New(),
	}

	if _, err := s.cron.AddFunc(schedule, func() {
		if _, err := s.SweepNow(context.Background()); err != nil {
			s.logger.Error().Err(err).Msg("Scheduled session sweep failed")
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}

	return s, nil
}

// Start begins the schedule.
func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info().
		Dur("retention", s.retention).
		Msg("Session retention sweeper started")
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("Session retention sweeper stopped")
}

// SweepNow deletes sessions older than the retention window immediately.
func (s *Sweeper) SweepNow(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.retention)
	return s.store.DeleteOlderThan(ctx, cutoff)
}
