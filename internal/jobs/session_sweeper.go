package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/dom/school-portal/internal/metrics"
	"github.com/dom/school-portal/internal/repository"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const sweepTimeout = time.Minute

// SessionSweeper periodically removes expired sessions from the store.
type SessionSweeper struct {
	sessions repository.SessionStore
	metrics  *metrics.Metrics
	log      *logrus.Logger
	cron     *cron.Cron
}

func NewSessionSweeper(sessions repository.SessionStore, m *metrics.Metrics, logger *logrus.Logger) *SessionSweeper {
	return &SessionSweeper{
		sessions: sessions,
		metrics:  m,
		log:      logger,
		cron:     cron.New(),
	}
}

// Start schedules the sweep with a standard cron spec or a descriptor such
// as "@every 1h".
func (s *SessionSweeper) Start(schedule string) error {
	if _, err := s.cron.AddFunc(schedule, func() { s.Sweep(context.Background()) }); err != nil {
		return fmt.Errorf("invalid session sweep schedule %q: %w", schedule, err)
	}
	s.cron.Start()
	s.log.WithField("schedule", schedule).Info("session sweeper started")
	return nil
}

// Stop waits for a running sweep to finish or ctx to expire.
func (s *SessionSweeper) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// Sweep runs one pass and returns the number of removed sessions.
func (s *SessionSweeper) Sweep(ctx context.Context) int64 {
	ctx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	removed, err := s.sessions.DeleteExpired(ctx)
	if err != nil {
		s.log.WithError(err).WithField("event", metrics.EventSweep).Error("session sweep failed")
		return 0
	}

	s.metrics.SessionsSwept(removed)
	if removed > 0 {
		s.log.WithFields(logrus.Fields{"event": metrics.EventSweep, "removed": removed}).Info("expired sessions removed")
	}
	return removed
}
