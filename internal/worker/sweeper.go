package worker

import (
	"channels/backend/internal/models"
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"go.uber.org/zap"
)

type UserStore interface {
	DeactivateInactiveUsers(ctx context.Context, cutoff time.Time) ([]string, error)
}

// Sweeper deactivates users that have not been seen for InactiveAfter, on a
// cron schedule.
type Sweeper struct {
	store         UserStore
	bus           Publisher
	log           *zap.Logger
	cron          string
	inactiveAfter time.Duration
	now           func() time.Time
}

func NewSweeper(store UserStore, bus Publisher, log *zap.Logger, cron string, inactiveAfter time.Duration) (*Sweeper, error) {
	if cron == "" {
		cron = "0 3 * * *"
	}
	if !gronx.IsValid(cron) {
		return nil, fmt.Errorf("invalid sweep cron expression: %s", cron)
	}
	if inactiveAfter <= 0 {
		return nil, fmt.Errorf("sweep threshold must be positive")
	}
	return &Sweeper{
		store:         store,
		bus:           bus,
		log:           log.Named("sweeper"),
		cron:          cron,
		inactiveAfter: inactiveAfter,
		now:           time.Now,
	}, nil
}

// RunOnce performs one sweep and returns the deactivated user ids.
func (s *Sweeper) RunOnce(ctx context.Context) ([]string, error) {
	now := s.now().UTC()
	ids, err := s.store.DeactivateInactiveUsers(ctx, now.Add(-s.inactiveAfter))
	if err != nil {
		return nil, fmt.Errorf("sweep inactive users: %w", err)
	}
	s.log.Info("inactive users swept", zap.Int("count", len(ids)))
	if len(ids) == 0 || s.bus == nil {
		return ids, nil
	}
	evt := models.DeactivatedEvent{UserIDs: ids, At: now}
	if err := s.bus.Publish(ctx, models.EventUserDeactivated, evt); err != nil {
		s.log.Warn("publish deactivation failed", zap.Error(err))
	}
	return ids, nil
}

// Run sleeps until each cron tick and sweeps, until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	s.log.Info("sweep scheduler started", zap.String("cron", s.cron), zap.Duration("inactive_after", s.inactiveAfter))
	for {
		next, err := gronx.NextTickAfter(s.cron, s.now().UTC(), false)
		if err != nil {
			return fmt.Errorf("next sweep tick: %w", err)
		}
		t := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		if _, err := s.RunOnce(ctx); err != nil {
			s.log.Error("sweep failed", zap.Error(err))
		}
	}
}
