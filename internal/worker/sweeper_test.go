package worker_test

import (
	"channels/backend/internal/models"
	"channels/backend/internal/worker"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewSweeper_Validates(t *testing.T) {
	_, err := worker.NewSweeper(new(MockStore), nil, zap.NewNop(), "not a cron", time.Hour)
	assert.Error(t, err)
	_, err = worker.NewSweeper(new(MockStore), nil, zap.NewNop(), "", 0)
	assert.Error(t, err)
	_, err = worker.NewSweeper(new(MockStore), nil, zap.NewNop(), "", time.Hour)
	assert.NoError(t, err)
}

func TestSweeper_RunOncePublishes(t *testing.T) {
	store := new(MockStore)
	bus := new(MockPublisher)
	s, err := worker.NewSweeper(store, bus, zap.NewNop(), "0 3 * * *", 48*time.Hour)
	require.NoError(t, err)

	store.On("DeactivateInactiveUsers", mock.Anything, mock.MatchedBy(func(cutoff time.Time) bool {
		return time.Since(cutoff) > 47*time.Hour && time.Since(cutoff) < 49*time.Hour
	})).Return([]string{"u1", "u2"}, nil)
	bus.On("Publish", mock.Anything, models.EventUserDeactivated, mock.MatchedBy(func(e models.DeactivatedEvent) bool {
		return len(e.UserIDs) == 2
	})).Return(nil)

	ids, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, ids)
	bus.AssertExpectations(t)
}

func TestSweeper_NothingToDo(t *testing.T) {
	store := new(MockStore)
	bus := new(MockPublisher)
	s, _ := worker.NewSweeper(store, bus, zap.NewNop(), "", time.Hour)
	store.On("DeactivateInactiveUsers", mock.Anything, mock.Anything).Return([]string{}, nil)

	ids, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
	bus.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestSweeper_StoreError(t *testing.T) {
	store := new(MockStore)
	s, _ := worker.NewSweeper(store, nil, zap.NewNop(), "", time.Hour)
	store.On("DeactivateInactiveUsers", mock.Anything, mock.Anything).Return(nil, errors.New("db gone"))

	_, err := s.RunOnce(context.Background())
	assert.ErrorContains(t, err, "db gone")
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	s, _ := worker.NewSweeper(new(MockStore), nil, zap.NewNop(), "0 3 * * *", time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, s.Run(ctx))
}
