// Package worker persists queued messages and runs the periodic inactivity sweep.
package worker

import (
	"channels/backend/internal/metrics"
	"channels/backend/internal/models"
	"channels/backend/internal/queue"
	"channels/backend/internal/storage"
	"context"
	"fmt"

	"go.uber.org/zap"
)

type Store interface {
	PersistMessage(ctx context.Context, m *models.Message) (*storage.PersistResult, error)
}

type Publisher interface {
	Publish(ctx context.Context, event string, payload any) error
}

const NoteDuplicate = "duplicate"

type Result struct {
	OK            bool
	Created       bool
	Note          string
	UnreadUpdates []models.UnreadUpdate
	Event         *models.PersistedEvent
}

type Worker struct {
	store   Store
	bus     Publisher
	log     *zap.Logger
	metrics *metrics.Metrics
}

func New(store Store, bus Publisher, log *zap.Logger, m *metrics.Metrics) *Worker {
	return &Worker{store: store, bus: bus, log: log.Named("worker"), metrics: m}
}

// Start consumes q until ctx is done.
func (w *Worker) Start(ctx context.Context, q queue.Queue) error {
	w.log.Info("persistence worker started", zap.String("mode", q.Mode()))
	return q.Process(ctx, w.Handle)
}

// Handle adapts ProcessJob to the queue handler signature.
func (w *Worker) Handle(ctx context.Context, job *queue.Job) error {
	_, err := w.ProcessJob(ctx, job)
	return err
}

func (w *Worker) ProcessJob(ctx context.Context, job *queue.Job) (Result, error) {
	msg := job.Data
	res, err := w.Persist(ctx, &msg)
	if err != nil {
		return res, fmt.Errorf("job %s: %w", job.ID, err)
	}
	return res, nil
}

// Persist stores m in one transaction and announces it. Callers without a
// queue use it directly.
func (w *Worker) Persist(ctx context.Context, m *models.Message) (Result, error) {
	res, err := w.store.PersistMessage(ctx, m)
	if err != nil {
		w.metrics.JobProcessed(metrics.OutcomeFailed)
		return Result{}, fmt.Errorf("persist message %s: %w", m.ID, err)
	}
	if res.Duplicate {
		w.metrics.JobProcessed(metrics.OutcomeDuplicate)
		w.log.Debug("duplicate message skipped",
			zap.String("message_id", m.ID),
			zap.String("existing_id", res.ExistingID),
			zap.String("temp_id", m.TempID),
		)
		return Result{OK: true, Note: NoteDuplicate}, nil
	}
	w.metrics.JobProcessed(metrics.OutcomePersisted)

	persistedAt := res.PersistedAt
	evt := &models.PersistedEvent{
		ID:              m.ID,
		TempID:          m.TempID,
		ClientMessageID: m.ClientMessageID,
		ChannelID:       m.ChannelID,
		SenderID:        m.SenderID,
		IsGroup:         m.IsGroup,
		MessageType:     m.MessageType,
		UnreadUpdates:   res.UnreadUpdates,
		Status:          models.StatusPersisted,
		PersistedAt:     &persistedAt,
	}
	if w.bus != nil {
		if err := w.bus.Publish(ctx, models.EventMessagePersisted, evt); err != nil {
			w.log.Warn("publish persisted event failed", zap.String("message_id", m.ID), zap.Error(err))
		}
	}
	return Result{OK: true, Created: true, UnreadUpdates: res.UnreadUpdates, Event: evt}, nil
}
