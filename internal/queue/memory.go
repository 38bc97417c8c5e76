package queue

import (
	"channels/backend/internal/config"
	"channels/backend/internal/models"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MemoryQueue is a single-consumer buffered channel. Jobs run one at a time
// and are neither retried nor persisted; handler errors are only logged.
type MemoryQueue struct {
	cfg  config.QueueConfig
	jobs chan *Job
	log  *zap.Logger

	mux        sync.RWMutex
	closed     bool
	hasHandler bool
	done       chan struct{}

	waiting   atomic.Int64
	active    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

func NewMemoryQueue(cfg config.QueueConfig, log *zap.Logger) *MemoryQueue {
	size := cfg.BufferSize
	if size < 1 {
		size = 1024
	}
	return &MemoryQueue{
		cfg:  cfg,
		jobs: make(chan *Job, size),
		log:  log.With(zap.String("queue", cfg.Name), zap.String("mode", ModeMemory)),
		done: make(chan struct{}),
	}
}

func (q *MemoryQueue) Mode() string { return ModeMemory }

func (q *MemoryQueue) Add(ctx context.Context, name string, data *models.Message, opts *JobOptions) (string, error) {
	q.mux.RLock()
	defer q.mux.RUnlock()
	if q.closed {
		return "", ErrClosed
	}

	job := &Job{
		ID:        uuid.NewString(),
		Name:      name,
		Data:      *data.Clone(),
		Opts:      defaultOptions(q.cfg, opts),
		CreatedAt: time.Now().UTC(),
	}
	select {
	case q.jobs <- job:
		q.waiting.Add(1)
		return job.ID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (q *MemoryQueue) Process(ctx context.Context, h Handler) error {
	q.mux.Lock()
	if q.hasHandler {
		q.mux.Unlock()
		return ErrHandlerInstalled
	}
	q.hasHandler = true
	q.mux.Unlock()
	defer close(q.done)

	for {
		select {
		case <-ctx.Done():
			return nil
		case job, ok := <-q.jobs:
			if !ok {
				return nil
			}
			q.waiting.Add(-1)
			q.active.Add(1)
			job.AttemptsMade++
			if err := safeRun(ctx, h, job); err != nil {
				q.failed.Add(1)
				q.log.Error("job failed", zap.String("job_id", job.ID), zap.String("message_id", job.Data.ID), zap.Error(err))
			} else {
				q.completed.Add(1)
			}
			q.active.Add(-1)
		}
	}
}

// Shutdown stops accepting jobs and waits for the buffered ones to drain.
func (q *MemoryQueue) Shutdown(ctx context.Context) error {
	q.mux.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	running := q.hasHandler
	q.mux.Unlock()

	if !running {
		return nil
	}
	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Stats(context.Context) (Stats, error) {
	return Stats{
		Mode:      ModeMemory,
		Waiting:   q.waiting.Load(),
		Active:    q.active.Load(),
		Completed: q.completed.Load(),
		Failed:    q.failed.Load(),
	}, nil
}
