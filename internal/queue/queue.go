// Package queue hands formatted messages to the persistence worker. Two
// backends exist: a durable asynq queue on Redis with retries and an
// in-process channel used when Redis is not available.
package queue

import (
	"channels/backend/internal/config"
	"channels/backend/internal/models"
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

const (
	ModeRedis  = "redis"
	ModeMemory = "memory"
)

var (
	ErrClosed           = errors.New("queue is closed")
	ErrHandlerInstalled = errors.New("queue already has a handler")
)

// Handler processes one job. A returned error counts as a failed attempt.
type Handler func(ctx context.Context, job *Job) error

// JobOptions tune one job. Retention is how long a completed job stays
// inspectable; the in-process queue ignores it.
type JobOptions struct {
	Attempts  int           `msgpack:"attempts"`
	Backoff   time.Duration `msgpack:"backoff"`
	Retention time.Duration `msgpack:"retention"`
}

type Job struct {
	ID           string         `msgpack:"id"`
	Name         string         `msgpack:"name"`
	Data         models.Message `msgpack:"data"`
	Opts         JobOptions     `msgpack:"opts"`
	AttemptsMade int            `msgpack:"attemptsMade"`
	CreatedAt    time.Time      `msgpack:"createdAt"`
	LastError    string         `msgpack:"lastError,omitempty"`
}

func (j *Job) MarshalBinary() ([]byte, error) {
	type alias Job
	return msgpack.Marshal((*alias)(j))
}

func (j *Job) UnmarshalBinary(data []byte) error {
	type alias Job
	return msgpack.Unmarshal(data, (*alias)(j))
}

// Delay is the wait before the next attempt after AttemptsMade failures.
func (j *Job) Delay() time.Duration {
	if j.Opts.Backoff <= 0 || j.AttemptsMade < 1 {
		return 0
	}
	return j.Opts.Backoff << (j.AttemptsMade - 1)
}

type Stats struct {
	Mode      string `json:"mode"`
	Waiting   int64  `json:"waiting"`
	Active    int64  `json:"active"`
	Delayed   int64  `json:"delayed"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
}

type Queue interface {
	// Add enqueues a snapshot of data and returns the job id.
	Add(ctx context.Context, name string, data *models.Message, opts *JobOptions) (string, error)
	// Process runs h for queued jobs until ctx is done or the queue is shut down.
	Process(ctx context.Context, h Handler) error
	Shutdown(ctx context.Context) error
	Mode() string
	Stats(ctx context.Context) (Stats, error)
}

// New picks the backend once: Redis when a client is given and the mode
// allows it, the in-process queue otherwise.
func New(cfg config.QueueConfig, rdb *redis.Client, log *zap.Logger) Queue {
	if rdb != nil && cfg.Mode != config.QueueMemory {
		log.Info("queue backend selected", zap.String("mode", ModeRedis), zap.String("queue", cfg.Name))
		return NewRedisQueue(cfg, rdb, log)
	}
	log.Warn("queue backend selected, jobs are not durable", zap.String("mode", ModeMemory), zap.String("queue", cfg.Name))
	return NewMemoryQueue(cfg, log)
}

func defaultOptions(cfg config.QueueConfig, opts *JobOptions) JobOptions {
	o := JobOptions{
		Attempts:  cfg.Attempts,
		Backoff:   cfg.Backoff,
		Retention: cfg.Retention,
	}
	if opts != nil {
		if opts.Attempts > 0 {
			o.Attempts = opts.Attempts
		}
		if opts.Backoff > 0 {
			o.Backoff = opts.Backoff
		}
		if opts.Retention > 0 {
			o.Retention = opts.Retention
		}
	}
	if o.Attempts < 1 {
		o.Attempts = 1
	}
	return o
}

func safeRun(ctx context.Context, h Handler, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("job handler panicked")
		}
	}()
	return h(ctx, job)
}
