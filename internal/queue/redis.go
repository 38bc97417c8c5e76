package queue

import (
	"channels/backend/internal/config"
	"channels/backend/internal/models"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RedisQueue runs jobs through asynq. Each task payload is a msgpack Job;
// asynq owns retries, scheduling, leases on active tasks and the archive of
// jobs that used up their attempts.
type RedisQueue struct {
	cfg       config.QueueConfig
	opt       asynq.RedisClientOpt
	client    *asynq.Client
	inspector *asynq.Inspector
	log       *zap.Logger
	limiter   *rate.Limiter

	mux     sync.Mutex
	running bool
	closed  bool
	stop    chan struct{}
	stopped chan struct{}
}

func NewRedisQueue(cfg config.QueueConfig, rdb *redis.Client, log *zap.Logger) *RedisQueue {
	r := cfg.RatePerSecond
	if r < 1 {
		r = 50
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Name == "" {
		cfg.Name = "messages"
	}
	o := rdb.Options()
	opt := asynq.RedisClientOpt{
		Network:   o.Network,
		Addr:      o.Addr,
		Username:  o.Username,
		Password:  o.Password,
		DB:        o.DB,
		TLSConfig: o.TLSConfig,
	}
	return &RedisQueue{
		cfg:       cfg,
		opt:       opt,
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
		log:       log.With(zap.String("queue", cfg.Name), zap.String("mode", ModeRedis)),
		limiter:   rate.NewLimiter(rate.Limit(r), r),
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

func (q *RedisQueue) Mode() string { return ModeRedis }

func (q *RedisQueue) isClosed() bool {
	q.mux.Lock()
	defer q.mux.Unlock()
	return q.closed
}

func (q *RedisQueue) Add(ctx context.Context, name string, data *models.Message, opts *JobOptions) (string, error) {
	if q.isClosed() {
		return "", ErrClosed
	}

	job := &Job{
		ID:        uuid.NewString(),
		Name:      name,
		Data:      *data,
		Opts:      defaultOptions(q.cfg, opts),
		CreatedAt: time.Now().UTC(),
	}
	b, err := job.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("encode job: %w", err)
	}

	taskOpts := []asynq.Option{
		asynq.TaskID(job.ID),
		asynq.Queue(q.cfg.Name),
		asynq.MaxRetry(job.Opts.Attempts - 1),
	}
	if q.cfg.JobTimeout > 0 {
		taskOpts = append(taskOpts, asynq.Timeout(q.cfg.JobTimeout))
	}
	if job.Opts.Retention > 0 {
		taskOpts = append(taskOpts, asynq.Retention(job.Opts.Retention))
	}
	if _, err := q.client.EnqueueContext(ctx, asynq.NewTask(name, b), taskOpts...); err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return job.ID, nil
}

// Process runs an asynq server with cfg.Concurrency workers until ctx ends or
// Shutdown is called. Tasks abandoned by a crashed process are picked up
// again once their lease expires.
func (q *RedisQueue) Process(ctx context.Context, h Handler) error {
	q.mux.Lock()
	if q.closed {
		q.mux.Unlock()
		return ErrClosed
	}
	if q.running {
		q.mux.Unlock()
		return ErrHandlerInstalled
	}
	q.running = true
	q.mux.Unlock()
	defer close(q.stopped)

	srv := asynq.NewServer(q.opt, asynq.Config{
		Concurrency:    q.cfg.Concurrency,
		Queues:         map[string]int{q.cfg.Name: 1},
		RetryDelayFunc: retryDelay,
		ErrorHandler:   asynq.ErrorHandlerFunc(q.reportFailure),
		Logger:         q.log.Sugar(),
		LogLevel:       asynq.WarnLevel,
	})
	if err := srv.Start(q.taskHandler(h)); err != nil {
		return fmt.Errorf("start queue server: %w", err)
	}
	q.log.Info("queue processing started", zap.Int("concurrency", q.cfg.Concurrency))

	select {
	case <-ctx.Done():
	case <-q.stop:
	}
	srv.Shutdown()
	return nil
}

// taskHandler adapts h to asynq: it applies the rate limit, decodes the job
// and numbers the attempt. Undecodable payloads are archived without retry.
func (q *RedisQueue) taskHandler(h Handler) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		if err := q.limiter.Wait(ctx); err != nil {
			return err
		}
		job := &Job{}
		if err := job.UnmarshalBinary(t.Payload()); err != nil {
			return fmt.Errorf("decode job: %v: %w", err, asynq.SkipRetry)
		}
		if id, ok := asynq.GetTaskID(ctx); ok {
			job.ID = id
		}
		job.AttemptsMade = 1
		if n, ok := asynq.GetRetryCount(ctx); ok {
			job.AttemptsMade = n + 1
		}
		return safeRun(ctx, h, job)
	}
}

func (q *RedisQueue) reportFailure(ctx context.Context, t *asynq.Task, err error) {
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	id, _ := asynq.GetTaskID(ctx)
	if retried >= maxRetry || errors.Is(err, asynq.SkipRetry) {
		q.log.Error("job failed permanently", zap.String("job_id", id), zap.String("job", t.Type()), zap.Error(err))
		return
	}
	q.log.Warn("job attempt failed", zap.String("job_id", id), zap.Int("attempt", retried+1), zap.Error(err))
}

// retryDelay doubles the job's backoff after every failed attempt. n is the
// number of retries already made.
func retryDelay(n int, err error, t *asynq.Task) time.Duration {
	job := &Job{}
	if uerr := job.UnmarshalBinary(t.Payload()); uerr != nil || job.Opts.Backoff <= 0 {
		return asynq.DefaultRetryDelayFunc(n, err, t)
	}
	job.AttemptsMade = n + 1
	return job.Delay()
}

// Shutdown stops the server started by Process, waits for it, and releases
// the Redis connections.
func (q *RedisQueue) Shutdown(ctx context.Context) error {
	q.mux.Lock()
	if q.closed {
		q.mux.Unlock()
		return nil
	}
	q.closed = true
	running := q.running
	close(q.stop)
	q.mux.Unlock()

	if running {
		select {
		case <-q.stopped:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return errors.Join(q.client.Close(), q.inspector.Close())
}

func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	if q.isClosed() {
		return Stats{Mode: ModeRedis}, ErrClosed
	}
	info, err := q.inspector.GetQueueInfo(q.cfg.Name)
	if errors.Is(err, asynq.ErrQueueNotFound) {
		return Stats{Mode: ModeRedis}, nil
	}
	if err != nil {
		return Stats{Mode: ModeRedis}, err
	}
	return Stats{
		Mode:      ModeRedis,
		Waiting:   int64(info.Pending),
		Active:    int64(info.Active),
		Delayed:   int64(info.Scheduled + info.Retry),
		Completed: int64(info.Completed),
		Failed:    int64(info.Archived),
	}, nil
}

// Failed returns up to limit jobs that used up their attempts.
func (q *RedisQueue) Failed(ctx context.Context, limit int64) ([]*Job, error) {
	if q.isClosed() {
		return nil, ErrClosed
	}
	if limit < 1 {
		limit = 20
	}
	tasks, err := q.inspector.ListArchivedTasks(q.cfg.Name, asynq.PageSize(int(limit)))
	if errors.Is(err, asynq.ErrQueueNotFound) {
		return []*Job{}, nil
	}
	if err != nil {
		return nil, err
	}
	jobs := make([]*Job, 0, len(tasks))
	for _, t := range tasks {
		j := &Job{}
		if err := j.UnmarshalBinary(t.Payload); err != nil {
			q.log.Warn("skipping undecodable archived job", zap.String("job_id", t.ID), zap.Error(err))
			continue
		}
		j.ID = t.ID
		j.AttemptsMade = t.Retried + 1
		j.LastError = t.LastErr
		jobs = append(jobs, j)
	}
	return jobs, nil
}
