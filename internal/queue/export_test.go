package queue

import "github.com/hibiken/asynq"

func (q *RedisQueue) TaskHandler(h Handler) asynq.HandlerFunc { return q.taskHandler(h) }

var RetryDelay = retryDelay
