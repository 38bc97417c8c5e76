// Package pubsub carries server-side events (persisted messages, sweep
// results) from the worker to the realtime hub. Redis is used when
// configured so the worker can run in another process; otherwise handlers are
// called in-process.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type HandlerFunc func(ctx context.Context, payload []byte)

type Bus interface {
	Publish(ctx context.Context, event string, payload any) error
	// Subscribe registers h for event. It returns once the subscription is live.
	Subscribe(ctx context.Context, event string, h HandlerFunc) error
	Close() error
}

const channelPrefix = "realtime:"

// RedisBus publishes JSON payloads on realtime:<event> channels.
type RedisBus struct {
	rdb  *redis.Client
	log  *zap.Logger
	mux  sync.Mutex
	subs []*redis.PubSub
	wg   sync.WaitGroup
}

func NewRedisBus(rdb *redis.Client, log *zap.Logger) *RedisBus {
	return &RedisBus{rdb: rdb, log: log}
}

func (b *RedisBus) Publish(ctx context.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	return b.rdb.Publish(ctx, channelPrefix+event, data).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, event string, h HandlerFunc) error {
	ps := b.rdb.Subscribe(ctx, channelPrefix+event)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("subscribe %s: %w", event, err)
	}

	b.mux.Lock()
	b.subs = append(b.subs, ps)
	b.mux.Unlock()

	ch := ps.Channel()
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for msg := range ch {
			b.dispatch(ctx, event, h, []byte(msg.Payload))
		}
	}()
	return nil
}

func (b *RedisBus) dispatch(ctx context.Context, event string, h HandlerFunc, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("pubsub handler panicked", zap.String("event", event), zap.Any("panic", r))
		}
	}()
	h(ctx, payload)
}

func (b *RedisBus) Close() error {
	b.mux.Lock()
	subs := b.subs
	b.subs = nil
	b.mux.Unlock()

	var firstErr error
	for _, ps := range subs {
		if err := ps.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	b.wg.Wait()
	return firstErr
}

// MemoryBus delivers events synchronously to in-process subscribers.
type MemoryBus struct {
	log      *zap.Logger
	mux      sync.RWMutex
	handlers map[string][]HandlerFunc
}

func NewMemoryBus(log *zap.Logger) *MemoryBus {
	return &MemoryBus{log: log, handlers: make(map[string][]HandlerFunc)}
}

func (b *MemoryBus) Publish(ctx context.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	b.mux.RLock()
	hs := append([]HandlerFunc(nil), b.handlers[event]...)
	b.mux.RUnlock()

	for _, h := range hs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.log.Error("pubsub handler panicked", zap.String("event", event), zap.Any("panic", r))
				}
			}()
			h(ctx, data)
		}()
	}
	return nil
}

func (b *MemoryBus) Subscribe(_ context.Context, event string, h HandlerFunc) error {
	b.mux.Lock()
	b.handlers[event] = append(b.handlers[event], h)
	b.mux.Unlock()
	return nil
}

func (b *MemoryBus) Close() error {
	b.mux.Lock()
	b.handlers = make(map[string][]HandlerFunc)
	b.mux.Unlock()
	return nil
}

// New returns a RedisBus when rdb is set and a MemoryBus otherwise.
func New(rdb *redis.Client, log *zap.Logger) Bus {
	if rdb != nil {
		return NewRedisBus(rdb, log)
	}
	return NewMemoryBus(log)
}
