package pubsub_test

import (
	"channels/backend/internal/pubsub"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type event struct {
	ID string `json:"id"`
}

func exercise(t *testing.T, bus pubsub.Bus) {
	ctx := context.Background()
	got := make(chan event, 1)
	require.NoError(t, bus.Subscribe(ctx, "message:persisted", func(_ context.Context, b []byte) {
		var e event
		if assert.NoError(t, json.Unmarshal(b, &e)) {
			got <- e
		}
	}))
	require.NoError(t, bus.Subscribe(ctx, "other", func(context.Context, []byte) {
		panic("must not be called")
	}))

	require.NoError(t, bus.Publish(ctx, "message:persisted", event{ID: "m1"}))

	select {
	case e := <-got:
		assert.Equal(t, "m1", e.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
	require.NoError(t, bus.Close())
}

func TestMemoryBus(t *testing.T) {
	exercise(t, pubsub.New(nil, zap.NewNop()))
}

func TestRedisBus(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	bus := pubsub.New(rdb, zap.NewNop())
	_, ok := bus.(*pubsub.RedisBus)
	require.True(t, ok)
	exercise(t, bus)
}

func TestMemoryBus_PanicIsContained(t *testing.T) {
	bus := pubsub.NewMemoryBus(zap.NewNop())
	ctx := context.Background()
	calls := 0
	_ = bus.Subscribe(ctx, "e", func(context.Context, []byte) { panic("x") })
	_ = bus.Subscribe(ctx, "e", func(context.Context, []byte) { calls++ })

	require.NoError(t, bus.Publish(ctx, "e", map[string]string{}))
	assert.Equal(t, 1, calls)
}
