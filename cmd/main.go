package main

import (
	"channels/backend/internal/api/handler"
	"channels/backend/internal/chathub"
	"channels/backend/internal/config"
	"channels/backend/internal/logging"
	"channels/backend/internal/memstore"
	"channels/backend/internal/metrics"
	"channels/backend/internal/presence"
	"channels/backend/internal/pubsub"
	"channels/backend/internal/queue"
	"channels/backend/internal/storage"
	"channels/backend/internal/worker"
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// connectRedis returns nil when Redis is not configured, or when it is
// unreachable in auto mode so the server falls back to in-process backends.
func connectRedis(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*redis.Client, error) {
	if !cfg.RedisEnabled() {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		if cfg.Queue.Mode == config.QueueRedis {
			return nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		logger.Warn("redis unreachable, using in-memory queue and pubsub", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		return nil, nil
	}
	return rdb, nil
}

func run(ctx context.Context) error {
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	db, err := storage.Open(cfg.Postgres.DatabaseURL, !cfg.IsProduction())
	if err != nil {
		return err
	}
	store := storage.NewStorageService(db, nil)
	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("database check: %w", err)
	}
	if err := storage.Migrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	rdb, err := connectRedis(ctx, cfg, logger)
	if err != nil {
		return err
	}
	store.Redis = rdb

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	q := queue.New(cfg.Queue, rdb, logger)
	bus := pubsub.New(rdb, logger)
	w := worker.New(store, bus, logger, m)

	fallback := memstore.New(config.CacheLimit)
	var cache chathub.Cache = fallback
	if rdb != nil {
		cache = storage.NewRedisCache(rdb, config.CacheLimit)
	}

	registry := presence.NewRegistry()
	defer registry.Close()

	hub := chathub.NewManagerService(chathub.Deps{
		Storage:   store,
		Queue:     q,
		Persister: w,
		Cache:     cache,
		Fallback:  fallback,
		Bus:       bus,
		Presence:  registry,
		Metrics:   m,
		Log:       logger,
	})
	if err := hub.StartPubSubListener(ctx); err != nil {
		return err
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	h := handler.NewHandler(hub, store, q, handler.Options{
		JWTSecret: cfg.JWTSecret,
		JWTTTL:    cfg.JWTTTL,
		Gatherer:  reg,
		Log:       logger,
	})
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gCtx)
		return nil
	})
	g.Go(func() error {
		return w.Start(gCtx, q)
	})
	if cfg.Sweep.Enabled {
		sweeper, err := worker.NewSweeper(store, bus, logger, cfg.Sweep.Cron, cfg.Sweep.InactiveAfter)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return sweeper.Run(gCtx)
		})
	}
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr), zap.String("queue", q.Mode()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", zap.Error(err))
		}
		if err := q.Shutdown(shutdownCtx); err != nil {
			logger.Warn("queue shutdown", zap.Error(err))
		}
		if err := bus.Close(); err != nil {
			logger.Warn("pubsub close", zap.Error(err))
		}
		if rdb != nil {
			_ = rdb.Close()
		}
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
		return nil
	})

	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("server: %v", err)
	}
}
