package config

import (
	"context"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Queue modes accepted by QUEUE_MODE.
const (
	QueueAuto   = "auto"
	QueueRedis  = "redis"
	QueueMemory = "memory"
)

type Config struct {
	Env       string        `env:"ENV,default=dev"`
	HTTPAddr  string        `env:"HTTP_ADDR,default=:8080"`
	LogLevel  string        `env:"LOG_LEVEL,default=info"`
	JWTSecret string        `env:"JWT_SECRET,default=dev-secret"`
	JWTTTL    time.Duration `env:"JWT_TTL,default=24h"`

	Postgres struct {
		DatabaseURL string `env:"DATABASE_URL,required"`
	}
	Redis struct {
		Addr     string `env:"REDIS_ADDR"`
		Password string `env:"REDIS_PASSWORD"`
		DB       int    `env:"REDIS_DB,default=0"`
	}
	Queue QueueConfig
	Sweep struct {
		Enabled       bool          `env:"SWEEP_ENABLED,default=true"`
		Cron          string        `env:"SWEEP_CRON,default=0 3 * * *"`
		InactiveAfter time.Duration `env:"SWEEP_INACTIVE_AFTER,default=17520h"`
	}
}

type QueueConfig struct {
	Mode          string        `env:"QUEUE_MODE,default=auto"`
	Name          string        `env:"QUEUE_NAME,default=messages"`
	Concurrency   int           `env:"QUEUE_CONCURRENCY,default=5"`
	RatePerSecond int           `env:"QUEUE_RATE,default=50"`
	Attempts      int           `env:"QUEUE_ATTEMPTS,default=5"`
	Backoff       time.Duration `env:"QUEUE_BACKOFF,default=3s"`
	JobTimeout    time.Duration `env:"QUEUE_JOB_TIMEOUT,default=30s"`
	Retention     time.Duration `env:"QUEUE_RETENTION,default=24h"`
	BufferSize    int           `env:"QUEUE_BUFFER,default=1024"`
}

// Load reads an optional .env file and then the process environment.
func Load(ctx context.Context) (*Config, error) {
	_ = godotenv.Load()
	return load(ctx, envconfig.OsLookuper())
}

// LoadFrom is Load with an explicit source, used by tests and the admin CLI.
func LoadFrom(ctx context.Context, env map[string]string) (*Config, error) {
	return load(ctx, envconfig.MapLookuper(env))
}

func load(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}
	if err := envconfig.ProcessWith(ctx, cfg, l); err != nil {
		return nil, fmt.Errorf("parsing env vars: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Queue.Mode {
	case QueueAuto, QueueMemory:
	case QueueRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("QUEUE_MODE=redis requires REDIS_ADDR")
		}
	default:
		return fmt.Errorf("unknown QUEUE_MODE %q", c.Queue.Mode)
	}
	if c.Queue.Concurrency < 1 {
		return fmt.Errorf("QUEUE_CONCURRENCY must be positive")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "prod"
}

func (c *Config) RedisEnabled() bool {
	return c.Redis.Addr != "" && c.Queue.Mode != QueueMemory
}
