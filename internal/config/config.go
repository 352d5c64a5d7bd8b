// Package config loads the process configuration from environment variables,
// with an optional .env file for local development.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/a-dev-mobile/t-indicators/internal/model"
)

type Config struct {
	Redis struct {
		Addr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
		Password string `envconfig:"REDIS_PASSWORD"`
		DB       int    `envconfig:"REDIS_DB" default:"0"`
		Group    string `envconfig:"REDIS_GROUP" default:"indicators"`
		Consumer string `envconfig:"REDIS_CONSUMER" default:"worker-1"`
	}

	// Series to consume, comma separated "symbol/tf" pairs,
	// e.g. "BTCUSDT/1m,ETHUSDT/5m".
	CandleSeries string `envconfig:"CANDLE_STREAMS" default:""`

	SQLite struct {
		Path string `envconfig:"SQLITE_PATH" default:"data/indicators.db"`
	}

	Postgres struct {
		DSN          string `envconfig:"PG_DSN"`
		MaxOpenConns int    `envconfig:"PG_MAX_OPEN_CONNS" default:"8"`
		MaxIdleConns int    `envconfig:"PG_MAX_IDLE_CONNS" default:"4"`
	}

	Engine struct {
		ShardCount          int           `envconfig:"SHARD_COUNT" default:"4"`
		ShardQueueSize      int           `envconfig:"SHARD_QUEUE_SIZE" default:"1024"`
		RetainedWindow      int           `envconfig:"RETAINED_WINDOW" default:"256"`
		CacheWindow         int           `envconfig:"CACHE_WINDOW" default:"64"`
		BackfillTimeout     time.Duration `envconfig:"BACKFILL_TIMEOUT" default:"5s"`
		BackfillRetryMax    int           `envconfig:"BACKFILL_RETRY_MAX" default:"8"`
		BackfillBackoffBase time.Duration `envconfig:"BACKFILL_BACKOFF_BASE" default:"500ms"`
	}

	Retention struct {
		Idle             time.Duration `envconfig:"RETENTION_IDLE" default:"1h"`
		SweepInterval    time.Duration `envconfig:"RETENTION_SWEEP_INTERVAL" default:"10m"`
		PruneAfter       time.Duration `envconfig:"RETENTION_PRUNE_AFTER" default:"720h"`
		SnapshotInterval time.Duration `envconfig:"SNAPSHOT_INTERVAL" default:"1m"`
	}

	HTTP struct {
		Addr string `envconfig:"HTTP_ADDR" default:":8080"`
	}

	Log struct {
		Level string `envconfig:"LOG_LEVEL" default:"info"`
	}
}

// Series is one configured candle feed.
type Series struct {
	Symbol    string
	Timeframe model.Timeframe
}

// Series parses CANDLE_STREAMS into symbol/timeframe pairs.
func (c *Config) Series() ([]Series, error) {
	if strings.TrimSpace(c.CandleSeries) == "" {
		return nil, nil
	}
	parts := strings.Split(c.CandleSeries, ",")
	out := make([]Series, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, "/")
		if len(fields) != 2 || fields[0] == "" {
			return nil, fmt.Errorf("invalid CANDLE_STREAMS entry %q, want symbol/tf", part)
		}
		tf, err := model.ParseTimeframe(fields[1])
		if err != nil {
			return nil, fmt.Errorf("invalid CANDLE_STREAMS entry %q: %w", part, err)
		}
		out = append(out, Series{Symbol: fields[0], Timeframe: tf})
	}
	return out, nil
}

func Validate(cfg *Config) error {
	if cfg.Engine.ShardCount < 1 {
		return fmt.Errorf("SHARD_COUNT must be at least 1")
	}
	if cfg.Engine.ShardQueueSize < 1 {
		return fmt.Errorf("SHARD_QUEUE_SIZE must be at least 1")
	}
	if cfg.Engine.RetainedWindow < 1 {
		return fmt.Errorf("RETAINED_WINDOW must be at least 1")
	}
	if cfg.Engine.BackfillRetryMax < 0 {
		return fmt.Errorf("BACKFILL_RETRY_MAX must not be negative")
	}
	if _, err := cfg.Series(); err != nil {
		return err
	}
	return nil
}

// Load reads .env (if present), parses the environment and validates.
func Load() (*Config, error) {
	// .env is optional; environment variables win in production.
	godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}
