// Package redis is the fan-out side of the write-through path (pipelined
// XADD + SET latest + PUBLISH per committed value, PUBLISH only for
// provisional ones) and the consumer-group reader for the candle feed.
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/a-dev-mobile/t-indicators/internal/metrics"
	"github.com/a-dev-mobile/t-indicators/internal/model"
)

const defaultLatestTTL = 30 * time.Minute

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string
	Password string
	DB       int
}

// Writer publishes indicator values to Redis.
type Writer struct {
	client *goredis.Client
	met    *metrics.Metrics
}

// NewWriter connects and pings the server.
func NewWriter(cfg WriterConfig, met *metrics.Metrics) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Writer{client: client, met: met}, nil
}

// Client returns the underlying client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// writeBatch writes a batch of values in one pipeline roundtrip.
// Committed values get XADD + SET latest + PUBLISH; provisional values are
// PUBLISH-only so they never enter the durable stream.
func (w *Writer) writeBatch(ctx context.Context, values []model.Value) error {
	if len(values) == 0 {
		return nil
	}
	start := time.Now()
	pipe := w.client.Pipeline()
	for i := range values {
		v := &values[i]
		if v.Outputs == nil && !v.Provisional {
			continue // warming/stale status markers are served from cache only
		}
		jsonData := string(v.JSON())
		channel := v.PubSubChannel()

		if v.Provisional {
			pipe.Publish(ctx, channel, jsonData)
			continue
		}
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: v.StreamKey(),
			MaxLen: streamMaxLen(v.Timeframe),
			Approx: true,
			Values: map[string]interface{}{"data": jsonData},
		})
		pipe.Set(ctx, v.LatestKey(), jsonData, defaultLatestTTL)
		pipe.Publish(ctx, channel, jsonData)
	}
	_, err := pipe.Exec(ctx)
	if w.met != nil {
		w.met.RedisWriteDur.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return fmt.Errorf("value batch pipeline (%d values): %w", len(values), err)
	}
	return nil
}

// streamMaxLen keeps roughly three days of bars per stream, floor 200.
func streamMaxLen(tf model.Timeframe) int64 {
	step := tf.Duration()
	if step <= 0 {
		return 200
	}
	n := int64((72 * time.Hour) / step)
	if n < 200 {
		n = 200
	}
	return n
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
