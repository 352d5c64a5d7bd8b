package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/a-dev-mobile/t-indicators/internal/metrics"
	"github.com/a-dev-mobile/t-indicators/internal/model"
)

// ConsumerConfig configures the candle-stream consumer.
type ConsumerConfig struct {
	Addr     string
	Password string
	DB       int
	Group    string // consumer group name
	Name     string // unique consumer name, e.g. hostname
}

// Consumer reads candles from Redis Streams via consumer groups and hands
// them to the engine. Messages are acked only after the engine accepts
// them, so a crash replays unacked candles (at-least-once; the engine's
// duplicate handling absorbs redelivery).
type Consumer struct {
	client *goredis.Client
	group  string
	name   string
	met    *metrics.Metrics
}

// CandleStream returns the stream key carrying candles for one series.
func CandleStream(symbol string, tf model.Timeframe) string {
	return "candles:" + string(tf) + ":" + symbol
}

// NewConsumer connects and pings the server.
func NewConsumer(cfg ConsumerConfig, met *metrics.Metrics) (*Consumer, error) {
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

	group := cfg.Group
	if group == "" {
		group = "indicators"
	}
	name := cfg.Name
	if name == "" {
		name = "worker-1"
	}
	log.Printf("[consumer] connected to %s (group=%s, consumer=%s)", cfg.Addr, group, name)
	return &Consumer{client: client, group: group, name: name, met: met}, nil
}

// EnsureGroups creates the consumer group on each stream if missing. New
// groups start at "$" (only new messages).
func (c *Consumer) EnsureGroups(ctx context.Context, streams []string) error {
	for _, stream := range streams {
		err := c.client.XGroupCreateMkStream(ctx, stream, c.group, "$").Err()
		if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
			return fmt.Errorf("xgroup create %s: %w", stream, err)
		}
	}
	return nil
}

// Run blocks on XREADGROUP and feeds decoded candles to ingest until ctx is
// cancelled. A candle is acked once ingest accepts it; ErrQueueFull leaves
// it pending for redelivery.
func (c *Consumer) Run(ctx context.Context, streams []string, ingest func(model.Candle) error) error {
	args := make([]string, len(streams)*2)
	for i, s := range streams {
		args[i] = s
		args[len(streams)+i] = ">"
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		results, err := c.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.name,
			Streams:  args,
			Count:    100,
			Block:    2 * time.Second,
		}).Result()
		if err != nil {
			if err == goredis.Nil || ctx.Err() != nil {
				continue
			}
			log.Printf("[consumer] xreadgroup error: %v", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range results {
			for _, msg := range stream.Messages {
				c.handle(ctx, stream.Stream, msg, ingest)
			}
		}
	}
}

// handle decodes and ingests one message, acking on success or on any
// non-retryable error so poison messages don't wedge the PEL.
func (c *Consumer) handle(ctx context.Context, stream string, msg goredis.XMessage, ingest func(model.Candle) error) {
	data, ok := msg.Values["data"].(string)
	if !ok {
		c.client.XAck(ctx, stream, c.group, msg.ID)
		return
	}
	var candle model.Candle
	if err := json.Unmarshal([]byte(data), &candle); err != nil {
		log.Printf("[consumer] unmarshal candle from %s: %v", stream, err)
		if c.met != nil {
			c.met.CandlesRejected.WithLabelValues("decode").Inc()
		}
		c.client.XAck(ctx, stream, c.group, msg.ID)
		return
	}

	err := ingest(candle)
	if errors.Is(err, model.ErrQueueFull) {
		// leave unacked; the reclaimer or a restart redelivers it
		return
	}
	// validation errors are already counted by the engine; never redeliver
	c.client.XAck(ctx, stream, c.group, msg.ID)
}

// RecoverPending replays this consumer's unacked messages from a previous
// crash before normal consumption starts.
func (c *Consumer) RecoverPending(ctx context.Context, streams []string, ingest func(model.Candle) error) error {
	for _, stream := range streams {
		for {
			pending, err := c.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
				Stream: stream,
				Group:  c.group,
				Start:  "-",
				End:    "+",
				Count:  100,
			}).Result()
			if err != nil || len(pending) == 0 {
				break
			}
			ids := make([]string, len(pending))
			for i, p := range pending {
				ids[i] = p.ID
			}
			claimed, err := c.client.XClaim(ctx, &goredis.XClaimArgs{
				Stream:   stream,
				Group:    c.group,
				Consumer: c.name,
				MinIdle:  0,
				Messages: ids,
			}).Result()
			if err != nil {
				log.Printf("[consumer] xclaim error on %s: %v", stream, err)
				break
			}
			for _, msg := range claimed {
				c.handle(ctx, stream, msg, ingest)
			}
			if len(claimed) < len(ids) {
				break
			}
		}
	}
	return nil
}

// StartReclaimer periodically steals PEL entries idle longer than minIdle
// from dead consumers in the group and reprocesses them. Blocks until ctx
// is cancelled.
func (c *Consumer) StartReclaimer(ctx context.Context, streams []string, interval, minIdle time.Duration, ingest func(model.Candle) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, stream := range streams {
				n, err := c.reclaim(ctx, stream, minIdle, ingest)
				if err != nil {
					log.Printf("[consumer] reclaim error on %s: %v", stream, err)
					continue
				}
				if n > 0 && c.met != nil {
					c.met.PELMessagesReclaimed.Add(float64(n))
				}
			}
		}
	}
}

func (c *Consumer) reclaim(ctx context.Context, stream string, minIdle time.Duration, ingest func(model.Candle) error) (int, error) {
	pending, err := c.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
		Stream: stream,
		Group:  c.group,
		Start:  "-",
		End:    "+",
		Count:  50,
		Idle:   minIdle,
	}).Result()
	if err != nil || len(pending) == 0 {
		return 0, err
	}

	var staleIDs []string
	for _, p := range pending {
		if p.Consumer != c.name {
			staleIDs = append(staleIDs, p.ID)
		}
	}
	if len(staleIDs) == 0 {
		return 0, nil
	}

	claimed, err := c.client.XClaim(ctx, &goredis.XClaimArgs{
		Stream:   stream,
		Group:    c.group,
		Consumer: c.name,
		MinIdle:  minIdle,
		Messages: staleIDs,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("xclaim %s: %w", stream, err)
	}
	for _, msg := range claimed {
		c.handle(ctx, stream, msg, ingest)
	}
	if len(claimed) > 0 {
		log.Printf("[consumer] reclaimed %d stale PEL entries from %s", len(claimed), stream)
	}
	return len(claimed), nil
}

// Client returns the underlying client for health checks.
func (c *Consumer) Client() *goredis.Client { return c.client }

// Close closes the Redis client.
func (c *Consumer) Close() error {
	return c.client.Close()
}
