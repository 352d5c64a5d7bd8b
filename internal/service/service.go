// Package service is the top-level orchestrator. It wires configuration,
// stores, the indicator engine, sinks and the serving facade, and manages
// startup, checkpointing and graceful shutdown.
package service

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/a-dev-mobile/t-indicators/internal/cache"
	"github.com/a-dev-mobile/t-indicators/internal/config"
	"github.com/a-dev-mobile/t-indicators/internal/engine"
	"github.com/a-dev-mobile/t-indicators/internal/gateway"
	"github.com/a-dev-mobile/t-indicators/internal/meta"
	"github.com/a-dev-mobile/t-indicators/internal/metrics"
	"github.com/a-dev-mobile/t-indicators/internal/model"
	"github.com/a-dev-mobile/t-indicators/internal/retention"
	redisstore "github.com/a-dev-mobile/t-indicators/internal/store/redis"
	sqlitestore "github.com/a-dev-mobile/t-indicators/internal/store/sqlite"
)

const (
	breakerMaxFailures  = 5
	breakerResetTimeout = 10 * time.Second
	redisBufferCap      = 10000
	redisSinkQueue      = 4096
	sqliteSinkQueue     = 4096
	candleQueue         = 4096
	reclaimInterval     = time.Minute
	reclaimMinIdle      = 5 * time.Minute
)

// Service owns every subsystem of the indicator process.
type Service struct {
	cfg *config.Config
	met *metrics.Metrics

	meta *meta.Store // nil without PG_DSN
	sql  *sqlitestore.Store

	redisWriter *redisstore.Writer
	buffered    *redisstore.BufferedWriter
	redisSink   *redisstore.Sink
	consumer    *redisstore.Consumer

	cache *cache.Cache
	proc  *engine.Processor
	hub   *gateway.Hub
	api   *gateway.Server

	sqlSink  *sqlitestore.Sink
	candleCh chan model.Candle

	sweeper *retention.Sweeper
	httpSrv *http.Server
	streams []string
}

// New connects all backing stores and assembles the engine and its sinks.
func New(cfg *config.Config) (*Service, error) {
	svc := &Service{
		cfg:      cfg,
		met:      metrics.New(),
		candleCh: make(chan model.Candle, candleQueue),
	}

	var err error
	if cfg.Postgres.DSN != "" {
		svc.meta, err = meta.Open(meta.Config{
			DSN:          cfg.Postgres.DSN,
			MaxOpenConns: cfg.Postgres.MaxOpenConns,
			MaxIdleConns: cfg.Postgres.MaxIdleConns,
		})
		if err != nil {
			return nil, fmt.Errorf("metadata store: %w", err)
		}
	} else {
		log.Println("[service] PG_DSN not set, running without symbol metadata")
	}

	os.MkdirAll(filepath.Dir(cfg.SQLite.Path), 0o755)
	svc.sql, err = sqlitestore.Open(sqlitestore.Config{Path: cfg.SQLite.Path}, svc.met)
	if err != nil {
		svc.closeStores()
		return nil, fmt.Errorf("sqlite store: %w", err)
	}

	svc.redisWriter, err = redisstore.NewWriter(redisstore.WriterConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, svc.met)
	if err != nil {
		svc.closeStores()
		return nil, fmt.Errorf("redis writer: %w", err)
	}
	breaker := redisstore.NewCircuitBreaker(breakerMaxFailures, breakerResetTimeout)
	svc.buffered = redisstore.NewBufferedWriter(svc.redisWriter, breaker, svc.met, redisBufferCap)
	svc.redisSink = redisstore.NewSink(svc.buffered, redisSinkQueue, svc.met)

	svc.consumer, err = redisstore.NewConsumer(redisstore.ConsumerConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Group:    cfg.Redis.Group,
		Name:     cfg.Redis.Consumer,
	}, svc.met)
	if err != nil {
		svc.redisWriter.Close()
		svc.closeStores()
		return nil, fmt.Errorf("redis consumer: %w", err)
	}

	// A nil *meta.Store must stay a nil interface inside the engine.
	var specs model.SpecStore
	if svc.meta != nil {
		specs = svc.meta
	}

	svc.cache = cache.New(cfg.Engine.CacheWindow)
	svc.proc = engine.New(engine.Options{
		Shards:              cfg.Engine.ShardCount,
		QueueSize:           cfg.Engine.ShardQueueSize,
		Window:              cfg.Engine.RetainedWindow,
		BackfillTimeout:     cfg.Engine.BackfillTimeout,
		BackfillRetryMax:    cfg.Engine.BackfillRetryMax,
		BackfillBackoffBase: cfg.Engine.BackfillBackoffBase,
	}, svc.sql, specs, svc.met)

	svc.hub = gateway.NewHub(svc.proc, svc.cache, svc.met)
	svc.sqlSink = sqlitestore.NewSink(sqliteSinkQueue)

	// Write-through order: cache first so queries see a value before any
	// durable write lands.
	svc.proc.AddSink(svc.cache)
	svc.proc.AddSink(svc.hub)
	svc.proc.AddSink(svc.redisSink)
	svc.proc.AddSink(svc.sqlSink)
	svc.proc.SetEvictHook(svc.cache.Evict)

	var symbols gateway.SymbolLister
	if svc.meta != nil {
		symbols = svc.meta
	}
	svc.api = gateway.NewServer(svc.hub, svc.sql, symbols)
	svc.api.AddProbe("redis", func(ctx context.Context) error {
		return svc.redisWriter.Client().Ping(ctx).Err()
	})
	svc.api.AddProbe("sqlite", func(ctx context.Context) error {
		return svc.sql.DB().PingContext(ctx)
	})
	if svc.meta != nil {
		svc.api.AddProbe("postgres", svc.meta.Health)
	}

	svc.sweeper = retention.NewSweeper(svc.proc, svc.sql, cfg.Retention.Idle, cfg.Retention.PruneAfter)
	return svc, nil
}

// Run starts all subsystems and blocks until ctx is cancelled.
func (svc *Service) Run(ctx context.Context) error {
	log.Println("[service] starting indicator service...")

	// Restore must happen before the shard loops start.
	if cp, ok, err := svc.sql.LoadCheckpoint(ctx); err != nil {
		log.Printf("[service] checkpoint load error: %v", err)
	} else if ok {
		if err := svc.proc.Restore(cp); err != nil {
			log.Printf("[service] checkpoint restore error: %v", err)
		} else {
			log.Printf("[service] restored engine state from checkpoint (%s)",
				cp.TakenAt.Format(time.RFC3339))
		}
	}

	// The engine outlives ctx slightly so the final checkpoint can still
	// reach the shard goroutines.
	engineCtx, stopEngine := context.WithCancel(context.Background())
	defer stopEngine()
	go svc.proc.Run(engineCtx)

	svc.registerPersistedSpecs(ctx)

	streams, err := svc.buildStreams()
	if err != nil {
		return err
	}
	svc.streams = streams
	log.Printf("[service] consuming %d candle streams: %v", len(streams), streams)

	if len(streams) > 0 {
		if err := svc.consumer.EnsureGroups(ctx, streams); err != nil {
			return fmt.Errorf("consumer groups: %w", err)
		}
		if err := svc.consumer.RecoverPending(ctx, streams, svc.ingest); err != nil {
			log.Printf("[service] pending recovery error: %v", err)
		}
		go svc.consumer.Run(ctx, streams, svc.ingest)
		go svc.consumer.StartReclaimer(ctx, streams, reclaimInterval, reclaimMinIdle, svc.ingest)
	}

	go svc.sql.RunValues(ctx, svc.sqlSink.Values())
	go svc.sql.RunCandles(ctx, svc.candleCh)
	go svc.redisSink.Run(ctx)
	go svc.checkpointLoop(ctx)

	if err := svc.sweeper.Start(svc.cfg.Retention.SweepInterval); err != nil {
		return err
	}

	mux := http.NewServeMux()
	svc.api.RegisterRoutes(mux)
	svc.httpSrv = &http.Server{Addr: svc.cfg.HTTP.Addr, Handler: mux}
	go func() {
		log.Printf("[service] http listening on %s", svc.cfg.HTTP.Addr)
		if err := svc.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[service] http server error: %v", err)
		}
	}()

	log.Println("[service] all systems running")
	<-ctx.Done()

	svc.shutdown(stopEngine)
	return nil
}

// ingest feeds one candle to the engine and tees closed bars into the
// durable candle log that backfill reads from.
func (svc *Service) ingest(c model.Candle) error {
	err := svc.proc.Ingest(c)
	if err == nil && c.Closed {
		select {
		case svc.candleCh <- c:
		default:
		}
	}
	return err
}

// registerPersistedSpecs re-registers every spec saved in the metadata store.
func (svc *Service) registerPersistedSpecs(ctx context.Context) {
	if svc.meta == nil {
		return
	}
	specs, err := svc.meta.LoadSpecs(ctx)
	if err != nil {
		log.Printf("[service] load persisted specs: %v", err)
		return
	}
	restored := 0
	for _, spec := range specs {
		if err := svc.proc.Register(ctx, spec); err != nil {
			log.Printf("[service] re-register %s: %v", spec.ID(), err)
			continue
		}
		restored++
	}
	if restored > 0 {
		log.Printf("[service] re-registered %d persisted specs", restored)
	}
}

func (svc *Service) buildStreams() ([]string, error) {
	series, err := svc.cfg.Series()
	if err != nil {
		return nil, err
	}
	streams := make([]string, 0, len(series))
	for _, s := range series {
		streams = append(streams, redisstore.CandleStream(s.Symbol, s.Timeframe))
	}
	return streams, nil
}

// checkpointLoop persists engine state periodically so a restart resumes
// series without replaying all history.
func (svc *Service) checkpointLoop(ctx context.Context) {
	interval := svc.cfg.Retention.SnapshotInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			svc.saveCheckpoint()
		}
	}
}

func (svc *Service) saveCheckpoint() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	start := time.Now()
	cp, err := svc.proc.Checkpoint(ctx)
	if err != nil {
		log.Printf("[service] checkpoint error: %v", err)
		return
	}
	if err := svc.sql.SaveCheckpoint(cp); err != nil {
		log.Printf("[service] checkpoint save error: %v", err)
		return
	}
	svc.met.SnapshotDur.Observe(time.Since(start).Seconds())
}

// shutdown saves a final checkpoint while the shards are still running,
// then stops everything in dependency order.
func (svc *Service) shutdown(stopEngine context.CancelFunc) {
	log.Println("[service] shutdown signal received, saving final checkpoint...")
	svc.saveCheckpoint()
	stopEngine()

	svc.sweeper.Stop()

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if svc.httpSrv != nil {
		svc.httpSrv.Shutdown(shutCtx)
	}

	svc.consumer.Close()
	svc.redisWriter.Close()
	svc.closeStores()
	log.Println("[service] shutdown complete")
}

func (svc *Service) closeStores() {
	if svc.sql != nil {
		svc.sql.Close()
	}
	if svc.meta != nil {
		svc.meta.Close()
	}
}
