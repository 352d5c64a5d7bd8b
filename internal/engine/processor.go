// Package engine owns all indicator state and the rules for advancing it:
// sharded single-writer processing of closed candles, provisional previews
// from forming candles, duplicate/revision/gap handling, and backfill
// recovery from the durable candle store.
package engine

import (
	"context"
	"fmt"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"github.com/a-dev-mobile/t-indicators/internal/metrics"
	"github.com/a-dev-mobile/t-indicators/internal/model"
	"github.com/a-dev-mobile/t-indicators/internal/registry"
)

// Options tunes the processor. Zero values fall back to defaults.
type Options struct {
	Shards    int // shard goroutines; candle keys hash onto these
	QueueSize int // per-shard task queue depth
	Window    int // retained candles per key; must cover the largest MinHistory

	BackfillTimeout     time.Duration // per fetch attempt
	BackfillRetryMax    int           // attempts before giving up
	BackfillBackoffBase time.Duration // doubled per retry
}

func (o Options) withDefaults() Options {
	if o.Shards <= 0 {
		o.Shards = 4
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 1024
	}
	if o.Window <= 0 {
		o.Window = 256
	}
	if o.BackfillTimeout <= 0 {
		o.BackfillTimeout = 5 * time.Second
	}
	if o.BackfillRetryMax <= 0 {
		o.BackfillRetryMax = 8
	}
	if o.BackfillBackoffBase <= 0 {
		o.BackfillBackoffBase = 500 * time.Millisecond
	}
	return o
}

// Processor routes candles and registrations to shard goroutines and fans
// computed values out to the configured sinks. All per-key state is owned by
// exactly one shard; the Processor itself holds no indicator state.
type Processor struct {
	opts    Options
	shards  []*shard
	fetcher model.CandleFetcher // nil disables backfill
	specs   model.SpecStore     // nil disables symbol checks + persistence

	mu    sync.RWMutex
	sinks []model.ValueSink

	// known mirrors registered spec IDs for lock-free existence checks on
	// the query path. Authoritative state lives in the shards.
	known sync.Map

	onEvict func(specID string)
	met     *metrics.Metrics

	runCtx  context.Context
	running bool
	wg      sync.WaitGroup
}

// New creates a processor. fetcher and specs may be nil (backfill and spec
// persistence are then disabled, useful in tests).
func New(opts Options, fetcher model.CandleFetcher, specs model.SpecStore, met *metrics.Metrics) *Processor {
	opts = opts.withDefaults()
	p := &Processor{
		opts:    opts,
		fetcher: fetcher,
		specs:   specs,
		met:     met,
	}
	p.shards = make([]*shard, opts.Shards)
	for i := range p.shards {
		p.shards[i] = &shard{
			id:    i,
			tasks: make(chan func(), opts.QueueSize),
			keys:  make(map[string]*keyState),
			p:     p,
		}
	}
	return p
}

// AddSink attaches a value sink. Safe before or after Run.
func (p *Processor) AddSink(s model.ValueSink) {
	p.mu.Lock()
	p.sinks = append(p.sinks, s)
	p.mu.Unlock()
}

// SetEvictHook installs a callback invoked (on the shard goroutine) when an
// instance is evicted, so callers can drop cache entries.
func (p *Processor) SetEvictHook(fn func(specID string)) {
	p.onEvict = fn
}

// Run starts the shard loops and blocks until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) {
	p.runCtx = ctx
	p.running = true
	for _, s := range p.shards {
		p.wg.Add(1)
		go func(s *shard) {
			defer p.wg.Done()
			s.run(ctx)
		}(s)
	}
	log.Printf("[engine] started %d shards (queue=%d window=%d)",
		p.opts.Shards, p.opts.QueueSize, p.opts.Window)
	<-ctx.Done()
	p.wg.Wait()
	log.Printf("[engine] stopped")
}

// Ingest routes one candle to its owning shard. Returns ErrQueueFull when
// the shard queue is saturated; the caller decides whether to nack/retry.
func (p *Processor) Ingest(c model.Candle) error {
	if err := c.Validate(); err != nil {
		if p.met != nil {
			p.met.CandlesRejected.WithLabelValues("invalid").Inc()
		}
		return err
	}
	s := p.shardFor(c.Key())
	if !s.enqueue(func() { s.ingest(c) }) {
		if p.met != nil {
			p.met.ShardQueueDrops.Inc()
		}
		return fmt.Errorf("shard %d: %w", s.id, model.ErrQueueFull)
	}
	return nil
}

// Registered reports whether a spec ID has a live instance.
func (p *Processor) Registered(specID string) bool {
	_, ok := p.known.Load(specID)
	return ok
}

// Register validates the spec, resolves the symbol against the metadata
// store, persists the registration and creates the instance on its owning
// shard. Idempotent: registering an existing spec is a no-op.
func (p *Processor) Register(ctx context.Context, spec model.Spec) error {
	if !spec.Timeframe.Valid() {
		return fmt.Errorf("%w: unknown timeframe %q", model.ErrValidation, spec.Timeframe)
	}
	calc, err := registry.New(registry.Kind(spec.Kind), spec.Params)
	if err != nil {
		return err
	}
	if p.specs != nil {
		ok, err := p.specs.SymbolExists(ctx, spec.Symbol)
		if err != nil {
			return fmt.Errorf("resolve symbol %q: %w", spec.Symbol, err)
		}
		if !ok {
			return fmt.Errorf("%w: unknown symbol %q", model.ErrNotFound, spec.Symbol)
		}
	}

	id := spec.ID()
	if _, loaded := p.known.LoadOrStore(id, struct{}{}); loaded {
		return nil
	}
	if p.specs != nil {
		if err := p.specs.SaveSpec(ctx, spec); err != nil {
			log.Printf("[engine] persist spec %s: %v", id, err)
		}
	}

	minHist := registry.MinHistory(registry.Kind(spec.Kind), spec.Params)
	s := p.shardFor(spec.Key())
	done := make(chan struct{})
	ok := s.enqueue(func() {
		s.register(spec, calc, minHist)
		close(done)
	})
	if !ok {
		p.known.Delete(id)
		if p.met != nil {
			p.met.ShardQueueDrops.Inc()
		}
		return fmt.Errorf("register %s: %w", id, model.ErrQueueFull)
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Touch marks a spec as recently queried so the retention sweep keeps it.
// Best-effort: dropped silently if the shard queue is full.
func (p *Processor) Touch(spec model.Spec) {
	id := spec.ID()
	s := p.shardFor(spec.Key())
	s.enqueue(func() { s.touch(spec.Key(), id) })
}

// EvictIdle removes instances not touched by a candle or query since the
// cutoff. Returns the number evicted. Blocks until all shards have swept.
func (p *Processor) EvictIdle(ctx context.Context, cutoff time.Time) int {
	total := 0
	for _, s := range p.shards {
		replyCh := make(chan int, 1)
		s := s
		if !s.enqueue(func() { replyCh <- s.evictIdle(cutoff) }) {
			continue
		}
		select {
		case n := <-replyCh:
			total += n
		case <-ctx.Done():
			return total
		}
	}
	return total
}

func (p *Processor) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return p.shards[int(h.Sum32())%len(p.shards)]
}

func (p *Processor) publish(v model.Value) {
	p.mu.RLock()
	sinks := p.sinks
	p.mu.RUnlock()
	for _, s := range sinks {
		s.Publish(v)
	}
}
