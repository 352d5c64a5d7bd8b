package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/a-dev-mobile/t-indicators/internal/model"
	"github.com/a-dev-mobile/t-indicators/internal/registry"
)

// InstanceCheckpoint is the persisted state of one indicator instance.
type InstanceCheckpoint struct {
	Spec   model.Spec        `json:"spec"`
	State  registry.Snapshot `json:"state"`
	Status model.Status      `json:"status"`
}

// KeyCheckpoint is the persisted state of one candle series.
type KeyCheckpoint struct {
	Watermark time.Time            `json:"watermark"`
	Window    []model.Candle       `json:"window"`
	Instances []InstanceCheckpoint `json:"instances"`
}

// Checkpoint is a point-in-time image of all engine state, periodically
// persisted so a restart resumes from the watermark instead of a cold warmup.
type Checkpoint struct {
	TakenAt time.Time                `json:"taken_at"`
	Keys    map[string]KeyCheckpoint `json:"keys"`
}

// Checkpoint gathers a consistent image from every shard. Each shard
// serializes its keys on its own goroutine, so no candle is half-applied in
// the result.
func (p *Processor) Checkpoint(ctx context.Context) (Checkpoint, error) {
	cp := Checkpoint{TakenAt: time.Now(), Keys: make(map[string]KeyCheckpoint)}
	for _, s := range p.shards {
		replyCh := make(chan map[string]KeyCheckpoint, 1)
		s := s
		if !s.enqueue(func() { replyCh <- s.checkpoint() }) {
			return Checkpoint{}, fmt.Errorf("checkpoint shard %d: %w", s.id, model.ErrQueueFull)
		}
		select {
		case part := <-replyCh:
			for k, v := range part {
				cp.Keys[k] = v
			}
		case <-ctx.Done():
			return Checkpoint{}, ctx.Err()
		}
	}
	return cp, nil
}

func (s *shard) checkpoint() map[string]KeyCheckpoint {
	out := make(map[string]KeyCheckpoint, len(s.keys))
	for key, ks := range s.keys {
		kc := KeyCheckpoint{
			Watermark: ks.watermark,
			Window:    ks.window.Candles(),
			Instances: make([]InstanceCheckpoint, 0, len(ks.instances)),
		}
		for _, in := range ks.instances {
			kc.Instances = append(kc.Instances, InstanceCheckpoint{
				Spec:   in.spec,
				State:  in.calc.Snapshot(),
				Status: in.status,
			})
		}
		out[key] = kc
	}
	return out
}

// Restore rebuilds engine state from a checkpoint. Must be called before
// Run: it writes shard maps directly on the caller's goroutine. Corrupt
// entries are skipped and reported, never fatal.
func (p *Processor) Restore(cp Checkpoint) error {
	if p.running {
		return fmt.Errorf("restore: engine already running")
	}
	var firstErr error
	for key, kc := range cp.Keys {
		if len(kc.Instances) == 0 {
			continue
		}
		tf := kc.Instances[0].Spec.Timeframe
		s := p.shardFor(key)
		ks := &keyState{
			key:       key,
			symbol:    kc.Instances[0].Spec.Symbol,
			tf:        tf,
			step:      tf.Duration(),
			watermark: kc.Watermark,
			window:    newCandleWindow(p.opts.Window),
			instances: make(map[string]*instance),
		}
		for _, b := range kc.Window {
			ks.window.Append(b)
		}
		for _, ic := range kc.Instances {
			calc, err := registry.FromSnapshot(ic.State)
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("restore %s: %w", ic.Spec.ID(), err)
				}
				continue
			}
			id := ic.Spec.ID()
			ks.instances[id] = &instance{
				spec:      ic.Spec,
				id:        id,
				calc:      calc,
				minHist:   registry.MinHistory(registry.Kind(ic.Spec.Kind), ic.Spec.Params),
				status:    ic.Status,
				lastTouch: time.Now(),
			}
			p.known.Store(id, struct{}{})
			if p.met != nil {
				p.met.ActiveInstances.Inc()
			}
		}
		if len(ks.instances) > 0 {
			s.keys[key] = ks
		}
	}
	return firstErr
}
