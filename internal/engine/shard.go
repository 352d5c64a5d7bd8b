package engine

import (
	"context"
	"log"
	"time"

	"github.com/a-dev-mobile/t-indicators/internal/model"
	"github.com/a-dev-mobile/t-indicators/internal/registry"
)

// instance is one live indicator computation bound to a spec.
type instance struct {
	spec      model.Spec
	id        string
	calc      registry.Instance
	minHist   int
	status    model.Status
	lastTouch time.Time
}

// keyState holds everything a shard owns for one symbol+timeframe: the
// retained candle window, the commit watermark and the instances listening
// on that series. Invariant: the window holds exactly the contiguous bars
// the instances have committed, newest last.
type keyState struct {
	key    string
	symbol string
	tf     model.Timeframe
	step   time.Duration

	watermark time.Time // OpenTime of the last committed bar; zero before the first
	window    *candleWindow
	instances map[string]*instance

	// correction state
	stale    bool
	pending  []model.Candle // closed bars received while stale, ascending
	inflight bool           // a backfill fetch is outstanding
	retries  int
}

// shard owns a disjoint set of candle keys. All mutation happens on its run
// goroutine; external callers only enqueue.
type shard struct {
	id    int
	tasks chan func()
	keys  map[string]*keyState
	p     *Processor
}

func (s *shard) enqueue(fn func()) bool {
	select {
	case s.tasks <- fn:
		return true
	default:
		return false
	}
}

func (s *shard) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			// drain what is already queued so accepted candles are not lost
			for {
				select {
				case fn := <-s.tasks:
					fn()
				default:
					return
				}
			}
		case fn := <-s.tasks:
			fn()
		}
	}
}

// ingest handles one validated candle for a key this shard owns.
func (s *shard) ingest(c model.Candle) {
	ks := s.keys[c.Key()]
	if ks == nil {
		// no registered specs for this series
		if s.p.met != nil {
			s.p.met.CandlesRejected.WithLabelValues("unregistered").Inc()
		}
		return
	}
	if !c.Closed {
		s.peek(ks, c)
		return
	}
	if s.p.met != nil {
		s.p.met.CandlesIngested.WithLabelValues(string(c.Timeframe)).Inc()
	}
	s.applyClosed(ks, c)
}

// applyClosed classifies a closed bar against the watermark: next-bar commit,
// duplicate, revision or gap.
func (s *shard) applyClosed(ks *keyState, c model.Candle) {
	if ks.stale {
		s.bufferPending(ks, c)
		return
	}

	switch {
	case ks.watermark.IsZero() || c.OpenTime.Equal(ks.watermark.Add(ks.step)):
		s.commit(ks, c)

	case !c.OpenTime.After(ks.watermark):
		idx, ok := ks.window.Find(c.OpenTime)
		if !ok {
			if oldest, has := ks.window.First(); has && c.OpenTime.Before(oldest.OpenTime) {
				// older than anything retained: an at-least-once feed
				// redelivering ancient bars, not a correction we can apply
				if s.p.met != nil {
					s.p.met.CandlesRejected.WithLabelValues("aged_out").Inc()
				}
				return
			}
			s.markStale(ks, c, "revision beyond retained window")
			return
		}
		prev := ks.window.At(idx)
		if prev.Equal(&c) {
			if s.p.met != nil {
				s.p.met.DuplicateCandles.Inc()
			}
			return
		}
		ks.window.ReplaceAt(idx, c)
		s.recompute(ks, idx)

	default:
		// gap: at least one bar between watermark and this one never arrived
		s.markStale(ks, c, "gap")
	}
}

// commit advances the series by one contiguous bar and publishes the
// resulting committed values.
func (s *shard) commit(ks *keyState, c model.Candle) {
	start := time.Now()
	ks.watermark = c.OpenTime
	ks.window.Append(c)
	for _, in := range ks.instances {
		in.calc.Update(c)
		in.lastTouch = start
		if in.status == model.StatusWarming && in.calc.Ready() {
			in.status = model.StatusReady
		}
		s.p.publish(in.committedValue(c.OpenTime))
		if s.p.met != nil {
			s.p.met.ValuesComputed.Inc()
		}
	}
	if s.p.met != nil {
		s.p.met.ComputeDur.Observe(time.Since(start).Seconds())
	}
}

// recompute replays the full retained window after an in-window revision,
// republishing every bar from the revised one forward so downstream series
// carry the corrected values. Bounded by the window capacity, so still
// O(window) worst case.
func (s *shard) recompute(ks *keyState, from int) {
	start := time.Now()
	bars := ks.window.Candles()
	for _, in := range ks.instances {
		in.calc.Reset()
		for i, b := range bars {
			in.calc.Update(b)
			if i < from {
				continue
			}
			if in.calc.Ready() {
				in.status = model.StatusReady
			} else {
				in.status = model.StatusWarming
			}
			s.p.publish(in.committedValue(b.OpenTime))
		}
	}
	if s.p.met != nil {
		s.p.met.Revisions.Inc()
		s.p.met.RecomputeDur.Observe(time.Since(start).Seconds())
	}
}

// peek publishes provisional values for a forming bar. Never mutates
// indicator state and never touches the watermark.
func (s *shard) peek(ks *keyState, c model.Candle) {
	if ks.stale || !c.OpenTime.After(ks.watermark) {
		return
	}
	for _, in := range ks.instances {
		if !in.calc.Ready() {
			continue
		}
		outs := in.calc.Peek(c)
		s.p.publish(model.Value{
			SpecID:      in.id,
			Name:        in.spec.Name(),
			Symbol:      in.spec.Symbol,
			Timeframe:   in.spec.Timeframe,
			TS:          c.OpenTime,
			Outputs:     outs,
			Status:      in.status,
			Provisional: true,
		})
		if s.p.met != nil {
			s.p.met.ProvisionalValues.Inc()
		}
	}
}

// markStale flags every instance on the key, buffers the triggering bar and
// kicks off backfill. Values stay flagged stale until a rebuild succeeds.
func (s *shard) markStale(ks *keyState, c model.Candle, reason string) {
	if !ks.stale {
		ks.stale = true
		for _, in := range ks.instances {
			in.status = model.StatusStale
			s.p.publish(in.committedValue(ks.watermark))
		}
		if s.p.met != nil {
			s.p.met.StaleInstances.Add(float64(len(ks.instances)))
		}
		log.Printf("[engine] %s stale (%s): open_time=%s watermark=%s",
			ks.key, reason, c.OpenTime.Format(time.RFC3339), ks.watermark.Format(time.RFC3339))
	}
	s.bufferPending(ks, c)
	s.p.scheduleBackfill(s, ks, 0)
}

// minHistory is the largest warmup requirement across the key's instances.
func (ks *keyState) minHistory() int {
	m := 1
	for _, in := range ks.instances {
		if in.minHist > m {
			m = in.minHist
		}
	}
	return m
}

// bufferPending keeps closed bars that arrive while the key is stale so the
// rebuild can reapply them. Bounded by the window capacity.
func (s *shard) bufferPending(ks *keyState, c model.Candle) {
	for i, pc := range ks.pending {
		if pc.OpenTime.Equal(c.OpenTime) {
			ks.pending[i] = c
			return
		}
	}
	ks.pending = append(ks.pending, c)
	if len(ks.pending) > ks.window.Cap() {
		ks.pending = ks.pending[len(ks.pending)-ks.window.Cap():]
	}
	// a fresh bar after an exhausted retry budget restarts recovery
	if !ks.inflight && ks.retries >= s.p.opts.BackfillRetryMax {
		ks.retries = 0
		s.p.scheduleBackfill(s, ks, 0)
	}
}

// register creates the instance, warming it from the retained window when
// possible. A window shorter than the warmup requirement triggers backfill.
func (s *shard) register(spec model.Spec, calc registry.Instance, minHist int) {
	key := spec.Key()
	ks := s.keys[key]
	if ks == nil {
		ks = &keyState{
			key:       key,
			symbol:    spec.Symbol,
			tf:        spec.Timeframe,
			step:      spec.Timeframe.Duration(),
			window:    newCandleWindow(s.p.opts.Window),
			instances: make(map[string]*instance),
		}
		s.keys[key] = ks
	}
	id := spec.ID()
	if _, exists := ks.instances[id]; exists {
		return
	}
	in := &instance{
		spec:      spec,
		id:        id,
		calc:      calc,
		minHist:   minHist,
		status:    model.StatusWarming,
		lastTouch: time.Now(),
	}
	for _, b := range ks.window.Candles() {
		in.calc.Update(b)
	}
	if in.calc.Ready() {
		in.status = model.StatusReady
	}
	if ks.stale {
		in.status = model.StatusStale
		if s.p.met != nil {
			s.p.met.StaleInstances.Inc()
		}
	}
	ks.instances[id] = in
	if s.p.met != nil {
		s.p.met.ActiveInstances.Inc()
	}
	s.p.publish(in.committedValue(ks.watermark))

	if !ks.stale && ks.window.Len() < minHist && s.p.fetcher != nil {
		// not enough retained history; warm the whole key from the store
		s.p.scheduleBackfill(s, ks, 0)
	}
	log.Printf("[engine] registered %s (min_history=%d window=%d)", id, minHist, ks.window.Len())
}

func (s *shard) touch(key, id string) {
	ks := s.keys[key]
	if ks == nil {
		return
	}
	if in := ks.instances[id]; in != nil {
		in.lastTouch = time.Now()
	}
}

// evictIdle drops instances whose lastTouch is before the cutoff.
func (s *shard) evictIdle(cutoff time.Time) int {
	evicted := 0
	for key, ks := range s.keys {
		for id, in := range ks.instances {
			if in.lastTouch.After(cutoff) {
				continue
			}
			delete(ks.instances, id)
			s.p.known.Delete(id)
			if in.status == model.StatusStale && s.p.met != nil {
				s.p.met.StaleInstances.Dec()
			}
			if s.p.met != nil {
				s.p.met.ActiveInstances.Dec()
				s.p.met.EvictedTotal.Inc()
			}
			if s.p.onEvict != nil {
				s.p.onEvict(id)
			}
			evicted++
		}
		if len(ks.instances) == 0 {
			delete(s.keys, key)
		}
	}
	return evicted
}

// committedValue builds the Value published for the instance's current
// state. Outputs are withheld until the instance is Ready; a Stale instance
// keeps reporting its last outputs, flagged.
func (in *instance) committedValue(ts time.Time) model.Value {
	var outs map[string]float64
	if in.calc.Ready() {
		outs = in.calc.Outputs()
	}
	return model.Value{
		SpecID:    in.id,
		Name:      in.spec.Name(),
		Symbol:    in.spec.Symbol,
		Timeframe: in.spec.Timeframe,
		TS:        ts,
		Outputs:   outs,
		Status:    in.status,
	}
}
