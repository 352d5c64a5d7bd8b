package engine

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"

	"github.com/a-dev-mobile/t-indicators/internal/model"
)

// backfillReq captures the immutable parameters of one fetch attempt so the
// fetch goroutine never reads shard-owned state.
type backfillReq struct {
	key    string
	symbol string
	tf     model.Timeframe
	upTo   time.Time
	count  int
}

// scheduleBackfill arms one fetch attempt for the key after the given delay.
// Must be called on the owning shard goroutine. No-op when a fetch is
// already outstanding, the retry budget is spent, or no fetcher is wired.
func (p *Processor) scheduleBackfill(s *shard, ks *keyState, delay time.Duration) {
	if p.fetcher == nil || ks.inflight || ks.retries >= p.opts.BackfillRetryMax {
		return
	}
	ks.inflight = true
	req := backfillReq{
		key:    ks.key,
		symbol: ks.symbol,
		tf:     ks.tf,
		upTo:   lastKnownTime(ks),
		count:  backfillLimit(ks),
	}
	if delay <= 0 {
		go p.runBackfill(s, req)
		return
	}
	time.AfterFunc(delay, func() { go p.runBackfill(s, req) })
}

// lastKnownTime is the newest bar open time the key has seen, committed or
// pending. The fetch reads history up to and including this point.
func lastKnownTime(ks *keyState) time.Time {
	t := ks.watermark
	if n := len(ks.pending); n > 0 && ks.pending[n-1].OpenTime.After(t) {
		t = ks.pending[n-1].OpenTime
	}
	if t.IsZero() {
		t = time.Now()
	}
	return t
}

// runBackfill performs the fetch off the shard goroutine and hands the
// result back as a shard task, so all state mutation stays single-writer.
func (p *Processor) runBackfill(s *shard, req backfillReq) {
	start := time.Now()
	parent := p.runCtx
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, p.opts.BackfillTimeout)
	bars, err := p.fetcher.Fetch(ctx, req.symbol, req.tf, req.upTo, req.count)
	cancel()

	if p.met != nil {
		p.met.BackfillDur.Observe(time.Since(start).Seconds())
	}

	apply := func() { s.completeBackfill(req.key, bars, err) }
	for !s.enqueue(apply) {
		// shard saturated; the result is already paid for, keep trying
		select {
		case <-parent.Done():
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// completeBackfill runs on the shard goroutine: on success it rebuilds the
// key from fetched + pending bars; on failure it arms the next retry with
// exponential backoff, or gives up leaving the key stale.
func (s *shard) completeBackfill(key string, bars []model.Candle, err error) {
	ks := s.keys[key]
	if ks == nil {
		return // evicted while the fetch was in flight
	}
	ks.inflight = false

	if err == nil {
		merged := mergeContiguous(bars, ks.pending, ks.step, backfillLimit(ks))
		if len(merged) < ks.minHistory() {
			// contiguous history shorter than the warmup requirement; a
			// rebuild now would clear the stale flag on instances that
			// still cannot produce values
			err = model.ErrBackfillFailed
		} else {
			s.rebuild(ks, merged)
			if s.p.met != nil {
				s.p.met.BackfillsTotal.WithLabelValues("ok").Inc()
			}
			return
		}
	}

	ks.retries++
	result := "fetch_error"
	if errors.Is(err, context.DeadlineExceeded) {
		result = "timeout"
	}
	if ks.retries >= s.p.opts.BackfillRetryMax {
		result = "exhausted"
		log.Printf("[backfill] %s: giving up after %d attempts: %v", key, ks.retries, err)
	} else {
		delay := s.p.opts.BackfillBackoffBase << (ks.retries - 1)
		log.Printf("[backfill] %s: attempt %d failed (%v), retrying in %s", key, ks.retries, err, delay)
		s.p.scheduleBackfill(s, ks, delay)
	}
	if s.p.met != nil {
		s.p.met.BackfillsTotal.WithLabelValues(result).Inc()
	}
}

// rebuild resets every instance on the key and replays the recovered bars,
// clearing the stale flag. Equivalent to a fresh registration over the same
// history, so the resulting state matches a never-desynced instance.
func (s *shard) rebuild(ks *keyState, bars []model.Candle) {
	ks.window.Reset()
	for _, b := range bars {
		ks.window.Append(b)
	}
	ks.watermark = bars[len(bars)-1].OpenTime
	wasStale := ks.stale
	ks.stale = false
	ks.pending = nil
	ks.retries = 0

	for _, in := range ks.instances {
		in.calc.Reset()
		for _, b := range bars {
			in.calc.Update(b)
			if in.calc.Ready() {
				in.status = model.StatusReady
			} else {
				in.status = model.StatusWarming
			}
			s.p.publish(in.committedValue(b.OpenTime))
		}
	}
	if wasStale && s.p.met != nil {
		s.p.met.StaleInstances.Sub(float64(len(ks.instances)))
	}
	log.Printf("[backfill] %s: rebuilt from %d bars, watermark=%s",
		ks.key, len(bars), ks.watermark.Format(time.RFC3339))
}

// backfillLimit is how many bars a fetch asks for: the retained window, or
// more when an instance's warmup requirement exceeds it.
func backfillLimit(ks *keyState) int {
	limit := ks.window.Cap()
	if m := ks.minHistory(); m > limit {
		limit = m
	}
	return limit
}

// mergeContiguous overlays pending bars onto fetched history (pending wins
// on open-time collision, it is fresher) and returns the longest contiguous
// suffix, capped at limit bars. An empty result means the recovered history
// still has holes.
func mergeContiguous(fetched, pending []model.Candle, step time.Duration, limit int) []model.Candle {
	byTime := make(map[int64]model.Candle, len(fetched)+len(pending))
	for _, c := range fetched {
		byTime[c.OpenTime.UnixNano()] = c
	}
	for _, c := range pending {
		byTime[c.OpenTime.UnixNano()] = c
	}
	if len(byTime) == 0 {
		return nil
	}
	all := make([]model.Candle, 0, len(byTime))
	for _, c := range byTime {
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].OpenTime.Before(all[j].OpenTime) })

	// walk backward while bars stay step-contiguous
	start := len(all) - 1
	for start > 0 && all[start-1].OpenTime.Add(step).Equal(all[start].OpenTime) {
		start--
	}
	suffix := all[start:]
	if len(suffix) > limit {
		suffix = suffix[len(suffix)-limit:]
	}
	return suffix
}
