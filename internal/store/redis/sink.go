package redis

import (
	"context"
	"log"

	"github.com/a-dev-mobile/t-indicators/internal/metrics"
	"github.com/a-dev-mobile/t-indicators/internal/model"
)

// Sink adapts the Redis write path to model.ValueSink. Publish only
// enqueues, so engine shards never wait on the network; a background loop
// drains the queue and writes coalesced pipeline batches.
type Sink struct {
	bw  *BufferedWriter
	ch  chan model.Value
	met *metrics.Metrics
}

// NewSink creates a sink with the given queue depth.
func NewSink(bw *BufferedWriter, queueSize int, met *metrics.Metrics) *Sink {
	if queueSize <= 0 {
		queueSize = 4096
	}
	return &Sink{
		bw:  bw,
		ch:  make(chan model.Value, queueSize),
		met: met,
	}
}

// Publish enqueues a value, dropping it when the queue is saturated.
// Dropping beats blocking an engine shard.
func (s *Sink) Publish(v model.Value) {
	select {
	case s.ch <- v:
	default:
		log.Printf("[redis] sink queue full, dropping value %s", v.SpecID)
	}
}

// Run drains the queue until ctx is cancelled, coalescing queued values
// into one pipeline write per wakeup.
func (s *Sink) Run(ctx context.Context) {
	const maxBatch = 256
	batch := make([]model.Value, 0, maxBatch)
	for {
		select {
		case <-ctx.Done():
			return
		case v := <-s.ch:
			batch = append(batch[:0], v)
			for len(batch) < maxBatch {
				select {
				case v := <-s.ch:
					batch = append(batch, v)
				default:
					goto write
				}
			}
		write:
			if err := s.bw.WriteBatch(ctx, batch); err != nil && ctx.Err() == nil {
				log.Printf("[redis] write batch: %v", err)
			}
		}
	}
}
