package redis

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/a-dev-mobile/t-indicators/internal/metrics"
	"github.com/a-dev-mobile/t-indicators/internal/model"
)

// batchWriter is the write operation guarded by the breaker. *Writer
// satisfies it; tests substitute a stub.
type batchWriter interface {
	writeBatch(ctx context.Context, values []model.Value) error
}

// BufferedWriter wraps the Redis writer with a circuit breaker. While the
// breaker is open, committed values are buffered locally and flushed once
// the breaker closes; provisional values are dropped (the next forming tick
// replaces them anyway).
type BufferedWriter struct {
	writer batchWriter
	cb     *CircuitBreaker
	met    *metrics.Metrics

	mu     sync.Mutex
	buffer []model.Value
	maxBuf int
}

// NewBufferedWriter wraps w. maxBuffer caps local buffering; oldest values
// are dropped beyond it.
func NewBufferedWriter(w batchWriter, cb *CircuitBreaker, met *metrics.Metrics, maxBuffer int) *BufferedWriter {
	if maxBuffer <= 0 {
		maxBuffer = 10000
	}
	bw := &BufferedWriter{
		writer: w,
		cb:     cb,
		met:    met,
		buffer: make([]model.Value, 0, 256),
		maxBuf: maxBuffer,
	}

	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		if met != nil {
			met.RedisCircuitBreakerState.Set(float64(to))
			if to == StateOpen {
				met.RedisCircuitBreakerTrips.Inc()
			}
		}
		if to == StateClosed {
			go bw.flush(context.Background())
		}
	}
	return bw
}

// WriteBatch writes values through the breaker, buffering committed values
// when the breaker is open.
func (bw *BufferedWriter) WriteBatch(ctx context.Context, values []model.Value) error {
	err := bw.cb.Execute(func() error {
		return bw.writer.writeBatch(ctx, values)
	})
	if errors.Is(err, ErrCircuitOpen) {
		bw.bufferCommitted(values)
		return nil
	}
	return err
}

func (bw *BufferedWriter) bufferCommitted(values []model.Value) {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	for _, v := range values {
		if v.Provisional {
			continue
		}
		if len(bw.buffer) >= bw.maxBuf {
			bw.buffer = bw.buffer[1:]
		}
		bw.buffer = append(bw.buffer, v)
		if bw.met != nil {
			bw.met.RedisBufferedWrites.Inc()
		}
	}
}

// flush replays buffered values after the breaker closes.
func (bw *BufferedWriter) flush(ctx context.Context) {
	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return
	}
	toFlush := bw.buffer
	bw.buffer = make([]model.Value, 0, 256)
	bw.mu.Unlock()

	if err := bw.writer.writeBatch(ctx, toFlush); err != nil {
		log.Printf("[redis] flush of %d buffered values failed: %v", len(toFlush), err)
		return
	}
	log.Printf("[redis] flushed %d buffered values", len(toFlush))
}

// PendingCount returns how many values await flushing.
func (bw *BufferedWriter) PendingCount() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}
