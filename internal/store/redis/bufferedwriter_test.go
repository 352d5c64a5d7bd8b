package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/a-dev-mobile/t-indicators/internal/model"
)

// stubWriter fails a configurable number of writeBatch calls, then records.
type stubWriter struct {
	mu      sync.Mutex
	fails   int
	written []model.Value
}

func (s *stubWriter) writeBatch(_ context.Context, values []model.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fails > 0 {
		s.fails--
		return errors.New("write failed")
	}
	s.written = append(s.written, values...)
	return nil
}

func (s *stubWriter) writtenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.written)
}

func testValue(id string, provisional bool) model.Value {
	return model.Value{
		SpecID: id, Name: "SMA_3", Symbol: "AAPL", Timeframe: model.TF1m,
		TS:          time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC),
		Outputs:     map[string]float64{"value": 12},
		Status:      model.StatusReady,
		Provisional: provisional,
	}
}

func TestBufferedWriter_BuffersWhileOpen(t *testing.T) {
	sw := &stubWriter{fails: 2}
	cb := NewCircuitBreaker(2, time.Hour) // no reset during the test
	bw := NewBufferedWriter(sw, cb, nil, 100)

	ctx := context.Background()
	// trip the breaker
	bw.WriteBatch(ctx, []model.Value{testValue("a", false)})
	bw.WriteBatch(ctx, []model.Value{testValue("a", false)})
	if cb.CurrentState() != StateOpen {
		t.Fatal("breaker should be open")
	}

	// committed values buffer; provisional ones are discarded
	if err := bw.WriteBatch(ctx, []model.Value{
		testValue("a", false),
		testValue("a", true),
	}); err != nil {
		t.Fatalf("buffered write returned error: %v", err)
	}
	if bw.PendingCount() != 1 {
		t.Errorf("pending = %d, want 1 (provisional must not buffer)", bw.PendingCount())
	}
}

func TestBufferedWriter_FlushesOnClose(t *testing.T) {
	sw := &stubWriter{fails: 1}
	cb := NewCircuitBreaker(1, 20*time.Millisecond)
	bw := NewBufferedWriter(sw, cb, nil, 100)

	ctx := context.Background()
	bw.WriteBatch(ctx, []model.Value{testValue("a", false)}) // trips
	bw.WriteBatch(ctx, []model.Value{testValue("b", false)}) // buffered
	if bw.PendingCount() != 1 {
		t.Fatalf("pending = %d, want 1", bw.PendingCount())
	}

	// after the reset timeout a successful probe closes the breaker, which
	// flushes the buffer asynchronously
	time.Sleep(30 * time.Millisecond)
	if err := bw.WriteBatch(ctx, []model.Value{testValue("c", false)}); err != nil {
		t.Fatalf("probe write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for bw.PendingCount() > 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if bw.PendingCount() != 0 {
		t.Fatal("buffer not flushed after breaker closed")
	}
	if got := sw.writtenCount(); got != 2 { // probe value + flushed value
		t.Errorf("written = %d, want 2", got)
	}
}

func TestBufferedWriter_DropsOldestBeyondCap(t *testing.T) {
	sw := &stubWriter{fails: 1}
	cb := NewCircuitBreaker(1, time.Hour)
	bw := NewBufferedWriter(sw, cb, nil, 2)

	ctx := context.Background()
	bw.WriteBatch(ctx, []model.Value{testValue("a", false)}) // trips
	for _, id := range []string{"b", "c", "d"} {
		bw.WriteBatch(ctx, []model.Value{testValue(id, false)})
	}
	if bw.PendingCount() != 2 {
		t.Errorf("pending = %d, want 2", bw.PendingCount())
	}
}
