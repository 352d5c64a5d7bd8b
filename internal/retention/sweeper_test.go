package retention

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type countingEngine struct{ calls int32 }

func (e *countingEngine) EvictIdle(context.Context, time.Time) int {
	atomic.AddInt32(&e.calls, 1)
	return 1
}

type countingPruner struct{ calls int32 }

func (p *countingPruner) PruneBefore(context.Context, time.Time) (int64, error) {
	atomic.AddInt32(&p.calls, 1)
	return 3, nil
}

func TestSweeper_RunsBothTasks(t *testing.T) {
	eng := &countingEngine{}
	pr := &countingPruner{}
	s := NewSweeper(eng, pr, time.Hour, time.Hour)

	if err := s.Start(time.Second); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for atomic.LoadInt32(&eng.calls) == 0 || atomic.LoadInt32(&pr.calls) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("sweep did not run: evict=%d prune=%d",
				atomic.LoadInt32(&eng.calls), atomic.LoadInt32(&pr.calls))
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestSweeper_NilPruner(t *testing.T) {
	eng := &countingEngine{}
	s := NewSweeper(eng, nil, time.Hour, 0)
	s.sweep()
	if atomic.LoadInt32(&eng.calls) != 1 {
		t.Fatal("evict not called")
	}
}
