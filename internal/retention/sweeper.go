// Package retention evicts idle indicator instances and prunes old persisted
// rows on a schedule.
package retention

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Engine is the eviction surface of the indicator processor.
type Engine interface {
	EvictIdle(ctx context.Context, cutoff time.Time) int
}

// Pruner deletes persisted rows older than a cutoff.
type Pruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper runs the retention tasks on a cron schedule.
type Sweeper struct {
	cron       *cron.Cron
	engine     Engine
	pruner     Pruner // nil disables durable-store pruning
	idle       time.Duration
	pruneAfter time.Duration
}

// NewSweeper creates a sweeper. Instances untouched for idle are evicted;
// persisted rows older than pruneAfter are deleted.
func NewSweeper(engine Engine, pruner Pruner, idle, pruneAfter time.Duration) *Sweeper {
	return &Sweeper{
		cron:       cron.New(),
		engine:     engine,
		pruner:     pruner,
		idle:       idle,
		pruneAfter: pruneAfter,
	}
}

// Start schedules the sweep at the given interval and starts the scheduler.
func (s *Sweeper) Start(interval time.Duration) error {
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", interval), s.sweep); err != nil {
		return fmt.Errorf("register retention sweep: %w", err)
	}
	s.cron.Start()
	log.Printf("[retention] sweeper started (every %s, idle %s)", interval, s.idle)
	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
	log.Println("[retention] sweeper stopped")
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	evicted := s.engine.EvictIdle(ctx, time.Now().Add(-s.idle))
	if evicted > 0 {
		log.Printf("[retention] evicted %d idle instances", evicted)
	}

	if s.pruner == nil || s.pruneAfter <= 0 {
		return
	}
	rows, err := s.pruner.PruneBefore(ctx, time.Now().Add(-s.pruneAfter))
	if err != nil {
		log.Printf("[retention] prune error: %v", err)
		return
	}
	if rows > 0 {
		log.Printf("[retention] pruned %d persisted rows", rows)
	}
}
