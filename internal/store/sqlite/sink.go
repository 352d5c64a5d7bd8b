package sqlite

import (
	"log"

	"github.com/a-dev-mobile/t-indicators/internal/model"
)

// Sink adapts persistence to model.ValueSink. Publish enqueues committed
// values only; provisional values and status markers never hit disk. A
// Store.RunValues goroutine drains the channel.
type Sink struct {
	ch chan model.Value
}

// NewSink creates a sink with the given queue depth.
func NewSink(queueSize int) *Sink {
	if queueSize <= 0 {
		queueSize = 4096
	}
	return &Sink{ch: make(chan model.Value, queueSize)}
}

// Publish enqueues a committed value, dropping it when the queue is full.
func (s *Sink) Publish(v model.Value) {
	if v.Provisional || v.Outputs == nil {
		return
	}
	select {
	case s.ch <- v:
	default:
		log.Printf("[sqlite] sink queue full, dropping value %s", v.SpecID)
	}
}

// Values returns the channel to hand to Store.RunValues.
func (s *Sink) Values() <-chan model.Value {
	return s.ch
}
