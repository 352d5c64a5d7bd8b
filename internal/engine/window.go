package engine

import (
	"time"

	"github.com/a-dev-mobile/t-indicators/internal/model"
)

// candleWindow is a fixed-capacity ordered window of committed candles for
// one symbol+timeframe. When full, Append overwrites the oldest bar. It is
// owned by a single shard goroutine, so no locks are needed.
type candleWindow struct {
	buf   []model.Candle
	start int // index of the oldest bar
	n     int
}

func newCandleWindow(capacity int) *candleWindow {
	if capacity < 1 {
		capacity = 1
	}
	return &candleWindow{buf: make([]model.Candle, capacity)}
}

// Append adds a bar, evicting the oldest when full.
func (w *candleWindow) Append(c model.Candle) {
	if w.n == len(w.buf) {
		w.buf[w.start] = c
		w.start = (w.start + 1) % len(w.buf)
		return
	}
	w.buf[(w.start+w.n)%len(w.buf)] = c
	w.n++
}

func (w *candleWindow) Len() int { return w.n }

func (w *candleWindow) Cap() int { return len(w.buf) }

// At returns the bar at logical index i (0 = oldest).
func (w *candleWindow) At(i int) model.Candle {
	return w.buf[(w.start+i)%len(w.buf)]
}

// First returns the oldest bar, if any.
func (w *candleWindow) First() (model.Candle, bool) {
	if w.n == 0 {
		return model.Candle{}, false
	}
	return w.At(0), true
}

// Last returns the newest bar, if any.
func (w *candleWindow) Last() (model.Candle, bool) {
	if w.n == 0 {
		return model.Candle{}, false
	}
	return w.At(w.n - 1), true
}

// Find locates the bar with the given open time. Scans backward since
// revisions overwhelmingly target recent bars.
func (w *candleWindow) Find(openTime time.Time) (int, bool) {
	for i := w.n - 1; i >= 0; i-- {
		if w.At(i).OpenTime.Equal(openTime) {
			return i, true
		}
	}
	return 0, false
}

// ReplaceAt overwrites the bar at logical index i.
func (w *candleWindow) ReplaceAt(i int, c model.Candle) {
	w.buf[(w.start+i)%len(w.buf)] = c
}

// Candles returns the window contents oldest-first as a fresh slice.
func (w *candleWindow) Candles() []model.Candle {
	out := make([]model.Candle, w.n)
	for i := 0; i < w.n; i++ {
		out[i] = w.At(i)
	}
	return out
}

// Reset empties the window.
func (w *candleWindow) Reset() {
	w.start, w.n = 0, 0
}
