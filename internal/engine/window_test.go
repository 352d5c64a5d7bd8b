package engine

import (
	"testing"
	"time"
)

func TestWindow_AppendEvictsOldest(t *testing.T) {
	w := newCandleWindow(3)
	for i := 0; i < 5; i++ {
		w.Append(bar(i, float64(10+i), true))
	}
	if w.Len() != 3 {
		t.Fatalf("len = %d, want 3", w.Len())
	}
	bars := w.Candles()
	for i, want := range []float64{12, 13, 14} {
		if bars[i].Close != want {
			t.Errorf("bars[%d].Close = %v, want %v", i, bars[i].Close, want)
		}
	}
	last, ok := w.Last()
	if !ok || last.Close != 14 {
		t.Errorf("Last = %v, %v", last.Close, ok)
	}
}

func TestWindow_FindAndReplace(t *testing.T) {
	w := newCandleWindow(4)
	for i := 0; i < 6; i++ { // wraps: holds bars 2..5
		w.Append(bar(i, float64(10+i), true))
	}
	idx, ok := w.Find(t0.Add(3 * time.Minute))
	if !ok {
		t.Fatal("bar 3 not found")
	}
	revised := bar(3, 99, true)
	w.ReplaceAt(idx, revised)
	if got := w.At(idx).Close; got != 99 {
		t.Errorf("replaced close = %v, want 99", got)
	}
	if _, ok := w.Find(t0); ok {
		t.Error("evicted bar 0 still found")
	}
}

func TestWindow_Reset(t *testing.T) {
	w := newCandleWindow(2)
	w.Append(bar(0, 10, true))
	w.Reset()
	if w.Len() != 0 {
		t.Errorf("len after reset = %d", w.Len())
	}
	if _, ok := w.Last(); ok {
		t.Error("Last returned a bar after reset")
	}
}
