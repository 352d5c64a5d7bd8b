package registry

import (
	"math"

	"github.com/a-dev-mobile/t-indicators/internal/model"
)

// BBands calculates Bollinger Bands: an SMA middle band with upper/lower
// bands at mult standard deviations. Keeps a rolling sum and sum of squares
// for O(1) updates. Multi-output: upper / middle / lower.
type BBands struct {
	period int
	mult   float64

	buf   []float64
	idx   int
	count int
	sum   float64
	sumSq float64
}

// NewBBands creates a new Bollinger Bands instance.
func NewBBands(period int, mult float64) *BBands {
	return &BBands{
		period: period,
		mult:   mult,
		buf:    make([]float64, period),
	}
}

func (b *BBands) Kind() Kind { return KindBBands }

func (b *BBands) Update(c model.Candle) {
	price := c.Close
	if b.count >= b.period {
		old := b.buf[b.idx]
		b.sum -= old
		b.sumSq -= old * old
	}
	b.buf[b.idx] = price
	b.sum += price
	b.sumSq += price * price
	b.idx = (b.idx + 1) % b.period
	b.count++
}

func (b *BBands) Ready() bool { return b.count >= b.period }

func (b *BBands) Outputs() map[string]float64 {
	return b.bands(b.sum, b.sumSq)
}

// Peek computes what Outputs would be with an additional candle without mutating state.
func (b *BBands) Peek(c model.Candle) map[string]float64 {
	price := c.Close
	if b.count < b.period {
		// Partial window including the peeked price
		n := float64(b.count + 1)
		sum := b.sum + price
		sumSq := b.sumSq + price*price
		return b.bandsN(sum, sumSq, n)
	}
	old := b.buf[b.idx]
	return b.bands(b.sum-old+price, b.sumSq-old*old+price*price)
}

func (b *BBands) bands(sum, sumSq float64) map[string]float64 {
	return b.bandsN(sum, sumSq, float64(b.period))
}

func (b *BBands) bandsN(sum, sumSq, n float64) map[string]float64 {
	mean := sum / n
	variance := sumSq/n - mean*mean
	if variance < 0 {
		variance = 0 // floating-point cancellation guard
	}
	dev := b.mult * math.Sqrt(variance)
	return map[string]float64{
		"upper":  mean + dev,
		"middle": mean,
		"lower":  mean - dev,
	}
}

// Reset clears the band state for replay.
func (b *BBands) Reset() {
	b.idx = 0
	b.count = 0
	b.sum = 0
	b.sumSq = 0
	for i := range b.buf {
		b.buf[i] = 0
	}
}

// Snapshot serializes the band state for checkpoint persistence.
func (b *BBands) Snapshot() Snapshot {
	bufCopy := make([]float64, len(b.buf))
	copy(bufCopy, b.buf)
	return Snapshot{
		Kind:   string(KindBBands),
		Params: map[string]float64{"period": float64(b.period), "mult": b.mult},
		Buf:    bufCopy,
		Idx:    b.idx,
		Count:  b.count,
		Sum:    b.sum,
		SumSq:  b.sumSq,
	}
}

// Restore loads band state from a checkpoint.
func (b *BBands) Restore(snap Snapshot) error {
	b.idx = snap.Idx
	b.count = snap.Count
	b.sum = snap.Sum
	b.sumSq = snap.SumSq
	if len(snap.Buf) > 0 {
		b.buf = make([]float64, len(snap.Buf))
		copy(b.buf, snap.Buf)
	} else {
		b.buf = make([]float64, b.period)
	}
	return nil
}
