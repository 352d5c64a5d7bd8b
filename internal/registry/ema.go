package registry

import "github.com/a-dev-mobile/t-indicators/internal/model"

// EMA calculates Exponential Moving Average.
// O(1) per update; no window storage is needed beyond the SMA seed.
type EMA struct {
	period     int
	multiplier float64
	current    float64
	count      int
	sum        float64
}

// NewEMA creates a new EMA instance with the given period.
func NewEMA(period int) *EMA {
	return &EMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

func (e *EMA) Kind() Kind { return KindEMA }

func (e *EMA) Update(c model.Candle) {
	e.updatePrice(c.Close)
}

// updatePrice is the scalar update rule, shared with composite kinds (MACD)
// that smooth derived series rather than candle closes.
func (e *EMA) updatePrice(price float64) {
	e.count++

	if e.count <= e.period {
		// Accumulate for initial SMA seed
		e.sum += price
		if e.count == e.period {
			e.current = e.sum / float64(e.period)
		}
		return
	}

	// EMA formula: EMA = (Price * multiplier) + (EMA_prev * (1 - multiplier))
	e.current = (price * e.multiplier) + (e.current * (1 - e.multiplier))
}

func (e *EMA) Ready() bool    { return e.count >= e.period }
func (e *EMA) value() float64 { return e.current }

func (e *EMA) Outputs() map[string]float64 {
	return map[string]float64{Output: e.current}
}

// Peek computes what Outputs would be with an additional candle without mutating state.
func (e *EMA) Peek(c model.Candle) map[string]float64 {
	return map[string]float64{Output: e.peekPrice(c.Close)}
}

func (e *EMA) peekPrice(price float64) float64 {
	if e.count < e.period {
		// Not fully ready: return a partial estimate using the price
		return (e.sum + price) / float64(e.count+1)
	}
	return (price * e.multiplier) + (e.current * (1 - e.multiplier))
}

// Reset clears the EMA state for replay.
func (e *EMA) Reset() {
	e.current = 0
	e.count = 0
	e.sum = 0
}

// Snapshot serializes the EMA state for checkpoint persistence.
func (e *EMA) Snapshot() Snapshot {
	return Snapshot{
		Kind:       string(KindEMA),
		Params:     map[string]float64{"period": float64(e.period)},
		Multiplier: e.multiplier,
		Current:    e.current,
		Count:      e.count,
		Sum:        e.sum,
	}
}

// Restore loads EMA state from a checkpoint.
func (e *EMA) Restore(snap Snapshot) error {
	if snap.Multiplier != 0 {
		e.multiplier = snap.Multiplier
	}
	e.current = snap.Current
	e.count = snap.Count
	e.sum = snap.Sum
	return nil
}
