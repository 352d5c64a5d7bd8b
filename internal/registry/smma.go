package registry

import "github.com/a-dev-mobile/t-indicators/internal/model"

// SMMA calculates Smoothed Moving Average (Wilder-style smoothing).
// First value is SMA(period), then SMMA = (prev*(period-1) + price) / period.
type SMMA struct {
	period  int
	count   int
	sum     float64
	current float64
}

// NewSMMA creates a new SMMA instance with the given period.
func NewSMMA(period int) *SMMA {
	return &SMMA{period: period}
}

func (s *SMMA) Kind() Kind { return KindSMMA }

func (s *SMMA) Update(c model.Candle) {
	price := c.Close
	s.count++

	if s.count <= s.period {
		// Accumulate for initial SMA seed
		s.sum += price
		if s.count == s.period {
			s.current = s.sum / float64(s.period)
		}
		return
	}

	// Wilder-style smoothing
	s.current = (s.current*float64(s.period-1) + price) / float64(s.period)
}

func (s *SMMA) Ready() bool { return s.count >= s.period }

func (s *SMMA) Outputs() map[string]float64 {
	return map[string]float64{Output: s.current}
}

// Peek computes what Outputs would be with an additional candle without mutating state.
func (s *SMMA) Peek(c model.Candle) map[string]float64 {
	price := c.Close
	if s.count < s.period {
		return map[string]float64{Output: (s.sum + price) / float64(s.count+1)}
	}
	return map[string]float64{Output: (s.current*float64(s.period-1) + price) / float64(s.period)}
}

// Reset clears the SMMA state for replay.
func (s *SMMA) Reset() {
	s.count = 0
	s.sum = 0
	s.current = 0
}

// Snapshot serializes the SMMA state for checkpoint persistence.
func (s *SMMA) Snapshot() Snapshot {
	return Snapshot{
		Kind:    string(KindSMMA),
		Params:  map[string]float64{"period": float64(s.period)},
		Count:   s.count,
		Sum:     s.sum,
		Current: s.current,
	}
}

// Restore loads SMMA state from a checkpoint.
func (s *SMMA) Restore(snap Snapshot) error {
	s.count = snap.Count
	s.sum = snap.Sum
	s.current = snap.Current
	return nil
}
