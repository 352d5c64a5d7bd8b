package registry

import (
	"fmt"

	"github.com/a-dev-mobile/t-indicators/internal/model"
)

// MACD calculates Moving Average Convergence/Divergence: the difference of a
// fast and a slow EMA, plus a signal EMA over that difference and the
// macd-signal histogram. Multi-output: macd / signal / histogram.
type MACD struct {
	fastPeriod   int
	slowPeriod   int
	signalPeriod int

	fast   *EMA
	slow   *EMA
	signal *EMA // smooths the macd line, not candle closes

	line float64
}

// NewMACD creates a new MACD instance. fast must be < slow.
func NewMACD(fast, slow, signal int) *MACD {
	return &MACD{
		fastPeriod:   fast,
		slowPeriod:   slow,
		signalPeriod: signal,
		fast:         NewEMA(fast),
		slow:         NewEMA(slow),
		signal:       NewEMA(signal),
	}
}

func (m *MACD) Kind() Kind { return KindMACD }

func (m *MACD) Update(c model.Candle) {
	price := c.Close
	m.fast.updatePrice(price)
	m.slow.updatePrice(price)

	// The macd line exists only once the slow EMA is seeded; the signal EMA
	// smooths the line series itself.
	if m.fast.Ready() && m.slow.Ready() {
		m.line = m.fast.value() - m.slow.value()
		m.signal.updatePrice(m.line)
	}
}

func (m *MACD) Ready() bool { return m.signal.Ready() }

func (m *MACD) Outputs() map[string]float64 {
	sig := m.signal.value()
	return map[string]float64{
		"macd":      m.line,
		"signal":    sig,
		"histogram": m.line - sig,
	}
}

// Peek computes what Outputs would be with an additional candle without mutating state.
func (m *MACD) Peek(c model.Candle) map[string]float64 {
	price := c.Close
	line := m.fast.peekPrice(price) - m.slow.peekPrice(price)
	sig := m.signal.peekPrice(line)
	return map[string]float64{
		"macd":      line,
		"signal":    sig,
		"histogram": line - sig,
	}
}

// Reset clears the MACD state for replay.
func (m *MACD) Reset() {
	m.fast.Reset()
	m.slow.Reset()
	m.signal.Reset()
	m.line = 0
}

// Snapshot serializes the MACD state for checkpoint persistence.
func (m *MACD) Snapshot() Snapshot {
	return Snapshot{
		Kind: string(KindMACD),
		Params: map[string]float64{
			"fast":   float64(m.fastPeriod),
			"slow":   float64(m.slowPeriod),
			"signal": float64(m.signalPeriod),
		},
		Current:  m.line,
		Children: []Snapshot{m.fast.Snapshot(), m.slow.Snapshot(), m.signal.Snapshot()},
	}
}

// Restore loads MACD state from a checkpoint.
func (m *MACD) Restore(snap Snapshot) error {
	if len(snap.Children) != 3 {
		return fmt.Errorf("macd snapshot: expected 3 component states, got %d", len(snap.Children))
	}
	if err := m.fast.Restore(snap.Children[0]); err != nil {
		return err
	}
	if err := m.slow.Restore(snap.Children[1]); err != nil {
		return err
	}
	if err := m.signal.Restore(snap.Children[2]); err != nil {
		return err
	}
	m.line = snap.Current
	return nil
}
