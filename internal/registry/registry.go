// Package registry is the closed catalog of indicator kinds. Each kind has a
// parameter schema (Validate), a warmup requirement (MinHistory) and a pure
// incremental update rule (Instance.Update) that extends the series by one
// closed candle without re-reading history.
package registry

import (
	"fmt"
	"math"

	"github.com/a-dev-mobile/t-indicators/internal/model"
)

// Kind names one supported indicator formula.
type Kind string

const (
	KindSMA    Kind = "sma"
	KindEMA    Kind = "ema"
	KindSMMA   Kind = "smma"
	KindRSI    Kind = "rsi"
	KindMACD   Kind = "macd"
	KindBBands Kind = "bbands"
)

// Output is the output name used by single-output kinds.
const Output = "value"

// Kinds returns all supported kinds.
func Kinds() []Kind {
	return []Kind{KindSMA, KindEMA, KindSMMA, KindRSI, KindMACD, KindBBands}
}

// Instance is one live indicator computation. It owns only the sufficient
// statistics needed to extend the series by one bar. Update commits a closed
// candle; Peek previews a forming candle without mutating state.
type Instance interface {
	Kind() Kind

	// Update feeds one closed candle and recalculates. O(1) per call.
	Update(c model.Candle)

	// Ready reports whether the minimum history requirement is satisfied.
	Ready() bool

	// Outputs returns the current named outputs. Single-output kinds use
	// the "value" key. Values are undefined until Ready.
	Outputs() map[string]float64

	// Peek computes what Outputs would be if this candle were committed
	// next, WITHOUT mutating internal state. Used for provisional values
	// from forming candles.
	Peek(c model.Candle) map[string]float64

	// Reset clears all accumulated state for replay.
	Reset()

	// Snapshot serializes state for checkpoint persistence.
	Snapshot() Snapshot

	// Restore loads state from a checkpoint.
	Restore(snap Snapshot) error
}

// Snapshot holds the serialized state of one indicator instance.
type Snapshot struct {
	Kind   string             `json:"kind"`
	Params map[string]float64 `json:"params,omitempty"`

	Buf     []float64 `json:"buf,omitempty"`
	Idx     int       `json:"idx,omitempty"`
	Count   int       `json:"count"`
	Sum     float64   `json:"sum,omitempty"`
	SumSq   float64   `json:"sum_sq,omitempty"`
	Current float64   `json:"current"`

	// EMA
	Multiplier float64 `json:"multiplier,omitempty"`

	// RSI
	PrevClose float64 `json:"prev_close,omitempty"`
	AvgGain   float64 `json:"avg_gain,omitempty"`
	AvgLoss   float64 `json:"avg_loss,omitempty"`

	// Composite kinds (MACD) nest their component states.
	Children []Snapshot `json:"children,omitempty"`
}

// Validate checks kind-specific parameter constraints.
func Validate(kind Kind, params map[string]float64) error {
	switch kind {
	case KindSMA, KindEMA, KindSMMA, KindRSI:
		_, err := intParam(params, "period")
		return err
	case KindMACD:
		fast, err := intParam(params, "fast")
		if err != nil {
			return err
		}
		slow, err := intParam(params, "slow")
		if err != nil {
			return err
		}
		if _, err := intParam(params, "signal"); err != nil {
			return err
		}
		if fast >= slow {
			return fmt.Errorf("%w: macd fast period %d must be less than slow period %d",
				model.ErrValidation, fast, slow)
		}
		return nil
	case KindBBands:
		if _, err := intParam(params, "period"); err != nil {
			return err
		}
		mult, ok := params["mult"]
		if !ok || mult <= 0 {
			return fmt.Errorf("%w: bbands mult must be > 0", model.ErrValidation)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown indicator kind %q", model.ErrValidation, kind)
	}
}

// MinHistory returns the number of closed candles the kind needs before its
// output is trustworthy (the Warming → Ready boundary).
func MinHistory(kind Kind, params map[string]float64) int {
	switch kind {
	case KindSMA, KindEMA, KindSMMA, KindBBands:
		p, _ := intParam(params, "period")
		return p
	case KindRSI:
		p, _ := intParam(params, "period")
		return p + 1 // first delta needs a previous close
	case KindMACD:
		slow, _ := intParam(params, "slow")
		sig, _ := intParam(params, "signal")
		return slow + sig - 1
	default:
		return 0
	}
}

// New creates a fresh Instance for the kind. Params must already be valid.
func New(kind Kind, params map[string]float64) (Instance, error) {
	if err := Validate(kind, params); err != nil {
		return nil, err
	}
	switch kind {
	case KindSMA:
		p, _ := intParam(params, "period")
		return NewSMA(p), nil
	case KindEMA:
		p, _ := intParam(params, "period")
		return NewEMA(p), nil
	case KindSMMA:
		p, _ := intParam(params, "period")
		return NewSMMA(p), nil
	case KindRSI:
		p, _ := intParam(params, "period")
		return NewRSI(p), nil
	case KindMACD:
		fast, _ := intParam(params, "fast")
		slow, _ := intParam(params, "slow")
		sig, _ := intParam(params, "signal")
		return NewMACD(fast, slow, sig), nil
	case KindBBands:
		p, _ := intParam(params, "period")
		return NewBBands(p, params["mult"]), nil
	default:
		return nil, fmt.Errorf("%w: unknown indicator kind %q", model.ErrValidation, kind)
	}
}

// maxIntParam bounds period-like parameters. Instances preallocate buffers
// of this order, and registration is reachable from unauthenticated query
// paths, so absurd periods must be rejected, not allocated.
const maxIntParam = 10000

// intParam extracts a positive integer-valued parameter.
func intParam(params map[string]float64, name string) (int, error) {
	v, ok := params[name]
	if !ok {
		return 0, fmt.Errorf("%w: missing parameter %q", model.ErrValidation, name)
	}
	if v < 1 || v != math.Trunc(v) {
		return 0, fmt.Errorf("%w: parameter %q must be a positive integer, got %v",
			model.ErrValidation, name, v)
	}
	if v > maxIntParam {
		return 0, fmt.Errorf("%w: parameter %q must be at most %d, got %v",
			model.ErrValidation, name, maxIntParam, v)
	}
	return int(v), nil
}
