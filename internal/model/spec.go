package model

import (
	"sort"
	"strconv"
	"strings"
)

// Spec identifies one logical indicator instance. Two specs with the same
// (Symbol, Timeframe, Kind, Params) are the same indicator; ID() is the
// canonical instance key used throughout the engine and cache.
type Spec struct {
	Symbol    string             `json:"symbol"`
	Timeframe Timeframe          `json:"tf"`
	Kind      string             `json:"kind"`   // registry kind, e.g. "sma", "macd"
	Params    map[string]float64 `json:"params"` // e.g. {"period": 14}
}

// paramOrder is the display order for well-known parameter names; anything
// else is appended alphabetically.
var paramOrder = []string{"period", "fast", "slow", "signal", "mult"}

// Name returns the display name, e.g. "SMA_20", "MACD_12_26_9", "BBANDS_20_2".
func (s *Spec) Name() string {
	var b strings.Builder
	b.WriteString(strings.ToUpper(s.Kind))

	seen := make(map[string]bool, len(s.Params))
	for _, k := range paramOrder {
		if v, ok := s.Params[k]; ok {
			b.WriteByte('_')
			b.WriteString(formatParam(v))
			seen[k] = true
		}
	}
	var rest []string
	for k := range s.Params {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		b.WriteByte('_')
		b.WriteString(formatParam(s.Params[k]))
	}
	return b.String()
}

// ID returns the canonical instance key: "symbol:tf:NAME".
func (s *Spec) ID() string {
	return s.Symbol + ":" + string(s.Timeframe) + ":" + s.Name()
}

// Key returns the candle routing key this spec listens on: "symbol:tf".
func (s *Spec) Key() string {
	return s.Symbol + ":" + string(s.Timeframe)
}

func formatParam(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
