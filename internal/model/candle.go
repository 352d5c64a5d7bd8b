package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Candle represents one OHLCV bar for a symbol on a single timeframe.
// (Symbol, Timeframe, OpenTime) uniquely identifies the bar. A candle with
// Closed=false is still forming and may be revised before it closes.
type Candle struct {
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"tf"`
	OpenTime  time.Time `json:"open_time"` // bucket start (UTC, inclusive)
	CloseTime time.Time `json:"close_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Closed    bool      `json:"closed"`
}

// Key returns the routing key for this candle's series: "symbol:tf".
func (c *Candle) Key() string {
	return c.Symbol + ":" + string(c.Timeframe)
}

// Validate checks the structural invariants of the bar.
func (c *Candle) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrValidation)
	}
	if !c.Timeframe.Valid() {
		return fmt.Errorf("%w: unknown timeframe %q", ErrValidation, c.Timeframe)
	}
	if !c.OpenTime.Before(c.CloseTime) {
		return fmt.Errorf("%w: open_time %s not before close_time %s",
			ErrValidation, c.OpenTime.Format(time.RFC3339), c.CloseTime.Format(time.RFC3339))
	}
	hi, lo := c.Open, c.Open
	if c.Close > hi {
		hi = c.Close
	}
	if c.Close < lo {
		lo = c.Close
	}
	if c.High < hi || c.Low > lo {
		return fmt.Errorf("%w: high/low do not envelope open/close", ErrValidation)
	}
	if c.Volume < 0 {
		return fmt.Errorf("%w: negative volume", ErrValidation)
	}
	return nil
}

// Equal reports whether two candles carry identical bar data.
// Used for duplicate-vs-revision detection.
func (c *Candle) Equal(o *Candle) bool {
	return c.Symbol == o.Symbol && c.Timeframe == o.Timeframe &&
		c.OpenTime.Equal(o.OpenTime) &&
		c.Open == o.Open && c.High == o.High && c.Low == o.Low &&
		c.Close == o.Close && c.Volume == o.Volume
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}
