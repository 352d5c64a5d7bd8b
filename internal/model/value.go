package model

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of an indicator instance relative to having
// enough correct history to produce a trustworthy value.
type Status string

const (
	StatusWarming Status = "warming" // not enough closed candles yet
	StatusReady   Status = "ready"   // minimum history satisfied
	StatusStale   Status = "stale"   // correction/backfill pending or failed
)

// Value is one computed indicator output for a single bar.
// Single-output kinds emit one entry named "value"; band/convergence kinds
// emit several named outputs (upper/middle/lower, macd/signal/histogram).
type Value struct {
	SpecID      string             `json:"spec_id"`
	Name        string             `json:"name"` // e.g. "SMA_20"
	Symbol      string             `json:"symbol"`
	Timeframe   Timeframe          `json:"tf"`
	TS          time.Time          `json:"ts"` // open_time of the producing candle
	Outputs     map[string]float64 `json:"outputs"`
	Status      Status             `json:"status"`
	Provisional bool               `json:"provisional"` // computed from a forming bar, never committed
}

// StreamKey returns the Redis stream key for committed values:
// "ind:{name}:{tf}:{symbol}".
func (v *Value) StreamKey() string {
	return "ind:" + v.Name + ":" + string(v.Timeframe) + ":" + v.Symbol
}

// LatestKey returns the Redis key holding the latest committed value.
func (v *Value) LatestKey() string {
	return "ind:" + v.Name + ":" + string(v.Timeframe) + ":latest:" + v.Symbol
}

// PubSubChannel returns the Redis Pub/Sub channel for this value's series.
func (v *Value) PubSubChannel() string {
	return "pub:ind:" + v.Name + ":" + string(v.Timeframe) + ":" + v.Symbol
}

// JSON returns the JSON-encoded value.
func (v *Value) JSON() []byte {
	b, _ := json.Marshal(v)
	return b
}
