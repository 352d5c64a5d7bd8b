package model

import "errors"

// Error taxonomy shared across the service. Validation and not-found errors
// are synchronous and caller-visible; backfill failures are retried internally
// and surface only as a Stale status flag on returned values.
var (
	// ErrValidation marks malformed indicator parameters or candles.
	ErrValidation = errors.New("validation")

	// ErrNotFound marks queries against unknown symbols, timeframes or specs.
	ErrNotFound = errors.New("not found")

	// ErrBackfillFailed marks an unusable backfill response (store unreachable
	// or fewer bars returned than the kind's minimum history).
	ErrBackfillFailed = errors.New("backfill failed")

	// ErrQueueFull is returned when a shard's ingest queue rejects a candle.
	ErrQueueFull = errors.New("shard queue full")
)
