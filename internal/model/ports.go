package model

import (
	"context"
	"time"
)

// Port interfaces decouple the engine from concrete infrastructure (Redis,
// SQLite, Postgres). Each implementation satisfies one or more of these.

// ValueSink receives computed indicator values on the write-through path.
// Publish must not block ingestion; slow sinks drop or buffer internally.
type ValueSink interface {
	Publish(v Value)
}

// CandleFetcher reads historical candles for backfill.
// Fetch returns up to count closed candles with OpenTime <= upTo,
// ordered by OpenTime ascending.
type CandleFetcher interface {
	Fetch(ctx context.Context, symbol string, tf Timeframe, upTo time.Time, count int) ([]Candle, error)
}

// ValueReader reads persisted indicator values for ranges beyond the
// cache's retained window.
type ValueReader interface {
	ReadValues(ctx context.Context, specID string, from, to time.Time) ([]Value, error)
}

// SpecStore persists indicator spec registrations across restarts and
// resolves valid symbols.
type SpecStore interface {
	SymbolExists(ctx context.Context, symbol string) (bool, error)
	SaveSpec(ctx context.Context, spec Spec) error
	LoadSpecs(ctx context.Context) ([]Spec, error)
}
