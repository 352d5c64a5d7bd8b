package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/a-dev-mobile/t-indicators/internal/engine"
	"github.com/a-dev-mobile/t-indicators/internal/model"
)

// Fetch returns up to count closed candles with open_time <= upTo, ascending.
// Implements model.CandleFetcher for backfill.
func (s *Store) Fetch(ctx context.Context, symbol string, tf model.Timeframe, upTo time.Time, count int) ([]model.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, tf, open_time, close_time, open, high, low, close, volume
		FROM candles
		WHERE symbol = ? AND tf = ? AND open_time <= ?
		ORDER BY open_time DESC
		LIMIT ?
	`, symbol, string(tf), upTo.Unix(), count)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		var c model.Candle
		var tfStr string
		var openTS, closeTS int64
		if err := rows.Scan(&c.Symbol, &tfStr, &openTS, &closeTS,
			&c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("sqlite scan candle: %w", err)
		}
		c.Timeframe = model.Timeframe(tfStr)
		c.OpenTime = time.Unix(openTS, 0).UTC()
		c.CloseTime = time.Unix(closeTS, 0).UTC()
		c.Closed = true
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// query was newest-first; replay wants oldest-first
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

// ReadValues returns committed values for the spec with from <= ts <= to,
// ascending. Implements model.ValueReader.
func (s *Store) ReadValues(ctx context.Context, specID string, from, to time.Time) ([]model.Value, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT spec_id, ts, name, symbol, tf, outputs, status
		FROM indicator_values
		WHERE spec_id = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC
	`, specID, from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("sqlite query values: %w", err)
	}
	defer rows.Close()

	var values []model.Value
	for rows.Next() {
		var v model.Value
		var tfStr, outsJSON, status string
		var ts int64
		if err := rows.Scan(&v.SpecID, &ts, &v.Name, &v.Symbol, &tfStr, &outsJSON, &status); err != nil {
			return nil, fmt.Errorf("sqlite scan value: %w", err)
		}
		v.Timeframe = model.Timeframe(tfStr)
		v.TS = time.Unix(ts, 0).UTC()
		v.Status = model.Status(status)
		if err := json.Unmarshal([]byte(outsJSON), &v.Outputs); err != nil {
			continue
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// LoadCheckpoint returns the newest engine checkpoint, or ok=false when none
// has been saved yet.
func (s *Store) LoadCheckpoint(ctx context.Context) (engine.Checkpoint, bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM engine_checkpoints ORDER BY id DESC LIMIT 1
	`).Scan(&data)
	if err != nil {
		if err == sql.ErrNoRows {
			return engine.Checkpoint{}, false, nil
		}
		return engine.Checkpoint{}, false, fmt.Errorf("sqlite read checkpoint: %w", err)
	}
	var cp engine.Checkpoint
	if err := json.Unmarshal([]byte(data), &cp); err != nil {
		return engine.Checkpoint{}, false, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return cp, true, nil
}
