// Package sqlite is the durable time-series store: candle history for
// backfill, committed indicator values for range reads beyond the cache
// window, and engine checkpoints for warm restarts. Writes are batched into
// transactions from a single goroutine.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/a-dev-mobile/t-indicators/internal/engine"
	"github.com/a-dev-mobile/t-indicators/internal/metrics"
	"github.com/a-dev-mobile/t-indicators/internal/model"
)

const (
	defaultBatchSize  = 200
	defaultFlushDelay = 200 * time.Millisecond
	keptCheckpoints   = 5
)

// Config configures the store.
type Config struct {
	Path string // database file path, e.g. "data/indicators.db"
}

// Store owns the SQLite database.
type Store struct {
	db  *sql.DB
	met *metrics.Metrics
}

// Open opens (or creates) the database in WAL mode and applies the schema.
func Open(cfg Config, met *metrics.Metrics) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	log.Printf("[sqlite] opened database at %s", cfg.Path)
	return &Store{db: db, met: met}, nil
}

// DB returns the underlying handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			symbol     TEXT    NOT NULL,
			tf         TEXT    NOT NULL,
			open_time  INTEGER NOT NULL,
			close_time INTEGER NOT NULL,
			open       REAL    NOT NULL,
			high       REAL    NOT NULL,
			low        REAL    NOT NULL,
			close      REAL    NOT NULL,
			volume     REAL    NOT NULL,
			PRIMARY KEY (symbol, tf, open_time)
		);

		CREATE TABLE IF NOT EXISTS indicator_values (
			spec_id TEXT    NOT NULL,
			ts      INTEGER NOT NULL,
			name    TEXT    NOT NULL,
			symbol  TEXT    NOT NULL,
			tf      TEXT    NOT NULL,
			outputs TEXT    NOT NULL,
			status  TEXT    NOT NULL,
			PRIMARY KEY (spec_id, ts)
		);

		CREATE TABLE IF NOT EXISTS engine_checkpoints (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			data       TEXT    NOT NULL,
			created_at INTEGER NOT NULL
		);
	`)
	return err
}

// RunCandles drains candleCh into batched transactions. Flushes every
// defaultBatchSize rows or defaultFlushDelay, whichever comes first. Blocks
// until ctx is cancelled or the channel closes.
func (s *Store) RunCandles(ctx context.Context, candleCh <-chan model.Candle) {
	batch := make([]model.Candle, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := s.insertCandles(batch); err != nil {
			log.Printf("[sqlite] candle batch insert error: %v", err)
		} else if s.met != nil {
			s.met.SQLiteCommitDur.Observe(time.Since(start).Seconds())
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case c, ok := <-candleCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, c)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}
		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

func (s *Store) insertCandles(candles []model.Candle) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO candles (symbol, tf, open_time, close_time, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, c := range candles {
		_, err := stmt.Exec(c.Symbol, string(c.Timeframe), c.OpenTime.Unix(), c.CloseTime.Unix(),
			c.Open, c.High, c.Low, c.Close, c.Volume)
		if err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// RunValues drains valueCh into batched transactions, same cadence as
// RunCandles. INSERT OR REPLACE makes revisions overwrite the original bar.
func (s *Store) RunValues(ctx context.Context, valueCh <-chan model.Value) {
	batch := make([]model.Value, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := s.insertValues(batch); err != nil {
			log.Printf("[sqlite] value batch insert error: %v", err)
		} else if s.met != nil {
			s.met.SQLiteCommitDur.Observe(time.Since(start).Seconds())
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case v, ok := <-valueCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, v)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}
		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

func (s *Store) insertValues(values []model.Value) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO indicator_values (spec_id, ts, name, symbol, tf, outputs, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for i := range values {
		v := &values[i]
		outs, err := json.Marshal(v.Outputs)
		if err != nil {
			continue
		}
		_, err = stmt.Exec(v.SpecID, v.TS.Unix(), v.Name, v.Symbol, string(v.Timeframe),
			string(outs), string(v.Status))
		if err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// SaveCheckpoint appends a JSON engine checkpoint and prunes old ones.
func (s *Store) SaveCheckpoint(cp engine.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if _, err := s.db.Exec(
		`INSERT INTO engine_checkpoints (data, created_at) VALUES (?, ?)`,
		string(data), time.Now().Unix(),
	); err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	_, err = s.db.Exec(`
		DELETE FROM engine_checkpoints WHERE id NOT IN (
			SELECT id FROM engine_checkpoints ORDER BY id DESC LIMIT ?
		)`, keptCheckpoints)
	return err
}

// PruneBefore deletes candles and values older than the cutoff. Checkpoints
// are pruned on write, not here.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	res, err := s.db.ExecContext(ctx, `DELETE FROM candles WHERE open_time < ?`, cutoff.Unix())
	if err != nil {
		return total, fmt.Errorf("prune candles: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}
	res, err = s.db.ExecContext(ctx, `DELETE FROM indicator_values WHERE ts < ?`, cutoff.Unix())
	if err != nil {
		return total, fmt.Errorf("prune values: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}
	return total, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
