// Package meta is the Postgres metadata store: the symbol universe the
// service accepts, and registered indicator specs so instances are rebuilt
// across restarts.
package meta

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/a-dev-mobile/t-indicators/internal/model"
)

// Config configures the Postgres connection.
type Config struct {
	DSN          string // e.g. "host=localhost port=5432 user=... dbname=... sslmode=disable"
	MaxOpenConns int
	MaxIdleConns int
}

// Store implements model.SpecStore on Postgres.
type Store struct {
	db *sqlx.DB
}

// Open connects, pings with a timeout and applies the schema.
func Open(cfg Config) (*Store, error) {
	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres schema: %w", err)
	}
	log.Printf("[meta] connected to postgres")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS symbols (
			symbol     TEXT PRIMARY KEY,
			active     BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS indicator_specs (
			spec_id    TEXT PRIMARY KEY,
			symbol     TEXT NOT NULL REFERENCES symbols(symbol),
			tf         TEXT NOT NULL,
			kind       TEXT NOT NULL,
			params     JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`)
	return err
}

// SymbolExists reports whether the symbol is in the active universe.
func (s *Store) SymbolExists(ctx context.Context, symbol string) (bool, error) {
	var active bool
	err := s.db.GetContext(ctx, &active,
		`SELECT active FROM symbols WHERE symbol = $1`, symbol)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("select symbol %q: %w", symbol, err)
	}
	return active, nil
}

// Symbols returns the active symbol universe, sorted.
func (s *Store) Symbols(ctx context.Context) ([]string, error) {
	var symbols []string
	err := s.db.SelectContext(ctx, &symbols,
		`SELECT symbol FROM symbols WHERE active ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("select symbols: %w", err)
	}
	return symbols, nil
}

// SaveSpec upserts a spec registration.
func (s *Store) SaveSpec(ctx context.Context, spec model.Spec) error {
	params, err := json.Marshal(spec.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO indicator_specs (spec_id, symbol, tf, kind, params)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (spec_id) DO NOTHING
	`, spec.ID(), spec.Symbol, string(spec.Timeframe), spec.Kind, string(params))
	if err != nil {
		return fmt.Errorf("insert spec %s: %w", spec.ID(), err)
	}
	return nil
}

// LoadSpecs returns every persisted spec registration.
func (s *Store) LoadSpecs(ctx context.Context) ([]model.Spec, error) {
	rows, err := s.db.QueryxContext(ctx,
		`SELECT symbol, tf, kind, params FROM indicator_specs ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("select specs: %w", err)
	}
	defer rows.Close()

	var specs []model.Spec
	for rows.Next() {
		var spec model.Spec
		var tf, paramsJSON string
		if err := rows.Scan(&spec.Symbol, &tf, &spec.Kind, &paramsJSON); err != nil {
			return nil, fmt.Errorf("scan spec: %w", err)
		}
		spec.Timeframe = model.Timeframe(tf)
		if err := json.Unmarshal([]byte(paramsJSON), &spec.Params); err != nil {
			log.Printf("[meta] skipping spec with bad params for %s: %v", spec.Symbol, err)
			continue
		}
		specs = append(specs, spec)
	}
	return specs, rows.Err()
}

// Health probes the connection.
func (s *Store) Health(ctx context.Context) error {
	var one int
	return s.db.GetContext(ctx, &one, `SELECT 1`)
}

// DB returns the underlying handle.
func (s *Store) DB() *sqlx.DB { return s.db }

// Close closes the pool.
func (s *Store) Close() error {
	return s.db.Close()
}
