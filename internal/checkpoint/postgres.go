package checkpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig mirrors the DSN + pool-sizing shape the teacher codebase
// uses for its repository's Postgres connection pool (storage.PostgresConfig),
// adapted here for a single-row checkpoint table rather than a full
// relational schema.
type PostgresConfig struct {
	DSN             string
	MaxConnections  int32
	MinConnections  int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	ApplicationName string
}

func (c PostgresConfig) normalize() PostgresConfig {
	if c.MaxConnections <= 0 {
		c.MaxConnections = 4
	}
	if c.MaxConnLifetime <= 0 {
		c.MaxConnLifetime = time.Hour
	}
	if c.MaxConnIdleTime <= 0 {
		c.MaxConnIdleTime = 10 * time.Minute
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "rejourney-engine"
	}
	return c
}

// PostgresStore is the opt-in checkpoint store used by the reference
// harness's multi-device integration tests (see SPEC_FULL.md §B), standing
// in for what is a local file on a real device. Its table holds at most one
// row in total (enforced by a fixed singleton primary key), shared by every
// process using the same database, matching the "at most one present at a
// time" invariant (§3, §8 invariant 9).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens a connection pool and ensures the checkpoint table
// exists.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	cfg = cfg.normalize()
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConnections
	poolCfg.MinConns = cfg.MinConnections
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	store := &PostgresStore{pool: pool}
	if err := store.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS rejourney_recovery_checkpoint (
	singleton   BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (singleton),
	session_id  TEXT NOT NULL,
	api_token   TEXT NOT NULL,
	start_ms    BIGINT NOT NULL,
	endpoint    TEXT NOT NULL
)`
	_, err := s.pool.Exec(ctx, ddl)
	if err != nil {
		return fmt.Errorf("create checkpoint table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Write(ctx context.Context, cp Checkpoint) error {
	const upsert = `
INSERT INTO rejourney_recovery_checkpoint (singleton, session_id, api_token, start_ms, endpoint)
VALUES (TRUE, $1, $2, $3, $4)
ON CONFLICT (singleton) DO UPDATE SET
	session_id = EXCLUDED.session_id,
	api_token  = EXCLUDED.api_token,
	start_ms   = EXCLUDED.start_ms,
	endpoint   = EXCLUDED.endpoint`
	_, err := s.pool.Exec(ctx, upsert, cp.SessionID, cp.APIToken, cp.StartMs, cp.Endpoint)
	if err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

func (s *PostgresStore) Read(ctx context.Context) (Checkpoint, bool, error) {
	const query = `SELECT session_id, api_token, start_ms, endpoint FROM rejourney_recovery_checkpoint WHERE singleton`
	var cp Checkpoint
	err := s.pool.QueryRow(ctx, query).Scan(&cp.SessionID, &cp.APIToken, &cp.StartMs, &cp.Endpoint)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Checkpoint{}, false, nil
		}
		return Checkpoint{}, false, fmt.Errorf("read checkpoint: %w", err)
	}
	return cp, true, nil
}

func (s *PostgresStore) Delete(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM rejourney_recovery_checkpoint WHERE singleton`)
	if err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() { s.pool.Close() }
