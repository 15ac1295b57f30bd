// Package postgres provides a PostgreSQL implementation of the ledger.Store
// interface. Period snapshots are written with a version-conditional upsert so
// an out-of-order flush can never overwrite a newer row.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fluentvoice/usageledger/pkg/ledger"
)

// Schema is the DDL for the tables this store uses. Callers can apply it via
// InitSchema or through their own migration tooling.
const Schema = `
CREATE TABLE IF NOT EXISTS usage_periods (
	user_id       TEXT        NOT NULL,
	period_start  TIMESTAMPTZ NOT NULL,
	period_end    TIMESTAMPTZ NOT NULL,
	plan          TEXT        NOT NULL,
	minutes_used  INTEGER     NOT NULL DEFAULT 0,
	minutes_limit INTEGER     NOT NULL,
	synced_at     TIMESTAMPTZ NOT NULL,
	version       BIGINT      NOT NULL,
	archived      BOOLEAN     NOT NULL DEFAULT FALSE,
	PRIMARY KEY (user_id, period_start)
);

CREATE INDEX IF NOT EXISTS idx_usage_periods_current
	ON usage_periods (user_id, period_start DESC)
	WHERE NOT archived;

CREATE TABLE IF NOT EXISTS practice_sessions (
	id           TEXT        PRIMARY KEY,
	user_id      TEXT        NOT NULL,
	started_at   TIMESTAMPTZ NOT NULL,
	ended_at     TIMESTAMPTZ,
	minutes_used INTEGER     NOT NULL DEFAULT 0,
	topic        TEXT,
	difficulty   TEXT,
	mode         TEXT,
	end_reason   TEXT
);

CREATE INDEX IF NOT EXISTS idx_practice_sessions_user
	ON practice_sessions (user_id, started_at DESC);
`

// Store implements ledger.Store using PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL store configuration.
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL store.
func New(ctx context.Context, config Config) (*Store, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{pool: pool, config: config}, nil
}

// InitSchema creates the tables if they do not exist.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// LoadCurrentPeriod implements ledger.Store.
func (s *Store) LoadCurrentPeriod(ctx context.Context, userID string) (*ledger.PeriodRecord, error) {
	var rec ledger.PeriodRecord

	err := s.pool.QueryRow(ctx,
		`SELECT user_id, period_start, period_end, plan, minutes_used, minutes_limit, synced_at, version, archived
			FROM usage_periods
			WHERE user_id = $1 AND NOT archived
			ORDER BY period_start DESC
			LIMIT 1`,
		userID).Scan(
		&rec.UserID,
		&rec.PeriodStart,
		&rec.PeriodEnd,
		&rec.Plan,
		&rec.MinutesUsed,
		&rec.MinutesLimit,
		&rec.SyncedAt,
		&rec.Version,
		&rec.Archived,
	)

	if err == pgx.ErrNoRows {
		return nil, nil // never persisted is not an error
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load period: %w", err)
	}

	return &rec, nil
}

// SavePeriod implements ledger.Store. The upsert only applies when the
// incoming version is at least the stored one; a stale write affects zero
// rows and returns ErrStaleWrite.
func (s *Store) SavePeriod(ctx context.Context, rec *ledger.PeriodRecord) error {
	if rec == nil || rec.UserID == "" {
		return fmt.Errorf("invalid period record")
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO usage_periods
				(user_id, period_start, period_end, plan, minutes_used, minutes_limit, synced_at, version, archived)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (user_id, period_start) DO UPDATE SET
				period_end    = EXCLUDED.period_end,
				plan          = EXCLUDED.plan,
				minutes_used  = EXCLUDED.minutes_used,
				minutes_limit = EXCLUDED.minutes_limit,
				synced_at     = EXCLUDED.synced_at,
				version       = EXCLUDED.version,
				archived      = EXCLUDED.archived
			WHERE usage_periods.version <= EXCLUDED.version`,
		rec.UserID, rec.PeriodStart, rec.PeriodEnd, string(rec.Plan),
		rec.MinutesUsed, rec.MinutesLimit, rec.SyncedAt, rec.Version, rec.Archived,
	)

	if err != nil {
		return fmt.Errorf("failed to save period: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrStaleWrite
	}

	return nil
}

// CreateSession implements ledger.Store.
func (s *Store) CreateSession(ctx context.Context, rec *ledger.SessionRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("invalid session record")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO practice_sessions (id, user_id, started_at, topic, difficulty, mode)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.UserID, rec.StartedAt, rec.Topic, rec.Difficulty, rec.Mode,
	)

	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

// FinalizeSession implements ledger.Store. Unknown session ids are ignored.
func (s *Store) FinalizeSession(ctx context.Context, sessionID string, endedAt time.Time, minutesUsed int, reason ledger.EndReason) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE practice_sessions
			SET ended_at = $2, minutes_used = $3, end_reason = $4
			WHERE id = $1`,
		sessionID, endedAt, minutesUsed, string(reason),
	)

	if err != nil {
		return fmt.Errorf("failed to finalize session: %w", err)
	}

	return nil
}
