// Package postgres provides the Postgres-backed persistence implementation.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scholarwatch/harvester/internal/harvest"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool for the papers table.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store writes classified items into Postgres. The identity key carries a
// unique constraint, so duplicate saves are no-ops at the database level too.
type Store struct {
	pool  pgxIface
	table string
	now   func() time.Time
}

// New creates a Postgres-backed Store from config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "papers"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool, table: table, now: time.Now}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for testing).
func NewWithPool(pool pgxIface, table string) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "papers"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: pool, table: table, now: time.Now}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Save inserts the item; a duplicate identity key is silently skipped. The
// bool reports whether a new row was written. Assumes a schema like:
//
//	CREATE TABLE papers (
//		identity_key TEXT PRIMARY KEY,
//		title        TEXT NOT NULL,
//		abstract     TEXT,
//		doi          TEXT,
//		url          TEXT,
//		authors      TEXT,
//		pub_date     DATE,
//		source       TEXT NOT NULL,
//		reason       TEXT,
//		created_at   TIMESTAMPTZ DEFAULT NOW()
//	);
func (s *Store) Save(ctx context.Context, item harvest.ClassifiedItem, sourceName string) (bool, error) {
	if s == nil || s.pool == nil {
		return false, fmt.Errorf("store is not configured")
	}
	key := item.IdentityKey()
	if key == "" {
		return false, fmt.Errorf("item has no identity key")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (identity_key, title, abstract, doi, url, authors, pub_date, source, reason)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (identity_key) DO NOTHING`, s.table)

	tag, err := s.pool.Exec(ctx, query,
		key,
		item.Title,
		nullable(item.Abstract),
		nullable(item.DOI),
		nullable(item.URL),
		nullable(item.Authors),
		item.PublishedDate,
		sourceName,
		nullable(item.Reason),
	)
	if err != nil {
		return false, fmt.Errorf("insert paper: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Exists reports whether the identity key was stored before.
func (s *Store) Exists(ctx context.Context, identityKey string) (bool, error) {
	if s == nil || s.pool == nil {
		return false, fmt.Errorf("store is not configured")
	}
	query := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE identity_key = $1)`, s.table)
	var exists bool
	if err := s.pool.QueryRow(ctx, query, identityKey).Scan(&exists); err != nil {
		return false, fmt.Errorf("existence query: %w", err)
	}
	return exists, nil
}

// LastKnownDate returns the maximum stored published date for the source,
// defaulting to one week before now when the source has no rows yet.
func (s *Store) LastKnownDate(ctx context.Context, sourceName string) (time.Time, error) {
	if s == nil || s.pool == nil {
		return time.Time{}, fmt.Errorf("store is not configured")
	}
	query := fmt.Sprintf(`SELECT MAX(pub_date) FROM %s WHERE source = $1`, s.table)
	var last *time.Time
	if err := s.pool.QueryRow(ctx, query, sourceName).Scan(&last); err != nil {
		return time.Time{}, fmt.Errorf("last date query: %w", err)
	}
	if last == nil || last.IsZero() {
		return harvest.Day(s.now()).AddDate(0, 0, -7), nil
	}
	return harvest.Day(*last), nil
}

// nullable maps empty strings to NULL so the table does not accumulate
// zero-length values.
func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
