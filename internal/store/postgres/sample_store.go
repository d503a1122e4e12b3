// Package postgres provides the Postgres-backed sample repository.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openusage/meterd/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for sample rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// SampleStore writes usage sample rows into Postgres.
type SampleStore struct {
	pool  execCloser
	table string
}

// New creates a Postgres-backed SampleStore using the provided config.
func New(ctx context.Context, cfg Config) (*SampleStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "usage_samples"
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
	return &SampleStore{pool: pool, table: table}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for
// testing).
func NewWithPool(pool execCloser, table string) (*SampleStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "usage_samples"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &SampleStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *SampleStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// InsertSamples appends the sample rows.
func (s *SampleStore) InsertSamples(ctx context.Context, samples []store.Sample) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("sample store is not configured")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	source_id,
	label,
	used,
	usage_limit,
	plan,
	recorded_at
) VALUES ($1, $2, $3, $4, $5, $6)`, s.table)
	for _, sample := range samples {
		if sample.SourceID == "" {
			return fmt.Errorf("sample source id is required")
		}
		if _, err := s.pool.Exec(
			ctx,
			query,
			string(sample.SourceID),
			sample.Label,
			sample.Used,
			sample.Limit,
			sample.Plan,
			sample.RecordedAt,
		); err != nil {
			return fmt.Errorf("insert usage sample: %w", err)
		}
	}
	return nil
}
