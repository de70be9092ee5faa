// Package facts is the read-only adapter over the project fact store:
// spans, interactions, contacts, projects, world-model facts, journal
// claims, and the geo gazetteer. Attribution never writes here.
package facts

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it.
type Pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
	Close()
}

// Store reads attribution context out of Postgres.
type Store struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hottest per-span lookups.
var preparedStatements = map[string]string{
	"get_span":        `SELECT id, interaction_id, span_index, transcript_segment, char_start, char_end, superseded, created_at FROM transcript_spans WHERE id = $1`,
	"get_interaction": `SELECT id, contact_id, COALESCE(contact_name, ''), COALESCE(contact_phone, ''), COALESCE(project_id::text, ''), occurred_at FROM interactions WHERE id = $1`,
	"get_contact":     `SELECT id, COALESCE(name, ''), COALESCE(floats_between_projects, false), COALESCE(internal_staff, false) FROM contacts WHERE id = $1`,
	"get_affinity":    `SELECT project_id, weight, last_interaction_at FROM contact_project_affinity WHERE contact_id = $1 ORDER BY weight DESC`,
}

// NewPool builds the shared connection pool with the per-span lookups
// prepared on every connection.
func NewPool(ctx context.Context, connString string, poolCfg *PoolConfig) (*pgxpool.Pool, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "facts: parse config")
	}

	maxConns := int32(8)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "facts: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "facts: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "facts: ping")
	}
	return pool, nil
}

// NewStore creates a Store with its own connection pool.
func NewStore(ctx context.Context, connString string, poolCfg *PoolConfig) (*Store, error) {
	pool, err := NewPool(ctx, connString, poolCfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// NewStoreWithPool wraps an existing pool, used by tests.
func NewStoreWithPool(pool Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}
