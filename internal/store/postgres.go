package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/rotisserie/eris"

	"github.com/sells-group/repairer-sync/internal/db"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	*sqlStore
	pool    db.Pool
	raw     *pgxpool.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
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

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	s := newPostgresStore(pool)
	s.raw = pool
	s.closeFn = pool.Close
	return s, nil
}

func newPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{sqlStore: &sqlStore{c: pgConn{pool: pool}}, pool: pool}
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

// Migrate applies the embedded Postgres migrations through a database/sql
// handle borrowed from the pool.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if s.raw == nil {
		return eris.New("postgres: migrate requires a live pool")
	}
	sqlDB := stdlib.OpenDBFromPool(s.raw)
	defer sqlDB.Close() //nolint:errcheck
	return migrate(ctx, goose.DialectPostgres, "postgres", sqlDB)
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

type pgConn struct {
	pool db.Pool
}

func (c pgConn) exec(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := c.pool.Exec(ctx, rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (c pgConn) queryRow(ctx context.Context, query string, args ...any) scannable {
	return c.pool.QueryRow(ctx, rebind(query), args...)
}

func (c pgConn) query(ctx context.Context, query string, args ...any) (rows, func(), error) {
	rs, err := c.pool.Query(ctx, rebind(query), args...)
	if err != nil {
		return nil, nil, err
	}
	return rs, rs.Close, nil
}

func (c pgConn) inTx(ctx context.Context, fn func(conn) error) error {
	return db.WithTx(ctx, c.pool, func(tx pgx.Tx) error {
		return fn(pgConn{pool: tx})
	})
}

func (pgConn) isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func (pgConn) isUniqueViolation(err error) bool {
	return db.IsUniqueViolation(err)
}
