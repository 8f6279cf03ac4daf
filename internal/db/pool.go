// Package db holds the pgx pool abstraction shared by Postgres-backed code
// and small helpers around transactions and constraint errors.
package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
)

// Pool is the subset of *pgxpool.Pool the stores use. pgxmock pools
// satisfy it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on error.
func WithTx(ctx context.Context, pool Pool, fn func(tx pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "db: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "db: commit tx")
}

// UniqueViolation is the Postgres SQLSTATE for unique constraint failures.
const UniqueViolation = "23505"

// IsUniqueViolation reports whether err is a Postgres unique violation,
// optionally restricted to one constraint or index name.
func IsUniqueViolation(err error, constraint ...string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != UniqueViolation {
		return false
	}
	if len(constraint) == 0 {
		return true
	}
	for _, c := range constraint {
		if pgErr.ConstraintName == c {
			return true
		}
	}
	return false
}
