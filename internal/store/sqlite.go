package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/pressly/goose/v3"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	*sqlStore
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
// The pool is pinned to one connection so writers queue instead of hitting
// SQLITE_BUSY.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{sqlStore: &sqlStore{c: sqliteConn{q: db, db: db}}, db: db}, nil
}

// Migrate applies the embedded SQLite migrations.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	return migrate(ctx, goose.DialectSQLite3, "sqlite", s.db)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqliteConn struct {
	q  sqlQuerier
	db *sql.DB // nil inside a transaction
}

func (c sqliteConn) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := c.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (c sqliteConn) queryRow(ctx context.Context, query string, args ...any) scannable {
	return c.q.QueryRowContext(ctx, query, args...)
}

func (c sqliteConn) query(ctx context.Context, query string, args ...any) (rows, func(), error) {
	rs, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	return rs, func() { rs.Close() }, nil //nolint:errcheck
}

func (c sqliteConn) inTx(ctx context.Context, fn func(conn) error) error {
	if c.db == nil {
		return fn(c)
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(sqliteConn{q: tx}); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

func (sqliteConn) isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func (sqliteConn) isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
