package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTx_Commit(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE jobs").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err = WithTx(context.Background(), mock, func(tx pgx.Tx) error {
		_, err := tx.Exec(context.Background(), "UPDATE jobs SET status = 'stopped'")
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_RollbackOnError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err = WithTx(context.Background(), mock, func(pgx.Tx) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsUniqueViolation(t *testing.T) {
	pgErr := &pgconn.PgError{Code: UniqueViolation, ConstraintName: "repairers_identity_key_key"}

	assert.True(t, IsUniqueViolation(pgErr))
	assert.True(t, IsUniqueViolation(eris.Wrap(pgErr, "insert"), "repairers_identity_key_key"))
	assert.False(t, IsUniqueViolation(pgErr, "jobs_one_running"))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, IsUniqueViolation(errors.New("duplicate")))
}
