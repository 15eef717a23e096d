package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	mysqldrv "github.com/go-sql-driver/mysql"
	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	sqldb, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqldb.Close() })
	return NewFromSQL(sqldb, "sqlmock"), mock
}

func TestIsDuplicateKey(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"mysql duplicate entry", &mysqldrv.MySQLError{Number: 1062, Message: "Duplicate entry"}, true},
		{"mysql other error", &mysqldrv.MySQLError{Number: 1045}, false},
		{"sqlite unique constraint", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}, true},
		{"sqlite primary key constraint", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintPrimaryKey}, true},
		{"sqlite other constraint", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintNotNull}, false},
		{"plain error", errors.New("duplicate"), false},
		{"no rows", sql.ErrNoRows, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsDuplicateKey(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(driver.ErrBadConn))
	assert.True(t, isRetryable(errors.New("dial tcp 127.0.0.1:3306: connection refused")))
	assert.True(t, isRetryable(errors.New("invalid connection")))
	assert.True(t, isRetryable(errors.New("write: broken pipe")))
	assert.False(t, isRetryable(sql.ErrNoRows))
	assert.False(t, isRetryable(errors.New("syntax error")))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 120))
	assert.Equal(t, "a b c", truncate("a\n\tb   c", 120))

	long := truncate("SELECT "+strings.Repeat("x", 300), 10)
	assert.Len(t, long, 13)
	assert.True(t, strings.HasSuffix(long, "..."))
}

func TestLockSuffix(t *testing.T) {
	assert.Equal(t, " FOR UPDATE", (&DB{driver: DriverMySQL}).LockSuffix())
	assert.Equal(t, "", (&DB{driver: DriverSQLite}).LockSuffix())
}

func TestExecContextReportsResult(t *testing.T) {
	d, mock := newTestDB(t)

	mock.ExpectExec("UPDATE orders").WillReturnResult(sqlmock.NewResult(7, 2))

	res, err := d.ExecContext(context.Background(), "UPDATE orders SET status = ?", "ready")
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.InsertID)
	assert.Equal(t, int64(2), res.AffectedRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxCommitsOnSuccess(t *testing.T) {
	d, mock := newTestDB(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO orders").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := d.WithTx(context.Background(), func(tx *Tx) error {
		_, err := tx.ExecContext(context.Background(), "INSERT INTO orders (status) VALUES (?)", "pending")
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxRollsBackOnError(t *testing.T) {
	d, mock := newTestDB(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := d.WithTx(context.Background(), func(tx *Tx) error {
		return boom
	})
	assert.ErrorIs(t, err, boom, "the callback error survives the rollback")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRetryRecoversFromTransientError(t *testing.T) {
	d, mock := newTestDB(t)

	mock.ExpectQuery("SELECT COUNT").WillReturnError(errors.New("connection refused"))
	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	var count int
	err := d.GetContext(context.Background(), &count, "SELECT COUNT(1) FROM orders")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	d, mock := newTestDB(t)

	for i := 0; i < maxRetries; i++ {
		mock.ExpectQuery("SELECT COUNT").WillReturnError(errors.New("connection refused"))
	}

	var count int
	err := d.GetContext(context.Background(), &count, "SELECT COUNT(1) FROM orders")

	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, maxRetries, perr.Attempts)
	assert.ErrorContains(t, perr.Unwrap(), "connection refused")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNoRetryOnPermanentError(t *testing.T) {
	d, mock := newTestDB(t)

	mock.ExpectQuery("SELECT COUNT").WillReturnError(sql.ErrNoRows)

	var count int
	err := d.GetContext(context.Background(), &count, "SELECT COUNT(1) FROM orders")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInExpandsAndRebinds(t *testing.T) {
	d, _ := newTestDB(t)

	query, args, err := d.In("SELECT id FROM menu_items WHERE id IN (?)", []int64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, "SELECT id FROM menu_items WHERE id IN (?, ?, ?)", query)
	assert.Len(t, args, 3)
}
