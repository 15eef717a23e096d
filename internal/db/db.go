// Package db is the persistence adapter: one query/transaction surface over
// a primary MySQL engine with an embedded SQLite fallback. The engine is
// chosen once at startup and fixed for the process lifetime.
package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"tableside/config"
	"tableside/internal/util"

	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	sqlite3 "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite3"

	maxRetries   = 3
	retryBackoff = 100 * time.Millisecond
)

// PersistenceError wraps a driver failure that survived the adapter's
// transient-error retries.
type PersistenceError struct {
	Attempts int
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("query failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Result is the single typed shape both engines report for writes.
type Result struct {
	InsertID     int64
	AffectedRows int64
}

// Queryer is the read/write surface shared by the adapter and its
// transaction handles, so repository code never knows which it runs on.
type Queryer interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (Result, error)
}

var (
	_ Queryer = (*DB)(nil)
	_ Queryer = (*Tx)(nil)
)

// DB wraps the chosen engine.
type DB struct {
	sqlx   *sqlx.DB
	driver string
	logger *zap.Logger
}

// Connect dials MySQL; if it is unreachable it initializes the embedded
// SQLite engine instead and bootstraps the schema there.
func Connect(cfg config.DatabaseConfig) (*DB, error) {
	logger := util.GetLogger()

	mdb, err := sqlx.Connect(DriverMySQL, cfg.MySQLDSN)
	if err == nil {
		mdb.SetMaxOpenConns(25)
		mdb.SetMaxIdleConns(5)
		mdb.SetConnMaxLifetime(5 * time.Minute)

		d := &DB{sqlx: mdb, driver: DriverMySQL, logger: logger}
		if err := d.EnsureSchema(); err != nil {
			mdb.Close()
			return nil, fmt.Errorf("failed to init mysql schema: %w", err)
		}
		logger.Info("Connected to MySQL")
		return d, nil
	}

	logger.Warn("MySQL unreachable, falling back to embedded SQLite",
		zap.String("sqlite_path", cfg.SQLitePath),
		zap.Error(err))

	sdb, serr := sqlx.Connect(DriverSQLite, cfg.SQLitePath+"?_busy_timeout=5000")
	if serr != nil {
		return nil, fmt.Errorf("failed to open sqlite fallback: %w", serr)
	}
	// SQLite allows one writer; a single connection avoids lock contention.
	sdb.SetMaxOpenConns(1)

	d := &DB{sqlx: sdb, driver: DriverSQLite, logger: logger}
	if err := d.EnsureSchema(); err != nil {
		sdb.Close()
		return nil, fmt.Errorf("failed to init sqlite schema: %w", err)
	}
	logger.Info("Using embedded SQLite engine")
	return d, nil
}

// NewFromSQL wraps an existing database handle. Used by tests to run the
// adapter against a mock driver.
func NewFromSQL(sqldb *sql.DB, driverName string) *DB {
	return &DB{
		sqlx:   sqlx.NewDb(sqldb, driverName),
		driver: driverName,
		logger: util.GetLogger(),
	}
}

// Close releases the connection pool.
func (d *DB) Close() error {
	return d.sqlx.Close()
}

// Driver returns the active engine name.
func (d *DB) Driver() string {
	return d.driver
}

// LockSuffix returns the row-locking clause for the active engine. SQLite
// has no FOR UPDATE; its single-writer model serializes transactions.
func (d *DB) LockSuffix() string {
	if d.driver == DriverMySQL {
		return " FOR UPDATE"
	}
	return ""
}

// In expands a sqlx.In query and rebinds it for the active engine.
func (d *DB) In(query string, args ...interface{}) (string, []interface{}, error) {
	q, a, err := sqlx.In(query, args...)
	if err != nil {
		return "", nil, err
	}
	return d.sqlx.Rebind(q), a, nil
}

func (d *DB) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return d.withRetry(ctx, query, func() error {
		return d.sqlx.GetContext(ctx, dest, query, args...)
	})
}

func (d *DB) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return d.withRetry(ctx, query, func() error {
		return d.sqlx.SelectContext(ctx, dest, query, args...)
	})
}

func (d *DB) ExecContext(ctx context.Context, query string, args ...interface{}) (Result, error) {
	var res Result
	err := d.withRetry(ctx, query, func() error {
		r, err := d.sqlx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		res.InsertID, _ = r.LastInsertId()
		res.AffectedRows, _ = r.RowsAffected()
		return nil
	})
	return res, err
}

// Tx is a transaction-scoped handle. No retry inside a transaction: a
// dropped connection aborts the whole unit and the caller decides.
type Tx struct {
	tx *sqlx.Tx
	db *DB
}

func (t *Tx) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return t.tx.GetContext(ctx, dest, query, args...)
}

func (t *Tx) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return t.tx.SelectContext(ctx, dest, query, args...)
}

func (t *Tx) ExecContext(ctx context.Context, query string, args ...interface{}) (Result, error) {
	r, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return Result{}, err
	}
	var res Result
	res.InsertID, _ = r.LastInsertId()
	res.AffectedRows, _ = r.RowsAffected()
	return res, nil
}

// LockSuffix mirrors DB.LockSuffix for code running inside a transaction.
func (t *Tx) LockSuffix() string {
	return t.db.LockSuffix()
}

// WithTx begins a transaction, invokes fn with a transaction-scoped handle,
// commits on success and rolls back on error, returning the original error.
func (d *DB) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := d.sqlx.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&Tx{tx: tx, db: d}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			d.logger.Error("Rollback failed", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (d *DB) withRetry(ctx context.Context, query string, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBackoff << uint(attempt-1)):
			}
			d.logger.Warn("Retrying query after connection error",
				zap.Int("attempt", attempt+1),
				zap.String("query", truncate(query, 120)))
		}

		err = fn()
		if err == nil || !isRetryable(err) {
			return err
		}
	}
	d.logger.Error("Query failed after retries",
		zap.String("query", truncate(query, 120)),
		zap.Error(err))
	return &PersistenceError{Attempts: maxRetries, Err: err}
}

// IsDuplicateKey reports whether err is a unique-constraint violation on
// either engine.
func IsDuplicateKey(err error) bool {
	var myErr *mysqldrv.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) {
		return sqErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func isRetryable(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "invalid connection") ||
		strings.Contains(msg, "broken pipe")
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
