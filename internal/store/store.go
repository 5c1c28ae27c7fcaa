// Package store provides the SQLite-backed object repository and relation graph.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/starford/ansuz/internal/apperr"
)

// timeLayout is fixed width so stored timestamps sort lexically and the
// generated date columns can take the first ten characters.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrUniqueViolation is returned when an insert or update collides with a
// unique index. It wraps apperr.ErrConflict.
var ErrUniqueViolation = fmt.Errorf("%w: unique constraint violated", apperr.ErrConflict)

// DB wraps a sql.DB with store-specific operations.
type DB struct {
	conn   *sql.DB
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a DB.
type Option func(*DB)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(db *DB) {
		db.now = now
	}
}

// WithLogger sets the logger used for swallowed secondary failures.
func WithLogger(logger *slog.Logger) Option {
	return func(db *DB) {
		db.logger = logger
	}
}

// Open opens (or creates) the SQLite database and applies the schema.
//
// Transactions are started with BEGIN IMMEDIATE so concurrent writers wait on
// the busy timeout instead of failing on lock upgrade.
func Open(dsn string, opts ...Option) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if dsn == ":memory:" {
		// Every connection to :memory: is a separate database.
		conn.SetMaxOpenConns(1)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	db := &DB{
		conn:   conn,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(db)
	}
	return db, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping verifies the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Now returns the current time from the configured clock, in UTC.
func (db *DB) Now() time.Time {
	return db.now().UTC()
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// withTx runs fn inside a transaction that is committed only if fn succeeds.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return classify("store: begin tx", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify("store: commit", err)
	}
	return nil
}

// classify maps driver errors onto the apperr taxonomy.
func classify(op string, err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.ExtendedCode {
		case sqlite3.ErrConstraintUnique:
			return fmt.Errorf("%s: %w", op, ErrUniqueViolation)
		case sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("%s: referenced object: %w", op, apperr.ErrNotFound)
		case sqlite3.ErrConstraintCheck:
			return fmt.Errorf("%s: %w: %s", op, apperr.ErrValidation, se.Error())
		}
	}
	return apperr.Internal(op, err)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// placeholders returns "?, ?, ..." with n markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
