package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	ErrConnection          = errors.New("storage connection failed")
	ErrNotInitialized      = errors.New("storage not initialized")
	ErrNoRows              = errors.New("no rows in result set")
	ErrUniqueViolation     = errors.New("unique constraint violated")
	ErrForeignKeyViolation = errors.New("foreign key constraint violated")
	ErrClosed              = errors.New("storage closed")
	// ErrNotSaved means the embedded file could not be written and the write was not committed.
	ErrNotSaved = errors.New("database file not saved")
	// ErrNotDurable is added to ErrNotSaved when the write could not be undone
	// and is visible in memory until a later save succeeds.
	ErrNotDurable = errors.New("write applied but not durable")
)

// ConnectionError wraps a failure to reach or open the backing store.
type ConnectionError struct {
	Target string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Target, e.Err)
}

func (e *ConnectionError) Unwrap() []error {
	return []error{ErrConnection, e.Err}
}

// MigrationError reports the migration that stopped startup.
type MigrationError struct {
	File string
	Err  error
}

func (e *MigrationError) Error() string {
	if e.File == "" {
		return fmt.Sprintf("migrate: %v", e.Err)
	}
	return fmt.Sprintf("migrate %s: %v", e.File, e.Err)
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}

// Postgres SQLSTATE codes we translate.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

func translatePgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%w: %s: %w", ErrUniqueViolation, pgErr.ConstraintName, err)
		case pgForeignKeyViolation:
			return fmt.Errorf("%w: %s: %w", ErrForeignKeyViolation, pgErr.ConstraintName, err)
		}
	}
	return err
}

func translateSQLiteError(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return fmt.Errorf("%w: %w", ErrForeignKeyViolation, err)
		}
	}
	// fallback when only the primary result code is reported
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return fmt.Errorf("%w: %w", ErrForeignKeyViolation, err)
	}
	return err
}
