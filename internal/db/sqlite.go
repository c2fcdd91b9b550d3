package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"modernc.org/sqlite"

	"github.com/DLMCQ/DermaClinic/internal/metrics"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS patients (
	id                 TEXT PRIMARY KEY,
	full_name          TEXT NOT NULL,
	national_id        TEXT NOT NULL UNIQUE,
	birth_date         TEXT,
	phone              TEXT,
	email              TEXT,
	address            TEXT,
	insurance_provider TEXT,
	insurance_number   TEXT,
	consultation_reason TEXT,
	photo              TEXT,
	created_at         TEXT NOT NULL,
	updated_at         TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	id           TEXT PRIMARY KEY,
	patient_id   TEXT NOT NULL REFERENCES patients(id) ON DELETE CASCADE,
	visit_date   TEXT NOT NULL,
	treatment    TEXT NOT NULL,
	products     TEXT,
	notes        TEXT,
	image_before TEXT,
	image_after  TEXT,
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_patient ON sessions(patient_id);
CREATE INDEX IF NOT EXISTS idx_sessions_visit_date ON sessions(visit_date);
`

// SQLiteAdapter keeps the whole database in an in-process engine and rewrites
// the backing file in full after every committed mutation. Write cost is
// proportional to database size; the file on disk is always a complete,
// self-consistent database that a fresh process can open.
type SQLiteAdapter struct {
	path string
	log  *zap.Logger

	// mu serializes Execute, Transaction, Backup and Close on the single
	// shared connection.
	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

func NewSQLiteAdapter(path string, log *zap.Logger) *SQLiteAdapter {
	if log == nil {
		log = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return &SQLiteAdapter{path: abs, log: log}
}

// newSQLiteAdapterWithDB wires an already opened handle, skipping Connect.
func newSQLiteAdapterWithDB(db *sql.DB, path string, log *zap.Logger) *SQLiteAdapter {
	a := NewSQLiteAdapter(path, log)
	a.db = db
	return a
}

func (a *SQLiteAdapter) Dialect() Dialect { return DialectSQLite }

// Path is the backing file.
func (a *SQLiteAdapter) Path() string { return a.path }

func (a *SQLiteAdapter) Connect(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return &ConnectionError{Target: a.path, Err: err}
	}
	db, loaded, err := a.open(ctx)
	if err != nil {
		return &ConnectionError{Target: a.path, Err: err}
	}
	if loaded {
		a.log.Info("loaded existing database", zap.String("path", a.path))
	} else {
		a.log.Info("created new database", zap.String("path", a.path))
	}

	a.mu.Lock()
	a.db = db
	a.closed = false
	a.mu.Unlock()
	return nil
}

var registerFuncsOnce = sync.OnceValue(func() error {
	return sqlite.RegisterDeterministicScalarFunction("ulower", 1, unicodeLower)
})

// unicodeLower backs ulower(), a lower() that folds non-ASCII letters too.
func unicodeLower(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	switch v := args[0].(type) {
	case nil:
		return nil, nil
	case string:
		return strings.ToLower(v), nil
	case []byte:
		return strings.ToLower(string(v)), nil
	default:
		return v, nil
	}
}

// open builds a fresh in-memory engine holding the contents of the backing
// file, or an empty one when the file does not exist yet.
func (a *SQLiteAdapter) open(ctx context.Context) (*sql.DB, bool, error) {
	if err := registerFuncsOnce(); err != nil {
		return nil, false, fmt.Errorf("register functions: %w", err)
	}

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, false, err
	}
	// one connection keeps the in-memory database alive and shared
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, false, err
	}

	loaded := false
	_, statErr := os.Stat(a.path)
	switch {
	case statErr == nil:
		if err := loadFile(ctx, db, a.path); err != nil {
			_ = db.Close()
			return nil, false, err
		}
		loaded = true
	case errors.Is(statErr, os.ErrNotExist):
	default:
		_ = db.Close()
		return nil, false, statErr
	}

	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		_ = db.Close()
		return nil, false, err
	}
	return db, loaded, nil
}

// loadFile copies every table and index of the file at path into the empty
// in-memory database.
func loadFile(ctx context.Context, db *sql.DB, path string) error {
	if _, err := db.ExecContext(ctx, `ATTACH DATABASE ? AS disk`, path); err != nil {
		return fmt.Errorf("attach: %w", err)
	}
	defer func() {
		_, _ = db.ExecContext(context.Background(), `DETACH DATABASE disk`)
	}()

	rows, err := db.QueryContext(ctx, `
		SELECT type, name, sql
		FROM disk.sqlite_master
		WHERE sql IS NOT NULL
		  AND type IN ('table', 'index')
		  AND name NOT LIKE 'sqlite_%'
		ORDER BY CASE type WHEN 'table' THEN 0 ELSE 1 END, name
	`)
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	type object struct{ kind, name, ddl string }
	var objects []object
	for rows.Next() {
		var o object
		if err := rows.Scan(&o.kind, &o.name, &o.ddl); err != nil {
			rows.Close()
			return fmt.Errorf("scan schema: %w", err)
		}
		objects = append(objects, o)
	}
	if err := rows.Close(); err != nil {
		return err
	}

	for _, o := range objects {
		if _, err := db.ExecContext(ctx, o.ddl); err != nil {
			return fmt.Errorf("create %s %s: %w", o.kind, o.name, err)
		}
		if o.kind != "table" {
			continue
		}
		copyStmt := fmt.Sprintf(`INSERT INTO main.%[1]s SELECT * FROM disk.%[1]s`, quoteIdent(o.name))
		if _, err := db.ExecContext(ctx, copyStmt); err != nil {
			return fmt.Errorf("copy table %s: %w", o.name, err)
		}
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Migrate creates the schema with IF NOT EXISTS on every start; the file keeps
// no migration ledger.
func (a *SQLiteAdapter) Migrate(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.db == nil || a.closed {
		return &MigrationError{Err: ErrClosed}
	}
	if _, err := a.db.ExecContext(ctx, sqliteSchema); err != nil {
		return &MigrationError{File: "sqlite schema", Err: err}
	}
	if err := a.save(ctx); err != nil {
		return &MigrationError{File: "sqlite schema", Err: err}
	}
	a.log.Info("sqlite migrations completed")
	return nil
}

func (a *SQLiteAdapter) handle() (*sql.DB, error) {
	if a.db == nil || a.closed {
		return nil, ErrClosed
	}
	return a.db, nil
}

func (a *SQLiteAdapter) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	db, err := a.handle()
	if err != nil {
		return nil, err
	}
	return querySQL(ctx, db, query, args...)
}

func (a *SQLiteAdapter) QueryOne(ctx context.Context, query string, args ...any) (Row, error) {
	rows, err := a.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNoRows
	}
	return rows[0], nil
}

// Execute applies the statement and then re-serializes the whole database to
// disk before returning. If the file cannot be written the statement is undone
// and the error wraps ErrNotSaved.
func (a *SQLiteAdapter) Execute(ctx context.Context, query string, args ...any) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	db, err := a.handle()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return translateSQLiteError(err)
	}
	return a.persist(ctx)
}

// Transaction holds the write lock for the whole callback. The file is saved
// once, after COMMIT; a rollback leaves both memory and file untouched, and so
// does a failed save (see persist).
func (a *SQLiteAdapter) Transaction(ctx context.Context, fn func(ctx context.Context, tx Executor) error) (err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	db, err := a.handle()
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, sqlTx{tx: tx, translate: translateSQLiteError}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			a.log.Error("rollback failed", zap.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", translateSQLiteError(err))
	}
	return a.persist(ctx)
}

func (a *SQLiteAdapter) Ping(ctx context.Context) error {
	db, err := a.handle()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

// Backup writes a full copy of the database to dest.
func (a *SQLiteAdapter) Backup(ctx context.Context, dest string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, err := a.handle(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}
	return a.writeTo(ctx, dest)
}

// Close saves a final copy and releases the engine.
func (a *SQLiteAdapter) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.db == nil || a.closed {
		return nil
	}
	saveErr := a.save(ctx)
	closeErr := a.db.Close()
	a.closed = true
	a.db = nil
	return errors.Join(saveErr, closeErr)
}

// persist saves a committed write. When the save fails the in-memory engine
// is rebuilt from the file, which still holds the state before the write, so
// an error always means nothing was committed. If even that reload fails the
// write stays in memory and the error also wraps ErrNotDurable; the next
// successful save or Close writes it out.
// Must be called with mu held.
func (a *SQLiteAdapter) persist(ctx context.Context) error {
	// the write is already applied, so a caller going away must not cut the save short
	ctx = context.WithoutCancel(ctx)

	saveErr := a.save(ctx)
	if saveErr == nil {
		return nil
	}

	restored, _, err := a.open(ctx)
	if err != nil {
		a.log.Error("restore after failed save", zap.String("path", a.path), zap.Error(err))
		return fmt.Errorf("%w: %w: %w", ErrNotSaved, ErrNotDurable, saveErr)
	}
	if err := a.db.Close(); err != nil {
		a.log.Warn("close discarded engine", zap.Error(err))
	}
	a.db = restored
	a.log.Warn("write undone after failed save", zap.String("path", a.path))
	return fmt.Errorf("%w: %w", ErrNotSaved, saveErr)
}

// save must be called with mu held.
func (a *SQLiteAdapter) save(ctx context.Context) error {
	start := time.Now()
	if err := a.writeTo(ctx, a.path); err != nil {
		a.log.Error("save database file failed", zap.String("path", a.path), zap.Error(err))
		return fmt.Errorf("save database file: %w", err)
	}
	metrics.EmbeddedSaveDuration.Observe(time.Since(start).Seconds())
	return nil
}

// writeTo serializes the database into a sibling temp file and renames it over
// target, so readers never observe a half-written file.
func (a *SQLiteAdapter) writeTo(ctx context.Context, target string) error {
	tmp := target + ".tmp"
	if err := os.Remove(tmp); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if _, err := a.db.ExecContext(ctx, `VACUUM INTO ?`, tmp); err != nil {
		return fmt.Errorf("vacuum into: %w", err)
	}
	return os.Rename(tmp, target)
}
