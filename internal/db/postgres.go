package db

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

//go:embed migrations/postgres/*.sql
var embeddedMigrations embed.FS

// DefaultMigrations is the migration set shipped with the binary.
func DefaultMigrations() fs.FS {
	sub, err := fs.Sub(embeddedMigrations, "migrations/postgres")
	if err != nil {
		panic(err)
	}
	return sub
}

func ConnectPostgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.HealthCheckPeriod = 30 * time.Second
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 15 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return pool, nil
}

// PostgresAdapter talks to a Postgres server through a pgx pool. Transactions
// run on one connection checked out for the callback's lifetime.
type PostgresAdapter struct {
	dsn        string
	migrations fs.FS
	log        *zap.Logger
	pool       *pgxpool.Pool
}

func NewPostgresAdapter(dsn string, migrations fs.FS, log *zap.Logger) *PostgresAdapter {
	if log == nil {
		log = zap.NewNop()
	}
	if migrations == nil {
		migrations = DefaultMigrations()
	}
	return &PostgresAdapter{dsn: dsn, migrations: migrations, log: log}
}

func (a *PostgresAdapter) Dialect() Dialect { return DialectPostgres }

// Pool exposes the underlying pool for callers that need pgx directly (health checks, seeding).
func (a *PostgresAdapter) Pool() *pgxpool.Pool { return a.pool }

func (a *PostgresAdapter) Connect(ctx context.Context) error {
	if a.dsn == "" {
		return &ConnectionError{Target: "postgres", Err: errors.New("DATABASE_URL is required for cloud mode")}
	}
	pool, err := ConnectPostgres(ctx, a.dsn)
	if err != nil {
		return &ConnectionError{Target: "postgres", Err: err}
	}

	var now time.Time
	if err := pool.QueryRow(ctx, `SELECT now()`).Scan(&now); err != nil {
		pool.Close()
		return &ConnectionError{Target: "postgres", Err: err}
	}
	a.pool = pool
	a.log.Info("connected to postgres", zap.Time("server_time", now))
	return nil
}

// Migrate applies every *.sql file not yet recorded in schema_migrations, in
// lexical filename order. Each file and its ledger row commit together.
func (a *PostgresAdapter) Migrate(ctx context.Context) error {
	if a.pool == nil {
		return &MigrationError{Err: ErrClosed}
	}

	_, err := a.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id          SERIAL PRIMARY KEY,
			filename    VARCHAR(255) NOT NULL UNIQUE,
			executed_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return &MigrationError{File: "schema_migrations", Err: err}
	}

	files, err := migrationFiles(a.migrations)
	if err != nil {
		return &MigrationError{Err: err}
	}

	for _, file := range files {
		var exists bool
		err := a.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE filename = $1)`, file,
		).Scan(&exists)
		if err != nil {
			return &MigrationError{File: file, Err: err}
		}
		if exists {
			a.log.Debug("skipping migration", zap.String("file", file))
			continue
		}

		body, err := fs.ReadFile(a.migrations, file)
		if err != nil {
			return &MigrationError{File: file, Err: err}
		}

		a.log.Info("running migration", zap.String("file", file))
		err = pgx.BeginFunc(ctx, a.pool, func(tx pgx.Tx) error {
			// no arguments: simple protocol, multi-statement bodies allowed
			if _, err := tx.Exec(ctx, string(body)); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, file)
			return err
		})
		if err != nil {
			return &MigrationError{File: file, Err: err}
		}
	}

	a.log.Info("postgres migrations completed", zap.Int("files", len(files)))
	return nil
}

func migrationFiles(fsys fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		files = append(files, path.Clean(e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func (a *PostgresAdapter) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	if a.pool == nil {
		return nil, ErrClosed
	}
	return queryPgx(ctx, a.pool, query, args...)
}

func (a *PostgresAdapter) QueryOne(ctx context.Context, query string, args ...any) (Row, error) {
	rows, err := a.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNoRows
	}
	return rows[0], nil
}

func (a *PostgresAdapter) Execute(ctx context.Context, query string, args ...any) error {
	if a.pool == nil {
		return ErrClosed
	}
	_, err := a.pool.Exec(ctx, query, args...)
	return translatePgError(err)
}

func (a *PostgresAdapter) Transaction(ctx context.Context, fn func(ctx context.Context, tx Executor) error) error {
	if a.pool == nil {
		return ErrClosed
	}
	conn, err := a.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	// no-op once committed
	defer func() {
		if err := tx.Rollback(context.Background()); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			a.log.Error("rollback failed", zap.Error(err))
		}
	}()

	if err := fn(ctx, pgxTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", translatePgError(err))
	}
	return nil
}

func (a *PostgresAdapter) Ping(ctx context.Context) error {
	if a.pool == nil {
		return ErrClosed
	}
	return a.pool.Ping(ctx)
}

func (a *PostgresAdapter) Close(ctx context.Context) error {
	if a.pool == nil {
		return nil
	}
	a.pool.Close()
	a.pool = nil
	a.log.Info("postgres connection pool closed")
	return nil
}

type pgxQueryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryPgx(ctx context.Context, q pgxQueryer, query string, args ...any) ([]Row, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, translatePgError(err)
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, translatePgError(err)
	}
	out := make([]Row, len(maps))
	for i, m := range maps {
		out[i] = Row(m)
	}
	return out, nil
}

type pgxTx struct {
	tx pgx.Tx
}

func (t pgxTx) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	return queryPgx(ctx, t.tx, query, args...)
}

func (t pgxTx) QueryOne(ctx context.Context, query string, args ...any) (Row, error) {
	rows, err := t.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNoRows
	}
	return rows[0], nil
}

func (t pgxTx) Execute(ctx context.Context, query string, args ...any) error {
	_, err := t.tx.Exec(ctx, query, args...)
	return translatePgError(err)
}
