package db

import (
	"context"
)

// Executor is the statement surface shared by an adapter and the handle it
// passes to a transaction callback.
type Executor interface {
	// Query runs a read and materializes every matching row.
	Query(ctx context.Context, query string, args ...any) ([]Row, error)
	// QueryOne returns the first row of Query, or ErrNoRows.
	QueryOne(ctx context.Context, query string, args ...any) (Row, error)
	// Execute runs a mutation that returns no rows.
	Execute(ctx context.Context, query string, args ...any) error
}

// Adapter is the storage contract implemented by the embedded-file and
// networked backends. It is dialect agnostic: callers pick placeholder style
// and date functions from Dialect().
type Adapter interface {
	Executor

	Dialect() Dialect

	// Connect establishes readiness. Failures are ConnectionError.
	Connect(ctx context.Context) error
	// Migrate idempotently ensures the schema exists. Failures are MigrationError.
	Migrate(ctx context.Context) error
	// Transaction runs fn against a scoped Executor. Any error returned by fn
	// rolls the transaction back and is returned unchanged.
	// fn must use the Executor it is given, never the adapter itself.
	Transaction(ctx context.Context, fn func(ctx context.Context, tx Executor) error) error
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Backuper is implemented by adapters that can write a consistent full copy of
// their data to a local file.
type Backuper interface {
	Backup(ctx context.Context, dest string) error
}

// InTx runs fn in a transaction on a and returns its value.
func InTx[T any](ctx context.Context, a Adapter, fn func(ctx context.Context, tx Executor) (T, error)) (T, error) {
	var out T
	err := a.Transaction(ctx, func(ctx context.Context, tx Executor) error {
		v, err := fn(ctx, tx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
