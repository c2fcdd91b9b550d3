package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeAdapter struct {
	Executor
	connectErr error
	migrateErr error
	connects   int
	migrations int
	closes     int
}

func (f *fakeAdapter) Dialect() Dialect { return DialectPostgres }

func (f *fakeAdapter) Connect(context.Context) error {
	f.connects++
	return f.connectErr
}

func (f *fakeAdapter) Migrate(context.Context) error {
	f.migrations++
	return f.migrateErr
}

func (f *fakeAdapter) Transaction(ctx context.Context, fn func(context.Context, Executor) error) error {
	return fn(ctx, f)
}

func (f *fakeAdapter) Ping(context.Context) error { return nil }

func (f *fakeAdapter) Close(context.Context) error {
	f.closes++
	return nil
}

func fakeFactory(built *[]*fakeAdapter, proto fakeAdapter) Factory {
	return func(Options, *zap.Logger) (Adapter, error) {
		a := proto
		*built = append(*built, &a)
		return &a, nil
	}
}

func TestRegistry_InstanceBeforeInitialize(t *testing.T) {
	r := NewRegistry(zap.NewNop(), nil)

	_, err := r.Instance()
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.Equal(t, StateUninitialized, r.State())
}

func TestRegistry_InitializeOnce(t *testing.T) {
	var built []*fakeAdapter
	r := NewRegistry(zap.NewNop(), fakeFactory(&built, fakeAdapter{}))
	ctx := context.Background()

	first, err := r.Initialize(ctx, Options{Mode: ModeCloud})
	require.NoError(t, err)
	second, err := r.Initialize(ctx, Options{Mode: ModeLocal})
	require.NoError(t, err)

	assert.Same(t, first, second)
	require.Len(t, built, 1)
	assert.Equal(t, 1, built[0].connects)
	assert.Equal(t, 1, built[0].migrations)
	assert.Equal(t, ModeCloud, r.Mode())
	assert.Equal(t, StateReady, r.State())

	inst, err := r.Instance()
	require.NoError(t, err)
	assert.Same(t, first, inst)
}

func TestRegistry_ConnectFailureLeavesUninitialized(t *testing.T) {
	var built []*fakeAdapter
	connErr := &ConnectionError{Target: "postgres", Err: errors.New("refused")}
	r := NewRegistry(zap.NewNop(), fakeFactory(&built, fakeAdapter{connectErr: connErr}))

	_, err := r.Initialize(context.Background(), Options{Mode: ModeCloud})
	assert.ErrorIs(t, err, ErrConnection)
	assert.Equal(t, StateUninitialized, r.State())
	assert.Equal(t, 0, built[0].migrations)

	_, err = r.Instance()
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestRegistry_MigrationFailureClosesAdapter(t *testing.T) {
	var built []*fakeAdapter
	migErr := &MigrationError{File: "002_users_refresh_tokens.sql", Err: errors.New("syntax error")}
	r := NewRegistry(zap.NewNop(), fakeFactory(&built, fakeAdapter{migrateErr: migErr}))

	_, err := r.Initialize(context.Background(), Options{Mode: ModeCloud})
	var target *MigrationError
	require.ErrorAs(t, err, &target)
	assert.Equal(t, "002_users_refresh_tokens.sql", target.File)
	assert.Equal(t, 1, built[0].closes)
	assert.Equal(t, StateUninitialized, r.State())
}

func TestRegistry_CloseAndReinitialize(t *testing.T) {
	var built []*fakeAdapter
	r := NewRegistry(zap.NewNop(), fakeFactory(&built, fakeAdapter{}))
	ctx := context.Background()

	_, err := r.Initialize(ctx, Options{Mode: ModeCloud})
	require.NoError(t, err)
	require.NoError(t, r.Close(ctx))
	assert.Equal(t, StateClosed, r.State())
	assert.Equal(t, 1, built[0].closes)

	_, err = r.Instance()
	assert.ErrorIs(t, err, ErrNotInitialized)

	_, err = r.Initialize(ctx, Options{Mode: ModeCloud})
	require.NoError(t, err)
	assert.Len(t, built, 2)

	require.NoError(t, r.Reset(ctx))
	assert.Equal(t, StateUninitialized, r.State())
	assert.Equal(t, Mode(""), r.Mode())
}

func TestRegistry_UnknownMode(t *testing.T) {
	r := NewRegistry(zap.NewNop(), nil)

	_, err := r.Initialize(context.Background(), Options{Mode: "hybrid"})
	require.Error(t, err)
	assert.Equal(t, StateUninitialized, r.State())
}

func TestRegistry_LocalModeEndToEnd(t *testing.T) {
	r := NewRegistry(zap.NewNop(), nil)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "clinic.db")

	a, err := r.Initialize(ctx, Options{Mode: ModeLocal, SQLitePath: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Reset(context.Background()) })

	assert.Equal(t, DialectSQLite, a.Dialect())
	_, isBackuper := a.(Backuper)
	assert.True(t, isBackuper)

	rows, err := a.Query(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name`)
	require.NoError(t, err)
	var tables []string
	for _, row := range rows {
		tables = append(tables, row.String("name"))
	}
	assert.Contains(t, tables, "patients")
	assert.Contains(t, tables, "sessions")
}

func TestDefaultRegistryIsSingleton(t *testing.T) {
	assert.Same(t, Default(), Default())
}
