//go:build integration

package db

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DLMCQ/DermaClinic/internal/testinfra"
)

func openTestPostgres(t *testing.T) *PostgresAdapter {
	t.Helper()
	pg := testinfra.StartPostgres(t)

	a := NewPostgresAdapter(pg.DSN, nil, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, a.Connect(ctx))
	require.NoError(t, a.Migrate(ctx))
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

func pgInsertPatient(ctx context.Context, ex Executor, id, nationalID string) error {
	return ex.Execute(ctx,
		`INSERT INTO patients (id, full_name, national_id) VALUES ($1, $2, $3)`,
		id, "Paciente "+nationalID, nationalID)
}

func TestPostgresAdapter_MigrationsLedger(t *testing.T) {
	a := openTestPostgres(t)
	ctx := context.Background()

	rows, err := a.Query(ctx, `SELECT filename FROM schema_migrations ORDER BY filename`)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "001_patients_sessions.sql", rows[0].String("filename"))
	assert.Equal(t, "003_appointments.sql", rows[2].String("filename"))

	// second run applies nothing
	require.NoError(t, a.Migrate(ctx))
	rows, err = a.Query(ctx, `SELECT filename FROM schema_migrations`)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestPostgresAdapter_FailedMigrationIsNotRecorded(t *testing.T) {
	pg := testinfra.StartPostgres(t)
	ctx := context.Background()

	migrations := fstest.MapFS{
		"001_ok.sql":     {Data: []byte(`CREATE TABLE ok_table (id INT PRIMARY KEY);`)},
		"002_broken.sql": {Data: []byte(`CREATE TABLE half (id INT); CREATE TABLE oops (`)},
		"003_never.sql":  {Data: []byte(`CREATE TABLE never_table (id INT);`)},
	}
	a := NewPostgresAdapter(pg.DSN, migrations, zap.NewNop())
	require.NoError(t, a.Connect(ctx))
	defer a.Close(ctx)

	err := a.Migrate(ctx)
	var migErr *MigrationError
	require.ErrorAs(t, err, &migErr)
	assert.Equal(t, "002_broken.sql", migErr.File)

	rows, err := a.Query(ctx, `SELECT filename FROM schema_migrations`)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "001_ok.sql", rows[0].String("filename"))

	_, err = a.Query(ctx, `SELECT * FROM half`)
	assert.Error(t, err)
}

func TestPostgresAdapter_TransactionRollback(t *testing.T) {
	a := openTestPostgres(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := a.Transaction(ctx, func(ctx context.Context, tx Executor) error {
		if err := pgInsertPatient(ctx, tx, uuid.NewString(), "10000001"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	row, err := a.QueryOne(ctx, `SELECT COUNT(*) AS n FROM patients`)
	require.NoError(t, err)
	assert.Equal(t, int64(0), row.Int("n"))
}

func TestPostgresAdapter_ConstraintsAndCascade(t *testing.T) {
	a := openTestPostgres(t)
	ctx := context.Background()

	patientID := uuid.NewString()
	require.NoError(t, pgInsertPatient(ctx, a, patientID, "20000002"))
	assert.ErrorIs(t, pgInsertPatient(ctx, a, uuid.NewString(), "20000002"), ErrUniqueViolation)

	err := a.Execute(ctx,
		`INSERT INTO sessions (id, patient_id, visit_date, treatment) VALUES ($1, $2, $3, $4)`,
		uuid.NewString(), uuid.NewString(), time.Now(), "Peeling")
	assert.ErrorIs(t, err, ErrForeignKeyViolation)

	require.NoError(t, a.Execute(ctx,
		`INSERT INTO sessions (id, patient_id, visit_date, treatment) VALUES ($1, $2, $3, $4)`,
		uuid.NewString(), patientID, time.Now(), "Peeling"))
	require.NoError(t, a.Execute(ctx, `DELETE FROM patients WHERE id = $1`, patientID))

	row, err := a.QueryOne(ctx, `SELECT COUNT(*) AS n FROM sessions WHERE patient_id = $1`, patientID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), row.Int("n"))

	got, err := a.QueryOne(ctx, `SELECT id FROM patients WHERE id = $1`, patientID)
	assert.ErrorIs(t, err, ErrNoRows)
	assert.Nil(t, got)
}
