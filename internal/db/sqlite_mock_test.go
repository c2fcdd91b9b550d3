package db

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupMockSQLite(t *testing.T) (*SQLiteAdapter, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	a := newSQLiteAdapterWithDB(conn, filepath.Join(t.TempDir(), "clinic.db"), zap.NewNop())
	return a, mock
}

func TestSQLiteAdapter_FailedExecuteDoesNotSave(t *testing.T) {
	a, mock := setupMockSQLite(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE patients SET phone = ?`)).
		WithArgs("555").
		WillReturnError(errors.New("disk I/O error"))

	err := a.Execute(context.Background(), `UPDATE patients SET phone = ?`, "555")
	require.Error(t, err)

	// no VACUUM INTO was issued
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteAdapter_RolledBackTransactionDoesNotSave(t *testing.T) {
	a, mock := setupMockSQLite(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM sessions WHERE patient_id = ?`)).
		WithArgs("p1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM patients WHERE id = ?`)).
		WithArgs("p1").
		WillReturnError(errors.New("constraint failed"))
	mock.ExpectRollback()

	err := a.Transaction(context.Background(), func(ctx context.Context, tx Executor) error {
		if err := tx.Execute(ctx, `DELETE FROM sessions WHERE patient_id = ?`, "p1"); err != nil {
			return err
		}
		return tx.Execute(ctx, `DELETE FROM patients WHERE id = ?`, "p1")
	})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteAdapter_QueryMaterializesRows(t *testing.T) {
	a, mock := setupMockSQLite(t)

	rows := sqlmock.NewRows([]string{"id", "full_name", "photo"}).
		AddRow("p1", []byte("Ana"), nil).
		AddRow("p2", "Luis", "data:image/png;base64,AAAA")
	mock.ExpectQuery(`SELECT id, full_name, photo FROM patients`).WillReturnRows(rows)

	got, err := a.Query(context.Background(), `SELECT id, full_name, photo FROM patients`)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Ana", got[0].String("full_name"))
	assert.Nil(t, got[0].StringPtr("photo"))
	assert.Equal(t, "data:image/png;base64,AAAA", *got[1].StringPtr("photo"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
