package database

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vaidashi/rachma-marketplace/pkg/logger"
)

func newMockDatabase(t *testing.T) (*Database, sqlmock.Sqlmock) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	return NewWithDB(sqlx.NewDb(mockDB, "postgres"), logger.NewNop()), mock
}

func TestRunInTx(t *testing.T) {
	t.Run("commits on success", func(t *testing.T) {
		db, mock := newMockDatabase(t)

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE orders`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := db.RunInTx(context.Background(), func(tx *sqlx.Tx) error {
			_, err := tx.Exec(`UPDATE orders SET status = 'completed'`)
			return err
		})

		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back when fn fails", func(t *testing.T) {
		db, mock := newMockDatabase(t)
		boom := errors.New("delivery failed")

		mock.ExpectBegin()
		mock.ExpectRollback()

		err := db.RunInTx(context.Background(), func(tx *sqlx.Tx) error {
			return boom
		})

		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("reports commit failure", func(t *testing.T) {
		db, mock := newMockDatabase(t)

		mock.ExpectBegin()
		mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))

		err := db.RunInTx(context.Background(), func(tx *sqlx.Tx) error { return nil })

		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to commit transaction")
	})
}
