package trust

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestStore_IsWhitelisted(t *testing.T) {
	db, mock := setupMockDB(t)
	store := NewStore(db)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("partner@corp.com").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := store.IsWhitelisted(context.Background(), "Partner@Corp.com")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpsertAccessRequest(t *testing.T) {
	db, mock := setupMockDB(t)
	store := NewStore(db)

	mock.ExpectQuery("INSERT INTO access_requests").
		WithArgs("x@gmail.com", "TA for CS101").
		WillReturnRows(sqlmock.NewRows([]string{"inserted"}).AddRow(true))
	mock.ExpectQuery("INSERT INTO access_requests").
		WithArgs("x@gmail.com", "updated reason").
		WillReturnRows(sqlmock.NewRows([]string{"inserted"}).AddRow(false))

	created, err := store.UpsertAccessRequest(context.Background(), "x@gmail.com", "TA for CS101")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.UpsertAccessRequest(context.Background(), "X@gmail.com", "updated reason")
	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ApproveAccessRequest(t *testing.T) {
	t.Run("moves request to whitelist", func(t *testing.T) {
		db, mock := setupMockDB(t)
		store := NewStore(db)

		mock.ExpectBegin()
		mock.ExpectExec("DELETE FROM access_requests").
			WithArgs("x@gmail.com").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO whitelist_entries").
			WithArgs("x@gmail.com", "admin@uni.edu").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, store.ApproveAccessRequest(context.Background(), "x@gmail.com", "admin@uni.edu"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no pending request rolls back", func(t *testing.T) {
		db, mock := setupMockDB(t)
		store := NewStore(db)

		mock.ExpectBegin()
		mock.ExpectExec("DELETE FROM access_requests").
			WithArgs("x@gmail.com").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := store.ApproveAccessRequest(context.Background(), "x@gmail.com", "admin@uni.edu")
		assert.ErrorIs(t, err, ErrAccessRequestNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("whitelist insert failure rolls back", func(t *testing.T) {
		db, mock := setupMockDB(t)
		store := NewStore(db)

		mock.ExpectBegin()
		mock.ExpectExec("DELETE FROM access_requests").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO whitelist_entries").WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		err := store.ApproveAccessRequest(context.Background(), "x@gmail.com", "admin@uni.edu")
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_Lists(t *testing.T) {
	db, mock := setupMockDB(t)
	store := NewStore(db)
	now := time.Now()

	mock.ExpectQuery("SELECT email, reason, requested_at").
		WillReturnRows(sqlmock.NewRows([]string{"email", "reason", "requested_at"}).
			AddRow("a@gmail.com", "guest lecturer", now))
	mock.ExpectQuery("SELECT email, approved_by, approved_at").
		WillReturnRows(sqlmock.NewRows([]string{"email", "approved_by", "approved_at"}).
			AddRow("b@corp.com", "admin@uni.edu", now))

	requests, err := store.ListAccessRequests(context.Background())
	require.NoError(t, err)
	require.Len(t, requests, 1)
	assert.Equal(t, "guest lecturer", requests[0].Reason)

	entries, err := store.ListWhitelist(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "admin@uni.edu", entries[0].ApprovedBy)
	assert.NoError(t, mock.ExpectationsWereMet())
}
