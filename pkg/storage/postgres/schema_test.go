package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	for range schema {
		mock.ExpectExec("CREATE").WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, EnsureSchema(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema_StopsOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE EXTENSION").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS users").WillReturnError(errors.New("permission denied"))

	err = EnsureSchema(context.Background(), db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "users")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConnectionConfig_Defaults(t *testing.T) {
	cfg := ConnectionConfig{MaxConns: 4, MinConns: 10}.withDefaults()
	assert.Equal(t, 4, cfg.MaxConns)
	assert.Equal(t, 4, cfg.MinConns, "idle connections are capped at max")
	assert.Positive(t, cfg.Timeout)
}

func TestOpen_RequiresURL(t *testing.T) {
	_, err := Open(context.Background(), ConnectionConfig{})
	assert.Error(t, err)
}
