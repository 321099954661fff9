package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queryforge/rqg/endpoint"
)

func newMockEndpoint(t *testing.T) (*Endpoint, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return &Endpoint{db: db}, mock
}

func TestExecOKClassification(t *testing.T) {
	e, mock := newMockEndpoint(t)
	mock.ExpectExec("INSERT INTO t").WillReturnResult(sqlmock.NewResult(1, 1))

	out, err := e.Exec(context.Background(), "INSERT INTO t VALUES (1)")
	require.NoError(t, err)
	assert.Equal(t, endpoint.OutcomeOK, out.Kind)
	assert.Equal(t, int64(1), out.RowsAffected)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecSQLErrorClassifiedBySQLSTATEClass(t *testing.T) {
	e, mock := newMockEndpoint(t)
	mock.ExpectExec("INSERT INTO t").WillReturnError(&pq.Error{
		Code:    "23505", // unique_violation
		Message: "duplicate key value violates unique constraint",
	})

	out, err := e.Exec(context.Background(), "INSERT INTO t VALUES (1)")
	require.NoError(t, err)
	assert.Equal(t, endpoint.OutcomeSQLError, out.Kind)
	assert.Equal(t, "23", out.Code)
	assert.Equal(t, "23505", out.FullCode)
}

func TestExecConnErrorForUnwrappedFailures(t *testing.T) {
	e, mock := newMockEndpoint(t)
	mock.ExpectExec("INSERT INTO t").WillReturnError(errors.New("connection reset by peer"))

	out, err := e.Exec(context.Background(), "INSERT INTO t VALUES (1)")
	require.NoError(t, err)
	assert.Equal(t, endpoint.OutcomeConnError, out.Kind)
}
