package postgres_test

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/presetlab/enhancer/internal/platform/postgres"
	"github.com/presetlab/enhancer/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPgError(code string) *pgconn.PgError {
	return &pgconn.PgError{
		Code:           code,
		Message:        "error message",
		TableName:      "enhancement_tasks",
		ColumnName:     "status",
		ConstraintName: "enhancement_tasks_status_check",
	}
}

type mockResult struct {
	rowsAffected int64
	err          error
}

func (m mockResult) LastInsertId() (int64, error) { return 0, m.err }
func (m mockResult) RowsAffected() (int64, error) { return m.rowsAffected, m.err }

func TestMapError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		target error
	}{
		{name: "no rows", err: sql.ErrNoRows, target: store.ErrNotFound},
		{name: "unique violation", err: newPgError("23505"), target: store.ErrDuplicate},
		{name: "foreign key violation", err: newPgError("23503"), target: store.ErrInvalidEntity},
		{name: "check violation", err: newPgError("23514"), target: store.ErrInvalidEntity},
		{name: "not null violation", err: newPgError("23502"), target: store.ErrInvalidEntity},
		{name: "wrapped check violation", err: fmt.Errorf("exec: %w", newPgError("23514")), target: store.ErrInvalidEntity},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			mapped := postgres.MapError(tc.err)
			assert.ErrorIs(t, mapped, tc.target)
		})
	}
}

func TestMapErrorPassthrough(t *testing.T) {
	t.Parallel()

	assert.NoError(t, postgres.MapError(nil))

	generic := errors.New("connection reset")
	assert.Same(t, generic, postgres.MapError(generic))

	unmapped := newPgError("40001")
	assert.Equal(t, error(unmapped), postgres.MapError(unmapped))
}

func TestCheckRowsAffected(t *testing.T) {
	t.Parallel()

	n, err := postgres.CheckRowsAffected(mockResult{rowsAffected: 3}, store.ErrTaskNotFound)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	_, err = postgres.CheckRowsAffected(mockResult{rowsAffected: 0}, store.ErrTaskNotFound)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)

	n, err = postgres.CheckRowsAffected(mockResult{rowsAffected: 0}, nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = postgres.CheckRowsAffected(mockResult{err: errors.New("driver")}, store.ErrTaskNotFound)
	assert.ErrorContains(t, err, "failed to get rows affected")

	_, err = postgres.CheckRowsAffected(nil, store.ErrTaskNotFound)
	assert.Error(t, err)
}
