package util

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"projecthub/pkg/apperr"
	"projecthub/pkg/circuitbreaker"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      apperr.Code
		retryable bool
	}{
		{name: "deadline", err: fmt.Errorf("query: %w", context.DeadlineExceeded), code: apperr.CodeTimeout, retryable: true},
		{name: "pgx no rows", err: pgx.ErrNoRows, code: apperr.CodeNotFound},
		{name: "sql no rows", err: fmt.Errorf("scan: %w", sql.ErrNoRows), code: apperr.CodeNotFound},
		{name: "pg unique", err: &pgconn.PgError{Code: "23505"}, code: apperr.CodeConflict},
		{name: "pg fk", err: &pgconn.PgError{Code: "23503"}, code: apperr.CodeInvalidInput},
		{name: "pg missing table", err: &pgconn.PgError{Code: "42P01"}, code: apperr.CodeDatabase},
		{name: "sqlite fk", err: errors.New("constraint failed: FOREIGN KEY constraint failed (787)"), code: apperr.CodeInvalidInput},
		{name: "breaker open", err: circuitbreaker.ErrCircuitBreakerOpen, code: apperr.CodeUnavailable, retryable: true},
		{name: "refused", err: errors.New("dial tcp: connection refused"), code: apperr.CodeUnavailable, retryable: true},
		{name: "passes apperr through", err: apperr.Invalid("bad"), code: apperr.CodeInvalidInput},
		{name: "unknown", err: errors.New("boom"), code: apperr.CodeDatabase},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, retryable := ClassifyError(tt.err)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.retryable, retryable)
		})
	}
}

func TestStoreError(t *testing.T) {
	assert.Nil(t, StoreError("x", nil))

	err := StoreError("failed to list projects", &pgconn.PgError{Code: "42P01", Message: `relation "projects" does not exist`})
	assert.Equal(t, apperr.CodeDatabase, err.Code)
	assert.Contains(t, err.Detail(), "does not exist")
}

func TestIsSchemaMissing(t *testing.T) {
	assert.True(t, IsSchemaMissing(&pgconn.PgError{Code: "42P01"}))
	assert.True(t, IsSchemaMissing(fmt.Errorf("wrap: %w", &pgconn.PgError{Code: "42703"})))
	assert.True(t, IsSchemaMissing(errors.New("SQL logic error: no such table: tasks (1)")))
	assert.False(t, IsSchemaMissing(errors.New("connection refused")))
	assert.False(t, IsSchemaMissing(nil))
}
