package util

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/url"
	"strings"

	"projecthub/pkg/apperr"
	"projecthub/pkg/circuitbreaker"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres 未定义表 / 未定义列
const (
	pgUndefinedTable  = "42P01"
	pgUndefinedColumn = "42703"
	pgUniqueViolation = "23505"
	pgFKViolation     = "23503"
)

// ClassifyError 把存储层/网络层的原始错误归类成 apperr 错误码
// Returns: (code, isRetryable)
func ClassifyError(err error) (apperr.Code, bool) {
	if err == nil {
		return "", false
	}

	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return appErr.Code, appErr.Code == apperr.CodeTimeout || appErr.Code == apperr.CodeUnavailable
	}

	// Context timeout - 可重试
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.CodeTimeout, true
	}
	if errors.Is(err, context.Canceled) {
		return apperr.CodeTimeout, false
	}

	// 行不存在 - 不可重试
	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
		return apperr.CodeNotFound, false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return apperr.CodeConflict, false
		case pgFKViolation:
			return apperr.CodeInvalidInput, false
		case pgUndefinedTable, pgUndefinedColumn:
			return apperr.CodeDatabase, false
		}
		return apperr.CodeDatabase, false
	}

	if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) {
		return apperr.CodeUnavailable, true
	}

	// Network errors - 可重试
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return apperr.CodeTimeout, true
		}
		return apperr.CodeUnavailable, true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return apperr.CodeTimeout, true
		}
		return apperr.CodeUnavailable, true
	}

	errStr := err.Error()
	if strings.Contains(errStr, "UNIQUE constraint") {
		return apperr.CodeConflict, false
	}
	if strings.Contains(errStr, "FOREIGN KEY constraint") {
		return apperr.CodeInvalidInput, false
	}
	if strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "closed pool") {
		return apperr.CodeUnavailable, true
	}

	// 默认：按数据库错误处理，不重试
	return apperr.CodeDatabase, false
}

// StoreError 把原始错误包装成带错误码的 *apperr.Error
func StoreError(message string, err error) *apperr.Error {
	if err == nil {
		return nil
	}
	code, _ := ClassifyError(err)
	return apperr.Wrap(code, message, err)
}

// IsSchemaMissing 判断错误是否表示表/列不存在
func IsSchemaMissing(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUndefinedTable || pgErr.Code == pgUndefinedColumn
	}
	return strings.Contains(err.Error(), "no such table") || strings.Contains(err.Error(), "no such column")
}
