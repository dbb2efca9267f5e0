// Package apperr 定义服务边界上的错误类型。
//
// 每个 service 方法返回的 error 都是 *Error（或 nil），调用方用 Code 判断
// 是客户端错误、协作方不可用，还是内部错误。
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code 错误码，字符串类型便于日志和 JSON 输出
type Code string

const (
	CodeInvalidInput Code = "INVALID_INPUT"
	CodeBadRequest   Code = "BAD_REQUEST"
	CodeNotFound     Code = "NOT_FOUND"
	CodeConflict     Code = "CONFLICT"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeDatabase     Code = "DATABASE_ERROR"
	CodeTimeout      Code = "TIMEOUT"
	CodeUnavailable  Code = "SERVICE_UNAVAILABLE"
	CodeInternal     Code = "INTERNAL_ERROR"
)

// Error 带错误码的错误
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Detail 返回给客户端的诊断信息：保留底层错误文本，不含堆栈
func (e *Error) Detail() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// HTTPStatus 错误码到 HTTP 状态码的映射
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeInvalidInput:
		return http.StatusUnprocessableEntity
	case CodeBadRequest:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// IsClientError 客户端错误不应重试
func (e *Error) IsClientError() bool {
	s := e.HTTPStatus()
	return s >= 400 && s < 500
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func Invalid(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// BadRequest 路径参数或查询参数格式错误
func BadRequest(format string, args ...any) *Error {
	return &Error{Code: CodeBadRequest, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

func Internal(message string, err error) *Error {
	return &Error{Code: CodeInternal, Message: message, Err: err}
}

// As 从 error 链中取出 *Error；不是 *Error 时包装成内部错误
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal("unexpected error", err)
}

// CodeOf 返回 error 的错误码，nil 返回空字符串
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	return As(err).Code
}

// Is 判断 err 是否带指定错误码
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
