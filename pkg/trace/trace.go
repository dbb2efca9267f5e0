package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"regexp"
)

type ctxKey struct{}

const headerName = "X-Trace-ID"

var validTraceID = regexp.MustCompile(`^[A-Za-z0-9\-_.]{8,128}$`)

// GenerateTraceID 生成一个新的 trace ID
func GenerateTraceID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// FromContext 从 context 中获取 trace_id
func FromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if traceID, ok := ctx.Value(ctxKey{}).(string); ok {
		return traceID
	}
	return ""
}

// WithContext 将 trace_id 添加到 context 中
func WithContext(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, traceID)
}

// FromHeader 校验客户端传入的 trace ID（X-Trace-ID 或 X-Request-ID），
// 不合法时生成新的
func FromHeader(values ...string) string {
	for _, v := range values {
		if validTraceID.MatchString(v) {
			return v
		}
	}
	return GenerateTraceID()
}

// HeaderName 返回 trace ID 的 HTTP header 名称
func HeaderName() string {
	return headerName
}
