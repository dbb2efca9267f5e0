package httpserver

import (
	"net/http"
	"strconv"
	"time"

	"projecthub/pkg/apperr"
	"projecthub/pkg/logger"
	"projecthub/pkg/metrics"
	"projecthub/pkg/trace"
	"projecthub/pkg/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// TraceMiddleware 为每个请求确定 trace_id，写入 context 并回写响应头
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := trace.FromHeader(c.GetHeader(trace.HeaderName()), c.GetHeader("X-Request-ID"))
		c.Request = c.Request.WithContext(trace.WithContext(c.Request.Context(), traceID))
		c.Header(trace.HeaderName(), traceID)
		c.Next()
	}
}

// RequestLogMiddleware 请求日志
func RequestLogMiddleware(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		l := logger.WithTrace(c.Request.Context(), log)
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		// 探针请求太频繁，只记 debug
		switch path {
		case "/healthz", "/readyz", "/metrics":
			l.Debug("HTTP Request", fields...)
		default:
			l.Info("HTTP Request", fields...)
		}
	}
}

// MetricsMiddleware 按路由模板记录请求耗时
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordHTTPRequestDuration(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// AuthMiddleware 校验 Bearer token，subject 放到 context 的 "subject"
func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := util.ExtractToken(c.Request)
		if token == "" {
			abortUnauthorized(c, "missing token")
			return
		}

		subject, err := util.ParseJWT(token, jwtSecret)
		if err != nil {
			abortUnauthorized(c, "invalid token")
			return
		}

		c.Set("subject", subject)
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{
		"code":    apperr.CodeUnauthorized,
		"message": message,
	}})
}
