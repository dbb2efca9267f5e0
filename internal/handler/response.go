package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"projecthub/pkg/apperr"
	"projecthub/pkg/etag"
	"projecthub/pkg/logger"
	"projecthub/pkg/metrics"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// largeResponseBytes 超过这个大小的响应记一条 warning
const largeResponseBytes = 100 * 1024

type errorBody struct {
	Code    apperr.Code `json:"code"`
	Message string      `json:"message"`
}

// respondError 统一错误响应：{"error": {"code", "message"}}，不暴露堆栈
func respondError(c *gin.Context, log *zap.Logger, err error) {
	ae := apperr.As(err)
	l := logger.WithTrace(c.Request.Context(), log).With(
		zap.String("method", c.Request.Method),
		zap.String("path", c.FullPath()),
		zap.String("code", string(ae.Code)),
		zap.Error(err),
	)
	if ae.IsClientError() {
		l.Info("Request rejected")
	} else {
		l.Error("Request failed")
	}
	c.AbortWithStatusJSON(ae.HTTPStatus(), gin.H{"error": errorBody{Code: ae.Code, Message: ae.Detail()}})
}

// respondConditional 计算 payload 指纹并和 If-None-Match 比较：
// 命中时返回 304 不带 body，否则返回完整 JSON
func respondConditional(c *gin.Context, log *zap.Logger, endpoint string, payload any, volatile ...string) {
	token, err := etag.Compute(payload, volatile...)
	if err != nil {
		respondError(c, log, err)
		return
	}
	decision := etag.Negotiate(c.GetHeader("If-None-Match"), token)
	decision.Apply(c.Writer.Header())
	metrics.RecordETagOutcome(endpoint, decision.Outcome.String())

	if decision.Outcome == etag.NotModified {
		c.Status(http.StatusNotModified)
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		respondError(c, log, apperr.Internal("failed to encode response", err))
		return
	}
	writeSized(c, log, endpoint, http.StatusOK, body)
}

// respondJSON 非条件响应，同样记录大小
func respondJSON(c *gin.Context, log *zap.Logger, endpoint string, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		respondError(c, log, apperr.Internal("failed to encode response", err))
		return
	}
	writeSized(c, log, endpoint, status, body)
}

func writeSized(c *gin.Context, log *zap.Logger, endpoint string, status int, body []byte) {
	size := len(body)
	metrics.RecordResponseSize(endpoint, size)
	l := logger.WithTrace(c.Request.Context(), log)
	if size > largeResponseBytes {
		l.Warn("Large response", zap.String("endpoint", endpoint), zap.Int("bytes", size))
	} else {
		l.Debug("Response size", zap.String("endpoint", endpoint), zap.Int("bytes", size))
	}
	c.Data(status, "application/json; charset=utf-8", body)
}

// queryBool 缺省时返回 def；无法解析时返回 400
func queryBool(c *gin.Context, name string, def bool) (bool, error) {
	raw, ok := c.GetQuery(name)
	if !ok || raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apperr.BadRequest("query parameter %s must be a boolean, got %q", name, raw)
	}
	return v, nil
}

// bindJSON 请求体不是合法 JSON 时返回 400
func bindJSON(c *gin.Context, out any) error {
	if err := c.ShouldBindJSON(out); err != nil {
		return apperr.Wrap(apperr.CodeBadRequest, "invalid request body", err)
	}
	return nil
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
