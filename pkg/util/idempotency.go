package util

import (
	"context"
	"errors"
	"strings"
	"time"

	"projecthub/pkg/metrics"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// IdempotencyState Reserve 的结果
type IdempotencyState int

const (
	// IdempotencyNew 第一次看到这个 key，调用方继续处理
	IdempotencyNew IdempotencyState = iota
	// IdempotencyInFlight 同一个 key 的请求正在处理
	IdempotencyInFlight
	// IdempotencyDone 已经处理完成，返回记录的结果 id
	IdempotencyDone
	// IdempotencyUnavailable Redis 不可用，调用方照常处理（不阻止请求）
	IdempotencyUnavailable
)

func (s IdempotencyState) String() string {
	switch s {
	case IdempotencyNew:
		return "new"
	case IdempotencyInFlight:
		return "in_flight"
	case IdempotencyDone:
		return "replay"
	default:
		return "unavailable"
	}
}

const (
	pendingMarker = "pending"
	donePrefix    = "done:"
	maxKeyLength  = 200
)

// kv 是 Idempotency 用到的 Redis 命令子集
type kv interface {
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

type redisKV struct {
	rdb *redis.Client
}

func (r redisKV) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return r.rdb.SetNX(ctx, key, value, ttl).Result()
}

func (r redisKV) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r redisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.rdb.Set(ctx, key, value, ttl).Err()
}

func (r redisKV) Del(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, key).Err()
}

// Idempotency 基于 Redis SETNX 的 Idempotency-Key 记录。
// Redis 挂了时不阻止处理，只是失去去重能力。
type Idempotency struct {
	store  kv
	ttl    time.Duration
	logger *zap.Logger
}

// NewIdempotency rdb 为 nil 时返回 nil；nil *Idempotency 的所有方法都退化为直接放行
func NewIdempotency(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Idempotency {
	if rdb == nil {
		return nil
	}
	return newIdempotency(redisKV{rdb: rdb}, ttl, logger)
}

func newIdempotency(store kv, ttl time.Duration, logger *zap.Logger) *Idempotency {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Idempotency{store: store, ttl: ttl, logger: logger}
}

// ValidIdempotencyKey 非空、长度有限、不含空白
func ValidIdempotencyKey(key string) bool {
	return key != "" && len(key) <= maxKeyLength && !strings.ContainsAny(key, " \t\r\n")
}

func idempotencyKey(scope, key string) string {
	return "idem:" + scope + ":" + key
}

// Reserve 占用 key。返回 IdempotencyDone 时第二个返回值是之前记录的结果 id。
func (i *Idempotency) Reserve(ctx context.Context, scope, key string) (IdempotencyState, string) {
	state, result := i.reserve(ctx, scope, key)
	metrics.RecordIdempotency(state.String())
	return state, result
}

func (i *Idempotency) reserve(ctx context.Context, scope, key string) (IdempotencyState, string) {
	if i == nil {
		return IdempotencyUnavailable, ""
	}
	k := idempotencyKey(scope, key)

	ok, err := i.store.SetNX(ctx, k, pendingMarker, i.ttl)
	if err != nil {
		i.logger.Warn("Redis idempotency check failed, allowing processing",
			zap.String("scope", scope),
			zap.Error(err),
		)
		return IdempotencyUnavailable, ""
	}
	if ok {
		return IdempotencyNew, ""
	}

	v, found, err := i.store.Get(ctx, k)
	if err != nil {
		i.logger.Warn("Redis idempotency lookup failed, allowing processing",
			zap.String("scope", scope),
			zap.Error(err),
		)
		return IdempotencyUnavailable, ""
	}
	if !found {
		// 刚好过期：再占一次
		return i.reserve(ctx, scope, key)
	}
	if id, done := strings.CutPrefix(v, donePrefix); done {
		i.logger.Info("Replaying idempotent request", zap.String("scope", scope), zap.String("result_id", id))
		return IdempotencyDone, id
	}
	return IdempotencyInFlight, ""
}

// Complete 记录处理结果，之后同一个 key 的请求会被重放
func (i *Idempotency) Complete(ctx context.Context, scope, key, resultID string) {
	if i == nil {
		return
	}
	if err := i.store.Set(ctx, idempotencyKey(scope, key), donePrefix+resultID, i.ttl); err != nil {
		i.logger.Warn("Failed to record idempotent result", zap.String("scope", scope), zap.Error(err))
	}
}

// Release 处理失败时释放 key，允许客户端用同一个 key 重试
func (i *Idempotency) Release(ctx context.Context, scope, key string) {
	if i == nil {
		return
	}
	if err := i.store.Del(ctx, idempotencyKey(scope, key)); err != nil {
		i.logger.Warn("Failed to release idempotency key", zap.String("scope", scope), zap.Error(err))
	}
}
