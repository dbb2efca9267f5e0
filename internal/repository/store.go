package repository

import (
	"context"
	"encoding/json"
	"time"

	"projecthub/internal/service"
	"projecthub/pkg/metrics"
	"projecthub/pkg/otel"
	"projecthub/pkg/outbox"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Store PostgreSQL 后端，同时实现项目、任务、来源三类存储。
// 写操作和对应的 outbox 事件在同一个事务里提交。
type Store struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

var _ service.Store = (*Store)(nil)

func NewStore(db *pgxpool.Pool, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Ping 用于 readiness 探针
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// track 记录查询耗时和 span，返回的函数在查询结束时调用
func (s *Store) track(ctx context.Context, op, table string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := otel.DBSpan(ctx, "postgresql", op, table)
	return ctx, func(err error) {
		metrics.RecordDBQueryDuration(op, table, time.Since(start))
		otel.EndDBSpan(span, err)
	}
}

// inTx 在事务中执行 fn，并把 fn 产生的事件写入 outbox
func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) ([]*outbox.Event, error)) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		events, err := fn(tx)
		if err != nil {
			return err
		}
		for _, e := range events {
			if err := outbox.InsertEvent(ctx, tx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

func jsonText(raw json.RawMessage, fallback string) string {
	if len(raw) == 0 {
		return fallback
	}
	return string(raw)
}

// jsonParam 部分更新用：nil 表示不修改
func jsonParam(raw *json.RawMessage) *string {
	if raw == nil {
		return nil
	}
	s := jsonText(*raw, "null")
	return &s
}
