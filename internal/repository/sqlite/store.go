// Package sqlite 是单机部署和测试用的 SQLite 后端，语义与 PostgreSQL 后端一致：
// 写操作和 outbox 事件在同一个事务中提交，未找到时返回 sql.ErrNoRows。
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	"projecthub/internal/service"
	"projecthub/pkg/metrics"
	"projecthub/pkg/otel"
	"projecthub/pkg/outbox"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// timeLayout 定长，保证按文本排序等于按时间排序
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL CHECK (trim(title) <> ''),
	description TEXT NOT NULL DEFAULT '',
	github_repo TEXT NOT NULL DEFAULT '',
	docs        TEXT NOT NULL DEFAULT '[]',
	features    TEXT NOT NULL DEFAULT '[]',
	data        TEXT NOT NULL DEFAULT '[]',
	pinned      INTEGER NOT NULL DEFAULT 0,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
	id          TEXT PRIMARY KEY,
	project_id  TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	title       TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'todo' CHECK (status IN ('todo', 'doing', 'review', 'done')),
	assignee    TEXT NOT NULL DEFAULT 'User',
	task_order  INTEGER NOT NULL DEFAULT 0,
	feature     TEXT NOT NULL DEFAULT '',
	archived    INTEGER NOT NULL DEFAULT 0,
	archived_at TEXT,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks (project_id, task_order);

CREATE TABLE IF NOT EXISTS sources (
	source_id      TEXT PRIMARY KEY,
	title          TEXT NOT NULL DEFAULT '',
	knowledge_type TEXT NOT NULL DEFAULT '',
	created_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS project_sources (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	source_id  TEXT NOT NULL,
	kind       TEXT NOT NULL CHECK (kind IN ('technical', 'business')),
	created_at TEXT NOT NULL,
	UNIQUE (project_id, source_id, kind)
);

CREATE TABLE IF NOT EXISTS outbox_events (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	aggregate_type TEXT NOT NULL,
	aggregate_id   TEXT NOT NULL,
	routing_key    TEXT NOT NULL,
	payload        TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'pending',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	next_retry_at  TEXT,
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL
);
`

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

type Store struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

var (
	_ service.Store = (*Store)(nil)
	_ outbox.Store  = (*Store)(nil)
)

// Open 打开（或创建）数据库文件并建表
func Open(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")

	db, err := openDB("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// 单连接：PRAGMA 对每个连接生效，写入也需要串行
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	logger.Info("SQLite store ready", zap.String("path", path))
	return &Store{db: db, logger: logger, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping 用于 readiness 探针
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) stamp() string {
	return s.now().UTC().Format(timeLayout)
}

func (s *Store) track(ctx context.Context, op, table string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := otel.DBSpan(ctx, "sqlite", op, table)
	return ctx, func(err error) {
		metrics.RecordDBQueryDuration(op, table, time.Since(start))
		otel.EndDBSpan(span, err)
	}
}

// inTx fn 内只能通过 tx 访问数据库（只有一个连接）
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) ([]*outbox.Event, error)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	events, err := fn(tx)
	if err != nil {
		return err
	}
	for _, e := range events {
		if err := s.insertEvent(ctx, tx, e); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Parse(time.RFC3339Nano, v)
	}
	return t, nil
}

func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid {
		return nil, nil
	}
	t, err := parseTime(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
