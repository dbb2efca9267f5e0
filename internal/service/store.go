package service

import (
	"context"
	"time"

	"projecthub/internal/model"
)

// ProjectStore 项目持久化。未找到时返回 pgx.ErrNoRows / sql.ErrNoRows，
// 由 util.ClassifyError 统一归类。
type ProjectStore interface {
	ListProjects(ctx context.Context) ([]model.Project, error)
	GetProject(ctx context.Context, id string) (*model.Project, error)
	InsertProject(ctx context.Context, p *model.Project) error
	UpdateProject(ctx context.Context, id string, u model.ProjectUpdate) (*model.Project, error)
	DeleteProject(ctx context.Context, id string) error
}

type TaskStore interface {
	ListTasks(ctx context.Context, f model.TaskFilter) ([]model.Task, error)
	GetTask(ctx context.Context, id string) (*model.Task, error)
	InsertTask(ctx context.Context, t *model.Task) error
	UpdateTask(ctx context.Context, id string, u model.TaskUpdate) (*model.Task, error)
	ArchiveTask(ctx context.Context, id string) error
}

type SourceStore interface {
	ListSources(ctx context.Context) ([]model.Source, error)
	// ListSourceLinks projectIDs 为空时返回全部关联
	ListSourceLinks(ctx context.Context, projectIDs []string) ([]model.SourceLink, error)
	InsertSourceLinks(ctx context.Context, links []model.SourceLink) error
	ReplaceSourceLinks(ctx context.Context, projectID string, kind model.SourceKind, sourceIDs []string) error
}

// Store 一个后端同时实现三类存储
type Store interface {
	ProjectStore
	TaskStore
	SourceStore
}

// DefaultQueryTimeout 单次存储调用的默认超时
const DefaultQueryTimeout = 5 * time.Second

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = DefaultQueryTimeout
	}
	return context.WithTimeout(ctx, d)
}
