package service_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"projecthub/internal/model"
	"projecthub/internal/repository/sqlite"
	"projecthub/internal/service"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newSQLiteStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "service.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// faultyStore 包装真实存储，按需替换单个方法来注入故障
type faultyStore struct {
	*sqlite.Store
	insertProject func(ctx context.Context, p *model.Project) error
	getProject    func(ctx context.Context, id string) (*model.Project, error)
	listProjects  func(ctx context.Context) ([]model.Project, error)
	insertTask    func(ctx context.Context, t *model.Task) error
	listTasks     func(ctx context.Context, f model.TaskFilter) ([]model.Task, error)
	insertLinks   func(ctx context.Context, links []model.SourceLink) error
}

var _ service.Store = (*faultyStore)(nil)

func (f *faultyStore) InsertProject(ctx context.Context, p *model.Project) error {
	if f.insertProject != nil {
		return f.insertProject(ctx, p)
	}
	return f.Store.InsertProject(ctx, p)
}

func (f *faultyStore) GetProject(ctx context.Context, id string) (*model.Project, error) {
	if f.getProject != nil {
		return f.getProject(ctx, id)
	}
	return f.Store.GetProject(ctx, id)
}

func (f *faultyStore) ListProjects(ctx context.Context) ([]model.Project, error) {
	if f.listProjects != nil {
		return f.listProjects(ctx)
	}
	return f.Store.ListProjects(ctx)
}

func (f *faultyStore) InsertTask(ctx context.Context, t *model.Task) error {
	if f.insertTask != nil {
		return f.insertTask(ctx, t)
	}
	return f.Store.InsertTask(ctx, t)
}

func (f *faultyStore) ListTasks(ctx context.Context, filter model.TaskFilter) ([]model.Task, error) {
	if f.listTasks != nil {
		return f.listTasks(ctx, filter)
	}
	return f.Store.ListTasks(ctx, filter)
}

func (f *faultyStore) InsertSourceLinks(ctx context.Context, links []model.SourceLink) error {
	if f.insertLinks != nil {
		return f.insertLinks(ctx, links)
	}
	return f.Store.InsertSourceLinks(ctx, links)
}

type services struct {
	projects *service.ProjectService
	tasks    *service.TaskService
	sources  *service.SourceLinkingService
}

func newServices(st service.Store) services {
	logger := zap.NewNop()
	return services{
		projects: service.NewProjectService(st, time.Second, logger),
		tasks:    service.NewTaskService(st, time.Second, logger),
		sources:  service.NewSourceLinkingService(st, time.Second, logger),
	}
}

func newCreator(st service.Store, gen service.DocGenerator, stepTimeout time.Duration) *service.ProjectCreator {
	svc := newServices(st)
	return service.NewProjectCreator(svc.projects, svc.tasks, svc.sources, gen, stepTimeout, zap.NewNop())
}

type fakeGenerator struct {
	docs  []model.Document
	err   error
	block bool
	calls int
}

func (g *fakeGenerator) GenerateDocs(ctx context.Context, _ service.DocRequest) ([]model.Document, error) {
	g.calls++
	if g.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return g.docs, g.err
}
