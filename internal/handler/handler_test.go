package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"projecthub/internal/handler"
	"projecthub/internal/model"
	"projecthub/internal/repository/sqlite"
	"projecthub/internal/service"
	"projecthub/pkg/util"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// memGuard 内存版幂等保护
type memGuard struct {
	mu      sync.Mutex
	entries map[string]string
}

func newMemGuard() *memGuard { return &memGuard{entries: map[string]string{}} }

func (g *memGuard) Reserve(_ context.Context, scope, key string) (util.IdempotencyState, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok := g.entries[scope+key]
	switch {
	case !ok:
		g.entries[scope+key] = ""
		return util.IdempotencyNew, ""
	case v == "":
		return util.IdempotencyInFlight, ""
	default:
		return util.IdempotencyDone, v
	}
}

func (g *memGuard) Complete(_ context.Context, scope, key, resultID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entries[scope+key] = resultID
}

func (g *memGuard) Release(_ context.Context, scope, key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.entries, scope+key)
}

// hookedStore 在真实 sqlite 存储上按需替换个别写入/查询
type hookedStore struct {
	*sqlite.Store
	insertProject   func(ctx context.Context, p *model.Project) error
	listSourceLinks func(ctx context.Context, projectIDs []string) ([]model.SourceLink, error)
}

func (h *hookedStore) InsertProject(ctx context.Context, p *model.Project) error {
	if h.insertProject != nil {
		return h.insertProject(ctx, p)
	}
	return h.Store.InsertProject(ctx, p)
}

func (h *hookedStore) ListSourceLinks(ctx context.Context, projectIDs []string) ([]model.SourceLink, error) {
	if h.listSourceLinks != nil {
		return h.listSourceLinks(ctx, projectIDs)
	}
	return h.Store.ListSourceLinks(ctx, projectIDs)
}

type testEnv struct {
	engine *gin.Engine
	store  *sqlite.Store
	guard  *memGuard
}

func newEnv(t *testing.T, hooks ...func(*hookedStore)) *testEnv {
	t.Helper()
	log := zap.NewNop()
	raw, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "handler.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })
	st := &hookedStore{Store: raw}
	for _, hook := range hooks {
		hook(st)
	}

	projects := service.NewProjectService(st, time.Second, log)
	tasks := service.NewTaskService(st, time.Second, log)
	sources := service.NewSourceLinkingService(st, time.Second, log)
	creator := service.NewProjectCreator(projects, tasks, sources, nil, time.Second, log)
	health := service.NewHealthService(st, st, time.Second, log)
	guard := newMemGuard()

	ph := handler.NewProjectHandler(projects, sources, creator, health, guard, log)
	th := handler.NewTaskHandler(tasks, projects, log)

	r := gin.New()
	r.GET("/api/projects", ph.ListProjects)
	r.POST("/api/projects", ph.CreateProject)
	r.GET("/api/projects/health", ph.Health)
	r.GET("/api/projects/:id", ph.GetProject)
	r.PUT("/api/projects/:id", ph.UpdateProject)
	r.DELETE("/api/projects/:id", ph.DeleteProject)
	r.GET("/api/projects/:id/sources", ph.ListProjectSources)
	r.GET("/api/projects/:id/tasks", th.ListProjectTasks)
	r.GET("/api/tasks", th.ListTasks)
	r.POST("/api/tasks", th.CreateTask)
	r.GET("/api/tasks/:id", th.GetTask)
	r.PUT("/api/tasks/:id", th.UpdateTask)
	r.DELETE("/api/tasks/:id", th.DeleteTask)

	return &testEnv{engine: r, store: raw, guard: guard}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf *bytes.Reader
	switch b := body.(type) {
	case nil:
		buf = bytes.NewReader(nil)
	case string:
		buf = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		buf = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type createResponse struct {
	ProjectID string            `json:"project_id"`
	Project   model.Project     `json:"project"`
	Status    string            `json:"status"`
	Message   string            `json:"message"`
	Steps     []json.RawMessage `json:"steps"`
	Warnings  []string          `json:"warnings"`
	Replayed  bool              `json:"replayed"`
}

func (e *testEnv) createProject(t *testing.T, body map[string]any) createResponse {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/projects", body, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[createResponse](t, w)
}

func TestListProjectsConditional(t *testing.T) {
	env := newEnv(t)

	w := env.do(t, http.MethodGet, "/api/projects", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	first := w.Header().Get("ETag")
	require.NotEmpty(t, first)
	assert.Equal(t, "no-cache, must-revalidate", w.Header().Get("Cache-Control"))
	assert.NotEmpty(t, w.Header().Get("Last-Modified"))

	body := decode[struct {
		Projects  []model.Project `json:"projects"`
		Timestamp string          `json:"timestamp"`
		Count     int             `json:"count"`
	}](t, w)
	assert.NotNil(t, body.Projects)
	assert.Zero(t, body.Count)
	assert.NotEmpty(t, body.Timestamp)

	// 时间戳不同，指纹不变
	w = env.do(t, http.MethodGet, "/api/projects", nil, map[string]string{"If-None-Match": first})
	assert.Equal(t, http.StatusNotModified, w.Code)
	assert.Empty(t, w.Body.Bytes())
	assert.Equal(t, first, w.Header().Get("ETag"))
	assert.Empty(t, w.Header().Get("Last-Modified"))

	env.createProject(t, map[string]any{"title": "Demo"})

	w = env.do(t, http.MethodGet, "/api/projects", nil, map[string]string{"If-None-Match": first})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEqual(t, first, w.Header().Get("ETag"))
}

func TestListProjectsMalformedETag(t *testing.T) {
	env := newEnv(t)
	for _, inm := range []string{"*", `W/"abc"`, "garbage", `"0123"`} {
		w := env.do(t, http.MethodGet, "/api/projects", nil, map[string]string{"If-None-Match": inm})
		assert.Equal(t, http.StatusOK, w.Code, inm)
	}
}

func TestListProjectsWithoutContent(t *testing.T) {
	env := newEnv(t)
	env.createProject(t, map[string]any{
		"title":    "Demo",
		"docs":     []map[string]any{{"document_type": "prd", "title": "PRD"}},
		"features": []string{"a", "b"},
	})

	w := env.do(t, http.MethodGet, "/api/projects?include_content=false", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[struct {
		Projects []model.ProjectSummary `json:"projects"`
		Count    int                    `json:"count"`
	}](t, w)
	require.Len(t, body.Projects, 1)
	assert.Equal(t, model.ProjectStats{DocsCount: 1, FeaturesCount: 2}, body.Projects[0].Stats)
	assert.NotContains(t, w.Body.String(), `"docs"`)

	w = env.do(t, http.MethodGet, "/api/projects?include_content=maybe", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateProjectValidation(t *testing.T) {
	env := newEnv(t)

	w := env.do(t, http.MethodPost, "/api/projects", map[string]any{"title": "   "}, nil)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	env1 := decode[errorEnvelope](t, w)
	assert.Equal(t, "INVALID_INPUT", env1.Error.Code)
	assert.Contains(t, env1.Error.Message, "title")

	w = env.do(t, http.MethodPost, "/api/projects", `{"title":`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	projects, err := env.store.ListProjects(context.Background())
	require.NoError(t, err)
	assert.Empty(t, projects)
}

func TestCreateProjectResponse(t *testing.T) {
	env := newEnv(t)
	out := env.createProject(t, map[string]any{
		"title":       "Demo",
		"description": "desc",
		"tasks":       []map[string]any{{"title": "first"}},
	})

	assert.Equal(t, "completed", out.Status)
	assert.Equal(t, "Project created successfully", out.Message)
	assert.Equal(t, out.ProjectID, out.Project.ID)
	assert.Len(t, out.Steps, 4)
	assert.Empty(t, out.Warnings)

	w := env.do(t, http.MethodGet, "/api/projects/"+out.ProjectID+"/tasks", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	tasks := decode[struct {
		Tasks []model.Task `json:"tasks"`
	}](t, w)
	require.Len(t, tasks.Tasks, 1)
	assert.Equal(t, "first", tasks.Tasks[0].Title)
}

func TestCreateProjectIdempotency(t *testing.T) {
	env := newEnv(t)
	headers := map[string]string{"Idempotency-Key": "create-demo-1"}

	w := env.do(t, http.MethodPost, "/api/projects", map[string]any{"title": "Demo"}, headers)
	require.Equal(t, http.StatusOK, w.Code)
	first := decode[createResponse](t, w)

	w = env.do(t, http.MethodPost, "/api/projects", map[string]any{"title": "Demo"}, headers)
	require.Equal(t, http.StatusOK, w.Code)
	replay := decode[createResponse](t, w)
	assert.True(t, replay.Replayed)
	assert.Equal(t, first.ProjectID, replay.ProjectID)

	projects, err := env.store.ListProjects(context.Background())
	require.NoError(t, err)
	assert.Len(t, projects, 1)

	// 同一个 key 还在处理中
	env.guard.Reserve(context.Background(), "create_project", "in-flight")
	w = env.do(t, http.MethodPost, "/api/projects", map[string]any{"title": "Demo"}, map[string]string{"Idempotency-Key": "in-flight"})
	assert.Equal(t, http.StatusConflict, w.Code)

	// 校验失败释放 key
	w = env.do(t, http.MethodPost, "/api/projects", map[string]any{"title": ""}, map[string]string{"Idempotency-Key": "retry-me"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	w = env.do(t, http.MethodPost, "/api/projects", map[string]any{"title": "Fixed"}, map[string]string{"Idempotency-Key": "retry-me"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[createResponse](t, w).Replayed)
}

func TestProjectCRUD(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	require.NoError(t, env.store.UpsertSource(ctx, model.Source{SourceID: "kb-1", Title: "Docs", KnowledgeType: "technical"}))
	require.NoError(t, env.store.UpsertSource(ctx, model.Source{SourceID: "kb-2", Title: "Market", KnowledgeType: "business"}))

	out := env.createProject(t, map[string]any{"title": "Demo", "technical_sources": []string{"kb-1"}})
	require.Len(t, out.Project.TechnicalSources, 1)
	path := "/api/projects/" + out.ProjectID

	w := env.do(t, http.MethodGet, path, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	tag := w.Header().Get("ETag")
	w = env.do(t, http.MethodGet, path, nil, map[string]string{"If-None-Match": tag})
	assert.Equal(t, http.StatusNotModified, w.Code)

	w = env.do(t, http.MethodPut, path, map[string]any{
		"title":             "Renamed",
		"technical_sources": []string{},
		"business_sources":  []string{"kb-2"},
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decode[struct {
		Project model.Project `json:"project"`
	}](t, w)
	assert.Equal(t, "Renamed", updated.Project.Title)
	assert.Empty(t, updated.Project.TechnicalSources)
	require.Len(t, updated.Project.BusinessSources, 1)
	assert.Equal(t, "Market", updated.Project.BusinessSources[0].Title)

	w = env.do(t, http.MethodGet, path+"/sources", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode[map[string]any](t, w)["total_count"])
	w = env.do(t, http.MethodGet, path+"/sources?kind=technical", nil, nil)
	assert.Equal(t, float64(0), decode[map[string]any](t, w)["total_count"])
	w = env.do(t, http.MethodGet, path+"/sources?kind=other", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodDelete, path, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, http.MethodGet, path, nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decode[errorEnvelope](t, w).Error.Code)
}

func TestUpdateProjectRejectsBlankSources(t *testing.T) {
	env := newEnv(t)
	out := env.createProject(t, map[string]any{"title": "Before"})
	path := "/api/projects/" + out.ProjectID

	w := env.do(t, http.MethodPut, path, map[string]any{
		"title":             "After",
		"technical_sources": []string{"  "},
	}, nil)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "INVALID_INPUT", decode[errorEnvelope](t, w).Error.Code)

	w = env.do(t, http.MethodGet, path, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Before", decode[model.Project](t, w).Title)
}

func TestListProjectSummariesSkipSources(t *testing.T) {
	env := newEnv(t, func(s *hookedStore) {
		s.listSourceLinks = func(context.Context, []string) ([]model.SourceLink, error) {
			return nil, errors.New("connection refused")
		}
	})
	require.NoError(t, env.store.InsertProject(context.Background(), &model.Project{
		ID:    "00000000-0000-4000-8000-000000000001",
		Title: "Demo",
	}))

	w := env.do(t, http.MethodGet, "/api/projects?include_content=false", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(1), decode[map[string]any](t, w)["count"])

	// 完整内容需要来源，存储出错时报错
	w = env.do(t, http.MethodGet, "/api/projects", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCreateProjectTimeoutKeepsKey(t *testing.T) {
	var attempts int
	env := newEnv(t, func(s *hookedStore) {
		s.insertProject = func(ctx context.Context, p *model.Project) error {
			attempts++
			// 行已写入，但提交确认超时
			if err := s.Store.InsertProject(ctx, p); err != nil {
				return err
			}
			return context.DeadlineExceeded
		}
	})
	headers := map[string]string{"Idempotency-Key": "slow-create"}

	w := env.do(t, http.MethodPost, "/api/projects", map[string]any{"title": "Demo"}, headers)
	require.Equal(t, http.StatusGatewayTimeout, w.Code, w.Body.String())

	w = env.do(t, http.MethodPost, "/api/projects", map[string]any{"title": "Demo"}, headers)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	replay := decode[createResponse](t, w)
	assert.True(t, replay.Replayed)
	assert.Equal(t, "Demo", replay.Project.Title)
	assert.Equal(t, 1, attempts)

	projects, err := env.store.ListProjects(context.Background())
	require.NoError(t, err)
	assert.Len(t, projects, 1)
}

func TestMalformedIDs(t *testing.T) {
	env := newEnv(t)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/projects/not-a-uuid"},
		{http.MethodDelete, "/api/projects/not-a-uuid"},
		{http.MethodGet, "/api/projects/not-a-uuid/tasks"},
		{http.MethodGet, "/api/tasks/42"},
		{http.MethodGet, "/api/tasks?status=blocked"},
	} {
		w := env.do(t, tc.method, tc.path, nil, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, tc.path)
		assert.Equal(t, "BAD_REQUEST", decode[errorEnvelope](t, w).Error.Code, tc.path)
	}
}

func TestTaskLifecycle(t *testing.T) {
	env := newEnv(t)
	project := env.createProject(t, map[string]any{"title": "Demo"})

	w := env.do(t, http.MethodPost, "/api/tasks", map[string]any{"project_id": project.ProjectID, "title": "Write docs"}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	task := decode[struct {
		Task model.Task `json:"task"`
	}](t, w).Task
	assert.Equal(t, model.StatusTodo, task.Status)
	assert.Equal(t, model.DefaultAssignee, task.Assignee)

	listPath := "/api/projects/" + project.ProjectID + "/tasks"
	w = env.do(t, http.MethodGet, listPath, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	tag := w.Header().Get("ETag")
	w = env.do(t, http.MethodGet, listPath, nil, map[string]string{"If-None-Match": tag})
	assert.Equal(t, http.StatusNotModified, w.Code)

	w = env.do(t, http.MethodPut, "/api/tasks/"+task.ID, map[string]any{"status": "done"}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = env.do(t, http.MethodPut, "/api/tasks/"+task.ID, map[string]any{"status": "doing"}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, listPath, nil, map[string]string{"If-None-Match": tag})
	assert.Equal(t, http.StatusOK, w.Code, "status change invalidates the fingerprint")

	w = env.do(t, http.MethodDelete, "/api/tasks/"+task.ID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, http.MethodDelete, "/api/tasks/"+task.ID, nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, listPath, nil, nil)
	assert.Equal(t, float64(0), decode[map[string]any](t, w)["count"])
	w = env.do(t, http.MethodGet, listPath+"?include_archived=true", nil, nil)
	assert.Equal(t, float64(1), decode[map[string]any](t, w)["count"])
}

func TestCreateTaskUnknownProject(t *testing.T) {
	env := newEnv(t)
	w := env.do(t, http.MethodPost, "/api/tasks", map[string]any{
		"project_id": "9b2f7a4e-0000-4000-8000-000000000000",
		"title":      "orphan",
	}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestHealthEndpoint(t *testing.T) {
	env := newEnv(t)
	w := env.do(t, http.MethodGet, "/api/projects/health", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	report := decode[service.HealthReport](t, w)
	assert.Equal(t, "healthy", report.Status)
	assert.Equal(t, "projects", report.Service)
	assert.True(t, report.Schema.Valid)
}
