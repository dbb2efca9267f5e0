package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"projecthub/internal/model"
	"projecthub/pkg/apperr"
	"projecthub/pkg/logger"
	"projecthub/pkg/metrics"
	"projecthub/pkg/otel"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// Step names of the creation saga.
const (
	StepPersistProject = "persist_project"
	StepGenerateDocs   = "generate_docs"
	StepCreateTasks    = "create_tasks"
	StepLinkSources    = "link_sources"
)

type StepStatus string

const (
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// StepResult 单个步骤的结果，可独立归因
type StepResult struct {
	Name     string
	Status   StepStatus
	Error    string
	Duration time.Duration
}

// CreateProjectRequest 一次创建请求：基础项目 + 派生产物
type CreateProjectRequest struct {
	NewProject
	TechnicalSources []string
	BusinessSources  []string
	Tasks            []InitialTask
}

// InitialTask 随项目一起创建的任务
type InitialTask struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Assignee    string `json:"assignee"`
	TaskOrder   *int   `json:"task_order"`
	Feature     string `json:"feature"`
}

// CreationOutcome is the single client-visible result of a creation request.
//
// On success ProjectID and Project are set and failed derived steps appear as
// Warnings. On failure Err is set; ProjectID is set and NeedsCleanup is true
// only if the base project row was written before the failure.
type CreationOutcome struct {
	ProjectID    string         `json:"project_id"`
	Project      *model.Project `json:"project"`
	Steps        []StepResult   `json:"steps"`
	Warnings     []string       `json:"warnings"`
	Err          *apperr.Error  `json:"-"`
	NeedsCleanup bool           `json:"-"`
}

func (o *CreationOutcome) Succeeded() bool {
	return o.Err == nil
}

var errSkipped = errors.New("skipped")

type sagaStep struct {
	name string
	run  func(ctx context.Context) error
}

// ProjectCreator sequences creation of a project and its derived artifacts.
type ProjectCreator struct {
	projects    *ProjectService
	tasks       *TaskService
	sources     *SourceLinkingService
	generator   DocGenerator
	stepTimeout time.Duration
	logger      *zap.Logger
}

// NewProjectCreator generator 可以为 nil：此时不生成 AI 文档
func NewProjectCreator(
	projects *ProjectService,
	tasks *TaskService,
	sources *SourceLinkingService,
	generator DocGenerator,
	stepTimeout time.Duration,
	logger *zap.Logger,
) *ProjectCreator {
	if stepTimeout <= 0 {
		stepTimeout = 60 * time.Second
	}
	return &ProjectCreator{
		projects:    projects,
		tasks:       tasks,
		sources:     sources,
		generator:   generator,
		stepTimeout: stepTimeout,
		logger:      logger,
	}
}

// validate runs every check before the first store write.
func (c *ProjectCreator) validate(req *CreateProjectRequest) error {
	if err := ValidateNew(&req.NewProject); err != nil {
		return err
	}
	var err error
	if req.TechnicalSources, err = NormalizeSourceIDs(req.TechnicalSources); err != nil {
		return err
	}
	if req.BusinessSources, err = NormalizeSourceIDs(req.BusinessSources); err != nil {
		return err
	}
	for i, t := range req.Tasks {
		// project id 还没有分配，用占位 id 做字段校验
		if _, err := ValidateNewTask(t.toNewTask(placeholderID, i)); err != nil {
			return apperr.Invalid("tasks[%d]: %s", i, apperr.As(err).Message)
		}
	}
	return nil
}

const placeholderID = "00000000-0000-0000-0000-000000000000"

func (t InitialTask) toNewTask(projectID string, index int) NewTask {
	order := index
	if t.TaskOrder != nil {
		order = *t.TaskOrder
	}
	return NewTask{
		ProjectID:   projectID,
		Title:       t.Title,
		Description: t.Description,
		Status:      t.Status,
		Assignee:    t.Assignee,
		TaskOrder:   order,
		Feature:     t.Feature,
	}
}

// Create runs the saga: validate, persist the base project, derive artifacts
// concurrently (each bounded by the step timeout, none rolled back), then
// report. The returned error is non-nil exactly when the outcome failed.
func (c *ProjectCreator) Create(ctx context.Context, req CreateProjectRequest) (*CreationOutcome, error) {
	log := logger.WithTrace(ctx, c.logger)
	out := &CreationOutcome{Steps: []StepResult{}, Warnings: []string{}}

	// Step 1: validate
	if err := c.validate(&req); err != nil {
		out.Err = apperr.As(err)
		log.Warn("Project creation rejected", zap.String("title", req.Title), zap.Error(err))
		return out, out.Err
	}

	log.Info("Creating project",
		zap.String("title", req.Title),
		zap.String("github_repo", req.GithubRepo),
		zap.Int("initial_tasks", len(req.Tasks)),
		zap.Int("technical_sources", len(req.TechnicalSources)),
		zap.Int("business_sources", len(req.BusinessSources)),
	)

	// Step 2: persist base project
	req.ID = uuid.NewString()
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, c.stepTimeout)
	project, err := c.projects.Create(stepCtx, req.NewProject)
	cancel()
	persist := result(StepPersistProject, err, time.Since(start))
	out.Steps = append(out.Steps, persist)
	metrics.RecordCreationStep(StepPersistProject, string(persist.Status))
	if err != nil {
		out.Err = apperr.As(err)
		if out.Err.Code == apperr.CodeTimeout {
			// 超时时写入可能已经提交，调用方需要按 id 检查并清理
			out.ProjectID = req.ID
			out.NeedsCleanup = true
		}
		log.Error("Failed to persist project",
			zap.String("title", req.Title),
			zap.Bool("needs_cleanup", out.NeedsCleanup),
			zap.Error(err),
		)
		return out, out.Err
	}
	out.ProjectID = project.ID
	out.Project = project

	// Step 3: derived artifacts
	steps := []sagaStep{
		{name: StepGenerateDocs, run: func(ctx context.Context) error { return c.generateDocs(ctx, project) }},
		{name: StepCreateTasks, run: func(ctx context.Context) error { return c.createTasks(ctx, project.ID, req.Tasks) }},
		{name: StepLinkSources, run: func(ctx context.Context) error {
			if len(req.TechnicalSources) == 0 && len(req.BusinessSources) == 0 {
				return errSkipped
			}
			return c.sources.LinkSources(ctx, project.ID, req.TechnicalSources, req.BusinessSources)
		}},
	}
	for _, r := range c.runDerived(ctx, steps) {
		out.Steps = append(out.Steps, r)
		metrics.RecordCreationStep(r.Name, string(r.Status))
		if r.Status == StepFailed {
			out.Warnings = append(out.Warnings, fmt.Sprintf("%s failed: %s", r.Name, r.Error))
			log.Warn("Derived artifact failed",
				zap.String("project_id", project.ID),
				zap.String("step", r.Name),
				zap.String("error", r.Error),
			)
		}
	}

	// Step 4: report with the best available snapshot
	snapCtx, cancel := context.WithTimeout(ctx, c.stepTimeout)
	defer cancel()
	snapshot, err := c.snapshot(snapCtx, project.ID)
	switch {
	case err == nil:
		out.Project = snapshot
	case apperr.Is(err, apperr.CodeNotFound):
		// 项目在创建过程中被删除：不能报告成功
		out.Err = apperr.NotFound("project %s disappeared during creation", project.ID)
		log.Error("Project missing after creation", zap.String("project_id", project.ID))
		return out, out.Err
	default:
		out.Warnings = append(out.Warnings, "snapshot refresh failed: "+apperr.As(err).Detail())
	}

	log.Info("Project created successfully",
		zap.String("project_id", project.ID),
		zap.Int("warnings", len(out.Warnings)),
	)
	return out, nil
}

// runDerived runs the steps concurrently; results keep step order.
func (c *ProjectCreator) runDerived(ctx context.Context, steps []sagaStep) []StepResult {
	results := make([]StepResult, len(steps))
	var wg sync.WaitGroup
	for i, st := range steps {
		wg.Add(1)
		go func(i int, st sagaStep) {
			defer wg.Done()
			start := time.Now()
			stepCtx, cancel := context.WithTimeout(ctx, c.stepTimeout)
			defer cancel()
			stepCtx, span := otel.StartSpan(stepCtx, "creation."+st.name)
			defer span.End()

			r := result(st.name, c.safeRun(stepCtx, st), time.Since(start))
			if r.Status == StepFailed {
				span.SetStatus(codes.Error, r.Error)
			}
			results[i] = r
		}(i, st)
	}
	wg.Wait()
	return results
}

// safeRun 派生步骤的 panic 只算该步骤失败
func (c *ProjectCreator) safeRun(ctx context.Context, st sagaStep) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Creation step panicked", zap.String("step", st.name), zap.Any("panic", r))
			err = fmt.Errorf("step %s panicked: %v", st.name, r)
		}
	}()
	return st.run(ctx)
}

func result(name string, err error, d time.Duration) StepResult {
	r := StepResult{Name: name, Status: StepSucceeded, Duration: d}
	switch {
	case err == nil:
	case errors.Is(err, errSkipped):
		r.Status = StepSkipped
	case errors.Is(err, context.DeadlineExceeded):
		r.Status = StepFailed
		r.Error = "timed out after " + d.Round(time.Millisecond).String()
	default:
		r.Status = StepFailed
		if ae := (*apperr.Error)(nil); errors.As(err, &ae) {
			r.Error = ae.Detail()
		} else {
			r.Error = err.Error()
		}
	}
	return r
}

func (c *ProjectCreator) generateDocs(ctx context.Context, project *model.Project) error {
	if c.generator == nil {
		return errSkipped
	}
	docs, err := c.generator.GenerateDocs(ctx, DocRequest{
		ProjectID:   project.ID,
		Title:       project.Title,
		Description: project.Description,
		GithubRepo:  project.GithubRepo,
	})
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}
	for i := range docs {
		if docs[i].ID == "" {
			docs[i].ID = uuid.NewString()
		}
		if docs[i].Author == "" {
			docs[i].Author = "agent"
		}
	}
	merged := append(append([]model.Document{}, project.Docs...), docs...)
	_, err = c.projects.Update(ctx, project.ID, model.ProjectUpdate{Docs: &merged})
	return err
}

// createTasks 按 task_order 顺序创建；单个失败不影响其余任务，最后汇总
func (c *ProjectCreator) createTasks(ctx context.Context, projectID string, tasks []InitialTask) error {
	if len(tasks) == 0 {
		return errSkipped
	}
	pending := make([]NewTask, 0, len(tasks))
	for i, t := range tasks {
		pending = append(pending, t.toNewTask(projectID, i))
	}
	sort.SliceStable(pending, func(i, j int) bool { return pending[i].TaskOrder < pending[j].TaskOrder })

	var failed []string
	created := 0
	for _, t := range pending {
		if _, err := c.tasks.Create(ctx, t); err != nil {
			failed = append(failed, fmt.Sprintf("%q: %s", t.Title, apperr.As(err).Detail()))
			if ctx.Err() != nil {
				return fmt.Errorf("created %d of %d tasks: %w", created, len(pending), ctx.Err())
			}
			continue
		}
		created++
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d tasks failed: %v", len(failed), len(pending), failed)
	}
	return nil
}

func (c *ProjectCreator) snapshot(ctx context.Context, id string) (*model.Project, error) {
	p, err := c.projects.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.sources.FormatProjectWithSources(ctx, p)
}

// MarshalJSON 统一输出毫秒
func (r StepResult) MarshalJSON() ([]byte, error) {
	type alias struct {
		Name       string     `json:"name"`
		Status     StepStatus `json:"status"`
		Error      string     `json:"error,omitempty"`
		DurationMS int64      `json:"duration_ms"`
	}
	return json.Marshal(alias{Name: r.Name, Status: r.Status, Error: r.Error, DurationMS: r.Duration.Milliseconds()})
}
