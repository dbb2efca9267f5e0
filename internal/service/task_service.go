package service

import (
	"context"
	"strings"
	"time"

	"projecthub/internal/model"
	"projecthub/pkg/apperr"
	"projecthub/pkg/logger"
	"projecthub/pkg/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type TaskService struct {
	store        TaskStore
	queryTimeout time.Duration
	logger       *zap.Logger
}

func NewTaskService(store TaskStore, queryTimeout time.Duration, logger *zap.Logger) *TaskService {
	return &TaskService{store: store, queryTimeout: queryTimeout, logger: logger}
}

// NewTask 创建任务的输入；Status 为空时默认 todo，Assignee 为空时默认 User
type NewTask struct {
	ProjectID   string `json:"project_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Assignee    string `json:"assignee"`
	TaskOrder   int    `json:"task_order"`
	Feature     string `json:"feature"`
}

// ValidateNewTask 规范化并校验输入，返回待写入的任务
func ValidateNewTask(in NewTask) (*model.Task, error) {
	if _, err := uuid.Parse(in.ProjectID); err != nil {
		return nil, apperr.Invalid("project_id must be a valid UUID")
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, apperr.Invalid("task title is required and cannot be blank")
	}
	status := model.StatusTodo
	if in.Status != "" {
		st, err := model.ParseTaskStatus(in.Status)
		if err != nil {
			return nil, apperr.Invalid("%s", err.Error())
		}
		status = st
	}
	assignee := strings.TrimSpace(in.Assignee)
	if assignee == "" {
		assignee = model.DefaultAssignee
	}
	if in.TaskOrder < 0 {
		return nil, apperr.Invalid("task_order must not be negative")
	}
	return &model.Task{
		ID:          uuid.NewString(),
		ProjectID:   in.ProjectID,
		Title:       title,
		Description: in.Description,
		Status:      status,
		Assignee:    assignee,
		TaskOrder:   in.TaskOrder,
		Feature:     strings.TrimSpace(in.Feature),
	}, nil
}

func (s *TaskService) List(ctx context.Context, f model.TaskFilter) ([]model.Task, error) {
	if f.ProjectID != "" {
		if err := validateID("project", f.ProjectID); err != nil {
			return nil, err
		}
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, apperr.BadRequest("invalid task status %q", f.Status)
	}
	ctx, cancel := withTimeout(ctx, s.queryTimeout)
	defer cancel()

	tasks, err := s.store.ListTasks(ctx, f)
	if err != nil {
		logger.WithTrace(ctx, s.logger).Error("Failed to list tasks",
			zap.String("project_id", f.ProjectID),
			zap.Error(err),
		)
		return nil, util.StoreError("failed to list tasks", err)
	}
	if tasks == nil {
		tasks = []model.Task{}
	}
	return tasks, nil
}

func (s *TaskService) Get(ctx context.Context, id string) (*model.Task, error) {
	if err := validateID("task", id); err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx, s.queryTimeout)
	defer cancel()

	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		if code, _ := util.ClassifyError(err); code == apperr.CodeNotFound {
			return nil, apperr.NotFound("task %s not found", id)
		}
		return nil, util.StoreError("failed to get task", err)
	}
	return t, nil
}

func (s *TaskService) Create(ctx context.Context, in NewTask) (*model.Task, error) {
	t, err := ValidateNewTask(in)
	if err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx, s.queryTimeout)
	defer cancel()

	log := logger.WithTrace(ctx, s.logger)
	if err := s.store.InsertTask(ctx, t); err != nil {
		log.Error("Failed to insert task",
			zap.String("project_id", t.ProjectID),
			zap.String("title", t.Title),
			zap.Error(err),
		)
		if code, _ := util.ClassifyError(err); code == apperr.CodeInvalidInput {
			return nil, apperr.Wrap(apperr.CodeInvalidInput, "project "+t.ProjectID+" does not exist", err)
		}
		return nil, util.StoreError("failed to create task", err)
	}
	log.Info("Task created",
		zap.String("task_id", t.ID),
		zap.String("project_id", t.ProjectID),
	)
	return t, nil
}

// Update 部分更新；状态变化必须符合迁移表
func (s *TaskService) Update(ctx context.Context, id string, u model.TaskUpdate) (*model.Task, error) {
	if u.Title != nil {
		title := strings.TrimSpace(*u.Title)
		if title == "" {
			return nil, apperr.Invalid("task title cannot be blank")
		}
		u.Title = &title
	}
	if u.TaskOrder != nil && *u.TaskOrder < 0 {
		return nil, apperr.Invalid("task_order must not be negative")
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Status != nil {
		if !u.Status.Valid() {
			return nil, apperr.Invalid("invalid task status %q", *u.Status)
		}
		if !current.Status.CanTransitionTo(*u.Status) {
			return nil, apperr.Invalid("cannot move task from %s to %s", current.Status, *u.Status)
		}
	}
	if u.Empty() {
		return current, nil
	}

	ctx, cancel := withTimeout(ctx, s.queryTimeout)
	defer cancel()

	log := logger.WithTrace(ctx, s.logger)
	t, err := s.store.UpdateTask(ctx, id, u)
	if err != nil {
		if code, _ := util.ClassifyError(err); code == apperr.CodeNotFound {
			return nil, apperr.NotFound("task %s not found", id)
		}
		log.Error("Failed to update task", zap.String("task_id", id), zap.Error(err))
		return nil, util.StoreError("failed to update task", err)
	}
	log.Info("Task updated", zap.String("task_id", id), zap.String("status", string(t.Status)))
	return t, nil
}

// Delete 归档任务（软删除），归档后默认列表不再返回
func (s *TaskService) Delete(ctx context.Context, id string) error {
	if err := validateID("task", id); err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx, s.queryTimeout)
	defer cancel()

	log := logger.WithTrace(ctx, s.logger)
	if err := s.store.ArchiveTask(ctx, id); err != nil {
		if code, _ := util.ClassifyError(err); code == apperr.CodeNotFound {
			return apperr.NotFound("task %s not found", id)
		}
		log.Error("Failed to archive task", zap.String("task_id", id), zap.Error(err))
		return util.StoreError("failed to delete task", err)
	}
	log.Info("Task archived", zap.String("task_id", id))
	return nil
}
