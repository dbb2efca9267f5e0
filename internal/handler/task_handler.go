package handler

import (
	"net/http"
	"strconv"

	"projecthub/internal/model"
	"projecthub/internal/service"
	"projecthub/pkg/apperr"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type TaskHandler struct {
	tasks    *service.TaskService
	projects *service.ProjectService
	logger   *zap.Logger
}

func NewTaskHandler(tasks *service.TaskService, projects *service.ProjectService, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{tasks: tasks, projects: projects, logger: logger}
}

type taskListResponse struct {
	Tasks     []model.Task `json:"tasks"`
	Timestamp string       `json:"timestamp"`
	Count     int          `json:"count"`
}

// taskFilter 解析 status / include_closed / include_archived / limit
func taskFilter(c *gin.Context) (model.TaskFilter, error) {
	var (
		f   model.TaskFilter
		err error
	)
	if raw := c.Query("status"); raw != "" {
		st, perr := model.ParseTaskStatus(raw)
		if perr != nil {
			return f, apperr.BadRequest("%s", perr.Error())
		}
		f.Status = st
	}
	if f.IncludeClosed, err = queryBool(c, "include_closed", false); err != nil {
		return f, err
	}
	if f.IncludeArchived, err = queryBool(c, "include_archived", false); err != nil {
		return f, err
	}
	if raw := c.Query("limit"); raw != "" {
		n, perr := strconv.Atoi(raw)
		if perr != nil || n < 0 {
			return f, apperr.BadRequest("limit must be a non-negative integer, got %q", raw)
		}
		f.Limit = n
	}
	return f, nil
}

// ListProjectTasks handles GET /api/projects/:id/tasks
// 和项目列表一样走指纹协商，方便前端轮询
func (h *TaskHandler) ListProjectTasks(c *gin.Context) {
	f, err := taskFilter(c)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	ctx := c.Request.Context()
	f.ProjectID = c.Param("id")
	if _, err := h.projects.Get(ctx, f.ProjectID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	tasks, err := h.tasks.List(ctx, f)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondConditional(c, h.logger, "list_project_tasks", taskListResponse{
		Tasks:     tasks,
		Timestamp: nowISO(),
		Count:     len(tasks),
	}, "timestamp")
}

// ListTasks handles GET /api/tasks?project_id=
func (h *TaskHandler) ListTasks(c *gin.Context) {
	f, err := taskFilter(c)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	f.ProjectID = c.Query("project_id")
	tasks, err := h.tasks.List(c.Request.Context(), f)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondConditional(c, h.logger, "list_tasks", taskListResponse{
		Tasks:     tasks,
		Timestamp: nowISO(),
		Count:     len(tasks),
	}, "timestamp")
}

// CreateTask handles POST /api/tasks
func (h *TaskHandler) CreateTask(c *gin.Context) {
	var req service.NewTask
	if err := bindJSON(c, &req); err != nil {
		respondError(c, h.logger, err)
		return
	}
	t, err := h.tasks.Create(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"task":    t,
		"message": "Task created successfully",
	})
}

// GetTask handles GET /api/tasks/:id
func (h *TaskHandler) GetTask(c *gin.Context) {
	t, err := h.tasks.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// UpdateTask handles PUT /api/tasks/:id
func (h *TaskHandler) UpdateTask(c *gin.Context) {
	var req model.TaskUpdate
	if err := bindJSON(c, &req); err != nil {
		respondError(c, h.logger, err)
		return
	}
	t, err := h.tasks.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"task":    t,
		"message": "Task updated successfully",
	})
}

// DeleteTask handles DELETE /api/tasks/:id（归档）
func (h *TaskHandler) DeleteTask(c *gin.Context) {
	id := c.Param("id")
	if err := h.tasks.Delete(c.Request.Context(), id); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Task archived successfully",
		"task_id": id,
	})
}
