package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"projecthub/internal/model"
	"projecthub/internal/service"
	"projecthub/pkg/apperr"
	"projecthub/pkg/logger"
	"projecthub/pkg/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const createScope = "create_project"

// IdempotencyGuard 创建请求的幂等保护，*util.Idempotency 实现它（nil 也可用）
type IdempotencyGuard interface {
	Reserve(ctx context.Context, scope, key string) (util.IdempotencyState, string)
	Complete(ctx context.Context, scope, key, resultID string)
	Release(ctx context.Context, scope, key string)
}

type ProjectHandler struct {
	projects *service.ProjectService
	sources  *service.SourceLinkingService
	creator  *service.ProjectCreator
	health   *service.HealthService
	idem     IdempotencyGuard
	logger   *zap.Logger
}

func NewProjectHandler(
	projects *service.ProjectService,
	sources *service.SourceLinkingService,
	creator *service.ProjectCreator,
	health *service.HealthService,
	idem IdempotencyGuard,
	logger *zap.Logger,
) *ProjectHandler {
	return &ProjectHandler{
		projects: projects,
		sources:  sources,
		creator:  creator,
		health:   health,
		idem:     idem,
		logger:   logger,
	}
}

type projectListResponse struct {
	Projects  any    `json:"projects"`
	Timestamp string `json:"timestamp"`
	Count     int    `json:"count"`
}

// ListProjects handles GET /api/projects
// include_content=false 时只返回统计信息；支持 If-None-Match 条件请求
func (h *ProjectHandler) ListProjects(c *gin.Context) {
	includeContent, err := queryBool(c, "include_content", true)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	ctx := c.Request.Context()

	projects, err := h.projects.List(ctx)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	resp := projectListResponse{Timestamp: nowISO(), Count: len(projects)}
	if includeContent {
		// 来源只在完整内容里返回，摘要不查关联表
		if projects, err = h.sources.FormatProjectsWithSources(ctx, projects); err != nil {
			respondError(c, h.logger, err)
			return
		}
		resp.Projects = projects
	} else {
		resp.Projects = service.Summaries(projects)
	}

	logger.WithTrace(ctx, h.logger).Debug("Listing projects",
		zap.Int("count", len(projects)),
		zap.Bool("include_content", includeContent),
	)
	respondConditional(c, h.logger, "list_projects", resp, "timestamp")
}

type createProjectRequest struct {
	Title            string                `json:"title"`
	Description      string                `json:"description"`
	GithubRepo       string                `json:"github_repo"`
	Docs             []model.Document      `json:"docs"`
	Features         json.RawMessage       `json:"features"`
	Data             json.RawMessage       `json:"data"`
	Pinned           bool                  `json:"pinned"`
	TechnicalSources []string              `json:"technical_sources"`
	BusinessSources  []string              `json:"business_sources"`
	Tasks            []service.InitialTask `json:"tasks"`
}

func (r createProjectRequest) toService() service.CreateProjectRequest {
	return service.CreateProjectRequest{
		NewProject: service.NewProject{
			Title:       r.Title,
			Description: r.Description,
			GithubRepo:  r.GithubRepo,
			Docs:        r.Docs,
			Features:    r.Features,
			Data:        r.Data,
			Pinned:      r.Pinned,
		},
		TechnicalSources: r.TechnicalSources,
		BusinessSources:  r.BusinessSources,
		Tasks:            r.Tasks,
	}
}

type createProjectResponse struct {
	ProjectID string               `json:"project_id"`
	Project   *model.Project       `json:"project"`
	Status    string               `json:"status"`
	Message   string               `json:"message"`
	Steps     []service.StepResult `json:"steps"`
	Warnings  []string             `json:"warnings"`
	Replayed  bool                 `json:"replayed,omitempty"`
}

// CreateProject handles POST /api/projects
// 可选 Idempotency-Key：已完成的 key 直接返回已有项目，处理中的 key 返回 409
func (h *ProjectHandler) CreateProject(c *gin.Context) {
	var req createProjectRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, h.logger, err)
		return
	}
	ctx := c.Request.Context()
	log := logger.WithTrace(ctx, h.logger)

	key := c.GetHeader("Idempotency-Key")
	if key != "" {
		if !util.ValidIdempotencyKey(key) {
			respondError(c, h.logger, apperr.BadRequest("invalid Idempotency-Key header"))
			return
		}
		state, existingID := h.idem.Reserve(ctx, createScope, key)
		switch state {
		case util.IdempotencyInFlight:
			respondError(c, h.logger, apperr.New(apperr.CodeConflict, "a request with this Idempotency-Key is still being processed"))
			return
		case util.IdempotencyDone:
			h.replayCreate(c, existingID)
			return
		case util.IdempotencyUnavailable:
			key = ""
		}
	}

	out, err := h.creator.Create(ctx, req.toService())
	if err != nil {
		needsCleanup := out != nil && out.NeedsCleanup
		if needsCleanup {
			log.Warn("Project creation failed after base write",
				zap.String("project_id", out.ProjectID),
			)
		}
		switch {
		case key == "":
		case needsCleanup:
			// 基础记录可能已经写入，key 绑定到这个 id，重试不会再建一个项目
			h.idem.Complete(ctx, createScope, key, out.ProjectID)
		default:
			// 失败时释放 key，客户端可以用同一个 key 重试
			h.idem.Release(ctx, createScope, key)
		}
		respondError(c, h.logger, err)
		return
	}
	if key != "" {
		h.idem.Complete(ctx, createScope, key, out.ProjectID)
	}

	message := "Project created successfully"
	if len(out.Warnings) > 0 {
		message = "Project created with warnings"
	}
	respondJSON(c, h.logger, "create_project", http.StatusOK, createProjectResponse{
		ProjectID: out.ProjectID,
		Project:   out.Project,
		Status:    "completed",
		Message:   message,
		Steps:     out.Steps,
		Warnings:  out.Warnings,
	})
}

func (h *ProjectHandler) replayCreate(c *gin.Context, projectID string) {
	ctx := c.Request.Context()
	p, err := h.projects.Get(ctx, projectID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if p, err = h.sources.FormatProjectWithSources(ctx, p); err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondJSON(c, h.logger, "create_project", http.StatusOK, createProjectResponse{
		ProjectID: p.ID,
		Project:   p,
		Status:    "completed",
		Message:   "Project already created",
		Steps:     []service.StepResult{},
		Warnings:  []string{},
		Replayed:  true,
	})
}

// GetProject handles GET /api/projects/:id
func (h *ProjectHandler) GetProject(c *gin.Context) {
	ctx := c.Request.Context()
	p, err := h.projects.Get(ctx, c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if p, err = h.sources.FormatProjectWithSources(ctx, p); err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondConditional(c, h.logger, "get_project", p)
}

type updateProjectRequest struct {
	model.ProjectUpdate
	TechnicalSources *[]string `json:"technical_sources"`
	BusinessSources  *[]string `json:"business_sources"`
}

// UpdateProject handles PUT /api/projects/:id
// technical_sources / business_sources 出现时整体替换对应的关联
func (h *ProjectHandler) UpdateProject(c *gin.Context) {
	var req updateProjectRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, h.logger, err)
		return
	}
	ctx := c.Request.Context()
	id := c.Param("id")

	// 来源 id 先校验，校验失败时不写入任何字段
	replacements := []struct {
		kind model.SourceKind
		ids  *[]string
	}{
		{model.SourceTechnical, req.TechnicalSources},
		{model.SourceBusiness, req.BusinessSources},
	}
	for _, r := range replacements {
		if r.ids == nil {
			continue
		}
		ids, err := service.NormalizeSourceIDs(*r.ids)
		if err != nil {
			respondError(c, h.logger, err)
			return
		}
		*r.ids = ids
	}

	p, err := h.projects.Update(ctx, id, req.ProjectUpdate)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	for _, r := range replacements {
		if r.ids == nil {
			continue
		}
		if err := h.sources.ReplaceLinks(ctx, id, r.kind, *r.ids); err != nil {
			respondError(c, h.logger, err)
			return
		}
	}
	if p, err = h.sources.FormatProjectWithSources(ctx, p); err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondJSON(c, h.logger, "update_project", http.StatusOK, gin.H{
		"project": p,
		"message": "Project updated successfully",
	})
}

// DeleteProject handles DELETE /api/projects/:id
func (h *ProjectHandler) DeleteProject(c *gin.Context) {
	id := c.Param("id")
	if err := h.projects.Delete(c.Request.Context(), id); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":    "Project deleted successfully",
		"project_id": id,
	})
}

// ListProjectSources handles GET /api/projects/:id/sources?kind=
func (h *ProjectHandler) ListProjectSources(c *gin.Context) {
	var kind model.SourceKind
	if raw := c.Query("kind"); raw != "" {
		k, err := model.ParseSourceKind(raw)
		if err != nil {
			respondError(c, h.logger, apperr.BadRequest("%s", err.Error()))
			return
		}
		kind = k
	}
	ctx := c.Request.Context()
	id := c.Param("id")
	if _, err := h.projects.Get(ctx, id); err != nil {
		respondError(c, h.logger, err)
		return
	}
	technical, business, err := h.sources.LinkedSources(ctx, id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	switch kind {
	case model.SourceTechnical:
		business = []model.SourceRef{}
	case model.SourceBusiness:
		technical = []model.SourceRef{}
	}
	c.JSON(http.StatusOK, gin.H{
		"project_id":        id,
		"technical_sources": technical,
		"business_sources":  business,
		"total_count":       len(technical) + len(business),
	})
}

// Health handles GET /api/projects/health
func (h *ProjectHandler) Health(c *gin.Context) {
	report := h.health.Check(c.Request.Context())
	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}
