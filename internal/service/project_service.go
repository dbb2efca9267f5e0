package service

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"projecthub/internal/model"
	"projecthub/pkg/apperr"
	"projecthub/pkg/logger"
	"projecthub/pkg/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ProjectService struct {
	store        ProjectStore
	queryTimeout time.Duration
	logger       *zap.Logger
}

func NewProjectService(store ProjectStore, queryTimeout time.Duration, logger *zap.Logger) *ProjectService {
	return &ProjectService{store: store, queryTimeout: queryTimeout, logger: logger}
}

// NewProject 创建项目的输入
type NewProject struct {
	// ID 可由调用方预先分配，为空时自动生成
	ID          string
	Title       string
	Description string
	GithubRepo  string
	Docs        []model.Document
	Features    json.RawMessage
	Data        json.RawMessage
	Pinned      bool
}

// List 返回全部项目（完整内容），置顶的排在前面
func (s *ProjectService) List(ctx context.Context) ([]model.Project, error) {
	ctx, cancel := withTimeout(ctx, s.queryTimeout)
	defer cancel()

	projects, err := s.store.ListProjects(ctx)
	if err != nil {
		logger.WithTrace(ctx, s.logger).Error("Failed to list projects", zap.Error(err))
		return nil, util.StoreError("failed to list projects", err)
	}
	if projects == nil {
		projects = []model.Project{}
	}
	return projects, nil
}

// Summaries 轻量列表
func Summaries(projects []model.Project) []model.ProjectSummary {
	out := make([]model.ProjectSummary, 0, len(projects))
	for i := range projects {
		out = append(out, projects[i].Summary())
	}
	return out
}

func (s *ProjectService) Get(ctx context.Context, id string) (*model.Project, error) {
	if err := validateID("project", id); err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx, s.queryTimeout)
	defer cancel()

	p, err := s.store.GetProject(ctx, id)
	if err != nil {
		if code, _ := util.ClassifyError(err); code == apperr.CodeNotFound {
			return nil, apperr.NotFound("project %s not found", id)
		}
		logger.WithTrace(ctx, s.logger).Error("Failed to get project", zap.String("project_id", id), zap.Error(err))
		return nil, util.StoreError("failed to get project", err)
	}
	return p, nil
}

// ValidateNew 校验创建输入，不访问存储
func ValidateNew(in *NewProject) error {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return apperr.Invalid("title is required and cannot be blank")
	}
	if err := validateRepo(in.GithubRepo); err != nil {
		return err
	}
	for _, raw := range []json.RawMessage{in.Features, in.Data} {
		if len(raw) > 0 && !json.Valid(raw) {
			return apperr.Invalid("features and data must be valid JSON")
		}
	}
	return nil
}

func (s *ProjectService) Create(ctx context.Context, in NewProject) (*model.Project, error) {
	if err := ValidateNew(&in); err != nil {
		return nil, err
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	} else if err := validateID("project", in.ID); err != nil {
		return nil, err
	}
	p := &model.Project{
		ID:          in.ID,
		Title:       in.Title,
		Description: in.Description,
		GithubRepo:  strings.TrimSpace(in.GithubRepo),
		Docs:        in.Docs,
		Features:    in.Features,
		Data:        in.Data,
		Pinned:      in.Pinned,
	}
	if p.Docs == nil {
		p.Docs = []model.Document{}
	}
	for i := range p.Docs {
		if p.Docs[i].ID == "" {
			p.Docs[i].ID = uuid.NewString()
		}
	}
	if len(p.Features) == 0 {
		p.Features = json.RawMessage(`[]`)
	}
	if len(p.Data) == 0 {
		p.Data = json.RawMessage(`[]`)
	}

	ctx, cancel := withTimeout(ctx, s.queryTimeout)
	defer cancel()

	log := logger.WithTrace(ctx, s.logger)
	if err := s.store.InsertProject(ctx, p); err != nil {
		log.Error("Failed to insert project", zap.String("title", p.Title), zap.Error(err))
		return nil, util.StoreError("failed to create project", err)
	}
	log.Info("Project created", zap.String("project_id", p.ID), zap.String("title", p.Title))
	return p, nil
}

// Update 只修改传入的字段
func (s *ProjectService) Update(ctx context.Context, id string, u model.ProjectUpdate) (*model.Project, error) {
	if err := validateID("project", id); err != nil {
		return nil, err
	}
	if u.Title != nil {
		title := strings.TrimSpace(*u.Title)
		if title == "" {
			return nil, apperr.Invalid("title cannot be blank")
		}
		u.Title = &title
	}
	if u.GithubRepo != nil {
		if err := validateRepo(*u.GithubRepo); err != nil {
			return nil, err
		}
	}
	if u.Empty() {
		return s.Get(ctx, id)
	}

	ctx, cancel := withTimeout(ctx, s.queryTimeout)
	defer cancel()

	log := logger.WithTrace(ctx, s.logger)
	p, err := s.store.UpdateProject(ctx, id, u)
	if err != nil {
		if code, _ := util.ClassifyError(err); code == apperr.CodeNotFound {
			return nil, apperr.NotFound("project %s not found", id)
		}
		log.Error("Failed to update project", zap.String("project_id", id), zap.Error(err))
		return nil, util.StoreError("failed to update project", err)
	}
	log.Info("Project updated", zap.String("project_id", id))
	return p, nil
}

func (s *ProjectService) Delete(ctx context.Context, id string) error {
	if err := validateID("project", id); err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx, s.queryTimeout)
	defer cancel()

	log := logger.WithTrace(ctx, s.logger)
	if err := s.store.DeleteProject(ctx, id); err != nil {
		if code, _ := util.ClassifyError(err); code == apperr.CodeNotFound {
			return apperr.NotFound("project %s not found", id)
		}
		log.Error("Failed to delete project", zap.String("project_id", id), zap.Error(err))
		return util.StoreError("failed to delete project", err)
	}
	log.Info("Project deleted", zap.String("project_id", id))
	return nil
}

func validateID(kind, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return apperr.BadRequest("invalid %s id %q", kind, id)
	}
	return nil
}

func validateRepo(repo string) error {
	repo = strings.TrimSpace(repo)
	if repo == "" {
		return nil
	}
	u, err := url.Parse(repo)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return apperr.Invalid("github_repo must be an http(s) URL")
	}
	return nil
}
