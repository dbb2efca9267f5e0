package service

import (
	"context"
	"strings"
	"time"

	"projecthub/internal/model"
	"projecthub/pkg/apperr"
	"projecthub/pkg/logger"
	"projecthub/pkg/util"

	"go.uber.org/zap"
)

type SourceLinkingService struct {
	store        SourceStore
	queryTimeout time.Duration
	logger       *zap.Logger
}

func NewSourceLinkingService(store SourceStore, queryTimeout time.Duration, logger *zap.Logger) *SourceLinkingService {
	return &SourceLinkingService{store: store, queryTimeout: queryTimeout, logger: logger}
}

// NormalizeSourceIDs 去空白、去重，保持首次出现的顺序
func NormalizeSourceIDs(ids []string) ([]string, error) {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, apperr.Invalid("source ids cannot be blank")
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

// LinkSources 给项目追加 technical / business 来源关联
func (s *SourceLinkingService) LinkSources(ctx context.Context, projectID string, technical, business []string) error {
	if err := validateID("project", projectID); err != nil {
		return err
	}
	var links []model.SourceLink
	for _, group := range []struct {
		kind model.SourceKind
		ids  []string
	}{
		{model.SourceTechnical, technical},
		{model.SourceBusiness, business},
	} {
		ids, err := NormalizeSourceIDs(group.ids)
		if err != nil {
			return err
		}
		for _, id := range ids {
			links = append(links, model.SourceLink{ProjectID: projectID, SourceID: id, Kind: group.kind})
		}
	}
	if len(links) == 0 {
		return nil
	}

	ctx, cancel := withTimeout(ctx, s.queryTimeout)
	defer cancel()

	log := logger.WithTrace(ctx, s.logger)
	if err := s.store.InsertSourceLinks(ctx, links); err != nil {
		log.Error("Failed to link sources",
			zap.String("project_id", projectID),
			zap.Int("link_count", len(links)),
			zap.Error(err),
		)
		return util.StoreError("failed to link sources", err)
	}
	log.Info("Sources linked",
		zap.String("project_id", projectID),
		zap.Int("technical", len(technical)),
		zap.Int("business", len(business)),
	)
	return nil
}

// ReplaceLinks 用新的集合替换某一类关联；ids 为空表示清空
func (s *SourceLinkingService) ReplaceLinks(ctx context.Context, projectID string, kind model.SourceKind, ids []string) error {
	if err := validateID("project", projectID); err != nil {
		return err
	}
	ids, err := NormalizeSourceIDs(ids)
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx, s.queryTimeout)
	defer cancel()

	if err := s.store.ReplaceSourceLinks(ctx, projectID, kind, ids); err != nil {
		logger.WithTrace(ctx, s.logger).Error("Failed to replace source links",
			zap.String("project_id", projectID),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		return util.StoreError("failed to update "+string(kind)+" sources", err)
	}
	return nil
}

// LinkedSources 单个项目已关联且能解析到来源记录的 technical / business 列表
func (s *SourceLinkingService) LinkedSources(ctx context.Context, projectID string) (technical, business []model.SourceRef, err error) {
	if err := validateID("project", projectID); err != nil {
		return nil, nil, err
	}
	out, err := s.FormatProjectsWithSources(ctx, []model.Project{{ID: projectID}})
	if err != nil {
		return nil, nil, err
	}
	return out[0].TechnicalSources, out[0].BusinessSources, nil
}

// FormatProjectsWithSources 读取关联和来源记录，给每个项目填充来源信息
func (s *SourceLinkingService) FormatProjectsWithSources(ctx context.Context, projects []model.Project) ([]model.Project, error) {
	if len(projects) == 0 {
		return []model.Project{}, nil
	}
	ids := make([]string, 0, len(projects))
	for i := range projects {
		ids = append(ids, projects[i].ID)
	}

	ctx, cancel := withTimeout(ctx, s.queryTimeout)
	defer cancel()

	links, err := s.store.ListSourceLinks(ctx, ids)
	if err != nil {
		logger.WithTrace(ctx, s.logger).Error("Failed to list source links", zap.Error(err))
		return nil, util.StoreError("failed to load project sources", err)
	}
	var sources []model.Source
	if len(links) > 0 {
		sources, err = s.store.ListSources(ctx)
		if err != nil {
			logger.WithTrace(ctx, s.logger).Error("Failed to list sources", zap.Error(err))
			return nil, util.StoreError("failed to load sources", err)
		}
	}
	return DecorateProjects(projects, links, sources), nil
}

// FormatProjectWithSources 单个项目的版本
func (s *SourceLinkingService) FormatProjectWithSources(ctx context.Context, p *model.Project) (*model.Project, error) {
	out, err := s.FormatProjectsWithSources(ctx, []model.Project{*p})
	if err != nil {
		return nil, err
	}
	return &out[0], nil
}

// DecorateProjects is the pure join behind FormatProjectsWithSources. Each
// project receives the resolved metadata of its linked sources, in link
// order. A link whose source id has no matching record is dropped; that is
// not an error. The input slice is not modified.
func DecorateProjects(projects []model.Project, links []model.SourceLink, sources []model.Source) []model.Project {
	byID := make(map[string]model.Source, len(sources))
	for _, src := range sources {
		byID[src.SourceID] = src
	}
	linksByProject := make(map[string][]model.SourceLink)
	for _, l := range links {
		linksByProject[l.ProjectID] = append(linksByProject[l.ProjectID], l)
	}

	out := make([]model.Project, len(projects))
	for i := range projects {
		p := projects[i]
		p.TechnicalSources = []model.SourceRef{}
		p.BusinessSources = []model.SourceRef{}
		for _, l := range linksByProject[p.ID] {
			src, ok := byID[l.SourceID]
			if !ok {
				continue
			}
			ref := model.SourceRef{SourceID: src.SourceID, Title: src.Title, Type: src.KnowledgeType}
			switch l.Kind {
			case model.SourceTechnical:
				p.TechnicalSources = append(p.TechnicalSources, ref)
			case model.SourceBusiness:
				p.BusinessSources = append(p.BusinessSources, ref)
			}
		}
		out[i] = p
	}
	return out
}
