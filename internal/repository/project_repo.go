package repository

import (
	"context"
	"encoding/json"
	"fmt"

	contractsmq "projecthub/contracts/mq"
	"projecthub/internal/model"
	"projecthub/pkg/outbox"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const projectColumns = `id::text, title, description, github_repo, docs, features, data, pinned, created_at, updated_at`

func scanProject(row pgx.Row) (*model.Project, error) {
	var (
		p    model.Project
		docs []byte
	)
	err := row.Scan(
		&p.ID,
		&p.Title,
		&p.Description,
		&p.GithubRepo,
		&docs,
		&p.Features,
		&p.Data,
		&p.Pinned,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(docs, &p.Docs); err != nil {
		return nil, fmt.Errorf("decode docs of project %s: %w", p.ID, err)
	}
	if p.Docs == nil {
		p.Docs = []model.Document{}
	}
	return &p, nil
}

// ListProjects 置顶的在前，其余按创建时间倒序
func (s *Store) ListProjects(ctx context.Context) (_ []model.Project, err error) {
	ctx, done := s.track(ctx, "select", "projects")
	defer func() { done(err) }()

	rows, err := s.db.Query(ctx, `
		SELECT `+projectColumns+`
		FROM projects
		ORDER BY pinned DESC, created_at DESC, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	projects := []model.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}

func (s *Store) GetProject(ctx context.Context, id string) (_ *model.Project, err error) {
	ctx, done := s.track(ctx, "select", "projects")
	defer func() { done(err) }()

	return scanProject(s.db.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id))
}

func (s *Store) InsertProject(ctx context.Context, p *model.Project) (err error) {
	ctx, done := s.track(ctx, "insert", "projects")
	defer func() { done(err) }()

	s.logger.Debug("Inserting project", zap.String("project_id", p.ID), zap.String("title", p.Title))

	docs, err := json.Marshal(p.Docs)
	if err != nil {
		return err
	}

	return s.inTx(ctx, func(tx pgx.Tx) ([]*outbox.Event, error) {
		err := tx.QueryRow(ctx, `
			INSERT INTO projects (id, title, description, github_repo, docs, features, data, pinned)
			VALUES ($1, $2, $3, $4, $5::jsonb, $6::jsonb, $7::jsonb, $8)
			RETURNING created_at, updated_at
		`,
			p.ID,
			p.Title,
			p.Description,
			p.GithubRepo,
			string(docs),
			jsonText(p.Features, "[]"),
			jsonText(p.Data, "[]"),
			p.Pinned,
		).Scan(&p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			return nil, err
		}

		event, err := outbox.NewEvent(ctx, "project", p.ID, contractsmq.ProjectCreated, contractsmq.ProjectCreatedPayload{
			ProjectID:  p.ID,
			Title:      p.Title,
			GithubRepo: p.GithubRepo,
			Pinned:     p.Pinned,
		})
		if err != nil {
			return nil, err
		}
		return []*outbox.Event{event}, nil
	})
}

// UpdateProject 只更新非 nil 字段，未找到返回 pgx.ErrNoRows
func (s *Store) UpdateProject(ctx context.Context, id string, u model.ProjectUpdate) (_ *model.Project, err error) {
	ctx, done := s.track(ctx, "update", "projects")
	defer func() { done(err) }()

	var docs *string
	if u.Docs != nil {
		b, err := json.Marshal(*u.Docs)
		if err != nil {
			return nil, err
		}
		d := string(b)
		docs = &d
	}

	var updated *model.Project
	err = s.inTx(ctx, func(tx pgx.Tx) ([]*outbox.Event, error) {
		p, err := scanProject(tx.QueryRow(ctx, `
			UPDATE projects SET
				title       = COALESCE($2, title),
				description = COALESCE($3, description),
				github_repo = COALESCE($4, github_repo),
				docs        = COALESCE($5::jsonb, docs),
				features    = COALESCE($6::jsonb, features),
				data        = COALESCE($7::jsonb, data),
				pinned      = COALESCE($8, pinned),
				updated_at  = NOW()
			WHERE id = $1
			RETURNING `+projectColumns,
			id,
			u.Title,
			u.Description,
			u.GithubRepo,
			docs,
			jsonParam(u.Features),
			jsonParam(u.Data),
			u.Pinned,
		))
		if err != nil {
			return nil, err
		}
		updated = p

		event, err := outbox.NewEvent(ctx, "project", id, contractsmq.ProjectUpdated, contractsmq.ProjectUpdatedPayload{
			ProjectID: id,
			Fields:    u.Fields(),
		})
		if err != nil {
			return nil, err
		}
		return []*outbox.Event{event}, nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteProject 任务和来源关联随外键级联删除
func (s *Store) DeleteProject(ctx context.Context, id string) (err error) {
	ctx, done := s.track(ctx, "delete", "projects")
	defer func() { done(err) }()

	return s.inTx(ctx, func(tx pgx.Tx) ([]*outbox.Event, error) {
		var deleted string
		if err := tx.QueryRow(ctx, `DELETE FROM projects WHERE id = $1 RETURNING id::text`, id).Scan(&deleted); err != nil {
			return nil, err
		}
		event, err := outbox.NewEvent(ctx, "project", id, contractsmq.ProjectDeleted, contractsmq.ProjectDeletedPayload{ProjectID: id})
		if err != nil {
			return nil, err
		}
		return []*outbox.Event{event}, nil
	})
}
