package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	contractsmq "projecthub/contracts/mq"
	"projecthub/internal/model"
	"projecthub/pkg/outbox"
)

const projectColumns = `id, title, description, github_repo, docs, features, data, pinned, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*model.Project, error) {
	var (
		p                    model.Project
		docs, features, data string
		pinned               int
		createdAt, updatedAt string
	)
	if err := row.Scan(&p.ID, &p.Title, &p.Description, &p.GithubRepo, &docs, &features, &data,
		&pinned, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(docs), &p.Docs); err != nil {
		return nil, fmt.Errorf("decode docs of project %s: %w", p.ID, err)
	}
	if p.Docs == nil {
		p.Docs = []model.Document{}
	}
	p.Features = json.RawMessage(features)
	p.Data = json.RawMessage(data)
	p.Pinned = pinned != 0

	var err error
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func jsonText(raw json.RawMessage, fallback string) string {
	if len(raw) == 0 {
		return fallback
	}
	return string(raw)
}

func (s *Store) ListProjects(ctx context.Context) (_ []model.Project, err error) {
	ctx, done := s.track(ctx, "select", "projects")
	defer func() { done(err) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+projectColumns+`
		FROM projects
		ORDER BY pinned DESC, created_at DESC, rowid DESC
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

	return scanProject(s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id))
}

func (s *Store) InsertProject(ctx context.Context, p *model.Project) (err error) {
	ctx, done := s.track(ctx, "insert", "projects")
	defer func() { done(err) }()

	docs, err := json.Marshal(p.Docs)
	if err != nil {
		return err
	}
	now := s.stamp()

	err = s.inTx(ctx, func(tx *sql.Tx) ([]*outbox.Event, error) {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projects (id, title, description, github_repo, docs, features, data, pinned, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, p.ID, p.Title, p.Description, p.GithubRepo, string(docs),
			jsonText(p.Features, "[]"), jsonText(p.Data, "[]"), boolInt(p.Pinned), now, now)
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
	if err != nil {
		return err
	}
	p.CreatedAt, _ = parseTime(now)
	p.UpdatedAt = p.CreatedAt
	return nil
}

func (s *Store) UpdateProject(ctx context.Context, id string, u model.ProjectUpdate) (_ *model.Project, err error) {
	ctx, done := s.track(ctx, "update", "projects")
	defer func() { done(err) }()

	var updated *model.Project
	err = s.inTx(ctx, func(tx *sql.Tx) ([]*outbox.Event, error) {
		p, err := scanProject(tx.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id))
		if err != nil {
			return nil, err
		}
		u.Apply(p)
		docs, err := json.Marshal(p.Docs)
		if err != nil {
			return nil, err
		}
		now := s.stamp()
		_, err = tx.ExecContext(ctx, `
			UPDATE projects
			SET title = ?, description = ?, github_repo = ?, docs = ?, features = ?, data = ?, pinned = ?, updated_at = ?
			WHERE id = ?
		`, p.Title, p.Description, p.GithubRepo, string(docs),
			jsonText(p.Features, "null"), jsonText(p.Data, "null"), boolInt(p.Pinned), now, id)
		if err != nil {
			return nil, err
		}
		p.UpdatedAt, _ = parseTime(now)
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

func (s *Store) DeleteProject(ctx context.Context, id string) (err error) {
	ctx, done := s.track(ctx, "delete", "projects")
	defer func() { done(err) }()

	return s.inTx(ctx, func(tx *sql.Tx) ([]*outbox.Event, error) {
		res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
		if err != nil {
			return nil, err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, sql.ErrNoRows
		}
		event, err := outbox.NewEvent(ctx, "project", id, contractsmq.ProjectDeleted, contractsmq.ProjectDeletedPayload{ProjectID: id})
		if err != nil {
			return nil, err
		}
		return []*outbox.Event{event}, nil
	})
}
