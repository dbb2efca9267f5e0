package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"projecthub/internal/model"
	"projecthub/pkg/outbox"
)

// UpsertSource 写入或更新来源记录（知识库同步和测试使用）
func (s *Store) UpsertSource(ctx context.Context, src model.Source) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sources (source_id, title, knowledge_type, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (source_id) DO UPDATE SET title = excluded.title, knowledge_type = excluded.knowledge_type
	`, src.SourceID, src.Title, src.KnowledgeType, s.stamp())
	return err
}

func (s *Store) ListSources(ctx context.Context) (_ []model.Source, err error) {
	ctx, done := s.track(ctx, "select", "sources")
	defer func() { done(err) }()

	rows, err := s.db.QueryContext(ctx, `SELECT source_id, title, knowledge_type, created_at FROM sources ORDER BY source_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []model.Source
	for rows.Next() {
		var (
			src       model.Source
			createdAt string
		)
		if err := rows.Scan(&src.SourceID, &src.Title, &src.KnowledgeType, &createdAt); err != nil {
			return nil, err
		}
		if src.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

func (s *Store) ListSourceLinks(ctx context.Context, projectIDs []string) (_ []model.SourceLink, err error) {
	ctx, done := s.track(ctx, "select", "project_sources")
	defer func() { done(err) }()

	query := `SELECT project_id, source_id, kind, created_at FROM project_sources`
	args := make([]any, 0, len(projectIDs))
	if len(projectIDs) > 0 {
		query += ` WHERE project_id IN (?` + strings.Repeat(", ?", len(projectIDs)-1) + `)`
		for _, id := range projectIDs {
			args = append(args, id)
		}
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []model.SourceLink
	for rows.Next() {
		var (
			l         model.SourceLink
			kind      string
			createdAt string
		)
		if err := rows.Scan(&l.ProjectID, &l.SourceID, &kind, &createdAt); err != nil {
			return nil, err
		}
		l.Kind = model.SourceKind(kind)
		if l.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

func (s *Store) InsertSourceLinks(ctx context.Context, links []model.SourceLink) (err error) {
	ctx, done := s.track(ctx, "insert", "project_sources")
	defer func() { done(err) }()

	return s.inTx(ctx, func(tx *sql.Tx) ([]*outbox.Event, error) {
		return nil, s.insertLinks(ctx, tx, links)
	})
}

func (s *Store) ReplaceSourceLinks(ctx context.Context, projectID string, kind model.SourceKind, sourceIDs []string) (err error) {
	ctx, done := s.track(ctx, "update", "project_sources")
	defer func() { done(err) }()

	return s.inTx(ctx, func(tx *sql.Tx) ([]*outbox.Event, error) {
		if _, err := tx.ExecContext(ctx, `DELETE FROM project_sources WHERE project_id = ? AND kind = ?`, projectID, string(kind)); err != nil {
			return nil, err
		}
		links := make([]model.SourceLink, 0, len(sourceIDs))
		for _, id := range sourceIDs {
			links = append(links, model.SourceLink{ProjectID: projectID, SourceID: id, Kind: kind})
		}
		return nil, s.insertLinks(ctx, tx, links)
	})
}

func (s *Store) insertLinks(ctx context.Context, tx *sql.Tx, links []model.SourceLink) error {
	now := s.stamp()
	for _, l := range links {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO project_sources (project_id, source_id, kind, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (project_id, source_id, kind) DO NOTHING
		`, l.ProjectID, l.SourceID, string(l.Kind), now)
		if err != nil {
			return err
		}
	}
	return nil
}
