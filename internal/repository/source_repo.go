package repository

import (
	"context"

	"projecthub/internal/model"
	"projecthub/pkg/outbox"

	"github.com/jackc/pgx/v5"
)

func (s *Store) ListSources(ctx context.Context) (_ []model.Source, err error) {
	ctx, done := s.track(ctx, "select", "sources")
	defer func() { done(err) }()

	rows, err := s.db.Query(ctx, `
		SELECT source_id, title, knowledge_type, created_at
		FROM sources
		ORDER BY source_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []model.Source
	for rows.Next() {
		var src model.Source
		if err := rows.Scan(&src.SourceID, &src.Title, &src.KnowledgeType, &src.CreatedAt); err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// ListSourceLinks 按写入顺序返回；projectIDs 为空时返回全部关联
func (s *Store) ListSourceLinks(ctx context.Context, projectIDs []string) (_ []model.SourceLink, err error) {
	ctx, done := s.track(ctx, "select", "project_sources")
	defer func() { done(err) }()

	query := `SELECT project_id::text, source_id, kind, created_at FROM project_sources`
	var args []any
	if len(projectIDs) > 0 {
		query += ` WHERE project_id = ANY($1::uuid[])`
		args = append(args, projectIDs)
	}
	query += ` ORDER BY id`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []model.SourceLink
	for rows.Next() {
		var l model.SourceLink
		if err := rows.Scan(&l.ProjectID, &l.SourceID, &l.Kind, &l.CreatedAt); err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// InsertSourceLinks 已存在的关联忽略
func (s *Store) InsertSourceLinks(ctx context.Context, links []model.SourceLink) (err error) {
	ctx, done := s.track(ctx, "insert", "project_sources")
	defer func() { done(err) }()

	return s.inTx(ctx, func(tx pgx.Tx) ([]*outbox.Event, error) {
		return nil, insertLinks(ctx, tx, links)
	})
}

// ReplaceSourceLinks 删除某一类的全部关联再写入新的集合
func (s *Store) ReplaceSourceLinks(ctx context.Context, projectID string, kind model.SourceKind, sourceIDs []string) (err error) {
	ctx, done := s.track(ctx, "update", "project_sources")
	defer func() { done(err) }()

	return s.inTx(ctx, func(tx pgx.Tx) ([]*outbox.Event, error) {
		if _, err := tx.Exec(ctx, `DELETE FROM project_sources WHERE project_id = $1 AND kind = $2`, projectID, string(kind)); err != nil {
			return nil, err
		}
		links := make([]model.SourceLink, 0, len(sourceIDs))
		for _, id := range sourceIDs {
			links = append(links, model.SourceLink{ProjectID: projectID, SourceID: id, Kind: kind})
		}
		return nil, insertLinks(ctx, tx, links)
	})
}

func insertLinks(ctx context.Context, tx pgx.Tx, links []model.SourceLink) error {
	if len(links) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, l := range links {
		batch.Queue(`
			INSERT INTO project_sources (project_id, source_id, kind)
			VALUES ($1, $2, $3)
			ON CONFLICT (project_id, source_id, kind) DO NOTHING
		`, l.ProjectID, l.SourceID, string(l.Kind))
	}
	return tx.SendBatch(ctx, batch).Close()
}
