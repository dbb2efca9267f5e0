package repository

import (
	"context"
	"fmt"
	"strings"

	contractsmq "projecthub/contracts/mq"
	"projecthub/internal/model"
	"projecthub/pkg/outbox"

	"github.com/jackc/pgx/v5"
)

const taskColumns = `id::text, project_id::text, title, description, status, assignee, task_order, feature,
	archived, archived_at, created_at, updated_at`

func scanTask(row pgx.Row) (*model.Task, error) {
	var t model.Task
	err := row.Scan(
		&t.ID,
		&t.ProjectID,
		&t.Title,
		&t.Description,
		&t.Status,
		&t.Assignee,
		&t.TaskOrder,
		&t.Feature,
		&t.Archived,
		&t.ArchivedAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTasks 按 task_order 排序；默认不包含 done 和已归档的任务
func (s *Store) ListTasks(ctx context.Context, f model.TaskFilter) (_ []model.Task, err error) {
	ctx, done := s.track(ctx, "select", "tasks")
	defer func() { done(err) }()

	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.ProjectID != "" {
		where = append(where, "project_id = "+arg(f.ProjectID))
	}
	if f.Status != "" {
		where = append(where, "status = "+arg(string(f.Status)))
	} else if !f.IncludeClosed {
		where = append(where, "status <> 'done'")
	}
	if !f.IncludeArchived {
		where = append(where, "archived = FALSE")
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY task_order ASC, created_at ASC, id`
	if f.Limit > 0 {
		query += ` LIMIT ` + arg(f.Limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []model.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func (s *Store) GetTask(ctx context.Context, id string) (_ *model.Task, err error) {
	ctx, done := s.track(ctx, "select", "tasks")
	defer func() { done(err) }()

	return scanTask(s.db.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
}

// InsertTask 项目不存在时返回外键错误
func (s *Store) InsertTask(ctx context.Context, t *model.Task) (err error) {
	ctx, done := s.track(ctx, "insert", "tasks")
	defer func() { done(err) }()

	return s.inTx(ctx, func(tx pgx.Tx) ([]*outbox.Event, error) {
		err := tx.QueryRow(ctx, `
			INSERT INTO tasks (id, project_id, title, description, status, assignee, task_order, feature)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING created_at, updated_at
		`,
			t.ID,
			t.ProjectID,
			t.Title,
			t.Description,
			string(t.Status),
			t.Assignee,
			t.TaskOrder,
			t.Feature,
		).Scan(&t.CreatedAt, &t.UpdatedAt)
		if err != nil {
			return nil, err
		}
		event, err := outbox.NewEvent(ctx, "task", t.ID, contractsmq.TaskCreated, contractsmq.TaskCreatedPayload{
			TaskID:    t.ID,
			ProjectID: t.ProjectID,
			Title:     t.Title,
			Status:    string(t.Status),
			Assignee:  t.Assignee,
		})
		if err != nil {
			return nil, err
		}
		return []*outbox.Event{event}, nil
	})
}

func (s *Store) UpdateTask(ctx context.Context, id string, u model.TaskUpdate) (_ *model.Task, err error) {
	ctx, done := s.track(ctx, "update", "tasks")
	defer func() { done(err) }()

	var status *string
	if u.Status != nil {
		st := string(*u.Status)
		status = &st
	}

	var updated *model.Task
	err = s.inTx(ctx, func(tx pgx.Tx) ([]*outbox.Event, error) {
		t, err := scanTask(tx.QueryRow(ctx, `
			UPDATE tasks SET
				title       = COALESCE($2, title),
				description = COALESCE($3, description),
				status      = COALESCE($4, status),
				assignee    = COALESCE($5, assignee),
				task_order  = COALESCE($6, task_order),
				feature     = COALESCE($7, feature),
				updated_at  = NOW()
			WHERE id = $1
			RETURNING `+taskColumns,
			id,
			u.Title,
			u.Description,
			status,
			u.Assignee,
			u.TaskOrder,
			u.Feature,
		))
		if err != nil {
			return nil, err
		}
		updated = t

		event, err := outbox.NewEvent(ctx, "task", id, contractsmq.TaskUpdated, contractsmq.TaskUpdatedPayload{
			TaskID:    id,
			ProjectID: t.ProjectID,
			Status:    string(t.Status),
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

// ArchiveTask 软删除；任务不存在或已归档时返回 pgx.ErrNoRows
func (s *Store) ArchiveTask(ctx context.Context, id string) (err error) {
	ctx, done := s.track(ctx, "update", "tasks")
	defer func() { done(err) }()

	return s.inTx(ctx, func(tx pgx.Tx) ([]*outbox.Event, error) {
		var projectID string
		err := tx.QueryRow(ctx, `
			UPDATE tasks SET archived = TRUE, archived_at = NOW(), updated_at = NOW()
			WHERE id = $1 AND archived = FALSE
			RETURNING project_id::text
		`, id).Scan(&projectID)
		if err != nil {
			return nil, err
		}
		event, err := outbox.NewEvent(ctx, "task", id, contractsmq.TaskArchived, contractsmq.TaskArchivedPayload{
			TaskID:    id,
			ProjectID: projectID,
		})
		if err != nil {
			return nil, err
		}
		return []*outbox.Event{event}, nil
	})
}
