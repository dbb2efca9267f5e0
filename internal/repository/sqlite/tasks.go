package sqlite

import (
	"context"
	"database/sql"
	"strings"

	contractsmq "projecthub/contracts/mq"
	"projecthub/internal/model"
	"projecthub/pkg/outbox"
)

const taskColumns = `id, project_id, title, description, status, assignee, task_order, feature,
	archived, archived_at, created_at, updated_at`

func scanTask(row rowScanner) (*model.Task, error) {
	var (
		t                    model.Task
		status               string
		archived             int
		archivedAt           sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &status, &t.Assignee,
		&t.TaskOrder, &t.Feature, &archived, &archivedAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	t.Status = model.TaskStatus(status)
	t.Archived = archived != 0

	var err error
	if t.ArchivedAt, err = parseNullTime(archivedAt); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) ListTasks(ctx context.Context, f model.TaskFilter) (_ []model.Task, err error) {
	ctx, done := s.track(ctx, "select", "tasks")
	defer func() { done(err) }()

	var (
		where []string
		args  []any
	)
	if f.ProjectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	} else if !f.IncludeClosed {
		where = append(where, "status <> 'done'")
	}
	if !f.IncludeArchived {
		where = append(where, "archived = 0")
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY task_order ASC, created_at ASC, rowid ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
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

	return scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
}

func (s *Store) InsertTask(ctx context.Context, t *model.Task) (err error) {
	ctx, done := s.track(ctx, "insert", "tasks")
	defer func() { done(err) }()

	now := s.stamp()
	err = s.inTx(ctx, func(tx *sql.Tx) ([]*outbox.Event, error) {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (id, project_id, title, description, status, assignee, task_order, feature, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, t.ID, t.ProjectID, t.Title, t.Description, string(t.Status), t.Assignee, t.TaskOrder, t.Feature, now, now)
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
	if err != nil {
		return err
	}
	t.CreatedAt, _ = parseTime(now)
	t.UpdatedAt = t.CreatedAt
	return nil
}

func (s *Store) UpdateTask(ctx context.Context, id string, u model.TaskUpdate) (_ *model.Task, err error) {
	ctx, done := s.track(ctx, "update", "tasks")
	defer func() { done(err) }()

	var updated *model.Task
	err = s.inTx(ctx, func(tx *sql.Tx) ([]*outbox.Event, error) {
		t, err := scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
		if err != nil {
			return nil, err
		}
		u.Apply(t)
		now := s.stamp()
		_, err = tx.ExecContext(ctx, `
			UPDATE tasks
			SET title = ?, description = ?, status = ?, assignee = ?, task_order = ?, feature = ?, updated_at = ?
			WHERE id = ?
		`, t.Title, t.Description, string(t.Status), t.Assignee, t.TaskOrder, t.Feature, now, id)
		if err != nil {
			return nil, err
		}
		t.UpdatedAt, _ = parseTime(now)
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

func (s *Store) ArchiveTask(ctx context.Context, id string) (err error) {
	ctx, done := s.track(ctx, "update", "tasks")
	defer func() { done(err) }()

	return s.inTx(ctx, func(tx *sql.Tx) ([]*outbox.Event, error) {
		var projectID string
		if err := tx.QueryRowContext(ctx, `SELECT project_id FROM tasks WHERE id = ? AND archived = 0`, id).Scan(&projectID); err != nil {
			return nil, err
		}
		now := s.stamp()
		if _, err := tx.ExecContext(ctx, `UPDATE tasks SET archived = 1, archived_at = ?, updated_at = ? WHERE id = ?`, now, now, id); err != nil {
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
