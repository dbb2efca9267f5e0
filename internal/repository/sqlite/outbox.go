package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"projecthub/pkg/outbox"
)

func (s *Store) insertEvent(ctx context.Context, tx *sql.Tx, e *outbox.Event) error {
	now := s.stamp()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO outbox_events (aggregate_type, aggregate_id, routing_key, payload, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.AggregateType, e.AggregateID, e.RoutingKey, string(e.Payload), outbox.StatusPending, now, now)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	if e.ID, err = res.LastInsertId(); err != nil {
		return err
	}
	e.Status = outbox.StatusPending
	e.CreatedAt, _ = parseTime(now)
	return nil
}

func (s *Store) PendingEvents(ctx context.Context, limit int) ([]*outbox.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, aggregate_type, aggregate_id, routing_key, payload, status,
		       retry_count, next_retry_at, created_at
		FROM outbox_events
		WHERE status = 'pending'
		AND (next_retry_at IS NULL OR next_retry_at <= ?)
		ORDER BY id ASC
		LIMIT ?
	`, s.stamp(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending events: %w", err)
	}
	defer rows.Close()

	var events []*outbox.Event
	for rows.Next() {
		var (
			e         outbox.Event
			payload   string
			nextRetry sql.NullString
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.RoutingKey, &payload,
			&e.Status, &e.RetryCount, &nextRetry, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Payload = []byte(payload)
		if e.NextRetryAt, err = parseNullTime(nextRetry); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

func (s *Store) MarkSent(ctx context.Context, eventID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE outbox_events SET status = 'sent', updated_at = ? WHERE id = ?`, s.stamp(), eventID)
	if err != nil {
		return fmt.Errorf("failed to mark event as sent: %w", err)
	}
	return nil
}

func (s *Store) MarkFailed(ctx context.Context, eventID int64, maxRetries int) error {
	var retryCount int
	if err := s.db.QueryRowContext(ctx, `SELECT retry_count FROM outbox_events WHERE id = ?`, eventID).Scan(&retryCount); err != nil {
		return fmt.Errorf("failed to get retry count: %w", err)
	}
	retryCount++
	status, next := outbox.NextAttempt(retryCount, maxRetries, s.now())

	var nextRetry any
	if next != nil {
		nextRetry = next.UTC().Format(timeLayout)
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox_events SET status = ?, retry_count = ?, next_retry_at = ?, updated_at = ? WHERE id = ?
	`, status, retryCount, nextRetry, s.stamp(), eventID)
	if err != nil {
		return fmt.Errorf("failed to mark event as failed: %w", err)
	}
	return nil
}

func (s *Store) RequeueFailed(ctx context.Context, limit int) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE outbox_events
		SET status = 'pending', retry_count = 0, next_retry_at = NULL, updated_at = ?
		WHERE id IN (SELECT id FROM outbox_events WHERE status = 'failed' ORDER BY id LIMIT ?)
	`, s.stamp(), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue events: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}
