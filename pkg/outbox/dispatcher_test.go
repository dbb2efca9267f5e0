package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"projecthub/pkg/trace"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memStore struct {
	events  []*Event
	sent    []int64
	failed  []int64
	listErr error
}

func (m *memStore) PendingEvents(_ context.Context, limit int) ([]*Event, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	if len(m.events) > limit {
		return m.events[:limit], nil
	}
	return m.events, nil
}

func (m *memStore) MarkSent(_ context.Context, id int64) error {
	m.sent = append(m.sent, id)
	return nil
}

func (m *memStore) MarkFailed(_ context.Context, id int64, _ int) error {
	m.failed = append(m.failed, id)
	return nil
}

func (m *memStore) RequeueFailed(_ context.Context, _ int) (int, error) {
	return len(m.failed), nil
}

type fakePublisher struct {
	fail     map[string]bool
	traceIDs []string
	keys     []string
}

func (p *fakePublisher) PublishWithContext(ctx context.Context, key string, _ []byte) error {
	if p.fail[key] {
		return errors.New("channel closed")
	}
	p.keys = append(p.keys, key)
	p.traceIDs = append(p.traceIDs, trace.FromContext(ctx))
	return nil
}

func mustEvent(t *testing.T, ctx context.Context, id int64, key string) *Event {
	t.Helper()
	e, err := NewEvent(ctx, "project", "p-1", key, map[string]string{"project_id": "p-1"})
	require.NoError(t, err)
	e.ID = id
	return e
}

func TestProcessPending(t *testing.T) {
	ctx := trace.WithContext(context.Background(), "trace-abc-123")
	store := &memStore{events: []*Event{
		mustEvent(t, ctx, 1, "project.created"),
		mustEvent(t, context.Background(), 2, "task.created"),
		mustEvent(t, ctx, 3, "project.updated"),
	}}
	pub := &fakePublisher{fail: map[string]bool{"task.created": true}}

	d := NewDispatcher(store, pub, zap.NewNop())
	sent := d.ProcessPending(context.Background())

	assert.Equal(t, 2, sent)
	assert.Equal(t, []int64{1, 3}, store.sent)
	assert.Equal(t, []int64{2}, store.failed)
	assert.Equal(t, []string{"project.created", "project.updated"}, pub.keys)
	assert.Equal(t, []string{"trace-abc-123", "trace-abc-123"}, pub.traceIDs)
}

func TestProcessPendingRespectsBatchSize(t *testing.T) {
	store := &memStore{}
	for i := int64(1); i <= 5; i++ {
		store.events = append(store.events, mustEvent(t, context.Background(), i, "project.created"))
	}
	d := NewDispatcher(store, &fakePublisher{}, zap.NewNop()).WithBatchSize(2)

	assert.Equal(t, 2, d.ProcessPending(context.Background()))
}

func TestProcessPendingStoreError(t *testing.T) {
	store := &memStore{listErr: errors.New("db down")}
	d := NewDispatcher(store, &fakePublisher{}, zap.NewNop())
	assert.Zero(t, d.ProcessPending(context.Background()))
}

func TestNextAttempt(t *testing.T) {
	now := time.Unix(1000, 0)

	status, next := NextAttempt(1, 3, now)
	assert.Equal(t, StatusPending, status)
	require.NotNil(t, next)
	assert.Equal(t, now.Add(5*time.Second), *next)

	status, next = NextAttempt(3, 3, now)
	assert.Equal(t, StatusFailed, status)
	assert.Nil(t, next)
}

func TestNewEventEnvelope(t *testing.T) {
	ctx := trace.WithContext(context.Background(), "trace-xyz-999")
	e, err := NewEvent(ctx, "task", "t-1", "task.archived", map[string]string{"task_id": "t-1"})
	require.NoError(t, err)

	assert.Equal(t, "trace-xyz-999", traceIDOf(e.Payload))
	assert.Contains(t, string(e.Payload), `"type":"task.archived"`)
	assert.Contains(t, string(e.Payload), `"data":{"task_id":"t-1"}`)
}
