package util

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type memKV struct {
	data map[string]string
	err  error
}

func newMemKV() *memKV { return &memKV{data: map[string]string{}} }

func (m *memKV) SetNX(_ context.Context, key, value string, _ time.Duration) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = value
	return true, nil
}

func (m *memKV) Get(_ context.Context, key string) (string, bool, error) {
	if m.err != nil {
		return "", false, m.err
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memKV) Set(_ context.Context, key, value string, _ time.Duration) error {
	if m.err != nil {
		return m.err
	}
	m.data[key] = value
	return nil
}

func (m *memKV) Del(_ context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func TestIdempotencyLifecycle(t *testing.T) {
	ctx := context.Background()
	idem := newIdempotency(newMemKV(), time.Minute, nil)

	state, _ := idem.Reserve(ctx, "create_project", "k1")
	assert.Equal(t, IdempotencyNew, state)

	state, _ = idem.Reserve(ctx, "create_project", "k1")
	assert.Equal(t, IdempotencyInFlight, state)

	idem.Complete(ctx, "create_project", "k1", "project-42")
	state, id := idem.Reserve(ctx, "create_project", "k1")
	assert.Equal(t, IdempotencyDone, state)
	assert.Equal(t, "project-42", id)

	state, _ = idem.Reserve(ctx, "other_scope", "k1")
	assert.Equal(t, IdempotencyNew, state, "keys are scoped")
}

func TestIdempotencyRelease(t *testing.T) {
	ctx := context.Background()
	idem := newIdempotency(newMemKV(), time.Minute, nil)

	idem.Reserve(ctx, "s", "k")
	idem.Release(ctx, "s", "k")
	state, _ := idem.Reserve(ctx, "s", "k")
	assert.Equal(t, IdempotencyNew, state)
}

func TestIdempotencyFailsOpen(t *testing.T) {
	store := newMemKV()
	store.err = errors.New("connection refused")
	idem := newIdempotency(store, time.Minute, nil)

	state, _ := idem.Reserve(context.Background(), "s", "k")
	assert.Equal(t, IdempotencyUnavailable, state)

	var disabled *Idempotency
	state, _ = disabled.Reserve(context.Background(), "s", "k")
	assert.Equal(t, IdempotencyUnavailable, state)
	disabled.Complete(context.Background(), "s", "k", "id")
	disabled.Release(context.Background(), "s", "k")
}

func TestValidIdempotencyKey(t *testing.T) {
	assert.True(t, ValidIdempotencyKey("3f1c9a4e-create"))
	assert.False(t, ValidIdempotencyKey(""))
	assert.False(t, ValidIdempotencyKey("has space"))
	assert.False(t, ValidIdempotencyKey(string(make([]byte, 201))))
}
