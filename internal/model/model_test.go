package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTaskStatus(t *testing.T) {
	for _, s := range []string{"todo", "doing", "review", "done"} {
		st, err := ParseTaskStatus(s)
		require.NoError(t, err)
		assert.Equal(t, TaskStatus(s), st)
	}

	_, err := ParseTaskStatus("in_progress")
	assert.Error(t, err)
	_, err = ParseTaskStatus("")
	assert.Error(t, err)
}

func TestTaskStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to TaskStatus
		want     bool
	}{
		{StatusTodo, StatusTodo, true},
		{StatusTodo, StatusDoing, true},
		{StatusTodo, StatusReview, false},
		{StatusTodo, StatusDone, false},
		{StatusDoing, StatusReview, true},
		{StatusDoing, StatusTodo, true},
		{StatusDoing, StatusDone, false},
		{StatusReview, StatusDone, true},
		{StatusReview, StatusTodo, true},
		{StatusDone, StatusReview, true},
		{StatusDone, StatusTodo, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestProjectUpdate_ApplyKeepsUnsetFields(t *testing.T) {
	p := Project{ID: "p1", Title: "Old", Description: "keep me", Pinned: true}
	title := "New"
	ProjectUpdate{Title: &title}.Apply(&p)

	assert.Equal(t, "p1", p.ID)
	assert.Equal(t, "New", p.Title)
	assert.Equal(t, "keep me", p.Description)
	assert.True(t, p.Pinned)
}

func TestProject_Summary(t *testing.T) {
	p := Project{
		ID:       "p1",
		Title:    "Demo",
		Docs:     []Document{{ID: "d1"}, {ID: "d2"}},
		Features: json.RawMessage(`[{"name":"auth"},{"name":"billing"},{"name":"search"}]`),
		Data:     json.RawMessage(`null`),
	}
	s := p.Summary()
	assert.Equal(t, 2, s.Stats.DocsCount)
	assert.Equal(t, 3, s.Stats.FeaturesCount)
	assert.False(t, s.Stats.HasData)

	p.Data = json.RawMessage(`[{"k":"v"}]`)
	assert.True(t, p.Summary().Stats.HasData)
}
