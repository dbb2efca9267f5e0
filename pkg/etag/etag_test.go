package etag

import (
	"fmt"
	"net/http"
	"testing"

	"projecthub/pkg/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompute_Deterministic(t *testing.T) {
	payload := map[string]any{
		"projects": []any{map[string]any{"id": "p1", "title": "Demo"}},
		"count":    1,
	}

	first, err := Compute(payload)
	require.NoError(t, err)
	second, err := Compute(payload)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.True(t, Valid(first.String()), "token %s should be well formed", first)
}

func TestCompute_KeyOrderIndependent(t *testing.T) {
	a := map[string]any{}
	a["title"] = "Demo"
	a["pinned"] = true
	a["features"] = []any{"auth", "billing"}

	b := map[string]any{}
	b["features"] = []any{"auth", "billing"}
	b["pinned"] = true
	b["title"] = "Demo"

	assert.Equal(t, MustCompute(a), MustCompute(b))
}

func TestCompute_StructAndMapAgree(t *testing.T) {
	type item struct {
		Title string `json:"title"`
		ID    string `json:"id"`
	}
	fromStruct := MustCompute(item{Title: "Demo", ID: "p1"})
	fromMap := MustCompute(map[string]any{"id": "p1", "title": "Demo"})
	assert.Equal(t, fromStruct, fromMap)
}

func TestCompute_VolatileFieldsExcluded(t *testing.T) {
	p1 := map[string]any{"projects": []any{}, "count": 0, "timestamp": "2026-01-01T00:00:00Z"}
	p2 := map[string]any{"projects": []any{}, "count": 0, "timestamp": "2026-10-19T12:34:56Z"}

	assert.Equal(t, MustCompute(p1, "timestamp"), MustCompute(p2, "timestamp"))
	assert.NotEqual(t, MustCompute(p1), MustCompute(p2), "timestamp must count when not declared volatile")
}

func TestCompute_SequenceOrderMatters(t *testing.T) {
	a := map[string]any{"tasks": []any{"t1", "t2"}}
	b := map[string]any{"tasks": []any{"t2", "t1"}}
	assert.NotEqual(t, MustCompute(a), MustCompute(b))
}

func TestCompute_EmptyCollection(t *testing.T) {
	token, err := Compute(map[string]any{"projects": []any{}, "count": 0})
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, token, MustCompute(map[string]any{"count": 0, "projects": []any{}}))
}

func TestCompute_NoCollisionsInCorpus(t *testing.T) {
	seen := make(map[Token]int)
	for i := 0; i < 2000; i++ {
		payload := map[string]any{
			"projects": []any{map[string]any{"id": fmt.Sprintf("p%d", i), "pinned": i%2 == 0}},
			"count":    1,
		}
		token := MustCompute(payload)
		prev, dup := seen[token]
		require.False(t, dup, "payload %d collided with payload %d", i, prev)
		seen[token] = i
	}
}

func TestCompute_NumbersKeepPrecision(t *testing.T) {
	a := map[string]any{"order": int64(9007199254740993)}
	b := map[string]any{"order": int64(9007199254740992)}
	assert.NotEqual(t, MustCompute(a), MustCompute(b))
}

func TestCompute_NotSerializable(t *testing.T) {
	_, err := Compute(map[string]any{"ch": make(chan int)})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeInternal))
}

func TestNegotiate(t *testing.T) {
	current := MustCompute(map[string]any{"count": 1})
	other := MustCompute(map[string]any{"count": 2})

	tests := []struct {
		name   string
		header string
		want   Outcome
	}{
		{name: "no header", header: "", want: Full},
		{name: "exact match", header: current.String(), want: NotModified},
		{name: "match with whitespace", header: "  " + current.String() + " ", want: NotModified},
		{name: "match in list", header: other.String() + ", " + current.String(), want: NotModified},
		{name: "stale token", header: other.String(), want: Full},
		{name: "unquoted token", header: current.String()[1 : len(current)-1], want: Full},
		{name: "weak validator", header: "W/" + current.String(), want: Full},
		{name: "wildcard", header: "*", want: Full},
		{name: "garbage", header: `"not-a-fingerprint"`, want: Full},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Negotiate(tt.header, current)
			assert.Equal(t, tt.want, d.Outcome)
			assert.Equal(t, current, d.Token)
			assert.Equal(t, CacheControl, d.CacheControl)
		})
	}
}

func TestDecision_Apply(t *testing.T) {
	current := MustCompute([]any{})

	t.Run("full response", func(t *testing.T) {
		h := http.Header{}
		d := Negotiate("", current)
		d.Apply(h)
		assert.Equal(t, http.StatusOK, d.Status())
		assert.Equal(t, current.String(), h.Get("ETag"))
		assert.Equal(t, "no-cache, must-revalidate", h.Get("Cache-Control"))
		assert.NotEmpty(t, h.Get("Last-Modified"))
	})

	t.Run("not modified", func(t *testing.T) {
		h := http.Header{}
		d := Negotiate(current.String(), current)
		d.Apply(h)
		assert.Equal(t, http.StatusNotModified, d.Status())
		assert.Equal(t, current.String(), h.Get("ETag"))
		assert.Equal(t, "no-cache, must-revalidate", h.Get("Cache-Control"))
		assert.Empty(t, h.Get("Last-Modified"))
	})
}
