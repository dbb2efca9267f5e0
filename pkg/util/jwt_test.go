package util

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	token, err := GenerateJWT("ops-bot", "secret", time.Minute)
	require.NoError(t, err)

	sub, err := ParseJWT(token, "secret")
	require.NoError(t, err)
	assert.Equal(t, "ops-bot", sub)
}

func TestParseJWTRejects(t *testing.T) {
	expired, err := GenerateJWT("ops-bot", "secret", -time.Minute)
	require.NoError(t, err)
	other, err := GenerateJWT("ops-bot", "other-secret", time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "expired", token: expired},
		{name: "wrong secret", token: other},
		{name: "garbage", token: "not.a.jwt"},
		{name: "alg none", token: "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0.eyJzdWIiOiJ4In0."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseJWT(tt.token, "secret")
			assert.Error(t, err)
		})
	}
}

func TestExtractToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{header: "Bearer abc", want: "abc"},
		{header: "bearer abc", want: "abc"},
		{header: "Basic abc", want: ""},
		{header: "Bearer", want: ""},
		{header: "", want: ""},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set("Authorization", tt.header)
		assert.Equal(t, tt.want, ExtractToken(r), tt.header)
	}
}
