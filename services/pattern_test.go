package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatewarden/warden_api/model"
)

func TestParsePattern(t *testing.T) {
	tests := []struct {
		raw        string
		isWildcard bool
		prefix     string
	}{
		{"*", true, ""},
		{"/api/v1/users*", true, "/api/v1/users"},
		{"/api/v1/users/profile", false, "/api/v1/users/profile"},
	}

	for _, tt := range tests {
		p := parsePattern(tt.raw)
		assert.Equal(t, tt.isWildcard, p.isWildcard, tt.raw)
		assert.Equal(t, tt.prefix, p.prefix, tt.raw)
	}
}

func TestPatternMatches(t *testing.T) {
	assert.True(t, parsePattern("*").Matches("/anything"))
	assert.True(t, parsePattern("/api/v1/users*").Matches("/api/v1/users/42"))
	assert.True(t, parsePattern("/api/v1/users*").Matches("/api/v1/users"))
	assert.False(t, parsePattern("/api/v1/users*").Matches("/api/v1/user"))
	assert.True(t, parsePattern("/api/v1/login").Matches("/api/v1/login"))
	assert.False(t, parsePattern("/api/v1/login").Matches("/api/v1/login/extra"))
}

func TestMostSpecificConfig(t *testing.T) {
	configs := []model.RateLimitConfig{
		{Endpoint: "*", MaxRequests: 100},
		{Endpoint: "/api/v1/users*", MaxRequests: 20},
		{Endpoint: "/api/v1/users/profile", MaxRequests: 5},
	}

	t.Run("exact beats wildcard", func(t *testing.T) {
		cfg := mostSpecificConfig(configs, "/api/v1/users/profile")
		require.NotNil(t, cfg)
		assert.Equal(t, 5, cfg.MaxRequests)
	})

	t.Run("longer prefix beats shorter", func(t *testing.T) {
		cfg := mostSpecificConfig(configs, "/api/v1/users/42")
		require.NotNil(t, cfg)
		assert.Equal(t, 20, cfg.MaxRequests)
	})

	t.Run("global wildcard is the fallback", func(t *testing.T) {
		cfg := mostSpecificConfig(configs, "/api/v1/content")
		require.NotNil(t, cfg)
		assert.Equal(t, 100, cfg.MaxRequests)
	})

	t.Run("no match without wildcard", func(t *testing.T) {
		assert.Nil(t, mostSpecificConfig(configs[1:], "/api/v1/content"))
	})
}

func TestMatchesAnyPattern(t *testing.T) {
	patterns := []string{"/api/v1/login*", "/api/v1/users*", "/api/v1/admin*"}

	pattern, ok := matchesAnyPattern(patterns, "/api/v1/login")
	assert.True(t, ok)
	assert.Equal(t, "/api/v1/login*", pattern)

	pattern, ok = matchesAnyPattern(patterns, "/api/v1/users/42/sessions")
	assert.True(t, ok)
	assert.Equal(t, "/api/v1/users*", pattern)

	_, ok = matchesAnyPattern(patterns, "/api/v1/content")
	assert.False(t, ok)
}
