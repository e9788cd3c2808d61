package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "querydemo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("Defaults without a file", func(t *testing.T) {
		cfg, err := LoadConfig("")
		require.NoError(t, err)

		assert.Equal(t, ":8080", cfg.HTTPPort)
		assert.Equal(t, 60*time.Second, cfg.Cache.DefaultStaleTime)
		assert.Equal(t, 60*time.Second, cfg.Cache.DefaultGCTime)
		require.Len(t, cfg.Queries, 2)
		assert.Equal(t, "users", cfg.Queries[0].Key)
	})

	t.Run("File overrides defaults", func(t *testing.T) {
		// Arrange
		path := writeConfig(t, `
log_level: debug
http_port: ":9090"
project_id: demo-project
cache:
  default_stale_time: 5s
  clockless: true
dedupe: true
http_source:
  base_url: http://localhost:3000
queries:
  - key: todos
    path: /todos
    stale_time: 30s
    retry_interval: 1m
    refetch_on_focus: true
pubsub:
  topic_id: fetch-events
`)

		// Act
		cfg, err := LoadConfig(path)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, ":9090", cfg.HTTPPort)
		assert.Equal(t, "demo-project", cfg.ProjectID)
		assert.Equal(t, 5*time.Second, cfg.Cache.DefaultStaleTime)
		assert.Equal(t, 60*time.Second, cfg.Cache.DefaultGCTime, "unset fields keep their defaults")
		assert.True(t, cfg.Cache.Clockless)
		assert.True(t, cfg.Dedupe)
		assert.Equal(t, "http://localhost:3000", cfg.HTTP.BaseURL)
		assert.Equal(t, "fetch-events", cfg.Pubsub.TopicID)
		require.Len(t, cfg.Queries, 1)
		assert.Equal(t, QueryConfig{
			Key:            "todos",
			Path:           "/todos",
			StaleTime:      30 * time.Second,
			RetryInterval:  time.Minute,
			RefetchOnFocus: true,
		}, cfg.Queries[0])
	})

	t.Run("Environment overrides file", func(t *testing.T) {
		path := writeConfig(t, "http_port: \":9090\"\n")
		t.Setenv("QUERYDEMO_HTTP_PORT", ":7070")
		t.Setenv("QUERYDEMO_BASE_URL", "http://upstream")
		t.Setenv("QUERYDEMO_CLOCKLESS", "true")
		t.Setenv("QUERYDEMO_DEFAULT_STALE_TIME", "90s")

		cfg, err := LoadConfig(path)

		require.NoError(t, err)
		assert.Equal(t, ":7070", cfg.HTTPPort)
		assert.Equal(t, "http://upstream", cfg.HTTP.BaseURL)
		assert.True(t, cfg.Cache.Clockless)
		assert.Equal(t, 90*time.Second, cfg.Cache.DefaultStaleTime)
	})

	t.Run("Invalid environment value", func(t *testing.T) {
		t.Setenv("QUERYDEMO_CLOCKLESS", "sometimes")

		_, err := LoadConfig("")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "QUERYDEMO_CLOCKLESS")
	})

	t.Run("Missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read config file")
	})

	t.Run("Malformed file", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "queries: [unclosed"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse config file")
	})
}

func TestConfig_Validate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "Defaults are valid", mutate: func(*Config) {}},
		{
			name:    "Empty port",
			mutate:  func(c *Config) { c.HTTPPort = "" },
			wantErr: "http port cannot be empty",
		},
		{
			name:    "Empty query key",
			mutate:  func(c *Config) { c.Queries = append(c.Queries, QueryConfig{Path: "/x"}) },
			wantErr: "key cannot be empty",
		},
		{
			name:    "Duplicate query key",
			mutate:  func(c *Config) { c.Queries = append(c.Queries, QueryConfig{Key: "users"}) },
			wantErr: `query "users" is defined twice`,
		},
		{
			name:    "Firestore without project",
			mutate:  func(c *Config) { c.Firestore.CollectionName = "profiles" },
			wantErr: "needs a project id",
		},
		{
			name:    "Pubsub without project",
			mutate:  func(c *Config) { c.Pubsub.TopicID = "fetch-events" },
			wantErr: "needs a project id",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)

			err := cfg.Validate()

			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestQueryConfig_Definition(t *testing.T) {
	q := QueryConfig{Key: "posts", StaleTime: time.Minute, GCTime: 2 * time.Minute, RefetchOnFocus: true}

	def := q.Definition(nil)

	assert.Equal(t, "posts", def.Key)
	assert.Equal(t, time.Minute, def.StaleTime)
	assert.Equal(t, 2*time.Minute, def.GCTime)
	assert.True(t, def.RefetchOnFocus)
	assert.Zero(t, def.RetryInterval)
}
