package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/adaptd/internal/pipeline"
)

func TestDefaults(t *testing.T) {
	cfg := New()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 9464, cfg.Server.HTTPPort)
	assert.Equal(t, 20, cfg.Retrieval.Limit)
	assert.Len(t, cfg.Pipelines, 3, "default, fast, deep")
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestLoadBytes(t *testing.T) {
	cfg, err := LoadBytes([]byte(`
server:
  http_port: 8088
auth:
  api_keys:
    key-1: u1
experiment:
  id: exp-rollout
retrieval:
  limit: 5
pipelines:
  - name: custom
    total_timeout: 750ms
    fallback_strategy: skip_adaptation
    stages:
      - name: memory_retrieval
        required: false
        timeout: 200ms
      - name: adaptation
        required: true
        timeout: 400ms
templates:
  - id: p1
    content: base content
    fallback_content: fallback content
`))
	require.NoError(t, err)

	assert.Equal(t, 8088, cfg.Server.HTTPPort)
	assert.Equal(t, "u1", cfg.Auth.APIKeys["key-1"])
	assert.Equal(t, "exp-rollout", cfg.Experiment.ID)
	assert.Equal(t, 5, cfg.Retrieval.Limit)

	require.Len(t, cfg.Pipelines, 1)
	p := cfg.Pipelines[0]
	assert.Equal(t, "custom", p.Name)
	assert.Equal(t, 750*time.Millisecond, p.TotalTimeout)
	assert.Equal(t, pipeline.FallbackSkipAdaptation, p.Fallback)
	require.Len(t, p.Stages, 2)
	assert.Equal(t, 200*time.Millisecond, p.Stages[0].Timeout)
	assert.True(t, p.Stages[1].Required)

	require.Len(t, cfg.Templates, 1)
	assert.Equal(t, "p1", cfg.Templates[0].ID)
	assert.Equal(t, "fallback content", cfg.Templates[0].FallbackContent)

	// Unset sections fall back to defaults.
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.NotNil(t, cfg.Orchestration)
}

func TestLoadBytesRejectsInvalid(t *testing.T) {
	_, err := LoadBytes([]byte("server:\n  http_port: -1\n"))
	assert.Error(t, err)

	_, err = LoadBytes([]byte(`
pipelines:
  - name: ""
    total_timeout: 1s
`))
	assert.Error(t, err)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 9464, cfg.Server.HTTPPort)
}

func TestLoadFileWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  http_port: 8088\n"), 0600))

	t.Setenv("SERVER_HTTP_PORT", "9999")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.HTTPPort, "environment overrides the file")
}
