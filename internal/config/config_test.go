package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Fetch.MaxAttempts)
	assert.Equal(t, 1000, cfg.Fetch.MinBodyBytes)
	assert.True(t, cfg.Fetch.BrowserEnabled)
	assert.Equal(t, 60, cfg.Fetch.BrowserWaitSeconds)
	assert.Equal(t, 300, cfg.Retry.BrowserWaitSeconds)
	assert.Equal(t, 10, cfg.Classify.BatchSize)
	assert.Equal(t, 20, cfg.Classify.Workers)
	assert.Equal(t, "artificial intelligence", cfg.Classify.Topic)
	assert.Equal(t, "https://api.openai.com", cfg.OpenAI.BaseURL)
	assert.Equal(t, "papers", cfg.DB.Table)
	assert.Equal(t, "sources.json", cfg.Paths.SourceList)
}

func TestLoad_FileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9090
fetch:
  max_attempts: 5
classify:
  topic: quantum computing
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Fetch.MaxAttempts)
	assert.Equal(t, "quantum computing", cfg.Classify.Topic)
	// Untouched keys keep their defaults.
	assert.Equal(t, 10, cfg.Classify.BatchSize)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("HARVESTER_CLASSIFY_WORKERS", "7")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Classify.Workers)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.Server.Port = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Fetch.MaxAttempts = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Classify.BatchSize = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.OpenAI.Model = ""
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Paths.SourceList = ""
	assert.Error(t, cfg.Validate())

	assert.NoError(t, base().Validate())
}
