package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("CODESCOUT_CONFIG", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":7878", cfg.Server.Addr)
	assert.Equal(t, "gpt-4-0613", cfg.OpenAI.Model)
	assert.Equal(t, cfg.OpenAI.Model, cfg.OpenAI.AnswerModel)
	assert.Equal(t, 384, cfg.Embeddings.Dimensions)
	assert.Equal(t, 1, cfg.Embeddings.Workers)
	assert.Equal(t, 10, cfg.Agent.MaxSteps)
	assert.Equal(t, 8, cfg.Agent.FanOut)
	assert.Equal(t, "codescout", cfg.Obs.ServiceName)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_MODEL", "gpt-4-turbo")
	t.Setenv("EMBED_WORKERS", "4")
	t.Setenv("AGENT_MAX_STEPS", "20")
	t.Setenv("OPENAI_TEMPERATURE", "0.7")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "gpt-4-turbo", cfg.OpenAI.Model)
	assert.Equal(t, 4, cfg.Embeddings.Workers)
	assert.Equal(t, 20, cfg.Agent.MaxSteps)
	assert.InDelta(t, 0.7, cfg.OpenAI.Temperature, 1e-9)
}

func TestLoad_MissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := Load()
	require.Error(t, err)
}

func TestLoad_YAMLOverlayEnvWins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9999"
openai:
  model: from-yaml
redis:
  addr: "redis:6379"
`), 0o644))

	t.Setenv("CODESCOUT_CONFIG", path)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_MODEL", "from-env")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "from-env", cfg.OpenAI.Model, "env must win over yaml")
}
