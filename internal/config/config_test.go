package config

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
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9090"
llm:
  model: test-model
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "test-model", cfg.LLM.Model)
	assert.Equal(t, 2, cfg.Ingestion.Workers)
	assert.Equal(t, 1000, cfg.Ingestion.Chunk.MaxLength)
	assert.Equal(t, 100, cfg.Ingestion.Chunk.Overlap)
	assert.Equal(t, "en", cfg.Ingestion.DefaultLanguage)
	assert.Equal(t, []string{".pdf"}, cfg.Ingestion.AllowedExtensions)
	assert.Equal(t, "00000000-0000-0000-0000-000000000001", cfg.Ingestion.DemoOwnerID)
	assert.Equal(t, 30*time.Second, cfg.Embedding.Timeout)
	assert.Equal(t, 168*time.Hour, cfg.Chat.HistoryTTL)
	assert.Equal(t, "<<REF>>", cfg.LLM.Prompt.RefStart)
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, "llm:\n  api_key: from-file\n")
	t.Setenv("DUOREAD_LLM_API_KEY", "from-env")
	t.Setenv("DUOREAD_INGESTION_WORKERS", "4")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.LLM.APIKey)
	assert.Equal(t, 4, cfg.Ingestion.Workers)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
