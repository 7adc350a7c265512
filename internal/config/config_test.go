package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("RAGD_CONFIG", path)
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("QDRANT_HOST", "qdrant.internal")
	writeConfig(t, `
http:
  port: 9090
qdrant:
  host: ${QDRANT_HOST}
  port: 6334
embedding:
  model: text-embedding-3-small
  dimension: 1536
chat:
  model: gpt-4o-mini
`)

	cfg, err := Load("test")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, "qdrant.internal", cfg.Qdrant.Host, "env vars expand")
	assert.Equal(t, 1536, cfg.Embedding.Dimension)
	assert.Equal(t, "gpt-4o-mini", cfg.Chat.Model)

	// Defaults fill unset fields.
	assert.Equal(t, 10, cfg.HTTP.ShutdownSec)
	assert.NotEmpty(t, cfg.History.Path)
}

func TestLoad_Defaults(t *testing.T) {
	writeConfig(t, `{}`)

	cfg, err := Load("test")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, "localhost", cfg.Qdrant.Host)
	assert.Equal(t, 6334, cfg.Qdrant.Port)
}

func TestLoad_RejectsBadOverlap(t *testing.T) {
	writeConfig(t, `
ingest:
  chunk_size: 100
  overlap: 100
`)

	_, err := Load("test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overlap")
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("RAGD_CONFIG", filepath.Join(t.TempDir(), "nope.yaml"))

	_, err := Load("test")
	assert.Error(t, err)
}

func TestGetEnv(t *testing.T) {
	t.Setenv("ENV", "")
	assert.Equal(t, "local", GetEnv())

	t.Setenv("ENV", "prod")
	assert.Equal(t, "prod", GetEnv())
}
