package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("API_KEY", "sk-test")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "uploads/law.pdf", cfg.Document.Path)
	assert.Equal(t, 5, cfg.Extract.TimeoutSecs)
	assert.Equal(t, 20, cfg.Extract.OCRThreshold)
	assert.True(t, cfg.Extract.OCR.Enabled)
	assert.Equal(t, 500, cfg.RAG.ChunkSize)
	assert.Equal(t, 10, cfg.RAG.BatchSize)
	assert.Equal(t, 10, cfg.RAG.MaxCandidates)
	assert.Equal(t, 200, cfg.RAG.PreviewLen)
	assert.False(t, cfg.RAG.EnforceThreshold)
	assert.Equal(t, "text-embedding-3-large", cfg.EmbedLLM.Model)
	assert.Equal(t, "gpt-4", cfg.InferenceLLM.Model)
	assert.InDelta(t, 0.2, cfg.InferenceLLM.Temperature, 1e-9)
	assert.Equal(t, 1200, cfg.InferenceLLM.MaxTokens)
	assert.Equal(t, "sk-test", cfg.EmbedLLM.Key)
	assert.Equal(t, "sk-test", cfg.InferenceLLM.Key)
	assert.Equal(t, CacheNone, cfg.Cache.Driver)
	assert.Equal(t, FormatText, cfg.Report.Format)
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
document:
  path: docs/ustawa.pdf
extract:
  ocr:
    enabled: false
    language: eng
rag:
  chunk_size: 300
  enforce_threshold: true
embed_llm:
  provider: ollama
  model: nomic-embed-text
inference_llm:
  provider: goopenai
  key: "Bearer sk-file"
report:
  format: html
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "docs/ustawa.pdf", cfg.Document.Path)
	assert.False(t, cfg.Extract.OCR.Enabled)
	assert.Equal(t, "eng", cfg.Extract.OCR.Language)
	assert.Equal(t, 300, cfg.Extract.OCR.DPI)
	assert.Equal(t, 300, cfg.RAG.ChunkSize)
	assert.True(t, cfg.RAG.EnforceThreshold)
	assert.Equal(t, ProviderOllama, cfg.EmbedLLM.Provider)
	assert.Equal(t, "http://localhost:11434", cfg.EmbedLLM.BaseURL)
	assert.Equal(t, "sk-file", cfg.InferenceLLM.Key)
	assert.Equal(t, FormatHTML, cfg.Report.Format)
}

func TestLoadConfig_ZeroTemperature(t *testing.T) {
	path := writeConfig(t, `
inference_llm:
  temperature: 0
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Zero(t, cfg.InferenceLLM.Temperature)
	assert.Equal(t, "gpt-4", cfg.InferenceLLM.Model)
}

func TestLoadConfig_DocumentEnvOverride(t *testing.T) {
	t.Setenv("PDF_QA_DOCUMENT", "/tmp/inny.pdf")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/inny.pdf", cfg.Document.Path)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown provider", "embed_llm:\n  provider: cohere\n"},
		{"unknown cache", "cache:\n  driver: memcached\n"},
		{"postgres without dsn", "cache:\n  driver: postgres\n"},
		{"unknown format", "report:\n  format: pdf\n"},
		{"negative chunk size", "rag:\n  chunk_size: -1\n"},
		{"broken yaml", "rag: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}
