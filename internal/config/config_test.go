package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"topicseg/internal/domain"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "tfidf", cfg.Embedder.Type)
	assert.Equal(t, "embedding", cfg.Segmenter.Policy)
	assert.Equal(t, 0.3, cfg.Segmenter.Threshold)
	require.NotNil(t, cfg.Segmenter.MaxSentences)
	assert.Equal(t, 5, *cfg.Segmenter.MaxSentences)
	assert.Contains(t, cfg.Segmenter.Markers, "however")
	assert.Equal(t, 1, cfg.Stream.Lookahead)
	assert.Equal(t, "skip", cfg.Stream.OnModelError)
	assert.Equal(t, "---", cfg.Stream.Separator)
	assert.Equal(t, "none", cfg.Trace.Exporter)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_YAML(t *testing.T) {
	p := writeFile(t, "c.yaml", `
embedder:
  type: openai
  openai:
    model: custom-embed
segmenter:
  policy: heuristic
  max_sentences: 8
  markers: [anyway]
stream:
  lookahead: 4
  on_model_error: abort
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.Embedder.Type)
	require.NotNil(t, cfg.Embedder.OpenAI)
	assert.Equal(t, "custom-embed", cfg.Embedder.OpenAI.Model)
	assert.Equal(t, "OPENAI_API_KEY", cfg.Embedder.OpenAI.APIKeyEnv)
	assert.Equal(t, "heuristic", cfg.Segmenter.Policy)
	assert.Equal(t, 8, cfg.Segmenter.HeuristicConfig().MaxSentences)
	assert.Equal(t, []string{"anyway"}, cfg.Segmenter.Markers)
	assert.Equal(t, 4, cfg.Stream.Lookahead)
	assert.Equal(t, "abort", cfg.Stream.OnModelError)
}

func TestLoad_TOML(t *testing.T) {
	p := writeFile(t, "c.toml", `
[embedder]
type = "ollama"

[segmenter]
threshold = 0.55

[output]
format = "jsonl"
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "ollama", cfg.Embedder.Type)
	require.NotNil(t, cfg.Embedder.Ollama)
	assert.Equal(t, "nomic-embed-text", cfg.Embedder.Ollama.Model)
	assert.Equal(t, 0.55, cfg.Segmenter.Threshold)
	assert.Equal(t, "jsonl", cfg.Output.Format)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := map[string]string{
		"threshold":  "segmenter:\n  threshold: 1.5\n",
		"policy":     "segmenter:\n  policy: magic\n",
		"embedder":   "embedder:\n  type: bert\n",
		"lookahead":  "stream:\n  lookahead: -1\n",
		"modelerror": "stream:\n  on_model_error: retry\n",
		"sqlite":     "output:\n  format: sqlite\n",
		"exporter":   "trace:\n  exporter: jaeger\n",
		"ratio":      "segmenter:\n  policy: heuristic\n  length_ratio: 0.5\n",
		"ratio1":     "segmenter:\n  policy: heuristic\n  length_ratio: 1\n",
		"cap":        "segmenter:\n  policy: heuristic\n  max_sentences: -1\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, "c.yaml", body))
			assert.ErrorIs(t, err, domain.ErrInvalidConfig)
		})
	}
}

func TestLoad_Malformed(t *testing.T) {
	_, err := Load(writeFile(t, "c.yaml", "segmenter: [unclosed"))
	assert.Error(t, err)
}

func TestSave_RoundTrip(t *testing.T) {
	for _, name := range []string{"out.yaml", "out.toml"} {
		t.Run(name, func(t *testing.T) {
			p := filepath.Join(t.TempDir(), "nested", name)
			cfg := Default()
			cfg.Segmenter.Threshold = 0.42
			cfg.Segmenter.SectionPattern = `^Results`
			require.NoError(t, Save(p, cfg))

			got, err := Load(p)
			require.NoError(t, err)
			assert.Equal(t, cfg, got)
		})
	}
}

func TestLoad_ZeroDisablesHeuristicTriggers(t *testing.T) {
	for _, name := range []string{"c.yaml", "c.toml"} {
		t.Run(name, func(t *testing.T) {
			body := "segmenter:\n  policy: heuristic\n  max_sentences: 0\n  min_members: 0\n  length_ratio: 0\n"
			if name == "c.toml" {
				body = "[segmenter]\npolicy = \"heuristic\"\nmax_sentences = 0\nmin_members = 0\nlength_ratio = 0.0\n"
			}
			cfg, err := Load(writeFile(t, name, body))
			require.NoError(t, err)
			h := cfg.Segmenter.HeuristicConfig()
			assert.Equal(t, 0, h.MaxSentences)
			assert.Equal(t, 0, h.MinMembers)
			assert.Equal(t, 0.0, h.LengthRatio)

			p := filepath.Join(t.TempDir(), "again."+filepath.Ext(name)[1:])
			require.NoError(t, Save(p, cfg))
			again, err := Load(p)
			require.NoError(t, err)
			assert.Equal(t, cfg, again)
		})
	}
}

func TestLoad_OmittedHeuristicLimitsUseDefaults(t *testing.T) {
	cfg, err := Load(writeFile(t, "c.yaml", "segmenter:\n  policy: heuristic\n"))
	require.NoError(t, err)
	h := cfg.Segmenter.HeuristicConfig()
	assert.Equal(t, 5, h.MaxSentences)
	assert.Equal(t, 2, h.MinMembers)
	assert.Equal(t, 2.0, h.LengthRatio)
}

func TestSave_KeepsSeparator(t *testing.T) {
	for _, name := range []string{"sep.yaml", "sep.toml"} {
		t.Run(name, func(t *testing.T) {
			p := filepath.Join(t.TempDir(), name)
			require.NoError(t, Save(p, Default()))
			got, err := Load(p)
			require.NoError(t, err)
			assert.Equal(t, Default().Stream.Separator, got.Stream.Separator)
		})
	}
}
