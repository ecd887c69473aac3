package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"topicseg/internal/domain"
	"topicseg/internal/segmenter"
)

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url" toml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env" toml:"api_key_env"`
	Model       string `yaml:"model" toml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs" toml:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries" toml:"max_retries"`
}

// OllamaEmbedderConfig holds configuration for the Ollama embedder.
type OllamaEmbedderConfig struct {
	Host        string `yaml:"host" toml:"host"`
	Model       string `yaml:"model" toml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs" toml:"timeout_secs"`
}

// TFIDFEmbedderConfig configures the local hashed TF-IDF embedder.
type TFIDFEmbedderConfig struct {
	Dimension int `yaml:"dimension" toml:"dimension"`
	// SeedCorpus is an optional text file whose sentences provide IDF weights.
	SeedCorpus string `yaml:"seed_corpus,omitempty" toml:"seed_corpus,omitempty"`
}

// EmbedderConfig selects and configures the feature provider.
type EmbedderConfig struct {
	Type   string                `yaml:"type" toml:"type"`
	TFIDF  TFIDFEmbedderConfig   `yaml:"tfidf" toml:"tfidf"`
	OpenAI *OpenAIEmbedderConfig `yaml:"openai,omitempty" toml:"openai,omitempty"`
	Ollama *OllamaEmbedderConfig `yaml:"ollama,omitempty" toml:"ollama,omitempty"`
}

// SegmenterConfig selects the boundary policy and its tuning constants.
type SegmenterConfig struct {
	Policy         string   `yaml:"policy" toml:"policy"`
	Threshold      float64  `yaml:"threshold" toml:"threshold"`
	// MaxSentences, MinMembers and LengthRatio are pointers so an explicit 0
	// (trigger disabled) is kept apart from an omitted key (default).
	MaxSentences   *int     `yaml:"max_sentences,omitempty" toml:"max_sentences,omitempty"`
	Markers        []string `yaml:"markers" toml:"markers"`
	MinMembers     *int     `yaml:"min_members,omitempty" toml:"min_members,omitempty"`
	LengthRatio    *float64 `yaml:"length_ratio,omitempty" toml:"length_ratio,omitempty"`
	SectionPattern string   `yaml:"section_pattern,omitempty" toml:"section_pattern,omitempty"`
}

// HeuristicConfig returns the heuristic policy settings; unset limits are 0.
func (c SegmenterConfig) HeuristicConfig() segmenter.HeuristicConfig {
	return segmenter.HeuristicConfig{
		MaxSentences:   deref(c.MaxSentences),
		Markers:        c.Markers,
		MinMembers:     deref(c.MinMembers),
		LengthRatio:    deref(c.LengthRatio),
		SectionPattern: c.SectionPattern,
	}
}

// StreamConfig configures the stream driver.
type StreamConfig struct {
	ReadSize     int    `yaml:"read_size" toml:"read_size"`
	Lookahead    int    `yaml:"lookahead" toml:"lookahead"`
	OnModelError string `yaml:"on_model_error" toml:"on_model_error"`
	Separator    string `yaml:"separator" toml:"separator"`
}

// OutputConfig selects how emitted segments are written.
type OutputConfig struct {
	Format     string `yaml:"format" toml:"format"`
	SQLitePath string `yaml:"sqlite_path,omitempty" toml:"sqlite_path,omitempty"`
}

// TraceConfig configures OpenTelemetry export.
type TraceConfig struct {
	Exporter     string  `yaml:"exporter" toml:"exporter"`
	OTLPEndpoint string  `yaml:"otlp_endpoint,omitempty" toml:"otlp_endpoint,omitempty"`
	SamplingRate float64 `yaml:"sampling_rate" toml:"sampling_rate"`
}

// LogConfig configures diagnostic output.
type LogConfig struct {
	Verbose bool `yaml:"verbose" toml:"verbose"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Embedder  EmbedderConfig  `yaml:"embedder" toml:"embedder"`
	Segmenter SegmenterConfig `yaml:"segmenter" toml:"segmenter"`
	Stream    StreamConfig    `yaml:"stream" toml:"stream"`
	Output    OutputConfig    `yaml:"output" toml:"output"`
	Trace     TraceConfig     `yaml:"trace" toml:"trace"`
	Log       LogConfig       `yaml:"log" toml:"log"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
// Files ending in .toml are decoded as TOML, everything else as YAML.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	var cfg AppConfig
	if isTOML(path) {
		err = toml.Unmarshal(data, &cfg)
	} else {
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	applyConfigDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDefault tries ./topicseg.yaml first, then ~/.config/topicseg/config.yaml.
// If neither exists, it writes defaults to ~/.config/topicseg/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "topicseg.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := Default()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var (
		data []byte
		err  error
	)
	if isTOML(path) {
		data, err = toml.Marshal(cfg)
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate rejects values the pipeline cannot run with.
func (c *AppConfig) Validate() error {
	switch c.Embedder.Type {
	case "tfidf", "openai", "ollama":
	default:
		return fmt.Errorf("%w: unknown embedder %q", domain.ErrInvalidConfig, c.Embedder.Type)
	}
	switch c.Segmenter.Policy {
	case "embedding":
		if c.Segmenter.Threshold <= 0 || c.Segmenter.Threshold > 1 {
			return fmt.Errorf("%w: threshold %v outside (0,1]", domain.ErrInvalidConfig, c.Segmenter.Threshold)
		}
	case "heuristic":
		if deref(c.Segmenter.MaxSentences) < 0 || deref(c.Segmenter.MinMembers) < 0 {
			return fmt.Errorf("%w: heuristic limits must not be negative", domain.ErrInvalidConfig)
		}
		if r := deref(c.Segmenter.LengthRatio); r != 0 && r <= 1 {
			return fmt.Errorf("%w: length_ratio %v must be 0 (off) or greater than 1", domain.ErrInvalidConfig, r)
		}
	default:
		return fmt.Errorf("%w: unknown policy %q", domain.ErrInvalidConfig, c.Segmenter.Policy)
	}
	if c.Stream.Lookahead < 1 {
		return fmt.Errorf("%w: lookahead must be >= 1", domain.ErrInvalidConfig)
	}
	if c.Stream.ReadSize < 1 {
		return fmt.Errorf("%w: read_size must be >= 1", domain.ErrInvalidConfig)
	}
	switch c.Stream.OnModelError {
	case "skip", "abort":
	default:
		return fmt.Errorf("%w: on_model_error must be skip or abort", domain.ErrInvalidConfig)
	}
	switch c.Output.Format {
	case "text", "jsonl":
	case "sqlite":
		if c.Output.SQLitePath == "" {
			return fmt.Errorf("%w: sqlite output needs sqlite_path", domain.ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown output format %q", domain.ErrInvalidConfig, c.Output.Format)
	}
	switch c.Trace.Exporter {
	case "none", "stdout", "otlp":
	default:
		return fmt.Errorf("%w: unknown trace exporter %q", domain.ErrInvalidConfig, c.Trace.Exporter)
	}
	return nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "topicseg", "config.yaml"), nil
}

// Default returns the built-in configuration.
func Default() *AppConfig {
	cfg := &AppConfig{}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "tfidf"
	}
	if cfg.Embedder.TFIDF.Dimension == 0 {
		cfg.Embedder.TFIDF.Dimension = 1024
	}
	if cfg.Embedder.Type == "openai" {
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		if cfg.Embedder.OpenAI.BaseURL == "" {
			cfg.Embedder.OpenAI.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Embedder.OpenAI.APIKeyEnv == "" {
			cfg.Embedder.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.Embedder.OpenAI.Model == "" {
			cfg.Embedder.OpenAI.Model = "text-embedding-3-small"
		}
		if cfg.Embedder.OpenAI.TimeoutSecs == 0 {
			cfg.Embedder.OpenAI.TimeoutSecs = 30
		}
		if cfg.Embedder.OpenAI.MaxRetries == 0 {
			cfg.Embedder.OpenAI.MaxRetries = 5
		}
	}
	if cfg.Embedder.Type == "ollama" {
		if cfg.Embedder.Ollama == nil {
			cfg.Embedder.Ollama = &OllamaEmbedderConfig{}
		}
		if cfg.Embedder.Ollama.Host == "" {
			cfg.Embedder.Ollama.Host = "http://localhost:11434"
		}
		if cfg.Embedder.Ollama.Model == "" {
			cfg.Embedder.Ollama.Model = "nomic-embed-text"
		}
		if cfg.Embedder.Ollama.TimeoutSecs == 0 {
			cfg.Embedder.Ollama.TimeoutSecs = 60
		}
	}
	if cfg.Segmenter.Policy == "" {
		cfg.Segmenter.Policy = "embedding"
	}
	if cfg.Segmenter.Threshold == 0 {
		cfg.Segmenter.Threshold = 0.3
	}
	if cfg.Segmenter.MaxSentences == nil {
		cfg.Segmenter.MaxSentences = ptr(5)
	}
	if cfg.Segmenter.Markers == nil {
		cfg.Segmenter.Markers = append([]string(nil), segmenter.DefaultMarkers...)
	}
	if cfg.Segmenter.MinMembers == nil {
		cfg.Segmenter.MinMembers = ptr(2)
	}
	if cfg.Segmenter.LengthRatio == nil {
		cfg.Segmenter.LengthRatio = ptr(2.0)
	}
	if cfg.Stream.ReadSize == 0 {
		cfg.Stream.ReadSize = 4096
	}
	if cfg.Stream.Lookahead == 0 {
		cfg.Stream.Lookahead = 1
	}
	if cfg.Stream.OnModelError == "" {
		cfg.Stream.OnModelError = "skip"
	}
	if cfg.Stream.Separator == "" {
		cfg.Stream.Separator = "---"
	}
	if cfg.Output.Format == "" {
		cfg.Output.Format = "text"
	}
	if cfg.Trace.Exporter == "" {
		cfg.Trace.Exporter = "none"
	}
	if cfg.Trace.OTLPEndpoint == "" {
		cfg.Trace.OTLPEndpoint = "localhost:4317"
	}
	if cfg.Trace.SamplingRate == 0 {
		cfg.Trace.SamplingRate = 1.0
	}
}

func ptr[T any](v T) *T { return &v }

// deref returns the pointed-to value, or the zero value for nil.
func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
