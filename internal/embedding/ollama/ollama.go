// Package ollama provides a feature provider backed by a local Ollama server.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/ollama/ollama/api"

	"topicseg/internal/embedding"
)

// Default configuration values.
const (
	DefaultHost    = "http://localhost:11434"
	DefaultModel   = "nomic-embed-text"
	DefaultTimeout = 60 * time.Second
)

var _ embedding.Embedder = (*Embedder)(nil)

// Config holds configuration for the Ollama embedder.
type Config struct {
	Host    string
	Model   string
	Timeout time.Duration
}

// Embedder calls the Ollama embed endpoint for each sentence.
type Embedder struct {
	client    *api.Client
	model     string
	dimension atomic.Int64
}

// NewEmbedder creates an Ollama embedder; it does not contact the server.
func NewEmbedder(cfg Config) (*Embedder, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	u, err := url.Parse(cfg.Host)
	if err != nil {
		return nil, fmt.Errorf("parse ollama host: %w", err)
	}
	return &Embedder{
		client: api.NewClient(u, &http.Client{Timeout: cfg.Timeout}),
		model:  cfg.Model,
	}, nil
}

// Name returns the identifier of this embedder implementation.
func (e *Embedder) Name() string { return "ollama" }

// Dimension returns the dimensionality learned from the first response.
func (e *Embedder) Dimension() int { return int(e.dimension.Load()) }

// Embed generates a vector embedding for the given text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float64, error) {
	res, err := e.client.Embed(ctx, &api.EmbedRequest{
		Model: e.model,
		Input: text,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if res == nil || len(res.Embeddings) == 0 || len(res.Embeddings[0]) == 0 {
		return nil, errors.New("ollama returned no embedding")
	}
	v := embedding.ToFloat64(res.Embeddings[0])
	e.dimension.CompareAndSwap(0, int64(len(v)))
	return v, nil
}
