// Package app assembles the segmentation pipeline from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"topicseg/internal/config"
	"topicseg/internal/domain"
	"topicseg/internal/embedding"
	"topicseg/internal/embedding/ollama"
	"topicseg/internal/embedding/openai"
	"topicseg/internal/embedding/tfidf"
	"topicseg/internal/extractor"
	"topicseg/internal/logger"
	"topicseg/internal/segmenter"
	"topicseg/internal/sink"
	"topicseg/internal/stream"
	"topicseg/internal/summarizer"
)

// Pipeline is a driver bound to a sink.
type Pipeline struct {
	Driver *stream.Driver
	Sink   sink.Sink
	// OnSegment, when set, is called after each segment is written.
	OnSegment func(domain.Segment)
}

// Build assembles a pipeline writing text and jsonl output to w.
func Build(cfg *config.AppConfig, w io.Writer) (*Pipeline, error) {
	policy, err := NewPolicy(cfg)
	if err != nil {
		return nil, err
	}
	var provider embedding.Embedder
	if policy.UsesVectors() {
		if provider, err = NewEmbedder(cfg); err != nil {
			return nil, err
		}
	}
	onErr, err := stream.ParseModelErrorPolicy(cfg.Stream.OnModelError)
	if err != nil {
		return nil, err
	}
	driver, err := stream.NewDriver(policy, provider, stream.Options{
		ReadSize:     cfg.Stream.ReadSize,
		Lookahead:    cfg.Stream.Lookahead,
		OnModelError: onErr,
		Summarizer:   summarizer.NewFrequencySummarizer(),
	})
	if err != nil {
		return nil, err
	}
	out, err := sink.New(sink.Options{
		Format:     cfg.Output.Format,
		Separator:  cfg.Stream.Separator,
		SQLitePath: cfg.Output.SQLitePath,
	}, w)
	if err != nil {
		return nil, err
	}
	return &Pipeline{Driver: driver, Sink: out}, nil
}

// Run segments r into the sink and closes the sink.
func (p *Pipeline) Run(ctx context.Context, r io.Reader) (stream.Stats, error) {
	stats, err := p.Driver.Run(ctx, r, func(ctx context.Context, seg domain.Segment) error {
		if err := p.Sink.Write(ctx, seg); err != nil {
			return err
		}
		if p.OnSegment != nil {
			p.OnSegment(seg)
		}
		return nil
	})
	if cerr := p.Sink.Close(); cerr != nil {
		err = errors.Join(err, fmt.Errorf("closing output: %w", cerr))
	}
	return stats, err
}

// NewPolicy builds the boundary policy named in cfg.
func NewPolicy(cfg *config.AppConfig) (segmenter.Policy, error) {
	switch cfg.Segmenter.Policy {
	case "embedding", "":
		return segmenter.Cosine{Threshold: cfg.Segmenter.Threshold}, nil
	case "heuristic":
		return segmenter.NewHeuristic(cfg.Segmenter.HeuristicConfig())
	}
	return nil, fmt.Errorf("%w: unknown policy %q", domain.ErrInvalidConfig, cfg.Segmenter.Policy)
}

// NewEmbedder builds the feature provider named in cfg.
func NewEmbedder(cfg *config.AppConfig) (embedding.Embedder, error) {
	switch cfg.Embedder.Type {
	case "tfidf", "":
		emb := tfidf.NewEmbedder(cfg.Embedder.TFIDF.Dimension)
		if path := cfg.Embedder.TFIDF.SeedCorpus; path != "" {
			if err := seed(emb, path); err != nil {
				return nil, err
			}
		}
		return emb, nil
	case "openai":
		if cfg.Embedder.OpenAI == nil {
			return nil, fmt.Errorf("%w: openai embedder config missing", domain.ErrInvalidConfig)
		}
		client, err := openai.NewClient(openai.Config{
			BaseURL:    cfg.Embedder.OpenAI.BaseURL,
			APIKeyEnv:  cfg.Embedder.OpenAI.APIKeyEnv,
			Model:      cfg.Embedder.OpenAI.Model,
			Timeout:    time.Duration(cfg.Embedder.OpenAI.TimeoutSecs) * time.Second,
			MaxRetries: cfg.Embedder.OpenAI.MaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("openai embedder init failed: %w", err)
		}
		return client, nil
	case "ollama":
		if cfg.Embedder.Ollama == nil {
			return nil, fmt.Errorf("%w: ollama embedder config missing", domain.ErrInvalidConfig)
		}
		emb, err := ollama.NewEmbedder(ollama.Config{
			Host:    cfg.Embedder.Ollama.Host,
			Model:   cfg.Embedder.Ollama.Model,
			Timeout: time.Duration(cfg.Embedder.Ollama.TimeoutSecs) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("ollama embedder init failed: %w", err)
		}
		return emb, nil
	}
	return nil, fmt.Errorf("%w: unknown embedder %q", domain.ErrInvalidConfig, cfg.Embedder.Type)
}

// seed prepares IDF weights from the sentences of a corpus file.
func seed(emb *tfidf.Embedder, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading seed corpus: %w", err)
	}
	x := extractor.New()
	x.Write(string(data))
	x.Write(" ")
	var corpus []string
	for _, s := range x.Drain() {
		corpus = append(corpus, s.Text)
	}
	if err := emb.Prepare(corpus); err != nil {
		return fmt.Errorf("preparing tfidf weights: %w", err)
	}
	logger.Debug("seeded tfidf from %s (%d sentences)", path, len(corpus))
	return nil
}
