package tfidf

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
	"sync"

	"topicseg/internal/domain"
)

// DefaultDimension is the number of hash buckets used when none is configured.
const DefaultDimension = 1024

// Embedder implements a hashed TF-IDF vectorizer.
// Terms are hashed into a fixed number of buckets so the vector size is known
// before any text arrives. IDF weights are optional and come from Prepare.
type Embedder struct {
	dimension    int
	mu           sync.RWMutex
	idf          []float64
	tokenPattern *regexp.Regexp
	stopwords    map[string]struct{}
}

// NewEmbedder creates a TF-IDF embedder with uniform IDF weights.
func NewEmbedder(dimension int) *Embedder {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &Embedder{
		dimension:    dimension,
		tokenPattern: regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`),
		stopwords:    defaultStopwords(),
	}
}

// Name returns the identifier of this embedder implementation.
func (e *Embedder) Name() string { return "tfidf" }

// Dimension returns the dimensionality of the produced embedding vectors.
func (e *Embedder) Dimension() int { return e.dimension }

// Prepare computes smoothed IDF values per bucket from a seed corpus.
// Buckets never seen in the corpus get the maximum weight.
func (e *Embedder) Prepare(corpus []string) error {
	if len(corpus) == 0 {
		return errors.New("empty corpus for TF-IDF prepare")
	}
	df := make([]int, e.dimension)
	seenAny := false
	for _, text := range corpus {
		seen := make(map[int]struct{})
		for _, tok := range e.tokenize(text) {
			b := e.bucket(tok)
			if _, ok := seen[b]; ok {
				continue
			}
			seen[b] = struct{}{}
			df[b]++
			seenAny = true
		}
	}
	if !seenAny {
		return errors.New("no tokens found in corpus; ensure tokenizer supports your language")
	}
	idf := make([]float64, e.dimension)
	N := float64(len(corpus))
	for i := range idf {
		idf[i] = math.Log((1+N)/(1+float64(df[i]))) + 1.0
	}
	e.mu.Lock()
	e.idf = idf
	e.mu.Unlock()
	return nil
}

// Embed computes the L2-normalized TF-IDF vector for the given text.
// Text with no content tokens yields the zero vector.
func (e *Embedder) Embed(_ context.Context, text string) ([]float64, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.ErrEmptySentence
	}
	vec := make([]float64, e.dimension)
	tokens := e.tokenize(text)
	if len(tokens) == 0 {
		return vec, nil
	}
	tf := make(map[int]int)
	for _, tok := range tokens {
		tf[e.bucket(tok)]++
	}
	e.mu.RLock()
	idf := e.idf
	e.mu.RUnlock()
	total := float64(len(tokens))
	for idx, count := range tf {
		w := 1.0
		if idf != nil {
			w = idf[idx]
		}
		vec[idx] = float64(count) / total * w
	}
	// L2 normalize
	norm := 0.0
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec, nil
}

func (e *Embedder) bucket(term string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(term))
	return int(h.Sum32() % uint32(e.dimension))
}

func (e *Embedder) tokenize(text string) []string {
	lower := strings.ToLower(text)
	raw := e.tokenPattern.FindAllString(lower, -1)
	if len(raw) == 0 {
		return nil
	}
	out := raw[:0]
	for _, t := range raw {
		if _, isStop := e.stopwords[t]; isStop {
			continue
		}
		out = append(out, t)
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
