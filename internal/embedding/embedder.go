// Package embedding defines the feature provider boundary: anything that turns
// a sentence into a fixed-length vector.
package embedding

import (
	"context"
	"errors"
	"fmt"

	"topicseg/internal/domain"
)

// Embedder converts free text into a numeric vector representation.
// Implementations must be safe for concurrent use when the stream driver runs
// with a lookahead greater than one.
type Embedder interface {
	Name() string
	// Dimension returns the vector size, or 0 when it is only known after
	// the first successful Embed.
	Dimension() int
	Embed(ctx context.Context, text string) ([]float64, error)
}

// ModelError wraps a provider failure so callers can match it with
// errors.Is(err, domain.ErrModel) while keeping the cause.
func ModelError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrModel) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrModel, provider, err)
}

// ToFloat64 widens a float32 embedding as returned by most remote APIs.
func ToFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
