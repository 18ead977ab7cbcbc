// Package embed turns text into vectors for similarity search.
package embed

import (
	"context"
	"fmt"
	"math"

	"github.com/statline-ai/statline/pkg/config"
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed returns the embedding of a single text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// Dimensions is the length of every vector Embed returns.
	Dimensions() int
	// Name identifies the backend and model.
	Name() string
}

// New builds the embedder selected by cfg.
func New(ctx context.Context, cfg config.EmbeddingConfig) (Embedder, error) {
	switch cfg.Provider {
	case "", "hash":
		return NewHash(cfg.Dimensions), nil
	case "openai":
		return NewOpenAI(cfg.APIKey, cfg.URL, cfg.Model, cfg.Dimensions)
	case "genai":
		return NewGenAI(ctx, cfg.APIKey, cfg.Model, cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s (use 'hash', 'openai' or 'genai')", cfg.Provider)
	}
}

// CosineSimilarity returns the cosine of the angle between a and b, in
// [-1, 1]. A zero vector is orthogonal to everything.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}
	var dot, am, bm float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		am += float64(a[i]) * float64(a[i])
		bm += float64(b[i]) * float64(b[i])
	}
	if am == 0 || bm == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(am) * math.Sqrt(bm)), nil
}

// Normalize scales v to unit length in place and returns it.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	n := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= n
	}
	return v
}
