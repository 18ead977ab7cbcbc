package embed

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

const defaultHashDimensions = 256

// Hash is an offline embedder based on feature hashing of words and word
// bigrams. Texts sharing vocabulary land close together; it needs no model
// and is fully deterministic.
type Hash struct {
	dims int
}

// NewHash returns a hashing embedder producing vectors of dims entries.
func NewHash(dims int) *Hash {
	if dims <= 0 {
		dims = defaultHashDimensions
	}
	return &Hash{dims: dims}
}

// Embed hashes the words of text into a unit vector.
func (h *Hash) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v := make([]float32, h.dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for i, w := range words {
		h.add(v, w, 1)
		if i > 0 {
			h.add(v, words[i-1]+" "+w, 0.5)
		}
	}
	return Normalize(v), nil
}

func (h *Hash) add(v []float32, feature string, weight float32) {
	f := fnv.New64a()
	_, _ = f.Write([]byte(feature))
	sum := f.Sum64()
	idx := int(sum % uint64(h.dims))
	// The top bit picks the sign so that collisions tend to cancel.
	if sum>>63 == 1 {
		weight = -weight
	}
	v[idx] += weight
}

// Dimensions returns the vector length.
func (h *Hash) Dimensions() int { return h.dims }

// Name returns the engine name.
func (h *Hash) Name() string { return "hash" }
