package ai

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// HashEmbedder embeds text locally by feature-hashing word trigrams
// into a fixed-width vector, L2-normalized. It needs no external
// service and is fully deterministic: equal texts always embed to equal
// vectors, which keeps re-ingestion idempotent. Retrieval quality is
// lexical rather than semantic; it serves deployments without an
// embedding backend, and tests.
type HashEmbedder struct {
	dimensions int
}

// NewHashEmbedder builds a local embedder with the given vector width.
func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = 256
	}
	return &HashEmbedder{dimensions: dimensions}
}

// Dimensions reports the configured vector width.
func (e *HashEmbedder) Dimensions() int { return e.dimensions }

// EmbedText hashes the text's word n-grams into a normalized vector.
func (e *HashEmbedder) EmbedText(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dimensions)
	words := strings.Fields(strings.ToLower(text))
	for n := 1; n <= 3; n++ {
		for i := 0; i+n <= len(words); i++ {
			gram := strings.Join(words[i:i+n], " ")
			h := fnv.New64a()
			h.Write([]byte(gram))
			sum := h.Sum64()
			idx := int(sum % uint64(e.dimensions))
			// Top bit picks the sign so hash collisions tend to cancel
			// instead of accumulating.
			if sum&(1<<63) != 0 {
				vec[idx]--
			} else {
				vec[idx]++
			}
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := 1 / math.Sqrt(norm)
		for i := range vec {
			vec[i] = float32(float64(vec[i]) * inv)
		}
	}
	return vec, nil
}
