// Package ai provides text embedding for chunk indexing and search.
package ai

import "context"

// Embedder produces a vector embedding for one text.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	// Dimensions reports the vector width this embedder produces.
	Dimensions() int
}

// BatchEmbedder optionally embeds multiple texts in one call.
type BatchEmbedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbedAll embeds texts with one batch call when the embedder supports
// it, falling back to per-text calls otherwise. The result is index
// aligned with texts.
func EmbedAll(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	if be, ok := e.(BatchEmbedder); ok {
		return be.EmbedTexts(ctx, texts)
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.EmbedText(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}
