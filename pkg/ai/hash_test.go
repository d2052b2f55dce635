package ai

import (
	"context"
	"math"
	"testing"
)

func TestHashEmbedderDeterministic(t *testing.T) {
	e := NewHashEmbedder(128)
	a, err := e.EmbedText(context.Background(), "the quick brown fox")
	if err != nil {
		t.Fatalf("EmbedText: %v", err)
	}
	b, err := e.EmbedText(context.Background(), "the quick brown fox")
	if err != nil {
		t.Fatalf("EmbedText: %v", err)
	}
	if len(a) != 128 {
		t.Fatalf("vector width = %d, want 128", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("embeddings differ at %d: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestHashEmbedderNormalized(t *testing.T) {
	e := NewHashEmbedder(64)
	vec, err := e.EmbedText(context.Background(), "norms should land on the unit sphere")
	if err != nil {
		t.Fatalf("EmbedText: %v", err)
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if math.Abs(norm-1) > 1e-5 {
		t.Fatalf("squared norm = %f, want 1", norm)
	}
}

func TestHashEmbedderSimilarTextsCloser(t *testing.T) {
	e := NewHashEmbedder(256)
	ctx := context.Background()
	base, _ := e.EmbedText(ctx, "sailing ships crossed the harbor at dawn")
	near, _ := e.EmbedText(ctx, "sailing ships crossed the harbor at dusk")
	far, _ := e.EmbedText(ctx, "gradient descent optimizes neural network weights")

	dot := func(a, b []float32) float64 {
		var s float64
		for i := range a {
			s += float64(a[i]) * float64(b[i])
		}
		return s
	}
	if dot(base, near) <= dot(base, far) {
		t.Fatal("overlapping texts are not closer than unrelated texts")
	}
}

func TestHashEmbedderEmptyText(t *testing.T) {
	e := NewHashEmbedder(32)
	vec, err := e.EmbedText(context.Background(), "")
	if err != nil {
		t.Fatalf("EmbedText: %v", err)
	}
	for _, v := range vec {
		if v != 0 {
			t.Fatal("empty text should embed to the zero vector")
		}
	}
}

func TestEmbedAllFallsBackToSingleCalls(t *testing.T) {
	e := NewHashEmbedder(64)
	texts := []string{"one", "two", "three"}
	vecs, err := EmbedAll(context.Background(), e, texts)
	if err != nil {
		t.Fatalf("EmbedAll: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(vecs), len(texts))
	}
	for i, text := range texts {
		want, _ := e.EmbedText(context.Background(), text)
		for j := range want {
			if vecs[i][j] != want[j] {
				t.Fatalf("vector %d differs from single-call embedding", i)
			}
		}
	}
}
