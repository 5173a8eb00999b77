// Package embedding defines the thin contract to an external embedding
// backend, used by the quality validator's optional semantic check.
package embedding

import (
	"context"
	"math"
)

// Embedder produces a vector representation of text. Implementations live
// with the embedder of the engine; the core only needs Embed plus cosine.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Cosine returns the cosine similarity of two vectors, or 0 when either is
// empty, zero, or the lengths differ.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
