// Package embed generates vector embeddings for listing text.
//
// The embedding model is an external concern: this package wraps it behind
// the Embedder interface and treats it as an opaque text -> vector[D]
// function. For a fixed model the mapping is semantically stable across
// calls within a process.
package embed

import (
	"context"
	"math"
	"time"
)

// Common embedding constants.
const (
	// DefaultDimensions is the embedding dimension for all-MiniLM-class
	// models, the reference model for listing search.
	DefaultDimensions = 384

	// DefaultBatchSize is the default batch size for embedding requests.
	DefaultBatchSize = 32

	// MaxBatchSize is the maximum allowed batch size (prevents memory
	// exhaustion on misconfigured builds).
	MaxBatchSize = 256

	// DefaultTimeout is the default timeout for embedding requests.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries is the default number of retry attempts.
	DefaultMaxRetries = 3
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates the embedding for a single text. Empty or
	// whitespace-only text fails with an invalid-input error.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts. The result is
	// aligned with the input: same length, same order. A text that
	// individually fails (e.g. empty) yields a nil entry rather than
	// failing the batch; the caller decides skip vs abort.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Close releases resources.
	Close() error
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v // zero vector stays as-is
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
