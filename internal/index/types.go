// Package index implements the in-memory vector index over listing
// records and its on-disk persistence.
//
// The similarity metric is cosine similarity, higher = more similar.
// Vectors are L2-normalized at build time so cosine reduces to a dot
// product at query time. Changing the metric changes index semantics and
// requires a rebuild; there is no live toggle.
//
// An Index is immutable once built. It is safe for unlimited concurrent
// readers without synchronization; the only supported mutation path is
// building a new Index and swapping the reference.
package index

import "math"

// Backend names for the search structure.
const (
	// BackendFlat is the exact linear-scan backend, the correctness
	// baseline. Fine for thousands to low tens of thousands of records.
	BackendFlat = "flat"
	// BackendHNSW is the approximate graph backend for larger corpora.
	// Same query contract and response shape, recall below 1.0.
	BackendHNSW = "hnsw"
)

/// Record is one indexed unit: a listing flattened to text plus opaque
// metadata and its embedding.
type Record struct {
	// ID is the stable source-document identifier, unique in the index.
	ID string
	// Text is the canonical text that was embedded. Kept for display
	// and debugging; never re-embedded at query time.
	Text string
	// Metadata is an open string-keyed map (category, type, display
	// name, source id). The index stores and returns it, never
	// interprets it.
	Metadata map[string]string
	// Vector is the embedding, length D for the whole index.
	Vector []float32
}

// SearchResult is one ranked query hit.
type SearchResult struct {
	// ID is the matched record's identifier.
	ID string
	// Text is the matched record's canonical text.
	Text string
	// Metadata is the matched record's metadata, as stored.
	Metadata map[string]string
	// Score is the cosine similarity to the query, higher = more
	// similar.
	Score float64
}

// Options configures index construction and loading.
type Options struct {
	// Backend selects the search structure (BackendFlat default).
	Backend string
	// Model is the embedding model name, recorded in the manifest so a
	// loaded index can be checked against the serving embedder.
	Model string
	// HNSWM is the HNSW graph degree (default 16).
	HNSWM int
	// HNSWEfSearch is the HNSW search expansion factor (default 20).
	HNSWEfSearch int
}

// dot computes the dot product of two equal-length vectors in float64
// for score stability.
func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// normalize returns a unit-length copy of v. A zero vector is returned
// as a copy unchanged.
func normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)

	var sumSquares float64
	for _, val := range out {
		sumSquares += float64(val) * float64(val)
	}
	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return out
	}
	for i, val := range out {
		out[i] = float32(float64(val) / magnitude)
	}
	return out
}
