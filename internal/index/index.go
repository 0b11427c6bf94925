package index

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/marketlink/semsearch/internal/errors"
)

// Index is an immutable nearest-neighbor index over listing records.
type Index struct {
	// records are held sorted by ascending ID with normalized vectors.
	// The ID sort makes tie-breaking deterministic: a stable sort by
	// score leaves equal-score records in ascending ID order.
	records []Record
	byID    map[string]int
	dims    int
	model   string
	backend string
	accel   *hnswAccel // nil for the flat backend
}

// Build constructs a fresh index from a finalized set of records.
//
// Fails with EmptyInput on zero records and DimensionMismatch if any
// vector length differs from D inferred from the first record. A
// duplicate ID replaces the earlier occurrence (keep last); the index
// never holds two entries with the same ID.
func Build(records []Record, opts Options) (*Index, error) {
	if len(records) == 0 {
		return nil, errors.EmptyInput("cannot build index from zero records")
	}

	dims := len(records[0].Vector)
	if dims == 0 {
		return nil, errors.DimensionMismatch(1, 0)
	}

	// Dedupe keep-last, preserving exactly one entry per ID.
	deduped := make(map[string]Record, len(records))
	for _, rec := range records {
		if rec.ID == "" {
			return nil, errors.InvalidInput("record with empty id")
		}
		if len(rec.Vector) != dims {
			return nil, errors.DimensionMismatch(dims, len(rec.Vector))
		}
		if _, seen := deduped[rec.ID]; seen {
			slog.Debug("duplicate_record_replaced", slog.String("id", rec.ID))
		}
		deduped[rec.ID] = rec
	}

	sorted := make([]Record, 0, len(deduped))
	for _, rec := range deduped {
		sorted = append(sorted, Record{
			ID:       rec.ID,
			Text:     rec.Text,
			Metadata: rec.Metadata,
			Vector:   normalize(rec.Vector),
		})
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	byID := make(map[string]int, len(sorted))
	for i, rec := range sorted {
		byID[rec.ID] = i
	}

	idx := &Index{
		records: sorted,
		byID:    byID,
		dims:    dims,
		model:   opts.Model,
		backend: opts.Backend,
	}
	if idx.backend == "" {
		idx.backend = BackendFlat
	}

	if idx.backend == BackendHNSW {
		accel, err := newHNSWAccel(sorted, opts)
		if err != nil {
			return nil, fmt.Errorf("build hnsw backend: %w", err)
		}
		idx.accel = accel
	}

	return idx, nil
}

// Query returns up to k records ranked by cosine similarity, most
// similar first. Ties are broken by ascending ID. If k exceeds the index
// size, all records are returned ranked; that is not an error.
func (idx *Index) Query(vector []float32, k int) ([]SearchResult, error) {
	if k <= 0 {
		return nil, errors.InvalidInput(fmt.Sprintf("k must be positive, got %d", k))
	}
	if len(vector) != idx.dims {
		return nil, errors.DimensionMismatch(idx.dims, len(vector))
	}

	query := normalize(vector)

	// The approximate backend only pays off when it can prune; at
	// k >= N the exact scan is both correct and cheaper.
	if idx.accel != nil && k < len(idx.records) {
		return idx.accel.query(idx, query, k), nil
	}
	return idx.scan(query, k), nil
}

// scan is the exact linear scan over all stored vectors.
func (idx *Index) scan(query []float32, k int) []SearchResult {
	type scored struct {
		pos   int
		score float64
	}
	scores := make([]scored, len(idx.records))
	for i := range idx.records {
		scores[i] = scored{pos: i, score: dot(query, idx.records[i].Vector)}
	}

	// Stable sort: records are ID-sorted, so equal scores keep
	// ascending ID order.
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	if k > len(scores) {
		k = len(scores)
	}
	results := make([]SearchResult, k)
	for i := 0; i < k; i++ {
		rec := idx.records[scores[i].pos]
		results[i] = SearchResult{
			ID:       rec.ID,
			Text:     rec.Text,
			Metadata: rec.Metadata,
			Score:    scores[i].score,
		}
	}
	return results
}

// Len returns the number of records.
func (idx *Index) Len() int {
	return len(idx.records)
}

// Dimensions returns the embedding dimensionality D.
func (idx *Index) Dimensions() int {
	return idx.dims
}

// Model returns the embedding model the index was built with.
func (idx *Index) Model() string {
	return idx.model
}

// Backend returns the active search backend name.
func (idx *Index) Backend() string {
	return idx.backend
}

// Contains reports whether an ID is indexed.
func (idx *Index) Contains(id string) bool {
	_, ok := idx.byID[id]
	return ok
}

// Record returns the stored record for id. The returned record shares
// the index's internal slices and must not be mutated.
func (idx *Index) Record(id string) (Record, bool) {
	pos, ok := idx.byID[id]
	if !ok {
		return Record{}, false
	}
	return idx.records[pos], true
}
