package index

import (
	"fmt"
	"sort"

	"github.com/coder/hnsw"
)

// HNSW defaults, following the library's recommendations.
const (
	defaultHNSWM        = 16
	defaultHNSWEfSearch = 20
	defaultHNSWMl       = 0.25
)

// hnswAccel is the approximate search structure layered over the
// record set. Keys are record positions in the ID-sorted slice. The
// graph is built once and read-only afterwards, matching the index's
// immutability contract.
type hnswAccel struct {
	graph *hnsw.Graph[uint64]
}

// newHNSWAccel builds the graph from already-normalized record vectors.
func newHNSWAccel(records []Record, opts Options) (*hnswAccel, error) {
	m := opts.HNSWM
	if m <= 0 {
		m = defaultHNSWM
	}
	efSearch := opts.HNSWEfSearch
	if efSearch <= 0 {
		efSearch = defaultHNSWEfSearch
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = m
	graph.EfSearch = efSearch
	graph.Ml = defaultHNSWMl

	for i, rec := range records {
		graph.Add(hnsw.MakeNode(uint64(i), rec.Vector))
	}

	if graph.Len() != len(records) {
		return nil, fmt.Errorf("graph holds %d nodes for %d records", graph.Len(), len(records))
	}
	return &hnswAccel{graph: graph}, nil
}

// query searches the graph and re-scores candidates exactly so the
// returned scores match the flat backend's within floating-point noise.
// Final ordering follows the index contract: score descending, ties by
// ascending ID.
func (a *hnswAccel) query(idx *Index, query []float32, k int) []SearchResult {
	nodes := a.graph.Search(query, k)

	results := make([]SearchResult, 0, len(nodes))
	for _, node := range nodes {
		rec := idx.records[node.Key]
		results = append(results, SearchResult{
			ID:       rec.ID,
			Text:     rec.Text,
			Metadata: rec.Metadata,
			Score:    dot(query, rec.Vector),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})

	if len(results) > k {
		results = results[:k]
	}
	return results
}
