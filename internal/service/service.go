// Package service implements the stateless search request handler.
//
// A Service owns one Embedder and one VectorIndex reference. The index
// reference is immutable for the lifetime of a request: rebuilds happen
// out-of-band and are published with a single atomic pointer swap, so
// in-flight requests finish against the old index and new requests see
// the new one. No reader ever observes a partially built index.
package service

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/marketlink/semsearch/internal/embed"
	"github.com/marketlink/semsearch/internal/errors"
	"github.com/marketlink/semsearch/internal/index"
)

// DefaultK is the result count when a request does not specify k.
const DefaultK = 10

// Request is one search request. Exactly one of Text and Vector must be
// set; Vector bypasses embedding for clients that embed locally.
type Request struct {
	Text   string
	Vector []float32
	K      int
}

// Stats describes the currently served index.
type Stats struct {
	Records    int    `json:"records"`
	Dimensions int    `json:"dimensions"`
	Model      string `json:"model"`
	Backend    string `json:"backend"`
}

// Service answers search requests against the active index.
type Service struct {
	embedder     embed.Embedder
	idx          atomic.Pointer[index.Index]
	defaultK     int
	embedTimeout time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithDefaultK sets the result count used when a request omits k.
func WithDefaultK(k int) Option {
	return func(s *Service) { s.defaultK = k }
}

// WithEmbedTimeout bounds the embedding call per request.
func WithEmbedTimeout(d time.Duration) Option {
	return func(s *Service) { s.embedTimeout = d }
}

// New creates a Service over an already-loaded index. It rejects an
// embedder whose dimensionality disagrees with the index: serving that
// pair would fail every text query.
func New(embedder embed.Embedder, idx *index.Index, opts ...Option) (*Service, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if idx == nil {
		return nil, fmt.Errorf("index is required")
	}
	if d := embedder.Dimensions(); d > 0 && d != idx.Dimensions() {
		return nil, errors.DimensionMismatch(idx.Dimensions(), d)
	}

	s := &Service{
		embedder:     embedder,
		defaultK:     DefaultK,
		embedTimeout: embed.DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.defaultK <= 0 {
		s.defaultK = DefaultK
	}
	s.idx.Store(idx)
	return s, nil
}

// Search validates the request, embeds the query text if needed, and
// returns ranked results from the active index. Validation runs before
// any embedder call, so a missing query never reaches the model.
func (s *Service) Search(ctx context.Context, req Request) ([]index.SearchResult, error) {
	hasText := strings.TrimSpace(req.Text) != ""
	hasVector := len(req.Vector) > 0

	switch {
	case hasText && hasVector:
		return nil, errors.InvalidInput("supply either query text or a query vector, not both")
	case !hasText && !hasVector:
		return nil, errors.InvalidInput("Missing query")
	}

	k := req.K
	if k <= 0 {
		k = s.defaultK
	}

	vector := req.Vector
	if hasText {
		var err error
		vector, err = s.embedQuery(ctx, req.Text)
		if err != nil {
			return nil, err
		}
	}

	return s.idx.Load().Query(vector, k)
}

// embedQuery embeds text under the service's timeout. Embedding is the
// only suspension point per request and holds no lock.
func (s *Service) embedQuery(ctx context.Context, text string) ([]float32, error) {
	embedCtx, cancel := context.WithTimeout(ctx, s.embedTimeout)
	defer cancel()

	vector, err := s.embedder.Embed(embedCtx, text)
	if err != nil {
		if embedCtx.Err() == context.DeadlineExceeded && !errors.HasCode(err, errors.ErrCodeUpstreamTimeout) {
			return nil, errors.UpstreamTimeout("query embedding timed out", err)
		}
		return nil, err
	}
	return vector, nil
}

// Swap publishes a rebuilt index. New requests see it immediately;
// in-flight requests finish against the previous one. The new index
// must match the embedder's dimensionality.
func (s *Service) Swap(idx *index.Index) error {
	if idx == nil {
		return fmt.Errorf("cannot swap in a nil index")
	}
	if d := s.embedder.Dimensions(); d > 0 && d != idx.Dimensions() {
		return errors.DimensionMismatch(d, idx.Dimensions())
	}
	s.idx.Store(idx)
	return nil
}

// Index returns the currently active index.
func (s *Service) Index() *index.Index {
	return s.idx.Load()
}

// Stats reports the active index.
func (s *Service) Stats() Stats {
	idx := s.idx.Load()
	return Stats{
		Records:    idx.Len(),
		Dimensions: idx.Dimensions(),
		Model:      idx.Model(),
		Backend:    idx.Backend(),
	}
}

// Close releases the embedder.
func (s *Service) Close() error {
	return s.embedder.Close()
}
