package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketlink/semsearch/internal/embed"
	"github.com/marketlink/semsearch/internal/errors"
	"github.com/marketlink/semsearch/internal/index"
)

const testDims = 64

func buildIndex(t *testing.T, e embed.Embedder, listings map[string]string) *index.Index {
	t.Helper()
	records := make([]index.Record, 0, len(listings))
	for id, text := range listings {
		vec, err := e.Embed(context.Background(), text)
		require.NoError(t, err)
		records = append(records, index.Record{
			ID:       id,
			Text:     text,
			Metadata: map[string]string{"id": id},
			Vector:   vec,
		})
	}
	idx, err := index.Build(records, index.Options{Model: e.ModelName()})
	require.NoError(t, err)
	return idx
}

func newTestService(t *testing.T, opts ...Option) (*Service, embed.Embedder) {
	t.Helper()
	e := embed.NewStaticEmbedder(testDims)
	idx := buildIndex(t, e, map[string]string{
		"mouse":    "wireless mouse. Category: electronics",
		"keyboard": "bluetooth keyboard. Category: electronics",
		"tomatoes": "fresh tomatoes. Category: groceries",
	})
	svc, err := New(e, idx, opts...)
	require.NoError(t, err)
	return svc, e
}

func TestSearch_TextQuery(t *testing.T) {
	svc, _ := newTestService(t)

	results, err := svc.Search(context.Background(), Request{Text: "computer accessories wireless bluetooth", K: 3})
	require.NoError(t, err)

	require.Len(t, results, 3)
	assert.Equal(t, "tomatoes", results[2].ID)
}

func TestSearch_VectorBypassesEmbedding(t *testing.T) {
	svc, e := newTestService(t)

	vec, err := e.Embed(context.Background(), "wireless mouse. Category: electronics")
	require.NoError(t, err)

	results, err := svc.Search(context.Background(), Request{Vector: vec, K: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "mouse", results[0].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
}

// explodingEmbedder fails loudly if the service ever embeds.
type explodingEmbedder struct {
	*embed.StaticEmbedder
	t *testing.T
}

func (e *explodingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.t.Fatal("embedder invoked for an invalid request")
	return nil, nil
}

func TestSearch_MissingQueryNeverHitsEmbedder(t *testing.T) {
	inner := embed.NewStaticEmbedder(testDims)
	idx := buildIndex(t, inner, map[string]string{"a": "anything at all"})

	svc, err := New(&explodingEmbedder{StaticEmbedder: inner, t: t}, idx)
	require.NoError(t, err)

	for _, req := range []Request{{}, {Text: "   "}, {Text: "", K: 5}} {
		_, err := svc.Search(context.Background(), req)
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInput))
	}
}

func TestSearch_BothTextAndVectorRejected(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Search(context.Background(), Request{Text: "query", Vector: []float32{1}})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInput))
}

func TestSearch_WrongVectorDimensions(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Search(context.Background(), Request{Vector: []float32{1, 2, 3}})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeDimensionMismatch))
}

func TestSearch_DefaultK(t *testing.T) {
	svc, _ := newTestService(t, WithDefaultK(2))

	results, err := svc.Search(context.Background(), Request{Text: "electronics"})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

// slowEmbedder blocks until its context expires.
type slowEmbedder struct {
	*embed.StaticEmbedder
}

func (e *slowEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestSearch_EmbedTimeoutClassified(t *testing.T) {
	inner := embed.NewStaticEmbedder(testDims)
	idx := buildIndex(t, inner, map[string]string{"a": "anything"})

	svc, err := New(&slowEmbedder{inner}, idx, WithEmbedTimeout(10*time.Millisecond))
	require.NoError(t, err)

	_, err = svc.Search(context.Background(), Request{Text: "slow query"})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeUpstreamTimeout))
}

func TestNew_DimensionDisagreementRejected(t *testing.T) {
	e := embed.NewStaticEmbedder(128)
	other := embed.NewStaticEmbedder(testDims)
	idx := buildIndex(t, other, map[string]string{"a": "anything"})

	_, err := New(e, idx)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeDimensionMismatch))
}

func TestSwap_RejectsMismatchedIndex(t *testing.T) {
	svc, _ := newTestService(t)

	other := embed.NewStaticEmbedder(16)
	badIdx := buildIndex(t, other, map[string]string{"x": "wrong dims"})

	err := svc.Swap(badIdx)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeDimensionMismatch))
}

func TestStats(t *testing.T) {
	svc, _ := newTestService(t)

	stats := svc.Stats()
	assert.Equal(t, 3, stats.Records)
	assert.Equal(t, testDims, stats.Dimensions)
	assert.Equal(t, "static-hash", stats.Model)
	assert.Equal(t, index.BackendFlat, stats.Backend)
}

func TestSwap_ConcurrentQueriesNeverSeeHalfState(t *testing.T) {
	// Property: a rebuild-and-swap performed concurrently with
	// 1,000 in-flight queries never yields zero or duplicated records
	// and never errors.
	e := embed.NewStaticEmbedder(testDims)

	listings := make(map[string]string, 20)
	for i := 0; i < 20; i++ {
		listings[fmt.Sprintf("rec-%02d", i)] = fmt.Sprintf("listing number %d electronics gadget", i)
	}
	first := buildIndex(t, e, listings)
	second := buildIndex(t, e, listings) // rebuilt corpus, same records

	svc, err := New(e, first)
	require.NoError(t, err)

	query, err := e.Embed(context.Background(), "electronics gadget")
	require.NoError(t, err)

	const queries = 1000
	var wg sync.WaitGroup
	errCh := make(chan error, queries)

	start := make(chan struct{})
	for i := 0; i < queries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start

			results, err := svc.Search(context.Background(), Request{Vector: query, K: 100})
			if err != nil {
				errCh <- err
				return
			}
			if len(results) != 20 {
				errCh <- fmt.Errorf("got %d results, want 20", len(results))
				return
			}
			seen := make(map[string]bool, len(results))
			for _, r := range results {
				if seen[r.ID] {
					errCh <- fmt.Errorf("duplicated record %s", r.ID)
					return
				}
				seen[r.ID] = true
			}
		}()
	}

	swapDone := make(chan struct{})
	go func() {
		defer close(swapDone)
		for i := 0; i < 100; i++ {
			if i%2 == 0 {
				_ = svc.Swap(second)
			} else {
				_ = svc.Swap(first)
			}
		}
	}()

	close(start)
	wg.Wait()
	<-swapDone
	close(errCh)

	for err := range errCh {
		t.Error(err)
	}
}
