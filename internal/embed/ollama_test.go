package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketlink/semsearch/internal/errors"
)

// fakeOllama returns a test server that answers /api/embed with a fixed
// 4-dim embedding per input.
func fakeOllama(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embed", r.URL.Path)

		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var inputs []string
		switch v := req.Input.(type) {
		case string:
			inputs = []string{v}
		case []any:
			for _, item := range v {
				inputs = append(inputs, item.(string))
			}
		}

		resp := ollamaEmbedResponse{Embeddings: make([][]float64, len(inputs))}
		for i, text := range inputs {
			// Vary the first component by text length so vectors differ.
			resp.Embeddings[i] = []float64{float64(len(text)), 1, 0, 0}
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestOllamaEmbedder_Embed(t *testing.T) {
	srv := fakeOllama(t)
	defer srv.Close()

	e := NewOllamaEmbedder(OllamaConfig{Host: srv.URL, Model: "test-model"})
	defer func() { _ = e.Close() }()

	vec, err := e.Embed(context.Background(), "wireless mouse")
	require.NoError(t, err)
	assert.Len(t, vec, 4)
	// Dimensions are auto-detected from the first response.
	assert.Equal(t, 4, e.Dimensions())
}

func TestOllamaEmbedder_RejectsEmptyText(t *testing.T) {
	srv := fakeOllama(t)
	defer srv.Close()

	e := NewOllamaEmbedder(OllamaConfig{Host: srv.URL})
	defer func() { _ = e.Close() }()

	_, err := e.Embed(context.Background(), "   ")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInput))
}

func TestOllamaEmbedder_BatchPreservesOrderAndLength(t *testing.T) {
	srv := fakeOllama(t)
	defer srv.Close()

	e := NewOllamaEmbedder(OllamaConfig{Host: srv.URL, BatchSize: 2})
	defer func() { _ = e.Close() }()

	texts := []string{"aa", "", "cccc", "dddddd", "  "}
	vecs, err := e.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)

	require.Len(t, vecs, len(texts))
	assert.Nil(t, vecs[1])
	assert.Nil(t, vecs[4])
	for _, i := range []int{0, 2, 3} {
		assert.NotNil(t, vecs[i], "slot %d", i)
	}
	// Order preserved: the first component grows with text length, and
	// normalization keeps that ordering for these fixtures.
	assert.Less(t, vecs[0][0], vecs[3][0])
}

func TestOllamaEmbedder_DimensionDriftRejected(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		dims := 4
		if calls > 1 {
			dims = 8 // drift after the first call
		}
		emb := make([]float64, dims)
		emb[0] = 1
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float64{emb}})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(OllamaConfig{Host: srv.URL, MaxRetries: 1})
	defer func() { _ = e.Close() }()

	_, err := e.Embed(context.Background(), "first")
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "second")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeDimensionMismatch))
}

func TestOllamaEmbedder_TimeoutClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(OllamaConfig{Host: srv.URL, Timeout: 20 * time.Millisecond, MaxRetries: 1})
	defer func() { _ = e.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := e.Embed(ctx, "slow")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeUpstreamTimeout), "got %v", err)
}

func TestOllamaEmbedder_ServerErrorClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(OllamaConfig{Host: srv.URL, MaxRetries: 1})
	defer func() { _ = e.Close() }()

	_, err := e.Embed(context.Background(), "anything")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeEmbeddingFailed))
	assert.True(t, errors.IsRetryable(err))
}

func TestOllamaEmbedder_ClosedFails(t *testing.T) {
	e := NewOllamaEmbedder(OllamaConfig{})
	require.NoError(t, e.Close())

	_, err := e.Embed(context.Background(), "anything")
	assert.Error(t, err)
}
