package embed

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEmbedder wraps the static embedder and counts inner calls.
type countingEmbedder struct {
	*StaticEmbedder
	embeds      atomic.Int64
	batchTotals atomic.Int64
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.embeds.Add(1)
	return c.StaticEmbedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.batchTotals.Add(int64(len(texts)))
	return c.StaticEmbedder.EmbedBatch(ctx, texts)
}

func TestCachedEmbedder_HitSkipsInner(t *testing.T) {
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder(64)}
	cached := NewCachedEmbedder(inner, 10)

	ctx := context.Background()
	first, err := cached.Embed(ctx, "wireless mouse")
	require.NoError(t, err)
	second, err := cached.Embed(ctx, "wireless mouse")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), inner.embeds.Load())
	assert.Equal(t, 1, cached.CacheLen())
}

func TestCachedEmbedder_BatchSendsOnlyMisses(t *testing.T) {
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder(64)}
	cached := NewCachedEmbedder(inner, 10)

	ctx := context.Background()
	_, err := cached.Embed(ctx, "already cached")
	require.NoError(t, err)

	vecs, err := cached.EmbedBatch(ctx, []string{"already cached", "new text"})
	require.NoError(t, err)

	require.Len(t, vecs, 2)
	assert.NotNil(t, vecs[0])
	assert.NotNil(t, vecs[1])
	// Only the miss went to the inner embedder.
	assert.Equal(t, int64(1), inner.batchTotals.Load())
}

func TestCachedEmbedder_NilSlotsNotCached(t *testing.T) {
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder(64)}
	cached := NewCachedEmbedder(inner, 10)

	vecs, err := cached.EmbedBatch(context.Background(), []string{"ok", "   "})
	require.NoError(t, err)

	require.Len(t, vecs, 2)
	assert.Nil(t, vecs[1])
	assert.Equal(t, 1, cached.CacheLen())
}

func TestCachedEmbedder_Eviction(t *testing.T) {
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder(32)}
	cached := NewCachedEmbedder(inner, 2)

	ctx := context.Background()
	for _, text := range []string{"one", "two", "three"} {
		_, err := cached.Embed(ctx, text)
		require.NoError(t, err)
	}

	assert.Equal(t, 2, cached.CacheLen())
}

func TestCachedEmbedder_PassesThroughMetadata(t *testing.T) {
	inner := NewStaticEmbedder(96)
	cached := NewCachedEmbedder(inner, 0) // zero size falls back to default

	assert.Equal(t, 96, cached.Dimensions())
	assert.Equal(t, "static-hash", cached.ModelName())
}
