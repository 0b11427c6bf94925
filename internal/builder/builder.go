package builder

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/marketlink/semsearch/internal/config"
	"github.com/marketlink/semsearch/internal/embed"
	"github.com/marketlink/semsearch/internal/errors"
	"github.com/marketlink/semsearch/internal/index"
)

const (
	// DefaultWorkers bounds concurrent embedding batches.
	DefaultWorkers = 4
)

// ErrNilEmbedder is returned when attempting to create a Builder without
// an embedder.
var ErrNilEmbedder = stderrors.New("embedder is required")

// Builder turns a document stream into a finished vector index.
//
// Partial-failure policy: an embedding failure for a single document is
// logged and the document skipped; the build succeeds if at least one
// document embeds, otherwise it fails with BuildFailed. Every surviving
// record's ID traces to exactly one source document.
type Builder struct {
	embedder  embed.Embedder
	compose   []config.ComposeField
	batchSize int
	workers   int
	indexOpts index.Options
}

// Option configures a Builder.
type Option func(*Builder)

// WithEmbedder sets the embedder. Required.
func WithEmbedder(e embed.Embedder) Option {
	return func(b *Builder) { b.embedder = e }
}

// WithComposeRule sets the deterministic text-composition rule applied
// to each document's fields.
func WithComposeRule(fields []config.ComposeField) Option {
	return func(b *Builder) { b.compose = fields }
}

// WithBatchSize sets the number of texts per embedding request.
func WithBatchSize(n int) Option {
	return func(b *Builder) { b.batchSize = n }
}

// WithWorkers bounds concurrent embedding batches.
func WithWorkers(n int) Option {
	return func(b *Builder) { b.workers = n }
}

// WithIndexOptions sets the options for the produced index.
func WithIndexOptions(opts index.Options) Option {
	return func(b *Builder) { b.indexOpts = opts }
}

// New creates a Builder.
func New(opts ...Option) (*Builder, error) {
	b := &Builder{
		batchSize: embed.DefaultBatchSize,
		workers:   DefaultWorkers,
	}
	for _, opt := range opts {
		opt(b)
	}

	if b.embedder == nil {
		return nil, ErrNilEmbedder
	}
	if len(b.compose) == 0 {
		b.compose = config.Default().Builder.Compose
	}
	if b.batchSize <= 0 {
		b.batchSize = embed.DefaultBatchSize
	}
	if b.workers <= 0 {
		b.workers = DefaultWorkers
	}
	b.indexOpts.Model = b.embedder.ModelName()
	return b, nil
}

// ComposeText renders a document's fields through the composition rule:
// each configured segment is Prefix + value + Suffix, empty values are
// dropped, segments join with single spaces. Deterministic for a fixed
// rule and field set.
func (b *Builder) ComposeText(fields map[string]string) string {
	segments := make([]string, 0, len(b.compose))
	for _, f := range b.compose {
		value := strings.TrimSpace(fields[f.Key])
		if value == "" {
			continue
		}
		segments = append(segments, f.Prefix+value+f.Suffix)
	}
	return strings.Join(segments, " ")
}

// Build drains the source, embeds every document, and constructs the
// index. It is a one-shot pipeline: embedding batches run concurrently,
// but a single finalized index is produced before anything is published.
func (b *Builder) Build(ctx context.Context, src DocumentSource) (*index.Index, error) {
	docs, err := b.drain(src)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, errors.BuildFailed("document source yielded no documents", nil)
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = b.ComposeText(doc.Fields)
	}

	vectors, err := b.embedAll(ctx, docs, texts)
	if err != nil {
		return nil, err
	}

	records := make([]index.Record, 0, len(docs))
	skipped := 0
	for i, doc := range docs {
		if vectors[i] == nil {
			skipped++
			slog.Warn("document_skipped",
				slog.String("id", doc.ID),
				slog.String("reason", "embedding failed or empty text"))
			continue
		}

		metadata := make(map[string]string, len(doc.Fields)+1)
		for k, v := range doc.Fields {
			metadata[k] = v
		}
		metadata["id"] = doc.ID

		records = append(records, index.Record{
			ID:       doc.ID,
			Text:     texts[i],
			Metadata: metadata,
			Vector:   vectors[i],
		})
	}

	if len(records) == 0 {
		return nil, errors.BuildFailed(
			fmt.Sprintf("no documents survived embedding (%d skipped)", skipped), nil)
	}

	slog.Info("index_built",
		slog.Int("records", len(records)),
		slog.Int("skipped", skipped),
		slog.String("model", b.indexOpts.Model))

	return index.Build(records, b.indexOpts)
}

// drain reads the whole source, deduplicating IDs keep-last.
func (b *Builder) drain(src DocumentSource) ([]Document, error) {
	var docs []Document
	seen := make(map[string]int)

	for {
		doc, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read document source: %w", err)
		}

		if pos, dup := seen[doc.ID]; dup {
			slog.Warn("duplicate_document_replaced", slog.String("id", doc.ID))
			docs[pos] = *doc
			continue
		}
		seen[doc.ID] = len(docs)
		docs = append(docs, *doc)
	}
	return docs, nil
}

// embedAll embeds texts in bounded-parallel batches. The returned slice
// is aligned with docs; nil entries mark documents to skip.
func (b *Builder) embedAll(ctx context.Context, docs []Document, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)

	for start := 0; start < len(texts); start += b.batchSize {
		start := start
		end := min(start+b.batchSize, len(texts))

		g.Go(func() error {
			batch := texts[start:end]
			vecs, err := b.embedder.EmbedBatch(gctx, batch)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				// Whole-batch failure: retry document by document so a
				// single bad listing cannot sink its batch neighbors.
				slog.Warn("batch_embedding_failed",
					slog.Int("batch_start", start),
					slog.String("error", err.Error()))
				vecs = b.embedOneByOne(gctx, docs[start:end], batch)
			}
			copy(vectors[start:end], vecs)
			return gctx.Err()
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("embedding pipeline aborted: %w", err)
	}
	return vectors, nil
}

// embedOneByOne is the per-document fallback after a batch failure.
// Individual failures yield nil slots.
func (b *Builder) embedOneByOne(ctx context.Context, docs []Document, texts []string) [][]float32 {
	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		if ctx.Err() != nil {
			return vecs
		}
		vec, err := b.embedder.Embed(ctx, text)
		if err != nil {
			slog.Warn("document_embedding_failed",
				slog.String("id", docs[i].ID),
				slog.String("error", err.Error()))
			continue
		}
		vecs[i] = vec
	}
	return vecs
}
