package builder

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSONL(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "listings.jsonl")
	content := ""
	for _, line := range lines {
		content += line + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func drainSource(t *testing.T, src DocumentSource) []Document {
	t.Helper()
	var docs []Document
	for {
		doc, err := src.Next()
		if err == io.EOF {
			return docs
		}
		require.NoError(t, err)
		docs = append(docs, *doc)
	}
}

func TestJSONLSource_ReadsDocuments(t *testing.T) {
	path := writeJSONL(t,
		`{"id": "p1", "name": "wireless mouse", "description": "ergonomic", "category": "electronics"}`,
		`{"id": "s1", "name": "home cleaning", "category": "services", "rating": 4.5, "active": true}`,
	)

	src, err := NewJSONLSource(path)
	require.NoError(t, err)
	defer func() { _ = src.Close() }()

	docs := drainSource(t, src)
	require.Len(t, docs, 2)

	assert.Equal(t, "p1", docs[0].ID)
	assert.Equal(t, "wireless mouse", docs[0].Fields["name"])
	assert.NotContains(t, docs[0].Fields, "id")

	// Scalar non-string values are formatted.
	assert.Equal(t, "4.5", docs[1].Fields["rating"])
	assert.Equal(t, "true", docs[1].Fields["active"])
}

func TestJSONLSource_SkipsBlankLines(t *testing.T) {
	path := writeJSONL(t,
		`{"id": "p1", "name": "one"}`,
		``,
		`{"id": "p2", "name": "two"}`,
	)

	src, err := NewJSONLSource(path)
	require.NoError(t, err)
	defer func() { _ = src.Close() }()

	docs := drainSource(t, src)
	assert.Len(t, docs, 2)
}

func TestJSONLSource_MalformedLineFails(t *testing.T) {
	path := writeJSONL(t, `{"id": "p1"`, `{"id": "p2"}`)

	src, err := NewJSONLSource(path)
	require.NoError(t, err)
	defer func() { _ = src.Close() }()

	_, err = src.Next()
	assert.ErrorContains(t, err, "malformed document")
}

func TestJSONLSource_MissingIDFails(t *testing.T) {
	path := writeJSONL(t, `{"name": "no id here"}`)

	src, err := NewJSONLSource(path)
	require.NoError(t, err)
	defer func() { _ = src.Close() }()

	_, err = src.Next()
	assert.ErrorContains(t, err, "missing string id")
}

func TestJSONLSource_MissingFileFails(t *testing.T) {
	_, err := NewJSONLSource("/nonexistent/listings.jsonl")
	assert.Error(t, err)
}

func TestSliceSource_DrainsAndEOFs(t *testing.T) {
	src := NewSliceSource([]Document{{ID: "a"}, {ID: "b"}})

	docs := drainSource(t, src)
	assert.Len(t, docs, 2)

	_, err := src.Next()
	assert.ErrorIs(t, err, io.EOF)
}
