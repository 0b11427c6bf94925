// Package builder constructs a vector index from a stream of raw listing
// documents: compose text, embed, assemble records.
//
// The document store itself is an external collaborator. The core only
// consumes (source-id, text-fields) tuples through DocumentSource; the
// JSONL source below is the shipped adapter for exported listing dumps.
package builder

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
)

// Document is one raw listing from the external document store.
type Document struct {
	// ID is the stable source identifier (e.g. the document id from the
	// upstream store).
	ID string
	// Fields holds the listing's text fields (name, description,
	// category, ...) keyed by field name.
	Fields map[string]string
}

// DocumentSource is a lazy, finite stream of documents. Next returns
// io.EOF after the last document.
type DocumentSource interface {
	Next() (*Document, error)
	Close() error
}

// JSONLSource reads documents from a JSON-lines file. Each line is one
// object with an "id" key; every other key becomes a text field. Scalar
// non-string values are formatted, nested values are ignored.
type JSONLSource struct {
	f       *os.File
	scanner *bufio.Scanner
	line    int
}

// Verify interface implementation at compile time.
var _ DocumentSource = (*JSONLSource)(nil)

// maxLineBytes bounds a single JSONL line (listing texts are short).
const maxLineBytes = 1 << 20

// NewJSONLSource opens a JSONL documents file.
func NewJSONLSource(path string) (*JSONLSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open documents file: %w", err)
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	return &JSONLSource{f: f, scanner: scanner}, nil
}

// Next returns the next document, or io.EOF at end of file.
func (s *JSONLSource) Next() (*Document, error) {
	for s.scanner.Scan() {
		s.line++
		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var raw map[string]any
		if err := json.Unmarshal(line, &raw); err != nil {
			return nil, fmt.Errorf("line %d: malformed document: %w", s.line, err)
		}

		id, ok := raw["id"].(string)
		if !ok || id == "" {
			return nil, fmt.Errorf("line %d: document missing string id", s.line)
		}

		fields := make(map[string]string, len(raw)-1)
		for key, value := range raw {
			if key == "id" {
				continue
			}
			switch v := value.(type) {
			case string:
				fields[key] = v
			case float64:
				fields[key] = strconv.FormatFloat(v, 'f', -1, 64)
			case bool:
				fields[key] = strconv.FormatBool(v)
			}
		}

		return &Document{ID: id, Fields: fields}, nil
	}

	if err := s.scanner.Err(); err != nil {
		return nil, fmt.Errorf("read documents file: %w", err)
	}
	return nil, io.EOF
}

// Close closes the underlying file.
func (s *JSONLSource) Close() error {
	return s.f.Close()
}

// SliceSource serves documents from memory. Used in tests and by callers
// that already hold their documents.
type SliceSource struct {
	docs []Document
	pos  int
}

// Verify interface implementation at compile time.
var _ DocumentSource = (*SliceSource)(nil)

// NewSliceSource creates a source over docs.
func NewSliceSource(docs []Document) *SliceSource {
	return &SliceSource{docs: docs}
}

// Next returns the next document, or io.EOF when drained.
func (s *SliceSource) Next() (*Document, error) {
	if s.pos >= len(s.docs) {
		return nil, io.EOF
	}
	doc := s.docs[s.pos]
	s.pos++
	return &doc, nil
}

// Close is a no-op.
func (s *SliceSource) Close() error {
	return nil
}
