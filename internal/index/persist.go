package index

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/marketlink/semsearch/internal/errors"
)

// On-disk layout of a persisted index directory:
//
//	manifest.json  format marker, dimensions, count, metric, model
//	vectors.bin    count*dimensions float32, little-endian, position order
//	records.db     SQLite record block, parallel to vectors.bin
//	.lock          flock guarding writers against each other
//
// Files are written temp-then-rename with the manifest last, so a
// manifest always describes fully written companion files.
const (
	// ManifestFile is the commit marker of a persisted index. Watchers
	// reload when it changes.
	ManifestFile = "manifest.json"

	vectorsFile = "vectors.bin"
	recordsFile = "records.db"
	lockFile    = ".lock"

	// FormatVersion is the persisted index format version.
	FormatVersion = 1

	metricCosine = "cosine"
)

// Manifest describes a persisted index.
type Manifest struct {
	FormatVersion int    `json:"format_version"`
	Dimensions    int    `json:"dimensions"`
	Count         int    `json:"count"`
	Metric        string `json:"metric"`
	Model         string `json:"model"`
}

// Save persists the index into dir. Concurrent savers are serialized by
// a file lock; readers are protected by write-temp-then-rename ordering,
// not by the lock.
func (idx *Index) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}

	lock := flock.New(filepath.Join(dir, lockFile))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock index directory: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	recordsPath := filepath.Join(dir, recordsFile)
	if err := writeAtomic(recordsPath, func(tmp string) error {
		return saveRecords(tmp, idx.records)
	}); err != nil {
		return fmt.Errorf("write record block: %w", err)
	}

	vectorsPath := filepath.Join(dir, vectorsFile)
	if err := writeAtomic(vectorsPath, func(tmp string) error {
		return idx.writeVectors(tmp)
	}); err != nil {
		return fmt.Errorf("write vector block: %w", err)
	}

	manifest := Manifest{
		FormatVersion: FormatVersion,
		Dimensions:    idx.dims,
		Count:         len(idx.records),
		Metric:        metricCosine,
		Model:         idx.model,
	}
	manifestPath := filepath.Join(dir, ManifestFile)
	if err := writeAtomic(manifestPath, func(tmp string) error {
		data, err := json.MarshalIndent(manifest, "", "  ")
		if err != nil {
			return err
		}
		return os.WriteFile(tmp, data, 0o644)
	}); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	return nil
}

// Load reads a persisted index from dir. It fails with IndexNotFound if
// no index exists there and CorruptIndex if the container is truncated,
// malformed, or internally inconsistent. A process must refuse to serve
// on load failure rather than serve from a broken index.
func Load(dir string, opts Options) (*Index, error) {
	manifestPath := filepath.Join(dir, ManifestFile)
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Newf(errors.ErrCodeIndexNotFound, "no index at %s", dir)
		}
		return nil, errors.CorruptIndex("cannot read manifest", err)
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, errors.CorruptIndex("malformed manifest", err)
	}
	if manifest.FormatVersion != FormatVersion {
		return nil, errors.CorruptIndex(
			fmt.Sprintf("unsupported format version %d", manifest.FormatVersion), nil)
	}
	if manifest.Metric != metricCosine {
		return nil, errors.CorruptIndex(
			fmt.Sprintf("unsupported metric %q", manifest.Metric), nil)
	}
	if manifest.Dimensions <= 0 || manifest.Count <= 0 {
		return nil, errors.CorruptIndex(
			fmt.Sprintf("implausible manifest: %d dims, %d records",
				manifest.Dimensions, manifest.Count), nil)
	}

	vectors, err := readVectors(filepath.Join(dir, vectorsFile), manifest)
	if err != nil {
		return nil, err
	}

	stored, err := loadRecords(filepath.Join(dir, recordsFile))
	if err != nil {
		return nil, errors.CorruptIndex("cannot read record block", err)
	}
	if len(stored) != manifest.Count {
		return nil, errors.CorruptIndex(
			fmt.Sprintf("record block holds %d records, manifest says %d",
				len(stored), manifest.Count), nil)
	}

	records := make([]Record, len(stored))
	for i, rec := range stored {
		if rec.Position != i {
			return nil, errors.CorruptIndex(
				fmt.Sprintf("record positions not contiguous at %d", rec.Position), nil)
		}
		records[i] = Record{
			ID:       rec.ID,
			Text:     rec.Text,
			Metadata: rec.Metadata,
			Vector:   vectors[i],
		}
	}

	opts.Model = manifest.Model
	idx, err := Build(records, opts)
	if err != nil {
		return nil, errors.CorruptIndex("rebuilding loaded index failed", err)
	}
	if idx.Len() != manifest.Count {
		return nil, errors.CorruptIndex(
			fmt.Sprintf("loaded %d records, manifest says %d", idx.Len(), manifest.Count), nil)
	}
	return idx, nil
}

// writeVectors streams the normalized vectors as little-endian float32.
func (idx *Index) writeVectors(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)

	buf := make([]byte, 4)
	for _, rec := range idx.records {
		for _, v := range rec.Vector {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
			if _, err := w.Write(buf); err != nil {
				_ = f.Close()
				return err
			}
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// readVectors reads and shapes the vector block, validating its size
// against the manifest.
func readVectors(path string, manifest Manifest) ([][]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.CorruptIndex("cannot open vector block", err)
	}
	defer func() { _ = f.Close() }()

	want := int64(manifest.Count) * int64(manifest.Dimensions) * 4
	info, err := f.Stat()
	if err != nil {
		return nil, errors.CorruptIndex("cannot stat vector block", err)
	}
	if info.Size() != want {
		return nil, errors.CorruptIndex(
			fmt.Sprintf("vector block is %d bytes, expected %d", info.Size(), want), nil)
	}

	r := bufio.NewReader(f)
	buf := make([]byte, 4)
	vectors := make([][]float32, manifest.Count)
	for i := range vectors {
		vec := make([]float32, manifest.Dimensions)
		for j := range vec {
			if _, err := io.ReadFull(r, buf); err != nil {
				return nil, errors.CorruptIndex("truncated vector block", err)
			}
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(buf))
		}
		vectors[i] = vec
	}
	return vectors, nil
}

// writeAtomic runs write against a temp path next to path, then renames
// the result into place.
func writeAtomic(path string, write func(tmp string) error) error {
	tmp := path + ".tmp"
	_ = os.Remove(tmp)

	if err := write(tmp); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
