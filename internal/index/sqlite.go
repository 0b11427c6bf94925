package index

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO
)

// The record block of a persisted index lives in SQLite: one row per
// record, position-keyed so it stays parallel to the vector block.
const recordsSchema = `
CREATE TABLE records (
	position INTEGER PRIMARY KEY,
	id       TEXT NOT NULL UNIQUE,
	text     TEXT NOT NULL,
	metadata TEXT NOT NULL
);
`

// storedRecord is one row of the record block, without its vector.
type storedRecord struct {
	Position int
	ID       string
	Text     string
	Metadata map[string]string
}

// saveRecords writes the record block to a fresh SQLite database at
// path. The caller is responsible for atomic placement (temp + rename).
func saveRecords(path string, records []Record) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open records db: %w", err)
	}
	defer func() { _ = db.Close() }()

	if _, err := db.Exec(recordsSchema); err != nil {
		return fmt.Errorf("create records table: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin records tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`INSERT INTO records (position, id, text, metadata) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, rec := range records {
		meta, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for %s: %w", rec.ID, err)
		}
		if _, err := stmt.Exec(i, rec.ID, rec.Text, string(meta)); err != nil {
			return fmt.Errorf("insert record %s: %w", rec.ID, err)
		}
	}

	return tx.Commit()
}

// loadRecords reads the record block ordered by position. It validates
// nothing beyond SQL-level constraints; the caller cross-checks counts
// against the manifest and the vector block.
func loadRecords(path string) ([]storedRecord, error) {
	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open records db: %w", err)
	}
	defer func() { _ = db.Close() }()

	rows, err := db.Query(`SELECT position, id, text, metadata FROM records ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []storedRecord
	for rows.Next() {
		var rec storedRecord
		var meta string
		if err := rows.Scan(&rec.Position, &rec.ID, &rec.Text, &meta); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if err := json.Unmarshal([]byte(meta), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata for %s: %w", rec.ID, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}
