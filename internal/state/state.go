// Package state provides a SQLite-backed record of what has been indexed.
// Each (item, document) pair carries the last version whose chunks were
// written to the vector store, so the indexer can skip stale jobs and report
// per-item status across restarts.
package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Marker records the outcome of the most recent successful indexing run for
// one document.
type Marker struct {
	// ItemID is the owning project.
	ItemID string
	// DocID is the document.
	DocID string
	// Version is the last version indexed into the vector store.
	Version int64
	// Chunks is the number of chunks that version produced.
	Chunks int
	// IndexedAt is when the run completed.
	IndexedAt time.Time
}

// ItemStatus summarizes one item's indexed footprint.
type ItemStatus struct {
	// ItemID is the project.
	ItemID string
	// Documents is the number of indexed documents.
	Documents int
	// Chunks is the total number of indexed chunks.
	Chunks int
	// LastIndexedAt is the most recent indexing run across the item.
	LastIndexedAt time.Time
}

// MarkerStore persists indexing markers. Implementations must be safe for
// concurrent use.
type MarkerStore interface {
	// Get returns the marker for a document, or (nil, nil) if the document
	// has never been indexed.
	Get(ctx context.Context, itemID, docID string) (*Marker, error)
	// Put records a successful indexing run, replacing any earlier marker.
	Put(ctx context.Context, m Marker) error
	// DeleteDocument removes a document's marker.
	DeleteDocument(ctx context.Context, itemID, docID string) error
	// DeleteItem removes every marker belonging to an item.
	DeleteItem(ctx context.Context, itemID string) error
	// Status summarizes an item's markers. Items with no markers return a
	// zero-valued status.
	Status(ctx context.Context, itemID string) (ItemStatus, error)
	// Close releases any resources held by the store.
	Close() error
}

// SQLiteStore is a MarkerStore backed by a local SQLite database.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

var _ MarkerStore = (*SQLiteStore)(nil)

// DefaultDBPath returns the default path for the marker database. It resolves
// to ~/.docqa/index.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("state: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".docqa")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("state: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "index.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("state: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS index_markers (
    item_id      TEXT    NOT NULL,
    doc_id       TEXT    NOT NULL,
    version      INTEGER NOT NULL,
    chunks       INTEGER NOT NULL,
    indexed_at   INTEGER NOT NULL,  -- Unix timestamp (seconds)
    PRIMARY KEY (item_id, doc_id)
);
CREATE INDEX IF NOT EXISTS idx_index_markers_item
    ON index_markers (item_id);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("state: migrate: %w", err)
	}
	return nil
}

// Get returns the marker for a document, or (nil, nil) if never indexed.
func (s *SQLiteStore) Get(ctx context.Context, itemID, docID string) (*Marker, error) {
	const q = `SELECT version, chunks, indexed_at FROM index_markers WHERE item_id = ? AND doc_id = ?`

	var (
		version int64
		chunks  int
		at      int64
	)
	err := s.db.QueryRowContext(ctx, q, itemID, docID).Scan(&version, &chunks, &at)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: get marker: %w", err)
	}

	return &Marker{
		ItemID:    itemID,
		DocID:     docID,
		Version:   version,
		Chunks:    chunks,
		IndexedAt: time.Unix(at, 0),
	}, nil
}

// Put records a successful indexing run, replacing any earlier marker for the
// same document.
func (s *SQLiteStore) Put(ctx context.Context, m Marker) error {
	const q = `
INSERT INTO index_markers (item_id, doc_id, version, chunks, indexed_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (item_id, doc_id) DO UPDATE SET
    version = excluded.version,
    chunks = excluded.chunks,
    indexed_at = excluded.indexed_at`

	at := m.IndexedAt
	if at.IsZero() {
		at = time.Now()
	}
	if _, err := s.db.ExecContext(ctx, q, m.ItemID, m.DocID, m.Version, m.Chunks, at.Unix()); err != nil {
		return fmt.Errorf("state: put marker: %w", err)
	}
	return nil
}

// DeleteDocument removes a document's marker. Deleting an absent marker is a
// no-op.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, itemID, docID string) error {
	const q = `DELETE FROM index_markers WHERE item_id = ? AND doc_id = ?`
	if _, err := s.db.ExecContext(ctx, q, itemID, docID); err != nil {
		return fmt.Errorf("state: delete marker: %w", err)
	}
	return nil
}

// DeleteItem removes every marker belonging to an item.
func (s *SQLiteStore) DeleteItem(ctx context.Context, itemID string) error {
	const q = `DELETE FROM index_markers WHERE item_id = ?`
	if _, err := s.db.ExecContext(ctx, q, itemID); err != nil {
		return fmt.Errorf("state: delete item markers: %w", err)
	}
	return nil
}

// Status summarizes an item's markers.
func (s *SQLiteStore) Status(ctx context.Context, itemID string) (ItemStatus, error) {
	const q = `
SELECT COUNT(*), COALESCE(SUM(chunks), 0), COALESCE(MAX(indexed_at), 0)
FROM index_markers WHERE item_id = ?`

	var (
		docs   int
		chunks int
		at     int64
	)
	if err := s.db.QueryRowContext(ctx, q, itemID).Scan(&docs, &chunks, &at); err != nil {
		return ItemStatus{}, fmt.Errorf("state: item status: %w", err)
	}

	st := ItemStatus{ItemID: itemID, Documents: docs, Chunks: chunks}
	if at > 0 {
		st.LastIndexedAt = time.Unix(at, 0)
	}
	return st, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
