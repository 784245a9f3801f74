// Package vecstore wraps the vector database behind upsert, delete, and
// search operations scoped by item (project). Scoping is structural: every
// operation takes the owning item's ID and implementations partition storage
// per item, so cross-item leakage is impossible rather than merely filtered.
package vecstore

import (
	"context"
	"sort"
)

// Payload is the metadata persisted alongside each vector. It is everything
// the retriever and composer need without a second lookup.
type Payload struct {
	// ItemID is the owning project.
	ItemID string
	// DocID is the owning document.
	DocID string
	// Version is the document version this chunk was indexed under.
	Version int64
	// Seq is the chunk's zero-based position within the document.
	Seq int
	// Title is the document title, used for citation display.
	Title string
	// Text is the chunk's text.
	Text string
	// SpanStart and SpanEnd locate Text within the normalized document.
	SpanStart int
	SpanEnd   int
}

// Entry is the persisted unit: an identified vector with its payload.
type Entry struct {
	// ChunkID is the deterministic chunk identifier (a UUID string).
	ChunkID string
	// Vector is the chunk's embedding.
	Vector []float32
	// Payload is the chunk metadata.
	Payload Payload
}

// Result is one search hit, ordered by descending score.
type Result struct {
	// ChunkID identifies the matched chunk.
	ChunkID string
	// Score is the similarity score assigned by the store.
	Score float32
	// Payload is the stored chunk metadata.
	Payload Payload
}

// Store is the vector index client. Implementations must be safe for
// concurrent use and must treat upserts as last-write-wins per ChunkID.
type Store interface {
	// Upsert inserts or replaces entries in itemID's partition.
	Upsert(ctx context.Context, itemID string, entries []Entry) error

	// DeleteDocument removes docID's entries from itemID's partition.
	// If versionLT > 0 only entries with Version < versionLT are removed;
	// otherwise all of the document's entries are removed. Deleting from a
	// partition that does not exist is a no-op.
	DeleteDocument(ctx context.Context, itemID, docID string, versionLT int64) error

	// DeleteItem removes itemID's entire partition.
	DeleteItem(ctx context.Context, itemID string) error

	// Search returns at most topK results from itemID's partition, sorted by
	// descending score with ties broken by smaller ChunkID. Searching a
	// partition that does not exist returns no results.
	Search(ctx context.Context, itemID string, vector []float32, topK int) ([]Result, error)

	// Count returns the number of entries in itemID's partition.
	Count(ctx context.Context, itemID string) (uint64, error)

	// ListItems returns the IDs of all item partitions, for sweepers.
	ListItems(ctx context.Context) ([]string, error)

	// Close releases any resources held by the store.
	Close() error
}

// sortResults orders hits by descending score, breaking ties by smaller
// ChunkID so searches are deterministic.
func sortResults(results []Result) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
}
