// Package index orchestrates document indexing: chunking, embedding, vector
// upserts, and stale-version cleanup. Runs are idempotent and version-gated,
// so replayed or out-of-order jobs never regress the index.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/showdoc/docqa/internal/activity"
	"github.com/showdoc/docqa/internal/chunker"
	"github.com/showdoc/docqa/internal/embedder"
	"github.com/showdoc/docqa/internal/fault"
	"github.com/showdoc/docqa/internal/state"
	"github.com/showdoc/docqa/internal/vecstore"
)

// Request asks for one document version to be indexed.
type Request struct {
	// ItemID is the owning project.
	ItemID string
	// DocID is the document.
	DocID string
	// Version is the document's monotonically increasing version.
	Version int64
	// Title is the document title, stored for citation display.
	Title string
	// Content is the raw document text.
	Content string
}

// Outcome describes what an indexing run did.
type Outcome string

const (
	// OutcomeIndexed means the version's chunks were written.
	OutcomeIndexed Outcome = "indexed"
	// OutcomeSkipped means an equal or newer version was already indexed.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeEmptied means the document normalized to nothing and its
	// existing chunks were removed.
	OutcomeEmptied Outcome = "emptied"
)

// Result reports one indexing run.
type Result struct {
	// Outcome is what the run did.
	Outcome Outcome
	// Chunks is the number of chunks written (zero unless indexed).
	Chunks int
}

// Orchestrator runs the indexing pipeline. All writes go through the vector
// store and marker store it was constructed with.
type Orchestrator struct {
	chunks   *chunker.Chunker
	embed    embedder.Embedder
	store    vecstore.Store
	markers  state.MarkerStore
	activity activity.Tracker
	log      *slog.Logger
}

// New creates an Orchestrator. The embedder, vector store, and marker store
// are required; the activity tracker may be nil when cleanup is not used.
func New(cfg chunker.Config, embed embedder.Embedder, store vecstore.Store, markers state.MarkerStore, tracker activity.Tracker, log *slog.Logger) (*Orchestrator, error) {
	if embed == nil {
		return nil, fmt.Errorf("index: embedder is required")
	}
	if store == nil {
		return nil, fmt.Errorf("index: vector store is required")
	}
	if markers == nil {
		return nil, fmt.Errorf("index: marker store is required")
	}
	if log == nil {
		log = slog.Default()
	}

	return &Orchestrator{
		chunks:   chunker.New(cfg),
		embed:    embed,
		store:    store,
		markers:  markers,
		activity: tracker,
		log:      log,
	}, nil
}

// IndexDocument indexes one document version. It is a no-op when an equal or
// newer version is already indexed. On success the new version's chunks are
// live, every older version's chunks are gone, and the marker records the new
// version — in that order, so a crash mid-run leaves at worst a mix that the
// retriever's scoring still handles and a retry will repair.
func (o *Orchestrator) IndexDocument(ctx context.Context, req Request) (Result, error) {
	if req.ItemID == "" || req.DocID == "" {
		return Result{}, fault.Invalid("index.document", "item and document IDs are required")
	}
	if req.Version <= 0 {
		return Result{}, fault.Invalid("index.document", "version must be positive, got %d", req.Version)
	}

	log := o.log.With("item_id", req.ItemID, "doc_id", req.DocID, "version", req.Version)

	marker, err := o.markers.Get(ctx, req.ItemID, req.DocID)
	if err != nil {
		return Result{}, err
	}
	if marker != nil && marker.Version >= req.Version {
		log.Debug("skipping stale indexing request", "indexed_version", marker.Version)
		return Result{Outcome: OutcomeSkipped}, nil
	}

	text := chunker.Normalize(req.Content)
	if text == "" {
		// The document emptied out: remove whatever older versions left
		// behind, but keep the marker so older jobs stay gated.
		if err := o.store.DeleteDocument(ctx, req.ItemID, req.DocID, 0); err != nil {
			return Result{}, err
		}
		if err := o.markers.Put(ctx, state.Marker{ItemID: req.ItemID, DocID: req.DocID, Version: req.Version}); err != nil {
			return Result{}, err
		}
		log.Info("document emptied, removed indexed chunks")
		return Result{Outcome: OutcomeEmptied}, nil
	}

	chunks := o.chunks.Chunk(text)

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := o.embed.Embed(ctx, texts)
	if err != nil {
		return Result{}, err
	}

	entries := make([]vecstore.Entry, len(chunks))
	for i, c := range chunks {
		entries[i] = vecstore.Entry{
			ChunkID: chunker.ID(req.DocID, c.Seq),
			Vector:  vectors[i],
			Payload: vecstore.Payload{
				ItemID:    req.ItemID,
				DocID:     req.DocID,
				Version:   req.Version,
				Seq:       c.Seq,
				Title:     req.Title,
				Text:      c.Text,
				SpanStart: c.Span.Start,
				SpanEnd:   c.Span.End,
			},
		}
	}

	if err := o.store.Upsert(ctx, req.ItemID, entries); err != nil {
		return Result{}, err
	}
	// Deterministic chunk IDs mean same-seq chunks of the old version were
	// overwritten by the upsert; this removes the old version's tail.
	if err := o.store.DeleteDocument(ctx, req.ItemID, req.DocID, req.Version); err != nil {
		return Result{}, err
	}
	if err := o.markers.Put(ctx, state.Marker{
		ItemID:  req.ItemID,
		DocID:   req.DocID,
		Version: req.Version,
		Chunks:  len(chunks),
	}); err != nil {
		return Result{}, err
	}

	log.Info("indexed document", "chunks", len(chunks))
	return Result{Outcome: OutcomeIndexed, Chunks: len(chunks)}, nil
}

// DeleteDocument removes every indexed chunk and the marker for a document.
// Deleting an unindexed document is a no-op.
func (o *Orchestrator) DeleteDocument(ctx context.Context, itemID, docID string) error {
	if itemID == "" || docID == "" {
		return fault.Invalid("index.delete", "item and document IDs are required")
	}

	if err := o.store.DeleteDocument(ctx, itemID, docID, 0); err != nil {
		return err
	}
	if err := o.markers.DeleteDocument(ctx, itemID, docID); err != nil {
		return err
	}

	o.log.Info("deleted document from index", "item_id", itemID, "doc_id", docID)
	return nil
}

// DeleteItem removes an item's entire vector partition and all its markers.
func (o *Orchestrator) DeleteItem(ctx context.Context, itemID string) error {
	if itemID == "" {
		return fault.Invalid("index.deleteitem", "item ID is required")
	}

	if err := o.store.DeleteItem(ctx, itemID); err != nil {
		return err
	}
	if err := o.markers.DeleteItem(ctx, itemID); err != nil {
		return err
	}

	o.log.Info("deleted item from index", "item_id", itemID)
	return nil
}

// Status reports an item's indexed footprint: marker summary plus the live
// vector count.
type Status struct {
	// ItemID is the project.
	ItemID string
	// Documents is the number of indexed documents.
	Documents int
	// Chunks is the chunk count recorded by markers.
	Chunks int
	// Vectors is the live point count in the vector store.
	Vectors uint64
	// LastIndexedAt is the most recent indexing run.
	LastIndexedAt time.Time
}

// Status returns the item's current indexing status.
func (o *Orchestrator) Status(ctx context.Context, itemID string) (Status, error) {
	if itemID == "" {
		return Status{}, fault.Invalid("index.status", "item ID is required")
	}

	st, err := o.markers.Status(ctx, itemID)
	if err != nil {
		return Status{}, err
	}
	vectors, err := o.store.Count(ctx, itemID)
	if err != nil {
		return Status{}, err
	}

	return Status{
		ItemID:        itemID,
		Documents:     st.Documents,
		Chunks:        st.Chunks,
		Vectors:       vectors,
		LastIndexedAt: st.LastIndexedAt,
	}, nil
}

// CleanupUnused removes the vector data of items whose last recorded access
// is older than maxIdle (or missing entirely). It returns the IDs of the
// items it removed. Requires an activity tracker.
func (o *Orchestrator) CleanupUnused(ctx context.Context, maxIdle time.Duration) ([]string, error) {
	if o.activity == nil {
		return nil, fmt.Errorf("index: cleanup requires an activity tracker")
	}

	items, err := o.store.ListItems(ctx)
	if err != nil {
		return nil, err
	}

	var removed []string
	cutoff := time.Now().Add(-maxIdle)
	for _, itemID := range items {
		last, ok, err := o.activity.LastAccess(ctx, itemID)
		if err != nil {
			return removed, err
		}
		if ok && last.After(cutoff) {
			continue
		}

		if err := o.DeleteItem(ctx, itemID); err != nil {
			return removed, err
		}
		removed = append(removed, itemID)
	}

	if len(removed) > 0 {
		o.log.Info("cleaned up unused items", "count", len(removed))
	}
	return removed, nil
}
