package vecstore

import (
	"context"
	"testing"
)

func entry(chunkID, docID string, version int64, seq int, vec []float32) Entry {
	return Entry{
		ChunkID: chunkID,
		Vector:  vec,
		Payload: Payload{
			ItemID:  "item-1",
			DocID:   docID,
			Version: version,
			Seq:     seq,
			Text:    "text of " + chunkID,
		},
	}
}

func Test_MemoryStore_UpsertAndSearch(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	err := s.Upsert(ctx, "item-1", []Entry{
		entry("a", "doc-1", 1, 0, []float32{1, 0}),
		entry("b", "doc-1", 1, 1, []float32{0, 1}),
		entry("c", "doc-2", 1, 0, []float32{0.9, 0.1}),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	results, err := s.Search(ctx, "item-1", []float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ChunkID != "a" {
		t.Errorf("expected best match a, got %s", results[0].ChunkID)
	}
	if results[0].Score <= results[1].Score {
		t.Errorf("results not sorted by score: %v >= %v expected", results[0].Score, results[1].Score)
	}
	if results[0].Payload.Text != "text of a" {
		t.Errorf("payload not returned: %+v", results[0].Payload)
	}
}

func Test_MemoryStore_SearchTieBreaksByChunkID(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	// Identical vectors produce identical scores.
	err := s.Upsert(ctx, "item-1", []Entry{
		entry("zzz", "doc-1", 1, 0, []float32{1, 1}),
		entry("aaa", "doc-1", 1, 1, []float32{1, 1}),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	results, err := s.Search(ctx, "item-1", []float32{1, 1}, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results[0].ChunkID != "aaa" || results[1].ChunkID != "zzz" {
		t.Errorf("expected tie broken by chunk ID, got %s then %s", results[0].ChunkID, results[1].ChunkID)
	}
}

func Test_MemoryStore_ItemIsolation(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Upsert(ctx, "item-1", []Entry{entry("a", "doc-1", 1, 0, []float32{1, 0})}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Upsert(ctx, "item-2", []Entry{entry("b", "doc-9", 1, 0, []float32{1, 0})}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	results, err := s.Search(ctx, "item-1", []float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, r := range results {
		if r.Payload.DocID == "doc-9" {
			t.Fatalf("search leaked entry from another item: %+v", r)
		}
	}
	if len(results) != 1 {
		t.Errorf("expected 1 result, got %d", len(results))
	}
}

func Test_MemoryStore_UpsertReplacesByChunkID(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Upsert(ctx, "item-1", []Entry{entry("a", "doc-1", 1, 0, []float32{1, 0})}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	updated := entry("a", "doc-1", 2, 0, []float32{0, 1})
	updated.Payload.Text = "updated"
	if err := s.Upsert(ctx, "item-1", []Entry{updated}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	n, err := s.Count(ctx, "item-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 entry after replacement, got %d", n)
	}

	results, err := s.Search(ctx, "item-1", []float32{0, 1}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results[0].Payload.Text != "updated" || results[0].Payload.Version != 2 {
		t.Errorf("upsert did not replace payload: %+v", results[0].Payload)
	}
}

func Test_MemoryStore_DeleteDocumentVersionGate(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	err := s.Upsert(ctx, "item-1", []Entry{
		entry("old-1", "doc-1", 1, 0, []float32{1, 0}),
		entry("old-2", "doc-1", 1, 1, []float32{1, 0}),
		entry("new-1", "doc-1", 2, 0, []float32{1, 0}),
		entry("other", "doc-2", 1, 0, []float32{1, 0}),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := s.DeleteDocument(ctx, "item-1", "doc-1", 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	results, err := s.Search(ctx, "item-1", []float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 survivors, got %d", len(results))
	}
	for _, r := range results {
		if r.ChunkID == "old-1" || r.ChunkID == "old-2" {
			t.Errorf("stale version survived delete: %s", r.ChunkID)
		}
	}
}

func Test_MemoryStore_DeleteDocumentAllVersions(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	err := s.Upsert(ctx, "item-1", []Entry{
		entry("a", "doc-1", 1, 0, []float32{1, 0}),
		entry("b", "doc-1", 2, 0, []float32{1, 0}),
		entry("c", "doc-2", 1, 0, []float32{1, 0}),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := s.DeleteDocument(ctx, "item-1", "doc-1", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	n, err := s.Count(ctx, "item-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Errorf("expected only doc-2's entry to survive, got %d entries", n)
	}
}

func Test_MemoryStore_DeleteMissingIsNoop(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.DeleteDocument(ctx, "nope", "doc-1", 0); err != nil {
		t.Errorf("delete from missing item should be a no-op, got %v", err)
	}
	if err := s.DeleteItem(ctx, "nope"); err != nil {
		t.Errorf("delete of missing item should be a no-op, got %v", err)
	}
}

func Test_MemoryStore_DeleteItem(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Upsert(ctx, "item-1", []Entry{entry("a", "doc-1", 1, 0, []float32{1, 0})}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.DeleteItem(ctx, "item-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	n, err := s.Count(ctx, "item-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Errorf("expected empty partition after delete, got %d", n)
	}

	items, err := s.ListItems(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("expected no partitions, got %v", items)
	}
}

func Test_MemoryStore_SearchMissingItemReturnsEmpty(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	results, err := s.Search(context.Background(), "missing", []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func Test_Cosine(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		a, b []float32
		want float32
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := cosine(tc.a, tc.b)
			if diff := got - tc.want; diff > 1e-6 || diff < -1e-6 {
				t.Errorf("cosine(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
		})
	}
}
