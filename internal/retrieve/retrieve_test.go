package retrieve

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"

	"github.com/showdoc/docqa/internal/activity"
	"github.com/showdoc/docqa/internal/vecstore"
)

// fixedEmbedder returns the same vector for every input.
type fixedEmbedder struct {
	vec []float32
}

func (f *fixedEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// seed populates the store with entries whose scores against the query
// vector {1, 0} decrease as the angle grows.
func seed(t *testing.T, store vecstore.Store, entries []vecstore.Entry) {
	t.Helper()
	if err := store.Upsert(context.Background(), "item-1", entries); err != nil {
		t.Fatalf("failed to seed store: %v", err)
	}
}

// entryAt builds an entry whose cosine score against the query vector {1, 0}
// equals score (for scores in (0, 1]).
func entryAt(chunkID, docID string, score float32, spanStart, spanEnd int, text string) vecstore.Entry {
	y := float32(math.Sqrt(float64(1 - score*score)))
	return vecstore.Entry{
		ChunkID: chunkID,
		Vector:  []float32{score, y},
		Payload: vecstore.Payload{
			ItemID:    "item-1",
			DocID:     docID,
			Version:   1,
			Title:     "Doc " + docID,
			Text:      text,
			SpanStart: spanStart,
			SpanEnd:   spanEnd,
		},
	}
}

func newRetriever(t *testing.T, store vecstore.Store) *Retriever {
	t.Helper()
	r, err := New(&fixedEmbedder{vec: []float32{1, 0}}, store, nil, testLogger())
	if err != nil {
		t.Fatalf("failed to create retriever: %v", err)
	}
	return r
}

func Test_Retrieve_RanksByScore(t *testing.T) {
	t.Parallel()

	store := vecstore.NewMemoryStore()
	seed(t, store, []vecstore.Entry{
		entryAt("low", "doc-1", 0.2, 0, 10, "low text"),
		entryAt("high", "doc-2", 0.9, 0, 10, "high text"),
		entryAt("mid", "doc-3", 0.5, 0, 10, "mid text"),
	})

	hits, err := newRetriever(t, store).Retrieve(context.Background(), "item-1", "question", Options{TopK: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].ChunkID != "high" || hits[1].ChunkID != "mid" {
		t.Errorf("expected high then mid, got %s then %s", hits[0].ChunkID, hits[1].ChunkID)
	}
	if hits[0].Title != "Doc doc-2" || hits[0].Text != "high text" {
		t.Errorf("payload not carried through: %+v", hits[0])
	}
}

func Test_Retrieve_DropsOverlappingSpansSameDoc(t *testing.T) {
	t.Parallel()

	store := vecstore.NewMemoryStore()
	seed(t, store, []vecstore.Entry{
		entryAt("a", "doc-1", 0.9, 0, 100, "chunk a"),
		// Overlaps a's span in the same document.
		entryAt("b", "doc-1", 0.8, 80, 180, "chunk b"),
		// Same span range but a different document: kept.
		entryAt("c", "doc-2", 0.7, 0, 100, "chunk c"),
		// Same doc as a but disjoint span: kept.
		entryAt("d", "doc-1", 0.6, 200, 300, "chunk d"),
	})

	hits, err := newRetriever(t, store).Retrieve(context.Background(), "item-1", "question", Options{TopK: 4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := make([]string, len(hits))
	for i, h := range hits {
		got[i] = h.ChunkID
	}
	want := "a,c,d"
	if strings.Join(got, ",") != want {
		t.Errorf("expected hits %s, got %s", want, strings.Join(got, ","))
	}
}

func Test_Retrieve_MinScoreFloor(t *testing.T) {
	t.Parallel()

	store := vecstore.NewMemoryStore()
	seed(t, store, []vecstore.Entry{
		entryAt("high", "doc-1", 0.9, 0, 10, "high"),
		entryAt("low", "doc-2", 0.1, 0, 10, "low"),
	})

	hits, err := newRetriever(t, store).Retrieve(context.Background(), "item-1", "question", Options{TopK: 5, MinScore: 0.5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 1 || hits[0].ChunkID != "high" {
		t.Errorf("expected only the high-scoring hit, got %+v", hits)
	}
}

func Test_Retrieve_ContextBudget(t *testing.T) {
	t.Parallel()

	store := vecstore.NewMemoryStore()
	long := strings.Repeat("x", 90)
	short := strings.Repeat("y", 20)
	seed(t, store, []vecstore.Entry{
		entryAt("first", "doc-1", 0.9, 0, 90, long),
		// Does not fit after first, but the shorter third one does.
		entryAt("second", "doc-2", 0.8, 0, 90, long),
		entryAt("third", "doc-3", 0.7, 0, 20, short),
	})

	hits, err := newRetriever(t, store).Retrieve(context.Background(), "item-1", "question", Options{TopK: 5, MaxContextChars: 120})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits within budget, got %d", len(hits))
	}
	if hits[0].ChunkID != "first" || hits[1].ChunkID != "third" {
		t.Errorf("expected first and third, got %s and %s", hits[0].ChunkID, hits[1].ChunkID)
	}
}

func Test_Retrieve_EmptyIndexIsNotAnError(t *testing.T) {
	t.Parallel()

	store := vecstore.NewMemoryStore()
	hits, err := newRetriever(t, store).Retrieve(context.Background(), "item-1", "question", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("expected no hits, got %d", len(hits))
	}
}

func Test_Retrieve_Validation(t *testing.T) {
	t.Parallel()

	r := newRetriever(t, vecstore.NewMemoryStore())
	ctx := context.Background()

	if _, err := r.Retrieve(ctx, "", "question", Options{}); err == nil {
		t.Error("expected error for missing item ID")
	}
	if _, err := r.Retrieve(ctx, "item-1", "   ", Options{}); err == nil {
		t.Error("expected error for blank query")
	}
}

func Test_Retrieve_TouchesActivity(t *testing.T) {
	t.Parallel()

	store := vecstore.NewMemoryStore()
	tracker := activity.NewMemoryTracker()
	r, err := New(&fixedEmbedder{vec: []float32{1, 0}}, store, tracker, testLogger())
	if err != nil {
		t.Fatalf("failed to create retriever: %v", err)
	}

	ctx := context.Background()
	if _, err := r.Retrieve(ctx, "item-1", "question", Options{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, ok, err := tracker.LastAccess(ctx, "item-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected retrieval to record item access")
	}
}

func Test_Retrieve_DefaultTopK(t *testing.T) {
	t.Parallel()

	store := vecstore.NewMemoryStore()
	var entries []vecstore.Entry
	for i := 0; i < 10; i++ {
		score := 0.9 - float32(i)*0.05
		entries = append(entries, entryAt(
			fmt.Sprintf("c%02d", i), fmt.Sprintf("doc-%d", i), score, 0, 10, "text"))
	}
	seed(t, store, entries)

	hits, err := newRetriever(t, store).Retrieve(context.Background(), "item-1", "question", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != DefaultTopK {
		t.Errorf("expected default top-k %d hits, got %d", DefaultTopK, len(hits))
	}
}

func Test_Retrieve_KeywordMatchBoostsRanking(t *testing.T) {
	t.Parallel()

	store := vecstore.NewMemoryStore()
	seed(t, store, []vecstore.Entry{
		// Slightly better vector score, but no literal term overlap.
		entryAt("semantic", "doc-1", 0.80, 0, 60, "the editor saves drafts automatically while you type"),
		// Mentions the query terms literally: markdown twice, tables once.
		entryAt("exact", "doc-2", 0.79, 0, 60, "markdown tables render as markdown inside every page"),
	})

	hits, err := newRetriever(t, store).Retrieve(context.Background(), "item-1", "markdown tables", Options{TopK: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].ChunkID != "exact" {
		t.Errorf("expected the literal match to rank first, got %s", hits[0].ChunkID)
	}
}

func Test_Retrieve_MinScoreIgnoresKeywordBoost(t *testing.T) {
	t.Parallel()

	store := vecstore.NewMemoryStore()
	seed(t, store, []vecstore.Entry{
		entryAt("relevant", "doc-1", 0.9, 0, 20, "unrelated wording"),
		// Heavy literal overlap cannot rescue a chunk below the floor.
		entryAt("stuffed", "doc-2", 0.2, 0, 60, "markdown markdown markdown markdown markdown markdown"),
	})

	hits, err := newRetriever(t, store).Retrieve(context.Background(), "item-1", "markdown", Options{TopK: 5, MinScore: 0.5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 1 || hits[0].ChunkID != "relevant" {
		t.Errorf("expected only the hit above the similarity floor, got %+v", hits)
	}
}

func Test_QueryKeywords(t *testing.T) {
	t.Parallel()

	cases := []struct {
		query string
		want  []string
	}{
		{"Does ShowDoc support Markdown?", []string{"does", "showdoc", "support"}},
		{"a b markdown", []string{"markdown"}},
		{"API-token rotation", []string{"api", "token", "rotation"}},
		{"?? !", nil},
	}
	for _, tc := range cases {
		got := queryKeywords(tc.query)
		if strings.Join(got, ",") != strings.Join(tc.want, ",") {
			t.Errorf("queryKeywords(%q) = %v, want %v", tc.query, got, tc.want)
		}
	}
}
