// Package retrieve turns a question into a ranked, budgeted set of chunks
// from one item's index. It overfetches from the vector store, re-ranks the
// candidates with literal keyword matches so exact terms the embedding missed
// still surface, drops near-duplicate hits from overlapping chunk spans, and
// trims the result to a context character budget. A chunk too large for the
// remaining budget is skipped rather than ending selection, so a smaller
// lower-ranked chunk can still fill the window; the budget itself is never
// exceeded.
package retrieve

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/showdoc/docqa/internal/activity"
	"github.com/showdoc/docqa/internal/embedder"
	"github.com/showdoc/docqa/internal/fault"
	"github.com/showdoc/docqa/internal/vecstore"
)

// Defaults applied when Options fields are zero.
const (
	DefaultTopK            = 5
	DefaultMaxContextChars = 8000

	// overfetchFactor is how many extra candidates to pull from the store
	// so dedupe and the score floor still leave topK usable hits.
	overfetchFactor = 3

	// maxKeywords bounds the number of query terms used for the keyword
	// re-rank leg.
	maxKeywords = 3

	// keywordWeight scales keyword-match scores against vector similarity.
	// Vector ranking leads; keyword matches adjust, they do not dominate.
	keywordWeight = 0.7
)

// Options tune one retrieval.
type Options struct {
	// TopK is the number of chunks wanted after dedupe (default 5).
	TopK int
	// MinScore drops hits scoring below it. Zero keeps everything.
	MinScore float32
	// MaxContextChars bounds the total text length of the returned chunks
	// (default 8000).
	MaxContextChars int
}

// Hit is one retrieved chunk.
type Hit struct {
	// ChunkID identifies the chunk.
	ChunkID string
	// Score is the similarity score.
	Score float32
	// DocID is the owning document.
	DocID string
	// Title is the document title.
	Title string
	// Text is the chunk text.
	Text string
	// SpanStart and SpanEnd locate Text within its document.
	SpanStart int
	SpanEnd   int
}

// Retriever answers "which chunks are relevant" for one item at a time.
type Retriever struct {
	embed   embedder.Embedder
	store   vecstore.Store
	tracker activity.Tracker
	log     *slog.Logger
}

// New creates a Retriever. The activity tracker may be nil.
func New(embed embedder.Embedder, store vecstore.Store, tracker activity.Tracker, log *slog.Logger) (*Retriever, error) {
	if embed == nil {
		return nil, fault.Invalid("retrieve.new", "embedder is required")
	}
	if store == nil {
		return nil, fault.Invalid("retrieve.new", "vector store is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Retriever{embed: embed, store: store, tracker: tracker, log: log}, nil
}

// Retrieve returns the item's most relevant chunks for the query. An item
// with no indexed content (or no sufficiently similar content) yields an
// empty slice, not an error.
func (r *Retriever) Retrieve(ctx context.Context, itemID, query string, opts Options) ([]Hit, error) {
	if itemID == "" {
		return nil, fault.Invalid("retrieve", "item ID is required")
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fault.Invalid("retrieve", "query is empty")
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	budget := opts.MaxContextChars
	if budget <= 0 {
		budget = DefaultMaxContextChars
	}

	vectors, err := r.embed.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}

	results, err := r.store.Search(ctx, itemID, vectors[0], topK*overfetchFactor)
	if err != nil {
		return nil, err
	}

	if r.tracker != nil {
		// Access tracking is advisory; a dead Redis must not break answers.
		if err := r.tracker.Touch(ctx, itemID); err != nil {
			r.log.Warn("failed to record item access", "item_id", itemID, "error", err)
		}
	}

	// The similarity floor applies to the vector score alone, before keyword
	// matches reshuffle the order.
	if opts.MinScore > 0 {
		filtered := results[:0]
		for _, res := range results {
			if res.Score >= opts.MinScore {
				filtered = append(filtered, res)
			}
		}
		results = filtered
	}
	results = rerank(results, query)

	hits := make([]Hit, 0, topK)
	used := 0
	for _, res := range results {
		if len(hits) == topK {
			break
		}
		if overlapsKept(hits, res) {
			continue
		}
		if used+len(res.Payload.Text) > budget {
			// A smaller later chunk may still fit.
			continue
		}

		hits = append(hits, Hit{
			ChunkID:   res.ChunkID,
			Score:     res.Score,
			DocID:     res.Payload.DocID,
			Title:     res.Payload.Title,
			Text:      res.Payload.Text,
			SpanStart: res.Payload.SpanStart,
			SpanEnd:   res.Payload.SpanEnd,
		})
		used += len(res.Payload.Text)
	}

	r.log.Debug("retrieved chunks", "item_id", itemID, "candidates", len(results), "kept", len(hits), "context_chars", used)
	return hits, nil
}

// rerank orders candidates by their vector score boosted with literal
// keyword occurrences, so a chunk containing the question's exact terms can
// rise above a semantically-close-but-wrong neighbor. With no usable query
// terms the vector order stands. Ties go to the lexically smaller chunk ID.
func rerank(results []vecstore.Result, query string) []vecstore.Result {
	keywords := queryKeywords(query)
	if len(keywords) == 0 {
		return results
	}

	type scored struct {
		res  vecstore.Result
		rank float32
	}
	ranked := make([]scored, len(results))
	for i, res := range results {
		ranked[i] = scored{
			res:  res,
			rank: res.Score + keywordWeight*keywordScore(res.Payload.Text, keywords),
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].rank != ranked[j].rank {
			return ranked[i].rank > ranked[j].rank
		}
		return ranked[i].res.ChunkID < ranked[j].res.ChunkID
	})

	out := make([]vecstore.Result, len(ranked))
	for i, s := range ranked {
		out[i] = s.res
	}
	return out
}

// queryKeywords extracts up to maxKeywords lowercased terms of at least two
// runes from the query for literal matching.
func queryKeywords(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	var keywords []string
	for _, f := range fields {
		if utf8.RuneCountInString(f) < 2 {
			continue
		}
		keywords = append(keywords, f)
		if len(keywords) == maxKeywords {
			break
		}
	}
	return keywords
}

// keywordScore counts keyword occurrences in text, scaled down so matches
// nudge the cosine-similarity ranking instead of swamping it.
func keywordScore(text string, keywords []string) float32 {
	text = strings.ToLower(text)
	count := 0
	for _, k := range keywords {
		count += strings.Count(text, k)
	}
	return float32(count) / 100
}

// overlapsKept reports whether the candidate's span overlaps a kept hit from
// the same document. Kept hits rank at least as high, so the candidate is
// the near-duplicate to drop.
func overlapsKept(kept []Hit, res vecstore.Result) bool {
	for _, h := range kept {
		if h.DocID != res.Payload.DocID {
			continue
		}
		if res.Payload.SpanStart < h.SpanEnd && h.SpanStart < res.Payload.SpanEnd {
			return true
		}
	}
	return false
}
