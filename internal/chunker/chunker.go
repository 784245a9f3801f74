// Package chunker splits document text into overlapping chunks suitable for
// embedding and retrieval. Chunking is a pure function of the input text and
// the configured window parameters: the same text always produces the same
// chunks, which keeps re-indexing idempotent.
package chunker

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// idNamespace is the fixed UUIDv5 namespace for chunk identifiers. Chunk IDs
// must be valid point IDs in the vector store, so they are derived as
// name-based UUIDs of (doc_id, sequence_no).
var idNamespace = uuid.MustParse("c6a7d2f0-3b5e-4a1c-9e8d-7f2b4c6d8e0a")

// Span is a half-open [Start, End) byte range into the normalized text.
type Span struct {
	// Start is the byte offset of the first byte of the chunk.
	Start int
	// End is the byte offset one past the last byte of the chunk.
	End int
}

// Chunk is one window of a document's normalized text.
type Chunk struct {
	// Seq is the zero-based, contiguous position of this chunk.
	Seq int
	// Text is the exact substring of the normalized text covered by Span.
	Text string
	// Span locates Text within the normalized document.
	Span Span
}

// ID derives the deterministic chunk identifier for (docID, seq).
// The same pair always yields the same UUID, so re-indexing a document
// overwrites its previous chunks point-for-point.
func ID(docID string, seq int) string {
	return uuid.NewSHA1(idNamespace, []byte(fmt.Sprintf("%s#%d", docID, seq))).String()
}

// Config holds the chunking window parameters.
type Config struct {
	// Size is the target chunk length in runes. Defaults to 1000.
	Size int
	// Overlap is the number of runes shared between consecutive chunks.
	// Defaults to 100. Values >= Size are clamped to Size/10.
	Overlap int
}

// Chunker splits normalized text into overlapping windows, preferring to cut
// at paragraph, sentence, and word boundaries in that order.
type Chunker struct {
	size    int
	overlap int
}

// New constructs a Chunker, applying defaults for zero values.
func New(cfg Config) *Chunker {
	size := cfg.Size
	if size <= 0 {
		size = 1000
	}
	overlap := cfg.Overlap
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 10
	}
	return &Chunker{size: size, overlap: overlap}
}

// Normalize prepares raw document text for chunking: line endings are
// canonicalized and surrounding whitespace is stripped. Spans produced by
// Chunk index into this normalized form.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.TrimSpace(text)
}

// Chunk splits text into an ordered sequence of chunks. The input is
// normalized first; an empty (or whitespace-only) input yields no chunks.
// Consecutive chunk spans overlap by up to the configured overlap, and their
// union covers the entire normalized text with no gaps. Cuts never land
// inside a multi-byte rune or immediately before a combining mark.
func (c *Chunker) Chunk(text string) []Chunk {
	text = Normalize(text)
	if text == "" {
		return nil
	}

	runes := []rune(text)

	// byteOff[i] is the byte offset of runes[i]; byteOff[len] is len(text).
	byteOff := make([]int, len(runes)+1)
	off := 0
	for i, r := range runes {
		byteOff[i] = off
		off += len(string(r))
	}
	byteOff[len(runes)] = off

	var chunks []Chunk
	start := 0
	for start < len(runes) {
		end := start + c.size
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = cutPoint(runes, start, end)
		}

		body := string(runes[start:end])
		if strings.TrimSpace(body) == "" && len(chunks) > 0 {
			// Whitespace-only remainder: extend the previous chunk's span so
			// coverage holds, but never emit an empty chunk.
			last := &chunks[len(chunks)-1]
			last.Span.End = byteOff[end]
			last.Text = text[last.Span.Start:last.Span.End]
		} else {
			chunks = append(chunks, Chunk{
				Seq:  len(chunks),
				Text: body,
				Span: Span{Start: byteOff[start], End: byteOff[end]},
			})
		}

		if end == len(runes) {
			break
		}
		next := end - c.overlap
		if next <= start {
			next = end
		}
		start = next
	}

	return chunks
}

// cutPoint returns the rune index at which to end a window that would
// otherwise close at limit. It searches backwards (at most half a window)
// for, in order of preference, a paragraph break, a sentence end, a line
// break, then any whitespace. If none is found the hard limit is used,
// backed off so the cut never separates a combining mark from its base.
func cutPoint(runes []rune, start, limit int) int {
	floor := limit - (limit-start)/2

	para, sentence, line, space := -1, -1, -1, -1
	for i := limit - 1; i >= floor; i-- {
		switch {
		case runes[i] == '\n' && i > 0 && runes[i-1] == '\n':
			if para < 0 {
				para = i + 1
			}
		case runes[i] == '\n':
			if line < 0 {
				line = i + 1
			}
		case isSentenceEnd(runes[i]) && i+1 < len(runes) && unicode.IsSpace(runes[i+1]):
			if sentence < 0 {
				sentence = i + 1
			}
		case unicode.IsSpace(runes[i]):
			if space < 0 {
				space = i + 1
			}
		}
	}

	for _, cut := range []int{para, sentence, line, space} {
		if cut > start {
			return cut
		}
	}

	// Hard cut: back off past combining marks so a grapheme is never split.
	cut := limit
	for cut > start+1 && isContinuation(runes[cut]) {
		cut--
	}
	return cut
}

// isSentenceEnd reports whether r terminates a sentence in either Latin or
// CJK punctuation.
func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}

// isContinuation reports whether r must not start a chunk: combining marks
// and joiners belong to the preceding base character.
func isContinuation(r rune) bool {
	return unicode.Is(unicode.Mn, r) || unicode.Is(unicode.Me, r) || r == '‍'
}
