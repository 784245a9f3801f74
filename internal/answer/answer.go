// Package answer composes grounded answers from retrieved chunks. The model
// is instructed to answer only from the supplied context and to cite sources
// by bracketed reference numbers, which are resolved back to documents after
// generation. When retrieval produced nothing usable, the composer refuses
// without calling the model at all.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/showdoc/docqa/internal/budget"
	"github.com/showdoc/docqa/internal/fault"
	"github.com/showdoc/docqa/internal/retrieve"
)

// InsufficientText is returned when the index holds nothing relevant enough
// to ground an answer.
const InsufficientText = "The documentation for this project does not contain enough information to answer that question."

const systemPrompt = `You are a documentation assistant. Answer the user's question using ONLY the numbered context passages below.

Rules:
- Base every statement on the context. Never use outside knowledge.
- Cite the passages you used with bracketed numbers, e.g. [1] or [2][3].
- If the context does not contain the answer, say so plainly instead of guessing.
- Answer in the language the question was asked in.

Context passages:
%s`

// ChatModel is the narrow slice of an eino chat model the composer needs.
type ChatModel interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// Source is one cited document reference.
type Source struct {
	// Ref is the bracketed number as it appears in the answer text.
	Ref int
	// DocID is the cited document.
	DocID string
	// Title is the document title.
	Title string
	// ChunkID is the specific chunk the reference resolves to.
	ChunkID string
}

// Answer is a composed response.
type Answer struct {
	// Text is the answer body, with unresolvable citation markers removed.
	Text string
	// Sources lists the cited references in ascending Ref order.
	Sources []Source
	// Insufficient is true when the composer refused for lack of context.
	Insufficient bool
}

// Composer builds prompts, invokes the model, and resolves citations.
type Composer struct {
	model     ChatModel
	maxTokens int
	log       *slog.Logger
}

// New creates a Composer. maxContextTokens bounds the estimated prompt size;
// zero selects budget.DefaultMaxContextTokens.
func New(chat ChatModel, maxContextTokens int, log *slog.Logger) (*Composer, error) {
	if chat == nil {
		return nil, fault.Invalid("answer.new", "chat model is required")
	}
	if maxContextTokens <= 0 {
		maxContextTokens = budget.DefaultMaxContextTokens
	}
	if log == nil {
		log = slog.Default()
	}
	return &Composer{model: chat, maxTokens: maxContextTokens, log: log}, nil
}

// Compose answers the question from the retrieved hits. history carries prior
// conversation turns (may be nil) and is trimmed oldest-first to fit the
// token budget. With no hits the model is not called and an insufficient
// answer is returned.
func (c *Composer) Compose(ctx context.Context, question string, hits []retrieve.Hit, history []*schema.Message) (Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Answer{}, fault.Invalid("answer.compose", "question is empty")
	}

	if len(hits) == 0 {
		c.log.Debug("no retrieved context, refusing without model call")
		return Answer{Text: InsufficientText, Insufficient: true}, nil
	}

	fixed := []*schema.Message{
		schema.SystemMessage(fmt.Sprintf(systemPrompt, renderContext(hits))),
		schema.UserMessage(question),
	}
	history = budget.TrimHistory(fixed, history, c.maxTokens)

	msgs := make([]*schema.Message, 0, len(history)+2)
	msgs = append(msgs, fixed[0])
	msgs = append(msgs, history...)
	msgs = append(msgs, fixed[1])

	reply, err := c.model.Generate(ctx, msgs)
	if err != nil {
		return Answer{}, classifyGenerate(err)
	}

	text, sources := resolveCitations(reply.Content, hits)
	c.log.Debug("composed answer", "sources", len(sources), "prompt_tokens_est", budget.EstimateMessages(msgs))
	return Answer{Text: text, Sources: sources}, nil
}

// classifyGenerate maps a provider failure to the fault taxonomy. Errors that
// already carry a kind pass through unchanged. Provider SDKs surface
// throttling as plain errors, so rate limits are recognized from the error
// text; everything else is Transient and left to the retry layer.
func classifyGenerate(err error) error {
	var fe *fault.Error
	if errors.As(err, &fe) {
		return err
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"429", "too many requests", "rate limit", "ratelimit", "throttl", "quota"} {
		if strings.Contains(msg, marker) {
			return fault.RateLimited("answer.generate", 0, err)
		}
	}
	return fault.Transient("answer.generate", err)
}

// renderContext formats hits as numbered passages. References are 1-based in
// retrieval rank order.
func renderContext(hits []retrieve.Hit) string {
	var b strings.Builder
	for i, h := range hits {
		if i > 0 {
			b.WriteString("\n\n")
		}
		title := h.Title
		if title == "" {
			title = "Untitled document"
		}
		fmt.Fprintf(&b, "[%d] %s\n%s", i+1, title, h.Text)
	}
	return b.String()
}

var citationRe = regexp.MustCompile(`\[(\d+)\]`)

// resolveCitations maps bracketed markers in the model output back to hits.
// Markers that do not correspond to a supplied passage are removed from the
// text; the answer itself is kept.
func resolveCitations(text string, hits []retrieve.Hit) (string, []Source) {
	seen := make(map[int]bool)
	var sources []Source

	out := citationRe.ReplaceAllStringFunc(text, func(marker string) string {
		n, err := strconv.Atoi(citationRe.FindStringSubmatch(marker)[1])
		if err != nil || n < 1 || n > len(hits) {
			return ""
		}
		if !seen[n] {
			seen[n] = true
			h := hits[n-1]
			sources = append(sources, Source{
				Ref:     n,
				DocID:   h.DocID,
				Title:   h.Title,
				ChunkID: h.ChunkID,
			})
		}
		return marker
	})

	// Ascending ref order regardless of mention order.
	for i := 1; i < len(sources); i++ {
		for j := i; j > 0 && sources[j-1].Ref > sources[j].Ref; j-- {
			sources[j-1], sources[j] = sources[j], sources[j-1]
		}
	}

	return strings.TrimSpace(out), sources
}
