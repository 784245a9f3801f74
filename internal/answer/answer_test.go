package answer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/showdoc/docqa/internal/fault"
	"github.com/showdoc/docqa/internal/retrieve"
)

// fakeModel returns a canned reply and records what it was asked.
type fakeModel struct {
	reply string
	err   error
	calls int
	msgs  []*schema.Message
}

func (f *fakeModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.calls++
	f.msgs = input
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testHits() []retrieve.Hit {
	return []retrieve.Hit{
		{ChunkID: "c1", DocID: "doc-1", Title: "Login API", Text: "POST /login returns a token."},
		{ChunkID: "c2", DocID: "doc-2", Title: "Logout API", Text: "POST /logout clears the session."},
	}
}

func Test_Compose_CitesSources(t *testing.T) {
	t.Parallel()

	m := &fakeModel{reply: "Call the login endpoint [1], then log out [2]."}
	c, err := New(m, 0, testLogger())
	if err != nil {
		t.Fatalf("failed to create composer: %v", err)
	}

	ans, err := c.Compose(context.Background(), "How do I log in?", testHits(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ans.Insufficient {
		t.Fatal("expected a grounded answer")
	}
	if len(ans.Sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(ans.Sources))
	}
	if ans.Sources[0].Title != "Login API" || ans.Sources[0].DocID != "doc-1" || ans.Sources[0].Ref != 1 {
		t.Errorf("first source mismatch: %+v", ans.Sources[0])
	}
	if ans.Sources[1].ChunkID != "c2" {
		t.Errorf("second source mismatch: %+v", ans.Sources[1])
	}
}

func Test_Compose_NoHitsSkipsModel(t *testing.T) {
	t.Parallel()

	m := &fakeModel{reply: "should never be used"}
	c, err := New(m, 0, testLogger())
	if err != nil {
		t.Fatalf("failed to create composer: %v", err)
	}

	ans, err := c.Compose(context.Background(), "Anything?", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ans.Insufficient {
		t.Error("expected insufficient answer")
	}
	if ans.Text != InsufficientText {
		t.Errorf("unexpected refusal text: %q", ans.Text)
	}
	if m.calls != 0 {
		t.Errorf("model must not be called without context, got %d calls", m.calls)
	}
}

func Test_Compose_DropsUnresolvableCitations(t *testing.T) {
	t.Parallel()

	m := &fakeModel{reply: "Use login [1] and something imaginary [7]."}
	c, err := New(m, 0, testLogger())
	if err != nil {
		t.Fatalf("failed to create composer: %v", err)
	}

	ans, err := c.Compose(context.Background(), "How do I log in?", testHits(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(ans.Text, "[7]") {
		t.Errorf("unresolvable marker survived: %q", ans.Text)
	}
	if !strings.Contains(ans.Text, "[1]") {
		t.Errorf("valid marker removed: %q", ans.Text)
	}
	if len(ans.Sources) != 1 || ans.Sources[0].Ref != 1 {
		t.Errorf("expected one resolved source, got %+v", ans.Sources)
	}
}

func Test_Compose_DeduplicatesRepeatedCitations(t *testing.T) {
	t.Parallel()

	m := &fakeModel{reply: "Login [1] issues a token [1]. See also [2] then again [1]."}
	c, err := New(m, 0, testLogger())
	if err != nil {
		t.Fatalf("failed to create composer: %v", err)
	}

	ans, err := c.Compose(context.Background(), "How do tokens work?", testHits(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ans.Sources) != 2 {
		t.Fatalf("expected 2 unique sources, got %d", len(ans.Sources))
	}
	if ans.Sources[0].Ref != 1 || ans.Sources[1].Ref != 2 {
		t.Errorf("sources not in ascending ref order: %+v", ans.Sources)
	}
}

func Test_Compose_PromptContainsContextAndRules(t *testing.T) {
	t.Parallel()

	m := &fakeModel{reply: "ok"}
	c, err := New(m, 0, testLogger())
	if err != nil {
		t.Fatalf("failed to create composer: %v", err)
	}

	if _, err := c.Compose(context.Background(), "How do I log in?", testHits(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(m.msgs) != 2 {
		t.Fatalf("expected system + user message, got %d", len(m.msgs))
	}
	system := m.msgs[0]
	if system.Role != schema.System {
		t.Fatalf("first message should be the system prompt, got role %s", system.Role)
	}
	for _, want := range []string{"[1] Login API", "POST /login returns a token.", "[2] Logout API", "ONLY"} {
		if !strings.Contains(system.Content, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
	if m.msgs[1].Content != "How do I log in?" {
		t.Errorf("user message mismatch: %q", m.msgs[1].Content)
	}
}

func Test_Compose_HistoryBetweenSystemAndQuestion(t *testing.T) {
	t.Parallel()

	m := &fakeModel{reply: "ok"}
	c, err := New(m, 0, testLogger())
	if err != nil {
		t.Fatalf("failed to create composer: %v", err)
	}

	history := []*schema.Message{
		schema.UserMessage("earlier question"),
		schema.AssistantMessage("earlier answer", nil),
	}
	if _, err := c.Compose(context.Background(), "follow-up", testHits(), history); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(m.msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(m.msgs))
	}
	if m.msgs[1].Content != "earlier question" || m.msgs[2].Content != "earlier answer" {
		t.Error("history not placed between system prompt and question")
	}
	if m.msgs[3].Content != "follow-up" {
		t.Errorf("question should come last, got %q", m.msgs[3].Content)
	}
}

func Test_Compose_ModelFailure(t *testing.T) {
	t.Parallel()

	m := &fakeModel{err: errors.New("upstream unavailable")}
	c, err := New(m, 0, testLogger())
	if err != nil {
		t.Fatalf("failed to create composer: %v", err)
	}

	if _, err := c.Compose(context.Background(), "question", testHits(), nil); err == nil {
		t.Error("expected model failure to propagate")
	}
}

func Test_Compose_ClassifiesGenerationErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want fault.Kind
	}{
		{"plain failure is transient", errors.New("upstream unavailable"), fault.KindTransient},
		{"http 429 is rate limited", errors.New("request failed with status 429 Too Many Requests"), fault.KindRateLimited},
		{"provider throttle is rate limited", errors.New("ThrottlingException: rate exceeded"), fault.KindRateLimited},
		{"quota exhaustion is rate limited", errors.New("You exceeded your current quota"), fault.KindRateLimited},
		{"classified error passes through", fault.RateLimited("provider.generate", 7*time.Second, errors.New("slow down")), fault.KindRateLimited},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			c, err := New(&fakeModel{err: tc.err}, 0, testLogger())
			if err != nil {
				t.Fatalf("failed to create composer: %v", err)
			}

			_, err = c.Compose(context.Background(), "question", testHits(), nil)
			if err == nil {
				t.Fatal("expected an error")
			}
			if got := fault.KindOf(err); got != tc.want {
				t.Errorf("expected kind %v, got %v (%v)", tc.want, got, err)
			}
		})
	}
}

func Test_Compose_RateLimitKeepsRetryHint(t *testing.T) {
	t.Parallel()

	cause := fault.RateLimited("provider.generate", 7*time.Second, errors.New("slow down"))
	c, err := New(&fakeModel{err: cause}, 0, testLogger())
	if err != nil {
		t.Fatalf("failed to create composer: %v", err)
	}

	_, err = c.Compose(context.Background(), "question", testHits(), nil)
	if got := fault.RetryHint(err); got != 7*time.Second {
		t.Errorf("expected the provider retry hint to survive, got %v", got)
	}
}

func Test_Compose_BlankQuestion(t *testing.T) {
	t.Parallel()

	c, err := New(&fakeModel{}, 0, testLogger())
	if err != nil {
		t.Fatalf("failed to create composer: %v", err)
	}

	if _, err := c.Compose(context.Background(), "  ", testHits(), nil); err == nil {
		t.Error("expected error for blank question")
	}
}
