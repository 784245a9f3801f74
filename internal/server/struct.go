package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/showdoc/docqa/internal/answer"
	"github.com/showdoc/docqa/internal/index"
	"github.com/showdoc/docqa/internal/queue"
	"github.com/showdoc/docqa/internal/retrieve"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, slog.Default is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per client IP on
	// rate-limited endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// Registry receives this server's Prometheus metrics and serves
	// GET /metrics. If nil, a fresh registry is created.
	Registry *prometheus.Registry
}

// retriever is the interface handleAsk uses to fetch relevant chunks.
// *retrieve.Retriever satisfies it; tests inject a fake.
type retriever interface {
	Retrieve(ctx context.Context, itemID, query string, opts retrieve.Options) ([]retrieve.Hit, error)
}

// composer is the interface handleAsk uses to generate the answer.
// *answer.Composer satisfies it; tests inject a fake.
type composer interface {
	Compose(ctx context.Context, question string, hits []retrieve.Hit, history []*schema.Message) (answer.Answer, error)
}

// indexer is the interface the index handlers drive. *index.Orchestrator
// satisfies it; tests inject a fake.
type indexer interface {
	IndexDocument(ctx context.Context, req index.Request) (index.Result, error)
	DeleteDocument(ctx context.Context, itemID, docID string) error
	DeleteItem(ctx context.Context, itemID string) error
	Status(ctx context.Context, itemID string) (index.Status, error)
}

// enqueuer publishes indexing jobs to the queue. *queue.Producer satisfies
// it. When nil, index writes run synchronously in the request.
type enqueuer interface {
	Enqueue(ctx context.Context, job queue.Job) error
}

// Server is the HTTP server exposing the documentation QA API.
type Server struct {
	// retriever fetches relevant chunks for /api/ask.
	retriever retriever
	// composer generates grounded answers for /api/ask.
	composer composer
	// indexer handles synchronous index operations.
	indexer indexer
	// producer, when set, makes index writes asynchronous via the queue.
	producer enqueuer
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds this server's Prometheus instruments.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// askRequest is the JSON body for POST /api/ask.
type askRequest struct {
	// ItemID is the project whose documentation is queried.
	ItemID string `json:"item_id"`
	// Question is the user's natural language question.
	Question string `json:"question"`
	// TopK overrides the number of chunks retrieved (optional).
	TopK int `json:"top_k,omitempty"`
	// MinScore drops chunks scoring below it (optional).
	MinScore float32 `json:"min_score,omitempty"`
	// MaxContextChars bounds the retrieved context size (optional).
	MaxContextChars int `json:"max_context_chars,omitempty"`
	// History carries prior conversation turns, oldest first (optional).
	History []askTurn `json:"history,omitempty"`
}

// askTurn is one prior conversation turn.
type askTurn struct {
	// Role is "user" or "assistant".
	Role string `json:"role"`
	// Content is the turn's text.
	Content string `json:"content"`
}

// askSource is one citation in an answer.
type askSource struct {
	// Ref is the bracketed reference number in the answer text.
	Ref int `json:"ref"`
	// DocID is the cited document.
	DocID string `json:"doc_id"`
	// Title is the document title.
	Title string `json:"title"`
}

// askResponse is the JSON response for POST /api/ask.
type askResponse struct {
	// Answer is the composed answer text.
	Answer string `json:"answer"`
	// Sources lists the cited documents in reference order.
	Sources []askSource `json:"sources"`
	// Insufficient is true when the documentation had nothing relevant.
	Insufficient bool `json:"insufficient"`
}

// upsertRequest is the JSON body for POST /api/index/upsert.
type upsertRequest struct {
	// ItemID is the owning project.
	ItemID string `json:"item_id"`
	// DocID is the document.
	DocID string `json:"doc_id"`
	// Version is the document's monotonically increasing version.
	Version int64 `json:"version"`
	// Title is the document title.
	Title string `json:"title,omitempty"`
	// Content is the raw document text.
	Content string `json:"content"`
}

// upsertResponse is the JSON response for a synchronous upsert.
type upsertResponse struct {
	// Outcome is "indexed", "skipped", or "emptied".
	Outcome string `json:"outcome"`
	// Chunks is the number of chunks written.
	Chunks int `json:"chunks"`
}

// deleteRequest is the JSON body for POST /api/index/delete. An empty DocID
// deletes the whole item.
type deleteRequest struct {
	// ItemID is the owning project.
	ItemID string `json:"item_id"`
	// DocID is the document to delete; empty deletes the entire item.
	DocID string `json:"doc_id,omitempty"`
}

// queuedResponse acknowledges an asynchronous index operation.
type queuedResponse struct {
	// Queued is always true.
	Queued bool `json:"queued"`
}

// statusResponse is the JSON response for GET /api/index/status.
type statusResponse struct {
	// ItemID is the project.
	ItemID string `json:"item_id"`
	// Documents is the number of indexed documents.
	Documents int `json:"documents"`
	// Chunks is the chunk count recorded at indexing time.
	Chunks int `json:"chunks"`
	// Vectors is the live vector count.
	Vectors uint64 `json:"vectors"`
	// LastIndexedAt is the most recent indexing run (RFC 3339), empty when
	// nothing is indexed.
	LastIndexedAt string `json:"last_indexed_at,omitempty"`
}
