// Package server implements the HTTP API for the documentation QA service:
// question answering over indexed project documentation plus the index
// management surface used by the platform's write path.
// The server is started by the `docqa serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/showdoc/docqa/internal/fault"
	"github.com/showdoc/docqa/internal/index"
	"github.com/showdoc/docqa/internal/logging"
	"github.com/showdoc/docqa/internal/queue"
	"github.com/showdoc/docqa/internal/retrieve"
)

// Deps bundles the domain components the server exposes.
type Deps struct {
	// Retriever fetches relevant chunks for questions.
	Retriever retriever
	// Composer generates grounded answers.
	Composer composer
	// Indexer runs index operations synchronously.
	Indexer indexer
	// Producer, when non-nil, makes index writes asynchronous.
	Producer enqueuer
}

// New constructs a Server from the provided dependencies and config.
func New(deps Deps, cfg *Config) (*Server, error) {
	if deps.Retriever == nil || deps.Composer == nil || deps.Indexer == nil {
		return nil, fmt.Errorf("server: retriever, composer, and indexer are required")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// Answer generation can take a while on slow local models.
		cfg.WriteTimeout = 2 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = logging.New()
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.APIKey == "" {
		log.Warn("SERVICE_TOKEN not set — API authentication is disabled")
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}

	s := &Server{
		retriever: deps.Retriever,
		composer:  deps.Composer,
		indexer:   deps.Indexer,
		producer:  deps.Producer,
		cfg:       cfg,
		log:       log,
		pingers:   cfg.Pingers,
		metrics:   newServerMetrics(cfg.Registry),
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, log)
	s.stopRL = stopRL

	// Protected routes require the bearer token and count against the
	// per-IP rate limit.
	protected := func(name string, h http.HandlerFunc) http.Handler {
		return s.instrument(name, authMiddleware(cfg.APIKey, rl.middleware(h)))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/ask", protected("ask", s.handleAsk))
	mux.Handle("POST /api/index/upsert", protected("index_upsert", s.handleUpsert))
	mux.Handle("POST /api/index/delete", protected("index_delete", s.handleDelete))
	mux.Handle("GET /api/index/status", protected("index_status", s.handleStatus))
	mux.Handle("GET /api/health", s.instrument("health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /api/ready", s.instrument("ready", http.HandlerFunc(s.handleReady)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(log, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("docqa server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.stopRL()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleAsk handles POST /api/ask: retrieve relevant chunks, compose a
// grounded answer, and return it with its citations.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ItemID == "" || req.Question == "" {
		http.Error(w, "item_id and question are required", http.StatusBadRequest)
		return
	}

	outcome := "error"
	defer func() {
		s.metrics.askRequestsTotal.WithLabelValues(outcome).Inc()
		s.metrics.askDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()

	hits, err := s.retriever.Retrieve(r.Context(), req.ItemID, req.Question, retrieve.Options{
		TopK:            req.TopK,
		MinScore:        req.MinScore,
		MaxContextChars: req.MaxContextChars,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	ans, err := s.composer.Compose(r.Context(), req.Question, hits, historyMessages(req.History))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := askResponse{Answer: ans.Text, Insufficient: ans.Insufficient, Sources: []askSource{}}
	for _, src := range ans.Sources {
		resp.Sources = append(resp.Sources, askSource{Ref: src.Ref, DocID: src.DocID, Title: src.Title})
	}

	if ans.Insufficient {
		outcome = "insufficient"
	} else {
		outcome = "ok"
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleUpsert handles POST /api/index/upsert. With a queue producer the job
// is enqueued and acknowledged with 202; otherwise indexing runs in-request.
func (s *Server) handleUpsert(w http.ResponseWriter, r *http.Request) {
	var req upsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if s.producer != nil {
		err := s.producer.Enqueue(r.Context(), queue.Job{
			Op:      queue.OpIndex,
			ItemID:  req.ItemID,
			DocID:   req.DocID,
			Version: req.Version,
			Title:   req.Title,
			Content: req.Content,
		})
		if err != nil {
			s.countIndexOp("upsert", "error")
			s.writeError(w, r, err)
			return
		}
		s.countIndexOp("upsert", "queued")
		writeJSON(w, http.StatusAccepted, queuedResponse{Queued: true})
		return
	}

	res, err := s.indexer.IndexDocument(r.Context(), index.Request{
		ItemID:  req.ItemID,
		DocID:   req.DocID,
		Version: req.Version,
		Title:   req.Title,
		Content: req.Content,
	})
	if err != nil {
		s.countIndexOp("upsert", "error")
		s.writeError(w, r, err)
		return
	}

	s.countIndexOp("upsert", string(res.Outcome))
	writeJSON(w, http.StatusOK, upsertResponse{Outcome: string(res.Outcome), Chunks: res.Chunks})
}

// handleDelete handles POST /api/index/delete for both document and item
// deletion.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ItemID == "" {
		http.Error(w, "item_id is required", http.StatusBadRequest)
		return
	}

	op := queue.OpDeleteItem
	if req.DocID != "" {
		op = queue.OpDeleteDocument
	}

	if s.producer != nil {
		err := s.producer.Enqueue(r.Context(), queue.Job{Op: op, ItemID: req.ItemID, DocID: req.DocID})
		if err != nil {
			s.countIndexOp("delete", "error")
			s.writeError(w, r, err)
			return
		}
		s.countIndexOp("delete", "queued")
		writeJSON(w, http.StatusAccepted, queuedResponse{Queued: true})
		return
	}

	var err error
	if req.DocID != "" {
		err = s.indexer.DeleteDocument(r.Context(), req.ItemID, req.DocID)
	} else {
		err = s.indexer.DeleteItem(r.Context(), req.ItemID)
	}
	if err != nil {
		s.countIndexOp("delete", "error")
		s.writeError(w, r, err)
		return
	}

	s.countIndexOp("delete", "ok")
	w.WriteHeader(http.StatusNoContent)
}

// handleStatus handles GET /api/index/status?item_id=...
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	itemID := r.URL.Query().Get("item_id")
	if itemID == "" {
		http.Error(w, "item_id is required", http.StatusBadRequest)
		return
	}

	st, err := s.indexer.Status(r.Context(), itemID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := statusResponse{
		ItemID:    st.ItemID,
		Documents: st.Documents,
		Chunks:    st.Chunks,
		Vectors:   st.Vectors,
	}
	if !st.LastIndexedAt.IsZero() {
		resp.LastIndexedAt = st.LastIndexedAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeError maps a fault kind to an HTTP status and writes a JSON error
// body. Internal detail stays in the log, not the response.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	log := logging.FromContext(r.Context())

	status := http.StatusBadGateway
	msg := "upstream failure"
	switch fault.KindOf(err) {
	case fault.KindInvalid:
		status = http.StatusBadRequest
		msg = err.Error()
	case fault.KindRateLimited:
		status = http.StatusTooManyRequests
		msg = "upstream rate limited"
		if hint := fault.RetryHint(err); hint > 0 {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(hint.Seconds())))
		}
	case fault.KindExhausted, fault.KindTransient:
		// Keep the 502 default.
	}

	if status != http.StatusBadRequest {
		log.Error("request failed", "error", err, "status", status)
	}
	http.Error(w, msg, status)
}

// countIndexOp bumps the index operation counter.
func (s *Server) countIndexOp(op, outcome string) {
	s.metrics.indexOpsTotal.WithLabelValues(op, outcome).Inc()
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// historyMessages converts wire-format turns to schema messages. Unknown
// roles are skipped.
func historyMessages(turns []askTurn) []*schema.Message {
	if len(turns) == 0 {
		return nil
	}
	msgs := make([]*schema.Message, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case "user":
			msgs = append(msgs, schema.UserMessage(t.Content))
		case "assistant":
			msgs = append(msgs, schema.AssistantMessage(t.Content, nil))
		}
	}
	return msgs
}
