package commands

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/showdoc/docqa/internal/activity"
	"github.com/showdoc/docqa/internal/chunker"
	"github.com/showdoc/docqa/internal/embedder"
	"github.com/showdoc/docqa/internal/retrieve"
	"github.com/showdoc/docqa/internal/state"
	"github.com/showdoc/docqa/internal/vecstore"
)

// buildEmbedder validates the embedding configuration and constructs the
// batching embedding gateway from env vars.
func buildEmbedder(log *slog.Logger) (*embedder.Batcher, error) {
	if err := embedder.Validate(log); err != nil {
		return nil, err
	}
	return embedder.NewFromEnv()
}

// buildVectorStore connects to Qdrant using the embedder's dimensionality
// for collection creation.
func buildVectorStore(emb *embedder.Batcher) (*vecstore.QdrantStore, error) {
	return vecstore.NewQdrantStore(&vecstore.QdrantConfig{
		Host:             os.Getenv("QDRANT_HOST"),
		Port:             envInt("QDRANT_PORT", 0),
		CollectionPrefix: os.Getenv("QDRANT_COLLECTION_PREFIX"),
		VectorSize:       uint64(emb.Dim()),
		APIKey:           os.Getenv("QDRANT_API_KEY"),
		UseTLS:           os.Getenv("QDRANT_TLS") == "true",
	})
}

// buildMarkerStore opens the SQLite database holding last-indexed-version
// markers. DOCQA_STATE_DB overrides the default path (~/.docqa/index.db).
func buildMarkerStore(log *slog.Logger) (*state.SQLiteStore, error) {
	path := os.Getenv("DOCQA_STATE_DB")
	if path == "" {
		var err error
		path, err = state.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("state: could not resolve default DB path: %w", err)
		}
	}
	store, err := state.Open(path)
	if err != nil {
		return nil, err
	}
	log.Info("state: marker store opened", slog.String("path", path))
	return store, nil
}

// buildTracker constructs the Redis activity tracker if REDIS_ADDR is set.
// Without Redis, activity tracking (and unused-index cleanup) is disabled;
// indexing and questions still work.
func buildTracker(log *slog.Logger) activity.Tracker {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		log.Info("activity: tracking disabled", slog.String("reason", "REDIS_ADDR not set"))
		return nil
	}
	log.Info("activity: redis tracker enabled", slog.String("addr", addr))
	return activity.NewRedisTracker(addr, os.Getenv("REDIS_PASSWORD"), envInt("REDIS_DB", 0))
}

// chunkerConfigFromEnv returns the chunking configuration. Zero values fall
// back to the chunker's defaults.
func chunkerConfigFromEnv() chunker.Config {
	return chunker.Config{
		Size:    envInt("CHUNK_SIZE", 0),
		Overlap: envInt("CHUNK_OVERLAP", 0),
	}
}

// retrieveOptionsFromEnv returns the retrieval defaults applied to questions
// that do not override them per request.
func retrieveOptionsFromEnv() retrieve.Options {
	return retrieve.Options{
		TopK:            envInt("RETRIEVE_TOP_K", 0),
		MinScore:        float32(envFloat("RETRIEVE_MIN_SCORE", 0)),
		MaxContextChars: envInt("RETRIEVE_MAX_CONTEXT_CHARS", 0),
	}
}

// kafkaBrokers returns the configured broker list, or nil when the queue is
// disabled.
func kafkaBrokers() []string {
	raw := strings.TrimSpace(os.Getenv("KAFKA_BROKERS"))
	if raw == "" {
		return nil
	}
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// kafkaTopic returns the indexing job topic name.
func kafkaTopic() string {
	if t := os.Getenv("KAFKA_TOPIC"); t != "" {
		return t
	}
	return "docqa-index"
}

// envInt parses an integer env var, returning fallback when unset or invalid.
func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// envFloat parses a float env var, returning fallback when unset or invalid.
func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
