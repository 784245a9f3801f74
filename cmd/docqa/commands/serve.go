package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/spf13/cobra"

	"github.com/showdoc/docqa/internal/activity"
	"github.com/showdoc/docqa/internal/answer"
	"github.com/showdoc/docqa/internal/index"
	"github.com/showdoc/docqa/internal/logging"
	"github.com/showdoc/docqa/internal/provider"
	"github.com/showdoc/docqa/internal/queue"
	"github.com/showdoc/docqa/internal/retrieve"
	"github.com/showdoc/docqa/internal/server"
	"github.com/showdoc/docqa/internal/tracing"
)

// NewServeCmd constructs the `docqa serve` command, which starts the HTTP
// API server for the documentation platform.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the docqa HTTP API server",
		Long: `Start the docqa HTTP server.

The server exposes the question-answering and indexing API consumed by the
documentation platform. When KAFKA_BROKERS is set, index writes are enqueued
for the worker; otherwise they run synchronously in the request.

Examples:
  docqa serve
  docqa serve --port 9090
  MODEL_PROVIDER=azure docqa serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("provider", os.Getenv("MODEL_PROVIDER")))

			// Setup Langfuse tracing — opt-in, no-op if keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			chatModel, err := provider.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("serve: failed to initialise model provider: %w", err)
			}

			emb, err := buildEmbedder(log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			log.Info("embedder initialised",
				slog.String("model", emb.Model()),
				slog.Int("dimensions", emb.Dim()),
			)

			vstore, err := buildVectorStore(emb)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() { _ = vstore.Close() }()

			markers, err := buildMarkerStore(log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() { _ = markers.Close() }()

			tracker := buildTracker(log)
			if tracker != nil {
				defer func() { _ = tracker.Close() }()
			}

			orchestrator, err := index.New(chunkerConfigFromEnv(), emb, vstore, markers, tracker, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			retriever, err := retrieve.New(emb, vstore, tracker, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			composer, err := answer.New(chatModel, 0, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			deps := server.Deps{
				Retriever: retriever,
				Composer:  composer,
				Indexer:   orchestrator,
			}

			pingers := []server.Pinger{server.NewQdrantPinger(vstore.Client())}
			if rt, isRedis := tracker.(*activity.RedisTracker); isRedis {
				pingers = append(pingers, server.NewRedisPinger(rt.Client()))
			}

			if brokers := kafkaBrokers(); len(brokers) > 0 {
				producer, perr := queue.NewProducer(brokers, kafkaTopic())
				if perr != nil {
					return fmt.Errorf("serve: %w", perr)
				}
				defer func() { _ = producer.Close() }()
				deps.Producer = producer
				pingers = append(pingers, server.NewKafkaPinger(brokers[0]))
				log.Info("index queue enabled", slog.String("topic", kafkaTopic()))
			} else {
				log.Info("index queue disabled, indexing synchronously")
			}

			srv, err := server.New(deps, &server.Config{
				Host:      host,
				Port:      port,
				Logger:    log,
				Pingers:   pingers,
				RateLimit: envFloat("SERVER_RATE_LIMIT", 0),
				RateBurst: envInt("SERVER_RATE_BURST", 0),
				APIKey:    os.Getenv("SERVICE_TOKEN"),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}
