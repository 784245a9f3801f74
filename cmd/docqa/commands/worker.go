package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/showdoc/docqa/internal/index"
	"github.com/showdoc/docqa/internal/logging"
	"github.com/showdoc/docqa/internal/queue"
	"github.com/showdoc/docqa/internal/retry"
)

// NewWorkerCmd constructs the `docqa worker` command, which consumes indexing
// jobs from Kafka and drives the indexing orchestrator.
func NewWorkerCmd() *cobra.Command {
	var maxIdleDays int
	var cleanupEvery time.Duration

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the indexing worker",
		Long: `Run the indexing worker.

The worker consumes indexing jobs from the Kafka topic and applies them to the
vector store: chunking, embedding, version-gated upserts, and deletes. Jobs
are keyed by document, so updates to the same document are processed in order.
Offsets are committed only after a job is handled, and transient failures are
retried with backoff before the job is dead-lettered.

With --max-idle-days > 0 the worker also sweeps item indexes that have not
been touched (indexed or queried) within that window.

Examples:
  KAFKA_BROKERS=kafka:9092 docqa worker
  docqa worker --max-idle-days 180`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			brokers := kafkaBrokers()
			if len(brokers) == 0 {
				return fmt.Errorf("worker: KAFKA_BROKERS is required")
			}

			emb, err := buildEmbedder(log)
			if err != nil {
				return fmt.Errorf("worker: %w", err)
			}

			vstore, err := buildVectorStore(emb)
			if err != nil {
				return fmt.Errorf("worker: %w", err)
			}
			defer func() { _ = vstore.Close() }()

			markers, err := buildMarkerStore(log)
			if err != nil {
				return fmt.Errorf("worker: %w", err)
			}
			defer func() { _ = markers.Close() }()

			tracker := buildTracker(log)
			if tracker != nil {
				defer func() { _ = tracker.Close() }()
			}

			orchestrator, err := index.New(chunkerConfigFromEnv(), emb, vstore, markers, tracker, log)
			if err != nil {
				return fmt.Errorf("worker: %w", err)
			}

			consumer, err := queue.NewConsumer(queue.ConsumerConfig{
				Brokers:         brokers,
				Topic:           kafkaTopic(),
				GroupID:         os.Getenv("KAFKA_GROUP_ID"),
				DeadLetterTopic: os.Getenv("KAFKA_DEAD_LETTER_TOPIC"),
				Retry:           retry.DefaultPolicy,
			}, orchestrator, log)
			if err != nil {
				return fmt.Errorf("worker: %w", err)
			}
			defer func() { _ = consumer.Close() }()

			if maxIdleDays > 0 {
				if tracker == nil {
					log.Warn("cleanup sweep disabled", slog.String("reason", "REDIS_ADDR not set"))
				} else {
					go runCleanupLoop(ctx, orchestrator, maxIdleDays, cleanupEvery, log)
				}
			}

			log.Info("worker starting",
				slog.String("topic", kafkaTopic()),
				slog.Int("brokers", len(brokers)),
			)
			return consumer.Run(ctx)
		},
	}

	cmd.Flags().IntVar(&maxIdleDays, "max-idle-days", 0, "Delete item indexes idle for more than this many days (0 disables)")
	cmd.Flags().DurationVar(&cleanupEvery, "cleanup-every", 24*time.Hour, "Interval between unused-index sweeps")

	return cmd
}

// runCleanupLoop periodically removes item indexes that have not been touched
// within the idle window. Errors are logged, never fatal for the worker.
func runCleanupLoop(ctx context.Context, orchestrator *index.Orchestrator, maxIdleDays int, every time.Duration, log *slog.Logger) {
	maxIdle := time.Duration(maxIdleDays) * 24 * time.Hour

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := orchestrator.CleanupUnused(ctx, maxIdle)
			if err != nil {
				log.Error("cleanup sweep failed", slog.Any("error", err))
				continue
			}
			if len(removed) > 0 {
				log.Info("cleanup sweep removed idle items",
					slog.Int("count", len(removed)),
					slog.Any("items", removed),
				)
			}
		}
	}
}
