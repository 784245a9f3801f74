package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/showdoc/docqa/internal/index"
	"github.com/showdoc/docqa/internal/logging"
)

// NewCleanupCmd constructs the `docqa cleanup` command, a one-shot sweep of
// item indexes that have not been touched within the idle window.
func NewCleanupCmd() *cobra.Command {
	var maxIdleDays int
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove item indexes that have been idle too long",
		Long: `Remove vector collections for items whose documentation has neither been
indexed nor queried within the idle window. Requires the Redis activity
tracker (REDIS_ADDR).

Examples:
  docqa cleanup --max-idle-days 180
  docqa cleanup --max-idle-days 90 --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			if maxIdleDays <= 0 {
				return fmt.Errorf("cleanup: --max-idle-days must be positive")
			}

			emb, err := buildEmbedder(log)
			if err != nil {
				return fmt.Errorf("cleanup: %w", err)
			}

			vstore, err := buildVectorStore(emb)
			if err != nil {
				return fmt.Errorf("cleanup: %w", err)
			}
			defer func() { _ = vstore.Close() }()

			markers, err := buildMarkerStore(log)
			if err != nil {
				return fmt.Errorf("cleanup: %w", err)
			}
			defer func() { _ = markers.Close() }()

			tracker := buildTracker(log)
			if tracker == nil {
				return fmt.Errorf("cleanup: REDIS_ADDR is required for the activity tracker")
			}
			defer func() { _ = tracker.Close() }()

			orchestrator, err := index.New(chunkerConfigFromEnv(), emb, vstore, markers, tracker, log)
			if err != nil {
				return fmt.Errorf("cleanup: %w", err)
			}

			maxIdle := time.Duration(maxIdleDays) * 24 * time.Hour

			if dryRun {
				items, err := vstore.ListItems(ctx)
				if err != nil {
					return fmt.Errorf("cleanup: %w", err)
				}
				var idle []string
				for _, itemID := range items {
					last, ok, err := tracker.LastAccess(ctx, itemID)
					if err != nil {
						return fmt.Errorf("cleanup: %w", err)
					}
					if !ok || time.Since(last) > maxIdle {
						idle = append(idle, itemID)
					}
				}
				fmt.Printf("would remove %d idle item(s)\n", len(idle))
				for _, itemID := range idle {
					fmt.Printf("  %s\n", itemID)
				}
				return nil
			}

			removed, err := orchestrator.CleanupUnused(ctx, maxIdle)
			if err != nil {
				return fmt.Errorf("cleanup: %w", err)
			}
			fmt.Printf("removed %d idle item(s)\n", len(removed))
			for _, itemID := range removed {
				fmt.Printf("  %s\n", itemID)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&maxIdleDays, "max-idle-days", 180, "Idle window in days before an item's index is removed")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List idle items without deleting anything")

	return cmd
}
