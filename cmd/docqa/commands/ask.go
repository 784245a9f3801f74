package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/showdoc/docqa/internal/answer"
	"github.com/showdoc/docqa/internal/logging"
	"github.com/showdoc/docqa/internal/provider"
	"github.com/showdoc/docqa/internal/retrieve"
)

// NewAskCmd constructs the `docqa ask` command, which answers a single
// question against an item's indexed documentation from the terminal.
// Useful for smoke-testing an index without going through the HTTP API.
func NewAskCmd() *cobra.Command {
	var itemID string

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question against an item's indexed documentation",
		Long: `Ask a natural language question against an item's indexed documentation.

The answer is grounded in the retrieved passages and cites its sources. When
the indexed documentation does not cover the question, docqa says so instead
of guessing.

Examples:
  docqa ask --item 42 "how do I authenticate against the API?"
  docqa ask --item payments-docs "what is the webhook retry policy?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			if itemID == "" {
				return fmt.Errorf("ask: --item is required")
			}

			chatModel, err := provider.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("ask: failed to initialise model provider: %w", err)
			}

			emb, err := buildEmbedder(log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			vstore, err := buildVectorStore(emb)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer func() { _ = vstore.Close() }()

			tracker := buildTracker(log)
			if tracker != nil {
				defer func() { _ = tracker.Close() }()
			}

			retriever, err := retrieve.New(emb, vstore, tracker, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			composer, err := answer.New(chatModel, 0, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			question := args[0]
			hits, err := retriever.Retrieve(ctx, itemID, question, retrieveOptionsFromEnv())
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			ans, err := composer.Compose(ctx, question, hits, nil)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			fmt.Println(ans.Text)
			if len(ans.Sources) > 0 {
				fmt.Println()
				fmt.Println("Sources:")
				for _, src := range ans.Sources {
					title := src.Title
					if title == "" {
						title = src.DocID
					}
					fmt.Printf("  [%d] %s\n", src.Ref, title)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&itemID, "item", "i", "", "Item (project) whose documentation is queried")

	return cmd
}
