// Command docqa is the entry point for the documentation Q&A backend.
// It provides a CLI interface (via Cobra) with an HTTP API server, an
// indexing worker, and maintenance commands.
package main

import (
	"fmt"
	"os"

	"github.com/showdoc/docqa/cmd/docqa/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
