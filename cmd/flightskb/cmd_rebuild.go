package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/flightskb/flightskb/internal/config"
	"github.com/flightskb/flightskb/internal/indexer"
)

// handleRebuild implements the rebuild subcommand
func handleRebuild(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("rebuild", flag.ExitOnError)
	var full bool
	var noProgress bool
	fs.BoolVar(&full, "full", false, "Re-embed every card regardless of stored hashes")
	fs.BoolVar(&noProgress, "no-progress", false, "Disable the progress bar")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `USAGE:
    flightskb rebuild [options]

DESCRIPTION:
    Rebuild the search index from the knowledge corpus. By default only
    cards whose content changed since the last rebuild are re-embedded.

OPTIONS:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
EXAMPLES:
    # Incremental rebuild
    flightskb rebuild

    # Re-embed the entire corpus
    flightskb rebuild -full
`)
	}

	if err := fs.Parse(args); err != nil {
		log.Fatal().Err(err).Msg("failed to parse arguments")
	}

	store := openStore(cfg)
	defer store.Close()

	builder := indexer.NewBuilder(cfg, store, newEmbedder(cfg))

	reporter := indexer.NewProgress(!noProgress && indexer.DefaultProgressEnabled())
	run, err := builder.Rebuild(context.Background(), indexer.RebuildOptions{
		Full:     full,
		Reporter: reporter,
	})
	if err != nil {
		if errors.Is(err, indexer.ErrRebuildRunning) {
			log.Fatal().Msg("another rebuild is already in progress")
		}
		log.Fatal().Err(err).Msg("rebuild failed")
	}

	fmt.Printf("Rebuild %s (%s)\n", run.Status, run.Mode)
	fmt.Printf("  Documents:  %d\n", run.DocumentsProcessed)
	fmt.Printf("  Embedded:   %d\n", run.ChunksIndexed)
	fmt.Printf("  Removed:    %d\n", run.ChunksRemoved)
	fmt.Printf("  Duration:   %s\n", run.Duration().Round(time.Millisecond))
	if len(run.Warnings) > 0 {
		fmt.Printf("  Warnings (%d):\n", len(run.Warnings))
		for _, w := range run.Warnings {
			fmt.Printf("    - %s\n", w)
		}
	}
}
