package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/flightskb/flightskb/internal/config"
	"github.com/flightskb/flightskb/internal/indexer"
)

// handleStats implements the stats subcommand
func handleStats(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	var jsonOutput bool
	fs.BoolVar(&jsonOutput, "json", false, "Output as JSON")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `USAGE:
    flightskb stats [options]

DESCRIPTION:
    Show statistics about the current index.

OPTIONS:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		log.Fatal().Err(err).Msg("failed to parse arguments")
	}

	store := openStore(cfg)
	defer store.Close()

	stats, err := indexer.CollectStats(context.Background(), store, cfg.Paths.IndexDir)
	if err != nil {
		log.Fatal().Err(err).Msg("could not collect statistics")
	}

	if jsonOutput {
		out := map[string]any{
			"chunks":        stats.Chunks,
			"documents":     stats.Documents,
			"backend":       cfg.Vector.Backend,
			"dimensions":    cfg.Embedding.Dimensions,
			"by_type":       stats.ByType,
			"by_category":   stats.ByCategory,
			"by_confidence": stats.ByConfidence,
			"by_status":     stats.ByStatus,
		}
		if stats.LastRun != nil {
			out["last_run"] = stats.LastRun
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		fmt.Println(string(data))
		return
	}

	fmt.Println("Index statistics")
	fmt.Println()
	fmt.Printf("Documents: %6d\n", stats.Documents)
	fmt.Printf("Chunks:    %6d\n", stats.Chunks)
	printBreakdown("By type", stats.ByType)
	printBreakdown("By category", stats.ByCategory)
	printBreakdown("By confidence", stats.ByConfidence)
	printBreakdown("By status", stats.ByStatus)

	if stats.LastRun != nil {
		run := stats.LastRun
		fmt.Println()
		fmt.Printf("Last rebuild: %s (%s, %s)\n", run.StartedAt.Format("2006-01-02 15:04:05"), run.Mode, run.Status)
		fmt.Printf("  Model:    %s (%d dimensions, %s backend)\n", run.EmbeddingModel, cfg.Embedding.Dimensions, cfg.Vector.Backend)
		fmt.Printf("  Embedded: %d, removed: %d, warnings: %d\n", run.ChunksIndexed, run.ChunksRemoved, len(run.Warnings))
	}
}

func printBreakdown(name string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	fmt.Println()
	fmt.Printf("%s:\n", name)
	for _, key := range indexer.SortedKeys(counts) {
		fmt.Printf("  %-16s %6d\n", key, counts[key])
	}
}
