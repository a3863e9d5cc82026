package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/flightskb/flightskb/internal/config"
	"github.com/flightskb/flightskb/internal/eval"
	"github.com/flightskb/flightskb/internal/query"
)

// handleEval implements the eval subcommand
func handleEval(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("eval", flag.ExitOnError)
	var queriesFile string
	var threshold float64
	fs.StringVar(&queriesFile, "queries", cfg.Eval.QueriesFile, "Path to the YAML test query suite")
	fs.Float64Var(&threshold, "threshold", cfg.Eval.Threshold, "Minimum recall@k to pass")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `USAGE:
    flightskb eval [options]

DESCRIPTION:
    Run the retrieval evaluation suite and report recall@k. Exits
    non-zero when recall falls below the threshold.

OPTIONS:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		log.Fatal().Err(err).Msg("failed to parse arguments")
	}

	queries, err := eval.LoadQueries(queriesFile)
	if err != nil {
		log.Fatal().Err(err).Msg("could not load eval queries")
	}

	store := openStore(cfg)
	defer store.Close()

	textIdx := openTextIndex(cfg)
	if textIdx != nil {
		defer textIdx.Close()
	}

	engine := query.NewEngine(cfg.Search, store, newEmbedder(cfg), textIdx)
	report, err := eval.Run(context.Background(), engine, queries, cfg.Search.DefaultK, threshold)
	if err != nil {
		log.Fatal().Err(err).Msg("evaluation failed")
	}

	for _, outcome := range report.Outcomes {
		mark := "MISS"
		if outcome.Hit {
			mark = "HIT "
		}
		fmt.Printf("[%s] %s\n", mark, outcome.Query)
		if !outcome.Hit {
			fmt.Printf("       expected: %s\n", strings.Join(outcome.Expected, ", "))
			if len(outcome.Returned) > 0 {
				fmt.Printf("       returned: %s\n", strings.Join(outcome.Returned, ", "))
			} else {
				fmt.Printf("       returned: (nothing)\n")
			}
		}
	}

	fmt.Println()
	fmt.Printf("recall@k: %.3f (%d/%d), threshold %.2f\n",
		report.RecallAtK, report.Hits, report.Total, report.Threshold)

	if !report.Passed() {
		fmt.Println("FAIL")
		os.Exit(1)
	}
	fmt.Println("PASS")
}
