package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/flightskb/flightskb/internal/config"
	"github.com/flightskb/flightskb/internal/query"
	"github.com/flightskb/flightskb/internal/vectorstore"
)

// filterFlag collects repeated -filter key=value pairs
type filterFlag struct {
	filter vectorstore.Filter
}

func (f *filterFlag) String() string {
	if len(f.filter) == 0 {
		return ""
	}
	var parts []string
	for key, values := range f.filter {
		parts = append(parts, key+"="+strings.Join(values, ","))
	}
	return strings.Join(parts, " ")
}

func (f *filterFlag) Set(value string) error {
	key, val, found := strings.Cut(value, "=")
	key = strings.TrimSpace(key)
	if !found || key == "" || strings.TrimSpace(val) == "" {
		return fmt.Errorf("filter must be key=value, got %q", value)
	}
	if f.filter == nil {
		f.filter = vectorstore.Filter{}
	}
	for _, v := range strings.Split(val, ",") {
		if v = strings.TrimSpace(v); v != "" {
			f.filter[key] = append(f.filter[key], v)
		}
	}
	return nil
}

// handleQuery implements the query subcommand
func handleQuery(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	var k int
	var mode string
	var jsonOutput bool
	var filters filterFlag
	fs.IntVar(&k, "k", 0, "Number of results (default from config)")
	fs.StringVar(&mode, "mode", "hybrid", "Retrieval mode: vector, keyword or hybrid")
	fs.BoolVar(&jsonOutput, "json", false, "Output as JSON")
	fs.Var(&filters, "filter", "Metadata filter key=value (repeatable; comma-separated values)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `USAGE:
    flightskb query [options] <text>

DESCRIPTION:
    Search the knowledge base.

OPTIONS:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
EXAMPLES:
    flightskb query "carry-on allowance"

    flightskb query -k 3 -filter airline=BA "checked bag fees"

    flightskb query -mode keyword "schengen transit"
`)
	}

	if err := fs.Parse(args); err != nil {
		log.Fatal().Err(err).Msg("failed to parse arguments")
	}
	text := strings.Join(fs.Args(), " ")
	if strings.TrimSpace(text) == "" {
		fs.Usage()
		os.Exit(1)
	}

	store := openStore(cfg)
	defer store.Close()

	textIdx := openTextIndex(cfg)
	if textIdx != nil {
		defer textIdx.Close()
	}

	engine := query.NewEngine(cfg.Search, store, newEmbedder(cfg), textIdx)
	results, err := engine.Search(context.Background(), query.Request{
		Text:   text,
		K:      k,
		Filter: filters.filter,
		Mode:   query.Mode(mode),
	})
	if err != nil {
		if errors.Is(err, query.ErrInvalidQuery) {
			log.Fatal().Err(err).Msg("invalid query")
		}
		if errors.Is(err, vectorstore.ErrUnavailable) {
			log.Fatal().Err(err).Msg("index unavailable, run 'flightskb rebuild' first")
		}
		log.Fatal().Err(err).Msg("search failed")
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(results, "", "  ")
		fmt.Println(string(data))
		return
	}

	if len(results) == 0 {
		fmt.Println("No results.")
		return
	}
	for i, res := range results {
		fmt.Printf("%d. %s (%.4f)\n", i+1, res.Title, res.Score)
		fmt.Printf("   %s · %s\n", res.ChunkID, res.FileReference)
		snippet := strings.TrimSpace(res.Text)
		if len(snippet) > 240 {
			snippet = snippet[:240] + "…"
		}
		for _, line := range strings.Split(snippet, "\n") {
			fmt.Printf("   %s\n", line)
		}
		fmt.Println()
	}
}
