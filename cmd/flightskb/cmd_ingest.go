package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/flightskb/flightskb/internal/config"
	"github.com/flightskb/flightskb/internal/ingest"
)

// handleIngest implements the ingest subcommand
func handleIngest(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	var title, docType, sourceName, tags, file string
	fs.StringVar(&title, "title", "", "Document title (default: derived from the text)")
	fs.StringVar(&docType, "type", "", "Document type (default: note)")
	fs.StringVar(&sourceName, "source", "", "Source name for provenance")
	fs.StringVar(&tags, "tags", "", "Comma-separated tags")
	fs.StringVar(&file, "file", "", "Read text from a file instead of stdin")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `USAGE:
    flightskb ingest [options]

DESCRIPTION:
    Stage raw text as a draft document in the inbox. The document is not
    indexed until it is promoted into a category.

OPTIONS:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
EXAMPLES:
    # Stage notes from a file
    flightskb ingest -title "Change fee waivers" -file notes.txt

    # Stage from stdin
    pbpaste | flightskb ingest -source "support call"
`)
	}

	if err := fs.Parse(args); err != nil {
		log.Fatal().Err(err).Msg("failed to parse arguments")
	}

	var text []byte
	var err error
	if file != "" {
		text, err = os.ReadFile(file)
	} else {
		text, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("could not read input text")
	}

	opts := ingest.Options{
		Title:      title,
		Type:       docType,
		SourceName: sourceName,
	}
	for _, tag := range strings.Split(tags, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			opts.Tags = append(opts.Tags, tag)
		}
	}

	path, err := ingest.IngestText(cfg.Paths.KnowledgeDir, string(text), opts)
	if err != nil {
		log.Fatal().Err(err).Msg("ingest failed")
	}

	fmt.Printf("Staged %s\n", path)
	fmt.Println("Set destination_category in its frontmatter, then run 'flightskb promote'.")
}

// handlePromote implements the promote subcommand
func handlePromote(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("promote", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `USAGE:
    flightskb promote

DESCRIPTION:
    Move staged inbox documents that name a destination_category into
    knowledge/<category>/. Run 'flightskb rebuild' afterwards to index
    them.
`)
	}
	if err := fs.Parse(args); err != nil {
		log.Fatal().Err(err).Msg("failed to parse arguments")
	}

	promotions, err := ingest.PromoteInbox(cfg.Paths.KnowledgeDir)
	if err != nil {
		log.Fatal().Err(err).Msg("promotion failed")
	}

	if len(promotions) == 0 {
		fmt.Println("Nothing to promote.")
		return
	}
	for _, p := range promotions {
		fmt.Printf("Promoted %s -> %s/\n", p.KBID, p.Category)
	}
	fmt.Printf("%d document(s) promoted. Run 'flightskb rebuild' to index them.\n", len(promotions))
}
