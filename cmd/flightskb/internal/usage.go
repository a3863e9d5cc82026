package internal

import (
	"fmt"
	"os"
)

const Version = "1.0.0"

// PrintUsage writes the top-level help text to stderr
func PrintUsage() {
	fmt.Fprintf(os.Stderr, `flightskb - Searchable knowledge base for air travel facts

Version: %s

USAGE:
    flightskb [global options] <command> [command options]

GLOBAL OPTIONS:
    -config <path>
        Path to config file (default: flightskb.yaml)

    -verbose
        Enable debug logging

    -v, -version
        Show version information

    -h, -help
        Show this help message

COMMANDS:
    rebuild
        Rebuild the search index from the knowledge corpus

    query
        Search the knowledge base

    stats
        Show index statistics

    eval
        Run the retrieval evaluation suite

    ingest
        Stage raw text as a draft document in the inbox

    promote
        Move staged inbox documents into their category

EXAMPLES:
    # Incremental rebuild
    flightskb rebuild

    # Full rebuild, re-embedding everything
    flightskb rebuild -full

    # Search with a metadata filter
    flightskb query -k 5 -filter airline=BA "carry-on allowance"

    # Evaluate retrieval quality
    flightskb eval
`, Version)
}
