package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/flightskb/flightskb/cmd/flightskb/internal"
	"github.com/flightskb/flightskb/internal/config"
)

const defaultConfigPath = "flightskb.yaml"

func main() {
	if len(os.Args) < 2 {
		internal.PrintUsage()
		os.Exit(1)
	}

	configPath := defaultConfigPath
	verbose := false
	args := os.Args[1:]

	validSubcommands := map[string]bool{
		"rebuild": true,
		"query":   true,
		"stats":   true,
		"eval":    true,
		"ingest":  true,
		"promote": true,
	}

	subcommandIndex := -1
	for i, arg := range args {
		if !strings.HasPrefix(arg, "-") && validSubcommands[arg] {
			subcommandIndex = i
			break
		}
	}

	// Global flags come before the subcommand.
	globalFlags := args
	if subcommandIndex >= 0 {
		globalFlags = args[:subcommandIndex]
	}
	for i := 0; i < len(globalFlags); i++ {
		switch arg := globalFlags[i]; arg {
		case "-h", "-help", "--help":
			internal.PrintUsage()
			os.Exit(0)
		case "-v", "-version", "--version":
			fmt.Printf("flightskb version %s\n", internal.Version)
			os.Exit(0)
		case "-verbose", "--verbose":
			verbose = true
		case "-config", "--config":
			if i+1 >= len(globalFlags) {
				fmt.Fprintln(os.Stderr, "Error: -config requires a path")
				os.Exit(1)
			}
			configPath = globalFlags[i+1]
			i++
		default:
			fmt.Fprintf(os.Stderr, "Error: Unknown global flag: %s\n\n", arg)
			internal.PrintUsage()
			os.Exit(1)
		}
	}

	if subcommandIndex == -1 {
		fmt.Fprintf(os.Stderr, "Error: No subcommand specified\n\n")
		internal.PrintUsage()
		os.Exit(1)
	}

	internal.SetupLogging(verbose)

	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("could not load configuration")
	}

	subcommand := args[subcommandIndex]
	subArgs := args[subcommandIndex+1:]

	if err := internal.AttachLogFile(subcommand, cfg.Paths.IndexDir); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize log file: %v\n", err)
	}

	switch subcommand {
	case "rebuild":
		handleRebuild(cfg, subArgs)
	case "query":
		handleQuery(cfg, subArgs)
	case "stats":
		handleStats(cfg, subArgs)
	case "eval":
		handleEval(cfg, subArgs)
	case "ingest":
		handleIngest(cfg, subArgs)
	case "promote":
		handlePromote(cfg, subArgs)
	}
}
