package internal

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupLogging configures the global zerolog logger for CLI use
func SetupLogging(verbose bool) {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(consoleWriter())
}

// AttachLogFile adds a per-invocation log file under the index directory,
// keeping the console writer. Returns an error when the file cannot be
// created; the caller treats that as a warning, not a fatal condition.
func AttachLogFile(subcommand, indexDir string) error {
	logDir := filepath.Join(indexDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}

	timestamp := time.Now().Format("20060102-150405")
	filename := fmt.Sprintf("flightskb-%s-%s.log", subcommand, timestamp)
	logPath := filepath.Join(logDir, filename)

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}

	log.Logger = log.Output(zerolog.MultiLevelWriter(consoleWriter(), logFile))
	log.Debug().Str("path", logPath).Msg("log file attached")
	return nil
}

func consoleWriter() zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.Kitchen,
	}
}
