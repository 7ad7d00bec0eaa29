// Package logging provides the worker's structured logger. The worker
// runs headless -- no GUI, no progress-bar-sharing stdout contention --
// so unlike the reference system's CLI/GUI dual-mode logger, there is a
// single output mode: a zerolog.ConsoleWriter to stderr.
package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// New builds the base logger used by cmd/transferworker, with
// transferId bound into every subsequent event.
func New(transferID string) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	}
	logger := zerolog.New(output).With().Timestamp().Logger()
	if transferID != "" {
		logger = logger.With().Str("transferId", transferID).Logger()
	}
	return logger
}

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}
