package logging

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init initializes the global logger from environment variables.
// ADCRAFT_LOG_LEVEL controls the log level: debug, info, warn, error
// (default: info).
//
// Inside Lambda the logger keeps zerolog's JSON output so CloudWatch
// ingests structured events alongside the EMF metrics; everywhere else
// (creativectl, local runs) it switches to the human-readable console
// writer.
func Init() {
	level := os.Getenv("ADCRAFT_LOG_LEVEL")
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if os.Getenv("AWS_LAMBDA_FUNCTION_NAME") == "" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}
