package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init points the global zerolog logger at a console writer on stdout and
// applies level. Unknown levels fall back to info.
func Init(level string) {
	zerolog.SetGlobalLevel(ParseLevel(level))

	w := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
}

// ParseLevel maps the LOG_LEVEL vocabulary shared with the CLI onto zerolog.
func ParseLevel(level string) zerolog.Level {
	switch level {
	case "dev", "development", "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error", "production", "prod":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
