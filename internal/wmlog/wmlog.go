// Package wmlog configures the process-wide zerolog logger, using the
// global github.com/rs/zerolog/log logger rather than threading a
// *zerolog.Logger through every call.
package wmlog

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global logger. levelName is one of
// debug/info/warn/error (case-insensitive, defaults to info); pretty
// selects the human-readable console writer over JSON, for local
// development.
func Init(levelName string, pretty bool) {
	zerolog.TimeFieldFormat = time.RFC3339
	level, err := zerolog.ParseLevel(strings.ToLower(levelName))
	if err != nil || levelName == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
		return
	}
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}
