// Package logging configures the process-wide zerolog logger shared by the
// debate server and the moderator.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup installs the global logger. format is "console" or "json"; level is
// any zerolog level name.
func Setup(level, format string) error {
	return setup(os.Stderr, level, format)
}

func setup(out io.Writer, level, format string) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return fmt.Errorf("logging: invalid level %q", level)
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	switch strings.ToLower(format) {
	case "", "console":
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	case "json":
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
	default:
		return fmt.Errorf("logging: invalid format %q", format)
	}

	zerolog.SetGlobalLevel(lvl)
	return nil
}

// Component returns a child of the global logger tagged with the component
// name. Packages call it lazily so that Setup has already run.
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
