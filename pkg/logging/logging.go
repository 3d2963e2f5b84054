// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"
	// FormatAuto picks console output for terminals and JSON otherwise.
	FormatAuto = "auto"
)

type Settings struct {
	Level  string
	Format string
	App    string
	Output io.Writer
}

// New builds a logger from s without touching the global one.
func New(s Settings) (zerolog.Logger, error) {
	level, err := ParseLevel(s.Level)
	if err != nil {
		return zerolog.Nop(), err
	}
	out := s.Output
	if out == nil {
		out = os.Stderr
	}

	format := strings.ToLower(strings.TrimSpace(s.Format))
	switch format {
	case "", FormatAuto:
		format = FormatJSON
		if f, ok := out.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
			format = FormatConsole
		}
	case FormatConsole, FormatJSON:
	default:
		return zerolog.Nop(), errors.Errorf("unknown log format %q", s.Format)
	}

	if format == FormatConsole {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	ctx := zerolog.New(out).Level(level).With().Timestamp()
	if s.App != "" {
		ctx = ctx.Str("app", s.App)
	}
	return ctx.Logger(), nil
}

// Init installs the logger described by s as log.Logger.
func Init(s Settings) (zerolog.Logger, error) {
	logger, err := New(s)
	if err != nil {
		return logger, err
	}
	log.Logger = logger
	return logger, nil
}

func ParseLevel(s string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return zerolog.InfoLevel, nil
	case "off", "none":
		return zerolog.Disabled, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return zerolog.NoLevel, errors.Wrapf(err, "parse log level %q", s)
	}
	return level, nil
}
