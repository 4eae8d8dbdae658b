package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Options struct {
	Level   string
	Pretty  bool
	NoColor bool
	Caller  bool
	// Output defaults to stdout.
	Output io.Writer
}

func New() zerolog.Logger {
	return NewWithOptions(Options{Level: "info", Pretty: true, Caller: true})
}

func NewWithConfig(level string, pretty, noColor bool) zerolog.Logger {
	return NewWithOptions(Options{Level: level, Pretty: pretty, NoColor: noColor})
}

func NewWithOptions(opts Options) zerolog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	if opts.Pretty {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
			NoColor:    opts.NoColor,
		}
	}

	ctx := zerolog.New(out).With().Timestamp()
	if opts.Caller {
		ctx = ctx.Caller()
	}

	return ctx.Logger().Level(ParseLevel(opts.Level))
}

// ParseLevel falls back to info for empty or unknown names.
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
