package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// New returns the process logger. Log lines go to stderr so that plan
// summaries and confirmation prompts on stdout stay clean.
func New(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return NewWithWriter(os.Stderr, level)
}

// NewWithWriter builds a tint-backed logger on an arbitrary writer.
func NewWithWriter(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch {
			case a.Key == slog.TimeKey:
				a.Value = slog.StringValue(timestamp(a.Value.Time()))
			case a.Value.Kind() == slog.KindString && a.Value.String() == "":
				// Drop empty string attrs instead of printing key="".
				return slog.Attr{}
			}
			return a
		},
	}))
}

// timestamp renders UTC RFC3339 with fixed millisecond precision.
func timestamp(t time.Time) string {
	t = t.UTC()
	ms := t.Nanosecond() / int(time.Millisecond)
	return fmt.Sprintf("%s.%03dZ", t.Format("2006-01-02T15:04:05"), ms)
}
