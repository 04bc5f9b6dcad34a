// Package logger builds the slog loggers used across orgmem.
package logger

import (
	"io"
	"log/slog"
	"os"

	charmlog "github.com/charmbracelet/log"
)

type config struct {
	level   slog.Level
	json    bool
	pretty  bool
	source  bool
	writers []io.Writer
}

// Option configures a logger created with New.
type Option func(*config)

// WithDebug sets the level to Debug when true, Info otherwise.
func WithDebug(debug bool) Option {
	return func(c *config) {
		if debug {
			c.level = slog.LevelDebug
		} else {
			c.level = slog.LevelInfo
		}
	}
}

// WithJSON selects slog's JSON handler for service logs.
func WithJSON(json bool) Option {
	return func(c *config) { c.json = json }
}

// WithPretty selects the charmbracelet/log handler for terminal output.
// JSON wins when both are set.
func WithPretty(pretty bool) Option {
	return func(c *config) { c.pretty = pretty }
}

// WithWriter overrides the output writer. Defaults to os.Stderr.
func WithWriter(w io.Writer) Option {
	return func(c *config) { c.writers = []io.Writer{w} }
}

// WithWriters sets several writers, combined with io.MultiWriter.
func WithWriters(w ...io.Writer) Option {
	return func(c *config) { c.writers = w }
}

// WithSource includes file:line in records.
func WithSource(source bool) Option {
	return func(c *config) { c.source = source }
}

// New returns a logger. Without options it writes text at Info to stderr;
// stdout is reserved for the MCP stdio transport.
func New(opts ...Option) *slog.Logger {
	c := &config{level: slog.LevelInfo}
	for _, o := range opts {
		o(c)
	}

	var w io.Writer = os.Stderr
	switch len(c.writers) {
	case 0:
	case 1:
		w = c.writers[0]
	default:
		w = io.MultiWriter(c.writers...)
	}

	switch {
	case c.json:
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: c.level, AddSource: c.source}))
	case c.pretty:
		return slog.New(charmlog.NewWithOptions(w, charmlog.Options{
			ReportTimestamp: true,
			ReportCaller:    c.source,
			Level:           charmlog.Level(c.level),
		}))
	default:
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: c.level, AddSource: c.source}))
	}
}

// Nop returns a logger that discards everything.
func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}
