// Package logging builds the slog loggers used by the daemon and its
// clients.
//
// Clipboard contents pass through almost every component, so attributes
// that carry user text are replaced by their size unless content logging
// is switched on.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"linkcleaner/internal/config"
)

// Format represents the output format for logs.
type Format int

const (
	// FormatText outputs human-readable text logs.
	FormatText Format = iota
	// FormatJSON outputs JSON-structured logs.
	FormatJSON
)

// Config holds the logging configuration.
type Config struct {
	Level  slog.Level
	Format Format

	// Output is "stdout", "stderr" or "file".
	Output string

	// FilePath is the log file when Output is "file".
	FilePath string

	// MaxSizeMB rotates the file once it would exceed this size.
	MaxSizeMB int

	// MaxBackups is the number of rotated files kept.
	MaxBackups int

	AddSource bool

	// LogContent disables redaction of clipboard text.
	LogContent bool

	// Component is attached to every record.
	Component string
}

// contentKeys are attribute keys whose values are user text.
var contentKeys = map[string]bool{
	"text":      true,
	"original":  true,
	"cleaned":   true,
	"input":     true,
	"output":    true,
	"clipboard": true,
}

// DefaultConfig returns a stderr text logger at info level.
func DefaultConfig() *Config {
	return &Config{
		Level:      slog.LevelInfo,
		Format:     FormatText,
		Output:     "stderr",
		MaxSizeMB:  10,
		MaxBackups: 3,
	}
}

// FromSettings converts the [logging] section of the daemon configuration.
func FromSettings(s config.LoggingConfig, component string) (*Config, error) {
	level, err := ParseLevel(s.Level)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	cfg.Level = level
	if s.Format == "json" {
		cfg.Format = FormatJSON
	}
	cfg.Output = s.Output
	cfg.FilePath = s.FilePath
	if s.MaxSizeMB > 0 {
		cfg.MaxSizeMB = s.MaxSizeMB
	}
	cfg.MaxBackups = s.MaxBackups
	cfg.Component = component
	return cfg, nil
}

// Logger wraps slog.Logger with a runtime-adjustable level and the file
// it may own.
type Logger struct {
	*slog.Logger
	level   *slog.LevelVar
	rotator *FileRotator

	mu     sync.Mutex
	closed bool
}

// New creates a Logger writing to the configured output.
func New(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	l := &Logger{level: new(slog.LevelVar)}
	l.level.Set(cfg.Level)

	var w io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		w = os.Stdout
	case "file":
		rotator, err := NewFileRotator(cfg.FilePath, cfg.MaxSizeMB, cfg.MaxBackups)
		if err != nil {
			return nil, fmt.Errorf("setup log file: %w", err)
		}
		l.rotator = rotator
		w = rotator
	default:
		w = os.Stderr
	}

	l.Logger = slog.New(newHandler(w, cfg, l.level))
	return l, nil
}

// NewWriter creates a Logger writing to w. It is meant for tests and for
// commands that log to an already open stream.
func NewWriter(w io.Writer, cfg *Config) *Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	l := &Logger{level: new(slog.LevelVar)}
	l.level.Set(cfg.Level)
	l.Logger = slog.New(newHandler(w, cfg, l.level))
	return l
}

func newHandler(w io.Writer, cfg *Config, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
	}
	if !cfg.LogContent {
		opts.ReplaceAttr = redactContent
	}

	var h slog.Handler
	if cfg.Format == FormatJSON {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	if cfg.Component != "" {
		h = h.WithAttrs([]slog.Attr{slog.String("component", cfg.Component)})
	}
	return h
}

func redactContent(_ []string, a slog.Attr) slog.Attr {
	if !contentKeys[strings.ToLower(a.Key)] {
		return a
	}
	if a.Value.Kind() == slog.KindString {
		return slog.String(a.Key, fmt.Sprintf("[%d bytes]", len(a.Value.String())))
	}
	return a
}

// SetLevel changes the minimum level of this logger and everything
// derived from it.
func (l *Logger) SetLevel(level slog.Level) {
	l.level.Set(level)
}

// Level returns the current minimum level.
func (l *Logger) Level() slog.Level {
	return l.level.Level()
}

// WithComponent returns a child logger tagged with name.
func (l *Logger) WithComponent(name string) *slog.Logger {
	return l.Logger.With(slog.String("component", name))
}

// WithRequestID tags l with a request id. An empty id returns l unchanged.
func WithRequestID(l *slog.Logger, id string) *slog.Logger {
	if id == "" {
		return l
	}
	return l.With(slog.String("request_id", id))
}

// Close closes the log file, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed || l.rotator == nil {
		return nil
	}
	l.closed = true
	return l.rotator.Close()
}

// ParseLevel parses a string into a log level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %s", s)
	}
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
