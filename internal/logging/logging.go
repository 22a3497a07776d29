// Package logging builds the slog loggers used across dictd.
//
// Every logger carries a component attribute, redacts attributes whose key
// looks like a credential, and can write to stderr, stdout, a rotating file
// or stderr plus file.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
)

// Level is a slog level.
type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Format selects the slog handler.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// Config describes one logger.
type Config struct {
	Level  Level
	Format Format

	// Output is "stderr", "stdout", "file" or "both" (stderr and file).
	Output string

	// FilePath is the log file used when Output is "file" or "both".
	FilePath string
	// MaxSize is the file size in megabytes that triggers rotation.
	MaxSize int64
	// MaxBackups is the number of rotated files kept.
	MaxBackups int
	// Compress gzips rotated files.
	Compress bool

	AddSource bool

	// Component is attached to every record as "component".
	Component string

	// Writer, when set, replaces Output. Used by tests.
	Writer io.Writer
}

// DefaultConfig logs info and above as text to stderr.
func DefaultConfig() *Config {
	return &Config{
		Level:      LevelInfo,
		Format:     FormatText,
		Output:     "stderr",
		FilePath:   DefaultLogPath(),
		MaxSize:    10,
		MaxBackups: 3,
		Compress:   true,
		Component:  "dictd",
	}
}

// DefaultLogPath returns $XDG_STATE_HOME/dictd/dictd.log.
func DefaultLogPath() string {
	state := os.Getenv("XDG_STATE_HOME")
	if state == "" {
		home, _ := os.UserHomeDir()
		state = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(state, "dictd", "dictd.log")
}

// Logger is a slog.Logger that also owns its log file, if any.
type Logger struct {
	*slog.Logger
	rotator *FileRotator

	// base has no component attribute; attrs are the With arguments
	// applied since. WithComponent rebuilds from both so a record names
	// exactly one component.
	base  slog.Handler
	attrs []any
}

func newLogger(base slog.Handler, component string, rotator *FileRotator) *Logger {
	l := &Logger{base: base, rotator: rotator, Logger: slog.New(base)}
	if component != "" {
		l.Logger = l.Logger.With("component", component)
	}
	return l
}

var defaultLogger atomic.Pointer[Logger]

// Default returns the process-wide logger, a stderr text logger until
// SetDefault is called.
func Default() *Logger {
	if l := defaultLogger.Load(); l != nil {
		return l
	}
	cfg := DefaultConfig()
	l := newLogger(newHandler(os.Stderr, cfg), cfg.Component, nil)
	if defaultLogger.CompareAndSwap(nil, l) {
		return l
	}
	return defaultLogger.Load()
}

// SetDefault installs l as the process-wide logger and as slog's default.
func SetDefault(l *Logger) {
	defaultLogger.Store(l)
	slog.SetDefault(l.Logger)
}

// Nop returns a logger that drops every record.
func Nop() *Logger {
	return newLogger(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: LevelError + 1}), "", nil)
}

// New builds a logger from cfg. A nil cfg means DefaultConfig.
func New(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	w := cfg.Writer
	var rotator *FileRotator
	if w == nil {
		var err error
		if w, rotator, err = openOutput(cfg); err != nil {
			return nil, fmt.Errorf("open log output: %w", err)
		}
	}
	return newLogger(newHandler(w, cfg), cfg.Component, rotator), nil
}

func openOutput(cfg *Config) (io.Writer, *FileRotator, error) {
	switch strings.ToLower(cfg.Output) {
	case "", "stderr":
		return os.Stderr, nil, nil
	case "stdout":
		return os.Stdout, nil, nil
	case "file", "both":
		r, err := NewFileRotator(cfg)
		if err != nil {
			return nil, nil, err
		}
		if strings.EqualFold(cfg.Output, "both") {
			return io.MultiWriter(os.Stderr, r), r, nil
		}
		return r, r, nil
	default:
		return nil, nil, fmt.Errorf("unknown log output %q", cfg.Output)
	}
}

func newHandler(w io.Writer, cfg *Config) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:       cfg.Level,
		AddSource:   cfg.AddSource,
		ReplaceAttr: redact,
	}

	var h slog.Handler
	if cfg.Format == FormatJSON {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return h
}

var sensitiveKeys = []string{
	"password", "secret", "token", "credential",
	"api_key", "apikey", "bearer", "authorization",
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if shouldRedact(a.Key) {
		a.Value = slog.StringValue("[REDACTED]")
	}
	return a
}

func shouldRedact(key string) bool {
	key = strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(key, s) {
			return true
		}
	}
	return false
}

// WithComponent returns a child logger whose records name component in
// place of the parent's component.
func (l *Logger) WithComponent(component string) *Logger {
	if l.base == nil {
		return l.With("component", component)
	}
	child := newLogger(l.base, component, l.rotator)
	child.attrs = l.attrs
	if len(l.attrs) > 0 {
		child.Logger = child.Logger.With(l.attrs...)
	}
	return child
}

// With returns a child logger carrying args. The child shares the
// parent's log file.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger:  l.Logger.With(args...),
		rotator: l.rotator,
		base:    l.base,
		attrs:   append(l.attrs[:len(l.attrs):len(l.attrs)], args...),
	}
}

// Sync flushes the log file, if any.
func (l *Logger) Sync() error {
	if l.rotator == nil {
		return nil
	}
	return l.rotator.Sync()
}

// Close closes the log file, if any.
func (l *Logger) Close() error {
	if l.rotator == nil {
		return nil
	}
	return l.rotator.Close()
}

// ParseLevel parses debug, info, warn (or warning) and error.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level: %q", s)
}

// ParseFormat parses "text" (or empty) and "json".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	}
	return FormatText, fmt.Errorf("unknown log format: %q", s)
}

// LevelString is the inverse of ParseLevel.
func LevelString(level Level) string {
	switch {
	case level <= LevelDebug:
		return "debug"
	case level <= LevelInfo:
		return "info"
	case level <= LevelWarn:
		return "warn"
	default:
		return "error"
	}
}
