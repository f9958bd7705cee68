package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default logging configuration constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Config describes the service's own log output. Script output never goes
// through here; it is journaled by logstore.
// When File is set, records are written to a lumberjack-rotated file; Stderr
// additionally mirrors them to the terminal.
type Config struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error (default info)
	Format     string `mapstructure:"format"` // text (default) or json
	Color      bool   `mapstructure:"color"`  // ANSI level colors for the text format
	File       string `mapstructure:"file"`   // optional daemon log file
	Stderr     bool   `mapstructure:"stderr"` // also log to stderr when File is set
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// New builds a slog.Logger for cfg. The returned closer releases the log file
// (if any) and must be called on shutdown.
func New(cfg Config) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	w, closer, err := cfg.Writer()
	if err != nil {
		return nil, nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		if cfg.Color && cfg.File == "" {
			h = NewColorTextHandler(w, opts, true)
		} else {
			h = slog.NewTextHandler(w, opts)
		}
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		_ = closer.Close()
		return nil, nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return slog.New(h), closer, nil
}

// Writer returns the destination for service logs.
func (c Config) Writer() (io.Writer, io.Closer, error) {
	if c.File == "" {
		return os.Stderr, nopCloser{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(c.File), 0o750); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	fw := &lj.Logger{
		Filename:   c.File,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
	if c.Stderr {
		return io.MultiWriter(fw, os.Stderr), fw, nil
	}
	return fw, fw, nil
}

// ParseLevel maps a config string to a slog level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
