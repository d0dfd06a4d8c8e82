package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation configuration constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Config describes the observation log destination for a run.
// If Path is empty and Dir is set, the file will be Dir/<name>.log.
// Rotation parameters follow lumberjack semantics. With neither Dir
// nor Path set there is no file destination and Writer returns nil.
type Config struct {
	Dir        string `toml:"dir" mapstructure:"dir"`
	Path       string `toml:"path" mapstructure:"path"`
	Level      string `toml:"level" mapstructure:"level"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// Writer returns a rotating io.WriteCloser for the named run, or nil
// when no file destination is configured.
func (c Config) Writer(name string) io.WriteCloser {
	path := c.Path
	if path == "" && c.Dir != "" {
		path = filepath.Join(c.Dir, fmt.Sprintf("%s.log", name))
	}
	if path == "" {
		return nil
	}
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

// SlogLevel maps the configured level name to a slog.Level, defaulting
// to info.
func (c Config) SlogLevel() slog.Level {
	switch c.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds the run logger: colorized text on stderr, plus the
// rotating file destination when one is configured. The returned
// closer flushes the file writer; it is a no-op closer when logging
// only to stderr.
func (c Config) New(name string) (*slog.Logger, io.Closer) {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	fileW := c.Writer(name)
	if fileW == nil {
		return slog.New(NewColorTextHandler(os.Stderr, opts, true)), noopCloser{}
	}
	h := NewFanoutHandler(
		NewColorTextHandler(os.Stderr, opts, true),
		slog.NewTextHandler(fileW, opts),
	)
	return slog.New(h), fileW
}

type noopCloser struct{}

func (noopCloser) Close() error { return nil }

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
