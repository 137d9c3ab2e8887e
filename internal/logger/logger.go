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

// Default rotation constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Settings configures the process-wide slog logger.
// Format is one of text, json or color. When File is set, output goes to
// a rotated file instead of stderr.
type Settings struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// ParseLevel maps debug, info, warn and error to slog levels.
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

// NewHandler builds the handler described by s writing to w.
func NewHandler(s Settings, w io.Writer) (slog.Handler, error) {
	level, err := ParseLevel(s.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(s.Format) {
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	case "text":
		return slog.NewTextHandler(w, opts), nil
	case "", "color":
		return NewColorTextHandler(w, opts, true), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", s.Format)
	}
}

// Setup installs the default slog logger. The returned closer releases the
// log file, if any.
func Setup(s Settings) (io.Closer, error) {
	var (
		w      io.Writer = os.Stderr
		closer io.Closer = io.NopCloser(nil)
	)
	if s.File != "" {
		f := s.rotator(s.File)
		w, closer = f, f
		if strings.EqualFold(s.Format, "color") || s.Format == "" {
			// no escape codes in files
			s.Format = "text"
		}
	}
	h, err := NewHandler(s, w)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(slog.New(h))
	return closer, nil
}

func (s Settings) rotator(path string) *lj.Logger {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(s.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(s.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(s.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   s.Compress,
	}
}

// MirrorConfig describes per-profile console mirror files
// (Dir/<name>.console.log). An empty Dir disables mirroring.
type MirrorConfig struct {
	Dir        string `mapstructure:"mirror_dir"`
	MaxSizeMB  int    `mapstructure:"mirror_max_size_mb"`
	MaxBackups int    `mapstructure:"mirror_max_backups"`
	MaxAgeDays int    `mapstructure:"mirror_max_age_days"`
}

// Enabled reports whether mirroring is configured.
func (c MirrorConfig) Enabled() bool { return c.Dir != "" }

// Writer returns the rotated mirror file for profile name, or nil when
// mirroring is disabled.
func (c MirrorConfig) Writer(name string) io.WriteCloser {
	if !c.Enabled() {
		return nil
	}
	return &lj.Logger{
		Filename:   filepath.Join(c.Dir, fmt.Sprintf("%s.console.log", name)),
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
	}
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
