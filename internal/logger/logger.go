package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Config describes where captured service output is written.
// If StdoutPath/StderrPath are empty and Dir is set, files are
// Dir/<name>.stdout.log and Dir/<name>.stderr.log.
// Rotation parameters follow lumberjack semantics.
type Config struct {
	Dir        string `json:"dir" mapstructure:"dir"`
	StdoutPath string `json:"stdout" mapstructure:"stdout"`
	StderrPath string `json:"stderr" mapstructure:"stderr"`
	MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
}

// Enabled reports whether any file destination is configured.
func (c Config) Enabled() bool {
	return c.Dir != "" || c.StdoutPath != "" || c.StderrPath != ""
}

// Writers returns rotating writers for the stdout and stderr of a service.
// Either writer is nil when no destination applies to it.
func (c Config) Writers(name string) (io.WriteCloser, io.WriteCloser, error) {
	stdout := c.StdoutPath
	stderr := c.StderrPath
	if c.Dir != "" {
		if err := os.MkdirAll(c.Dir, 0o750); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		if stdout == "" {
			stdout = filepath.Join(c.Dir, fmt.Sprintf("%s.stdout.log", name))
		}
		if stderr == "" {
			stderr = filepath.Join(c.Dir, fmt.Sprintf("%s.stderr.log", name))
		}
	}
	var outW, errW io.WriteCloser
	if stdout != "" {
		outW = c.rotating(stdout)
	}
	if stderr != "" {
		errW = c.rotating(stderr)
	}
	return outW, errW, nil
}

func (c Config) rotating(path string) *lj.Logger {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Options configures the daemon's own slog output.
type Options struct {
	Level   string `mapstructure:"level"`   // debug, info, warn, error
	Format  string `mapstructure:"format"`  // text or json
	File    string `mapstructure:"file"`    // optional rotating file instead of stderr
	Journal bool   `mapstructure:"journal"` // also send records to the systemd journal
	Color   *bool  `mapstructure:"color"`   // force color on/off; nil detects a TTY
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a logger from opts writing to w (stderr when nil and no File is set).
// The returned closer releases the rotating file, if any.
func New(opts Options, w io.Writer) (*slog.Logger, io.Closer) {
	level := ParseLevel(opts.Level)
	hopts := &slog.HandlerOptions{Level: level}

	var closer io.Closer = nopCloser{}
	var tty bool
	if opts.File != "" {
		f := Config{}.rotating(opts.File)
		w, closer = f, f
	} else if w == nil {
		w = os.Stderr
		tty = isatty.IsTerminal(os.Stderr.Fd())
	}

	var h slog.Handler
	switch {
	case strings.EqualFold(opts.Format, "json"):
		h = slog.NewJSONHandler(w, hopts)
	case useColor(opts.Color, tty):
		h = NewColorTextHandler(w, hopts, true)
	default:
		h = slog.NewTextHandler(w, hopts)
	}
	if opts.Journal && IsJournalAvailable() {
		h = NewFanoutHandler(h, NewJournalHandler(level))
	}
	return slog.New(h), closer
}

// Setup installs New(opts, nil) as the default logger.
func Setup(opts Options) (*slog.Logger, io.Closer) {
	l, c := New(opts, nil)
	slog.SetDefault(l)
	return l, c
}

func useColor(force *bool, tty bool) bool {
	if force != nil {
		return *force
	}
	return tty
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
