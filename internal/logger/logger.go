package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"
	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default logging configuration constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Config describes where and how the extractor logs.
// Console output always goes to Stderr (os.Stderr when nil). When File is set
// a JSON copy of every record is written to a lumberjack-rotated file as well.
type Config struct {
	Level      string
	Production bool
	AppID      string // MARATHON_APP_ID in the legacy deployment
	TaskID     string // MESOS_TASK_ID in the legacy deployment
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	Stderr     io.Writer
}

// New builds a logger from cfg. The returned closer releases the rotating file,
// if any; it is never nil.
func New(cfg Config) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	console := cfg.Stderr
	if console == nil {
		console = os.Stderr
	}

	var handlers []slog.Handler
	if cfg.Production {
		handlers = append(handlers, slog.NewJSONHandler(console, opts))
	} else {
		handlers = append(handlers, NewColorTextHandler(console, opts))
	}

	var closer io.Closer = nopCloser{}
	if w := cfg.FileWriter(); w != nil {
		handlers = append(handlers, slog.NewJSONHandler(w, opts))
		closer = w
	}

	var h slog.Handler
	if len(handlers) == 1 {
		h = handlers[0]
	} else {
		h = slogmulti.Fanout(handlers...)
	}

	l := slog.New(h).With("app", "extractor")
	if cfg.AppID != "" {
		l = l.With("app_id", cfg.AppID)
	}
	if cfg.TaskID != "" {
		l = l.With("task_id", cfg.TaskID)
	}
	return l, closer, nil
}

// FileWriter returns a rotating writer for cfg.File or nil when no file is configured.
func (c Config) FileWriter() io.WriteCloser {
	if c.File == "" {
		return nil
	}
	return &lj.Logger{
		Filename:   c.File,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

// ParseLevel maps the textual levels used in deployments to slog levels.
// An empty string means debug.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "debug", "silly", "verbose":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
