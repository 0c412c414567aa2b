// Package log wraps log/slog with a JSON handler writing to a rotated log
// file. A nil *Logger is usable: debug and info records are dropped while
// warnings and errors still reach the default slog logger.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	Level      string `yaml:"level"`
	Dir        string `yaml:"dir"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxAgeDays int    `yaml:"max_age_days"`
	MaxBackups int    `yaml:"max_backups"`
	Compress   bool   `yaml:"compress"`
	Stderr     bool   `yaml:"stderr"`
}

type Logger struct {
	*slog.Logger
	LogFile string
	Start   time.Time
	closer  io.Closer
}

func ParseLevel(level string) (slog.Level, error) {
	switch level {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, errors.Errorf("%s: invalid log level", level)
	}
}

func New(cfg Config) *Logger {
	dir := cfg.Dir
	if dir == "" {
		dir = "coverageengine-logs"
	}

	w := &lumberjack.Logger{
		Filename:   filepath.Join(dir, "coverageengine.slog"),
		MaxSize:    cfg.MaxSizeMB,
		MaxAge:     cfg.MaxAgeDays,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	}
	if w.MaxSize == 0 {
		w.MaxSize = 64 // MB
	}

	lvl, err := ParseLevel(cfg.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}

	var out io.Writer = w
	if cfg.Stderr {
		out = io.MultiWriter(w, os.Stderr)
	}
	l := NewWithWriter(out, lvl)
	l.LogFile = w.Filename
	l.closer = w

	l.Info("Hello logging", slog.Time("start", l.Start))
	l.Info("System information",
		slog.String("GOARCH", runtime.GOARCH),
		slog.String("GOOS", runtime.GOOS),
		slog.Int("NumCPUs", runtime.NumCPU()))
	if bi, ok := debug.ReadBuildInfo(); ok {
		var deps []any
		for _, dep := range bi.Deps {
			deps = append(deps, slog.String(dep.Path, dep.Version))
		}
		l.Info("Build",
			slog.String("Go version", bi.GoVersion),
			slog.String("Path", bi.Path),
			slog.Group("Dependencies", deps...))
	}

	return l
}

// NewWithWriter returns a logger writing JSON records to w.
func NewWithWriter(w io.Writer, level slog.Level) *Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return &Logger{Logger: slog.New(h), Start: time.Now()}
}

func (l *Logger) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

func (l *Logger) enabled(level slog.Level) bool {
	return l != nil && l.Logger.Enabled(context.Background(), level)
}

func (l *Logger) Debug(msg string, args ...any) {
	if l.enabled(slog.LevelDebug) {
		l.Logger.Debug(msg, args...)
	}
}

func (l *Logger) Debugf(msg string, args ...any) {
	if l.enabled(slog.LevelDebug) {
		l.Logger.Debug(fmt.Sprintf(msg, args...))
	}
}

func (l *Logger) Info(msg string, args ...any) {
	if l.enabled(slog.LevelInfo) {
		l.Logger.Info(msg, args...)
	}
}

func (l *Logger) Infof(msg string, args ...any) {
	if l.enabled(slog.LevelInfo) {
		l.Logger.Info(fmt.Sprintf(msg, args...))
	}
}

func (l *Logger) Warn(msg string, args ...any) {
	if l == nil {
		slog.Warn(msg, args...)
	} else {
		l.Logger.Warn(msg, args...)
	}
}

func (l *Logger) Warnf(msg string, args ...any) {
	l.Warn(fmt.Sprintf(msg, args...))
}

func (l *Logger) Error(msg string, args ...any) {
	if l == nil {
		slog.Error(msg, args...)
	} else {
		l.Logger.Error(msg, args...)
	}
}

func (l *Logger) Errorf(msg string, args ...any) {
	l.Error(fmt.Sprintf(msg, args...))
}

// With returns a logger that adds args to every record. With on a nil
// logger returns nil.
func (l *Logger) With(args ...any) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{
		Logger:  l.Logger.With(args...),
		LogFile: l.LogFile,
		Start:   l.Start,
	}
}
