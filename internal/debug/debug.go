// Package debug provides the engine's structured logger facade. Every
// package takes a *Logger (or uses the package-level Default) rather than
// calling fmt.Println/log.Printf directly.
package debug

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger wraps zerolog with the engine's "once" helpers for warnings that
// must be logged exactly once per process (e.g. vector index
// corruption).
type Logger struct {
	zl    zerolog.Logger
	onces sync.Map // string -> *sync.Once
}

// Config controls how a Logger writes.
type Config struct {
	// Pretty selects a human-readable console writer; false selects JSON.
	Pretty bool
	// FilePath, when non-empty, tees output through a rotating file writer
	// (watcher.log / mcp-access.log use this).
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Level      zerolog.Level
}

// New constructs a Logger per cfg.
func New(cfg Config) *Logger {
	var writers []io.Writer
	if cfg.Pretty {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		writers = append(writers, os.Stderr)
	}
	if cfg.FilePath != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    orDefault(cfg.MaxSizeMB, 10),
			MaxBackups: orDefault(cfg.MaxBackups, 3),
			MaxAge:     orDefault(cfg.MaxAgeDays, 28),
		})
	}
	level := cfg.Level
	if level == 0 {
		level = zerolog.InfoLevel
	}
	zl := zerolog.New(io.MultiWriter(writers...)).Level(level).With().Timestamp().Logger()
	return &Logger{zl: zl}
}

func orDefault(v, d int) int {
	if v <= 0 {
		return d
	}
	return v
}

// NewNop builds a Logger that discards everything, for tests.
func NewNop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

func (l *Logger) With(component string) *Logger {
	return &Logger{zl: l.zl.With().Str("component", component).Logger()}
}

func (l *Logger) Debugf(format string, args ...any) { l.zl.Debug().Msgf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.zl.Info().Msgf(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.zl.Warn().Msgf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.zl.Error().Msgf(format, args...) }

// WarnOnce logs a warning exactly once per (logger, key) pair, for
// conditions like VectorIndexCorrupt that must be surfaced
// once per process rather than spammed every cycle.
func (l *Logger) WarnOnce(key string, format string, args ...any) {
	onceV, _ := l.onces.LoadOrStore(key, &sync.Once{})
	once := onceV.(*sync.Once)
	once.Do(func() {
		l.Warnf(format, args...)
	})
}

// Default is the package-level logger used where threading a *Logger
// through every call site would be disproportionate (e.g. deep in a
// leaf helper). Prefer an explicit *Logger where one is already in scope.
var Default = New(Config{Pretty: true})
