// Package logging provides the leveled, structured logger used across the TAMPI core.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// LogLevel represents the available log levels.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Config holds logging configuration.
type Config struct {
	Level LogLevel
	// Format is "text" (console-friendly) or "json". Empty defaults to "text".
	Format  string
	Output  io.Writer
	Sync    bool // not read by NewLogger; every event is written to Output as it is emitted
	NoColor bool
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Format: "text",
		Output: os.Stderr,
	}
}

// Logger wraps a zerolog.Logger with the level semantics and bound-context helpers
// the rest of the core relies on (per-language, per-rank, per-ticket diagnostics).
type Logger struct {
	zl zerolog.Logger
}

var (
	defaultLogger *Logger
	mu            sync.RWMutex
)

// NewLogger creates a new logger from config. A nil config uses DefaultConfig.
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	output := config.Output
	if output == nil {
		output = os.Stderr
	}

	var w io.Writer = output
	if config.Format != "json" {
		cw := zerolog.ConsoleWriter{Out: output, NoColor: config.NoColor}
		w = cw
	}

	zl := zerolog.New(w).Level(config.Level.zerolog()).With().Timestamp().Logger()
	return &Logger{zl: zl}
}

// Default returns the default logger, creating it if necessary.
func Default() *Logger {
	mu.RLock()
	if defaultLogger != nil {
		defer mu.RUnlock()
		return defaultLogger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault sets the default logger.
func SetDefault(logger *Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = logger
}

// WithLang binds the ticket manager's language (C or Fortran) to subsequent records.
func (l *Logger) WithLang(lang string) *Logger {
	return &Logger{zl: l.zl.With().Str("lang", lang).Logger()}
}

// WithRank binds the MPI rank to subsequent records.
func (l *Logger) WithRank(rank int) *Logger {
	return &Logger{zl: l.zl.With().Int("rank", rank).Logger()}
}

// WithTicket binds a tag and opcode to subsequent records, for tracing one posted operation.
func (l *Logger) WithTicket(tag int, op string) *Logger {
	return &Logger{zl: l.zl.With().Int("tag", tag).Str("op", op).Logger()}
}

// WithError binds an error to subsequent records.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{zl: l.zl.With().Err(err).Logger()}
}

func (l *Logger) event(level LogLevel, msg string, args ...any) {
	var ev *zerolog.Event
	switch level {
	case LevelDebug:
		ev = l.zl.Debug()
	case LevelWarn:
		ev = l.zl.Warn()
	case LevelError:
		ev = l.zl.Error()
	default:
		ev = l.zl.Info()
	}
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		ev = ev.Interface(key, args[i+1])
	}
	ev.Msg(msg)
}

func (l *Logger) Debug(msg string, args ...any) { l.event(LevelDebug, msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.event(LevelInfo, msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.event(LevelWarn, msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.event(LevelError, msg, args...) }

// Global convenience functions operating on the default logger.

func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }
