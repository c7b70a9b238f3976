// Package logging provides structured logging for the harness, backed by
// zerolog (the structured-logging library the retrieved example pack wires
// in as a logiface backend).
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Logger wraps a zerolog.Logger with the level-aware API call sites
// throughout the tree expect.
type Logger struct {
	zl    zerolog.Logger
	level LogLevel
}

var (
	defaultLogger *Logger
	mu            sync.RWMutex
)

// LogLevel represents the available log levels.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) zerologLevel() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
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
	Level  LogLevel
	Output io.Writer
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Output: os.Stderr,
	}
}

// NewLogger creates a new logger.
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	output := config.Output
	if output == nil {
		output = os.Stderr
	}
	zl := zerolog.New(output).With().Timestamp().Logger().Level(config.Level.zerologLevel())
	return &Logger{zl: zl, level: config.Level}
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

func (l *Logger) event(lvl LogLevel) *zerolog.Event {
	switch lvl {
	case LevelDebug:
		return l.zl.Debug()
	case LevelWarn:
		return l.zl.Warn()
	case LevelError:
		return l.zl.Error()
	default:
		return l.zl.Info()
	}
}

func (l *Logger) logKV(level LogLevel, msg string, args ...any) {
	ev := l.event(level)
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		ev = ev.Interface(key, args[i+1])
	}
	ev.Msg(msg)
}

func (l *Logger) Debug(msg string, args ...any) { l.logKV(LevelDebug, msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.logKV(LevelInfo, msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.logKV(LevelWarn, msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.logKV(LevelError, msg, args...) }

// Printf-style logging, kept for call sites grounded on the teacher's
// interfaces.Logger contract (Printf/Debugf).
func (l *Logger) Debugf(format string, args ...any) { l.event(LevelDebug).Msgf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.event(LevelInfo).Msgf(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.event(LevelWarn).Msgf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.event(LevelError).Msgf(format, args...) }

// Printf satisfies interfaces.Logger for compatibility with code written
// against that narrower contract.
func (l *Logger) Printf(format string, args ...any) { l.Infof(format, args...) }

// Global convenience functions operating on Default().
func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }
