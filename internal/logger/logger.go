package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Level is the logging level.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

// Options controls where and how log lines are written.
type Options struct {
	Enabled bool
	Level   string
	File    string
	Console bool
	// Format is json (default) or console.
	Format string
	// Output overrides stdout; used by tests.
	Output io.Writer
}

var (
	mu     sync.RWMutex
	global = zerolog.Nop()
	closer io.Closer
)

// Init initializes the logger.
func Init(enabled bool, levelStr, logFile string, console bool) error {
	return Configure(Options{Enabled: enabled, Level: levelStr, File: logFile, Console: console})
}

// Configure installs a logger built from opts. It may be called more than once.
func Configure(opts Options) error {
	mu.Lock()
	defer mu.Unlock()

	if closer != nil {
		closer.Close()
		closer = nil
	}
	if !opts.Enabled {
		global = zerolog.Nop()
		return nil
	}

	var writers []io.Writer
	if opts.File != "" {
		dir := filepath.Dir(opts.File)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create log directory: %w", err)
			}
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, f)
		closer = f
	}

	if opts.Console || len(writers) == 0 {
		out := opts.Output
		if out == nil {
			out = os.Stdout
		}
		if strings.EqualFold(opts.Format, "console") {
			out = zerolog.ConsoleWriter{Out: out, TimeFormat: "2006-01-02 15:04:05"}
		}
		writers = append(writers, out)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	global = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(toZerolog(parseLevel(opts.Level))).
		With().Timestamp().Logger()
	return nil
}

func parseLevel(levelStr string) Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return Debug
	case "info":
		return Info
	case "warn", "warning":
		return Warn
	case "error":
		return Error
	default:
		return Info
	}
}

func toZerolog(level Level) zerolog.Level {
	switch level {
	case Debug:
		return zerolog.DebugLevel
	case Warn:
		return zerolog.WarnLevel
	case Error:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func current() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	l := global
	return &l
}

// With returns a child logger context for structured fields.
//
//	logger.With().Str("owner", owner).Logger().Info().Msg("ingested")
func With() zerolog.Context {
	return current().With()
}

// Debugf logs a debug message.
func Debugf(format string, args ...interface{}) {
	current().Debug().Msgf(format, args...)
}

// Infof logs an info message.
func Infof(format string, args ...interface{}) {
	current().Info().Msgf(format, args...)
}

// Warnf logs a warning.
func Warnf(format string, args ...interface{}) {
	current().Warn().Msgf(format, args...)
}

// Errorf logs an error message.
func Errorf(format string, args ...interface{}) {
	current().Error().Msgf(format, args...)
}
