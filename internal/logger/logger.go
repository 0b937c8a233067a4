package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/oarkflow/smpp-engine/pkg/smpp"
)

// LevelFatal sits above slog.LevelError so fatal records are never filtered.
const LevelFatal = slog.Level(12)

// DefaultLogger implements the smpp.Logger interface on top of log/slog
type DefaultLogger struct {
	logger *slog.Logger
	exit   func(int)
}

// ParseLevel maps a configuration level name to a slog level. Unknown names
// fall back to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "fatal":
		return LevelFatal
	default:
		return slog.LevelInfo
	}
}

// NewDefaultLogger creates a logger writing to stdout in text format
func NewDefaultLogger(level string) smpp.Logger {
	return New(os.Stdout, level, "text")
}

// New creates a logger writing to w. format is "json" or "text".
func New(w io.Writer, level, format string) *DefaultLogger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelFatal {
					a.Value = slog.StringValue("FATAL")
				}
			}
			return a
		},
	}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return &DefaultLogger{logger: slog.New(handler), exit: os.Exit}
}

// FromConfig builds the logger described by the logging section. The
// returned closer releases the log file, if any.
func FromConfig(cfg smpp.LoggingConfig) (smpp.Logger, io.Closer, error) {
	var w io.Writer
	var closer io.Closer = io.NopCloser(nil)
	switch strings.ToLower(cfg.Output) {
	case "", "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	case "file":
		if cfg.File == "" {
			return nil, nil, fmt.Errorf("logging output is file but no file is set")
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		w, closer = f, f
	default:
		return nil, nil, fmt.Errorf("unknown logging output %q", cfg.Output)
	}
	return New(w, cfg.Level, cfg.Format), closer, nil
}

// Debug logs a debug message
func (l *DefaultLogger) Debug(msg string, fields ...interface{}) {
	l.logger.Debug(msg, fields...)
}

// Info logs an info message
func (l *DefaultLogger) Info(msg string, fields ...interface{}) {
	l.logger.Info(msg, fields...)
}

// Warn logs a warning message
func (l *DefaultLogger) Warn(msg string, fields ...interface{}) {
	l.logger.Warn(msg, fields...)
}

// Error logs an error message
func (l *DefaultLogger) Error(msg string, fields ...interface{}) {
	l.logger.Error(msg, fields...)
}

// Fatal logs a fatal message and exits
func (l *DefaultLogger) Fatal(msg string, fields ...interface{}) {
	l.logger.Log(context.Background(), LevelFatal, msg, fields...)
	l.exit(1)
}

// WithFields returns a logger with additional fields
func (l *DefaultLogger) WithFields(fields map[string]interface{}) smpp.Logger {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &DefaultLogger{logger: l.logger.With(args...), exit: l.exit}
}
