package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

var (
	slogger *slog.Logger
	logFile *os.File
)

// InitSlog initializes the slog-based logger.
// If jsonOutput is true, logs are formatted as JSON for production.
func InitSlog(logDir string, jsonOutput bool) error {
	// Create log directory if it doesn't exist
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}

	// Create log file with timestamp
	logFileName := "devtools-" + time.Now().Format("2006-01-02") + ".log"
	logFilePath := filepath.Join(logDir, logFileName)

	var err error
	logFile, err = os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}

	// Write to both stdout and file
	writer := io.MultiWriter(os.Stdout, logFile)

	var handler slog.Handler
	if jsonOutput {
		handler = slog.NewJSONHandler(writer, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	} else {
		handler = slog.NewTextHandler(writer, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}

	slogger = slog.New(handler)
	slog.SetDefault(slogger)

	return nil
}

// CloseSlog closes the slog log file.
func CloseSlog() error {
	if logFile != nil {
		return logFile.Close()
	}
	return nil
}

// Slog returns the slog.Logger instance for structured logging.
func Slog() *slog.Logger {
	if slogger == nil {
		return slog.Default()
	}
	return slogger
}

// Context keys for structured logging. Scoped to this system's two moving
// parts: a pipe connection (internal/rpcpipe) and the Host/Client role a
// given goroutine is acting under.
type contextKey string

const (
	ContextKeyConnectionID contextKey = "connection_id"
	ContextKeyMethod       contextKey = "method"
	ContextKeyRole         contextKey = "role"
)

// WithContext returns a logger with context fields attached.
func WithContext(ctx context.Context) *slog.Logger {
	l := Slog()

	if v := ctx.Value(ContextKeyConnectionID); v != nil {
		l = l.With("connection_id", v)
	}
	if v := ctx.Value(ContextKeyMethod); v != nil {
		l = l.With("method", v)
	}
	if v := ctx.Value(ContextKeyRole); v != nil {
		l = l.With("role", v)
	}

	return l
}

// Info, Warn, Error, Debug are the unscoped, printf-style entry points most
// packages reach for; they go through the default logger rather than a
// per-call context.
func Info(format string, args ...any)  { Slog().Info(fmt.Sprintf(format, args...)) }
func Warn(format string, args ...any)  { Slog().Warn(fmt.Sprintf(format, args...)) }
func Error(format string, args ...any) { Slog().Error(fmt.Sprintf(format, args...)) }
func Debug(format string, args ...any) { Slog().Debug(fmt.Sprintf(format, args...)) }

// InfoContext logs an info message with context fields attached.
func InfoContext(ctx context.Context, format string, args ...any) {
	WithContext(ctx).Info(fmt.Sprintf(format, args...))
}

// ErrorContext logs an error with context fields attached.
func ErrorContext(ctx context.Context, format string, args ...any) {
	WithContext(ctx).Error(fmt.Sprintf(format, args...))
}

// WarnContext logs a warning with context fields attached.
func WarnContext(ctx context.Context, format string, args ...any) {
	WithContext(ctx).Warn(fmt.Sprintf(format, args...))
}

// DebugContext logs debug info with context fields attached.
func DebugContext(ctx context.Context, format string, args ...any) {
	WithContext(ctx).Debug(fmt.Sprintf(format, args...))
}
