package log

import (
	"context"
	stderrors "errors"
	"log/slog"

	"github.com/felixgeelhaar/goalrun/internal/errors"
)

// Logger provides structured logging with slog
type Logger struct {
	slog *slog.Logger
}

// New creates a new Logger with the given configuration
func New(config Config) *Logger {
	opts := &slog.HandlerOptions{
		Level:     config.Level.ToSlogLevel(),
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	if config.Format == FormatText {
		handler = slog.NewTextHandler(config.Output.Writer(), opts)
	} else {
		handler = slog.NewJSONHandler(config.Output.Writer(), opts)
	}

	logger := slog.New(handler)
	if config.ServiceName != "" {
		logger = logger.With("service", config.ServiceName, "version", config.ServiceVersion)
	}

	return &Logger{slog: logger}
}

// Default creates a logger with default configuration
func Default() *Logger {
	return New(DefaultConfig())
}

// Nop returns a logger that discards every record
func Nop() *Logger {
	return New(Config{Level: LevelError, Output: OutputDiscard()})
}

// With returns a new Logger with the given attributes added to all log entries
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...)}
}

// ForGoal returns a logger tagged with the identity of one goal execution
func (l *Logger) ForGoal(goalSetID, uniqueName, correlationID string) *Logger {
	args := []any{"goal_set_id", goalSetID, "goal", uniqueName}
	if correlationID != "" {
		args = append(args, "correlation_id", correlationID)
	}
	return l.With(args...)
}

// WithError adds error details to the logger. A GoalrunError anywhere in the
// chain contributes its error_code and suggestions.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.With(errorAttrs(err)...)
}

func errorAttrs(err error) []any {
	var grErr *errors.GoalrunError
	if !stderrors.As(err, &grErr) {
		return []any{"error", err.Error()}
	}

	args := []any{
		"error", grErr.Message,
		"error_code", string(grErr.Code),
	}
	if len(grErr.Suggestions) > 0 {
		args = append(args, "suggestions", grErr.Suggestions)
	}
	if grErr.DocsURL != "" {
		args = append(args, "docs_url", grErr.DocsURL)
	}
	if grErr.Cause != nil {
		args = append(args, "cause", grErr.Cause.Error())
	}
	return args
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, args ...any) {
	l.slog.Debug(msg, args...)
}

// Info logs an info message
func (l *Logger) Info(msg string, args ...any) {
	l.slog.Info(msg, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, args ...any) {
	l.slog.Warn(msg, args...)
}

// WarnContext logs a warning message with context
func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.slog.WarnContext(ctx, msg, args...)
}

// Error logs an error message
func (l *Logger) Error(msg string, args ...any) {
	l.slog.Error(msg, args...)
}
