package logger

import (
	"log/slog"
	"os"
)

// Logger is the control plane's logger interface.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
}

// SlogLogger wraps slog.Logger to implement Logger.
type SlogLogger struct {
	logger *slog.Logger
}

// New creates a JSON logger at the given level, for production use.
func New(level string) Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return &SlogLogger{logger: slog.New(handler)}
}

// NewText creates a text logger at the given level, for local development.
func NewText(level string) Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	handler := slog.NewTextHandler(os.Stdout, opts)
	return &SlogLogger{logger: slog.New(handler)}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *SlogLogger) Debug(msg string, args ...any) {
	l.logger.Debug(msg, args...)
}

func (l *SlogLogger) Info(msg string, args ...any) {
	l.logger.Info(msg, args...)
}

func (l *SlogLogger) Warn(msg string, args ...any) {
	l.logger.Warn(msg, args...)
}

func (l *SlogLogger) Error(msg string, args ...any) {
	l.logger.Error(msg, args...)
}

func (l *SlogLogger) With(args ...any) Logger {
	return &SlogLogger{logger: l.logger.With(args...)}
}

// Project attaches the project name to a log record.
func Project(name string) slog.Attr {
	return slog.String("project", name)
}

// Environment attaches the environment name to a log record.
func Environment(name string) slog.Attr {
	return slog.String("environment", name)
}

// SlotName attaches the slot color (blue/green) to a log record.
func SlotName(slot string) slog.Attr {
	return slog.String("slot", slot)
}

// Op attaches the slot-engine operation name (deploy/promote/rollback/cleanup) to a log record.
func Op(op string) slog.Attr {
	return slog.String("op", op)
}

// Host attaches the target host alias (app/streaming/storage/backup) to a log record.
func Host(host string) slog.Attr {
	return slog.String("host", host)
}

func Err(err error) slog.Attr {
	return slog.Any("error", err)
}
