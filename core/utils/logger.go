package utils

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Logger is a thin printf-style wrapper over slog shared by all
// services. Callers tolerate a nil logger.
type Logger struct {
	l *slog.Logger
}

func NewLogger() *Logger {
	level := parseLevel(os.Getenv("EDUCTI_LOG_LEVEL"))
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return &Logger{l: slog.New(h)}
}

func NewLoggerWith(l *slog.Logger) *Logger {
	if l == nil {
		return NewLogger()
	}
	return &Logger{l: l}
}

func (lg *Logger) With(component string) *Logger {
	if lg == nil || lg.l == nil {
		return lg
	}
	return &Logger{l: lg.l.With("component", component)}
}

func (lg *Logger) Printf(format string, args ...any) {
	if lg == nil || lg.l == nil {
		return
	}
	lg.l.Info(fmt.Sprintf(format, args...))
}

func (lg *Logger) Debugf(format string, args ...any) {
	if lg == nil || lg.l == nil {
		return
	}
	lg.l.Debug(fmt.Sprintf(format, args...))
}

func (lg *Logger) Errorf(format string, args ...any) {
	if lg == nil || lg.l == nil {
		return
	}
	lg.l.Error(fmt.Sprintf(format, args...))
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
