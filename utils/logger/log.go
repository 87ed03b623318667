package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

type LogLevel string

const (
	DEBUG LogLevel = "DEBUG"
	INFO  LogLevel = "INFO"
	WARN  LogLevel = "WARN"
	ERROR LogLevel = "ERROR"
)

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case DEBUG:
		return slog.LevelDebug
	case WARN:
		return slog.LevelWarn
	case ERROR:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel accepts the level names used in config files, case-insensitive.
// Unknown names fall back to INFO.
func ParseLevel(s string) LogLevel {
	switch LogLevel(strings.ToUpper(strings.TrimSpace(s))) {
	case DEBUG:
		return DEBUG
	case WARN, "WARNING":
		return WARN
	case ERROR:
		return ERROR
	default:
		return INFO
	}
}

type LoggerStruct struct {
	Logger  *slog.Logger
	LogFile *os.File
}

func (l *LoggerStruct) Log(message string, level LogLevel) {
	if l == nil || l.Logger == nil {
		return
	}
	l.Logger.Log(context.Background(), level.slogLevel(), message)
}

func (l *LoggerStruct) Logf(level LogLevel, format string, args ...any) {
	if l == nil || l.Logger == nil {
		return
	}
	if !l.Logger.Enabled(context.Background(), level.slogLevel()) {
		return
	}
	l.Log(fmt.Sprintf(format, args...), level)
}

// With returns a logger that tags every line with the given attributes.
// The log file stays owned by the parent.
func (l *LoggerStruct) With(args ...any) *LoggerStruct {
	if l == nil || l.Logger == nil {
		return l
	}
	return &LoggerStruct{Logger: l.Logger.With(args...)}
}

func (l *LoggerStruct) CloseLogger() {
	if l == nil || l.LogFile == nil {
		return
	}
	l.LogFile.Close()
}

// New builds a logger over an arbitrary writer.
func New(w io.Writer, level LogLevel) *LoggerStruct {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level.slogLevel()})
	return &LoggerStruct{Logger: slog.New(handler)}
}

// Discard returns a logger that drops everything.
func Discard() *LoggerStruct {
	return New(io.Discard, ERROR)
}

// ConfigurarLogger opens (or creates) filename and logs to it and to stdout.
// An empty filename logs to stdout only.
func ConfigurarLogger(filename string, level string) (*LoggerStruct, error) {
	lvl := ParseLevel(level)
	if filename == "" {
		return New(os.Stdout, lvl), nil
	}

	logFile, err := os.OpenFile(filename, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0666)
	if err != nil {
		return nil, fmt.Errorf("opening log file %s: %w", filename, err)
	}
	mw := io.MultiWriter(os.Stdout, logFile)
	logger := New(mw, lvl)
	logger.LogFile = logFile
	return logger, nil
}
