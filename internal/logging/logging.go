// Package logging configures the application wide slog loggers.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	structuredLogger *slog.Logger
	fileCloser       func() error
	initMutex        sync.Mutex
)

const (
	LevelTrace = slog.Level(-8)
	LevelFatal = slog.Level(12)
)

// Custom level names for levels slog does not know about.
var levelNames = map[slog.Leveler]string{
	LevelTrace: "TRACE",
	LevelFatal: "FATAL",
}

func replaceLevelNames(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		level := a.Value.Any().(slog.Level)
		levelLabel, exists := levelNames[level]
		if !exists {
			levelLabel = level.String()
		}
		a.Value = slog.StringValue(levelLabel)
	}
	return a
}

// Init initializes the logging system with a structured JSON logger writing
// to stdout. If filePath is non-empty, output is duplicated to a rotated
// file via lumberjack.
func Init(filePath string, maxSizeMB, maxAgeDays int, level slog.Level) error {
	initMutex.Lock()
	defer initMutex.Unlock()

	var w io.Writer = os.Stdout

	if filePath != "" {
		// lumberjack does not create directories
		if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
			return err
		}
		logWriter := &lumberjack.Logger{
			Filename: filePath,
			MaxSize:  maxSizeMB,
			MaxAge:   maxAgeDays,
			Compress: true,
		}
		fileCloser = logWriter.Close
		w = io.MultiWriter(os.Stdout, logWriter)
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceLevelNames,
	})
	structuredLogger = slog.New(handler)
	slog.SetDefault(structuredLogger)
	return nil
}

// ForService returns a child logger tagged with the given service name.
func ForService(serviceName string) *slog.Logger {
	initMutex.Lock()
	defer initMutex.Unlock()
	if structuredLogger == nil {
		// Logging not initialized, fall back to the default logger so
		// callers always get a usable logger.
		return slog.Default().With("service", serviceName)
	}
	return structuredLogger.With("service", serviceName)
}

// Close flushes and closes the file log writer if one was configured.
func Close() error {
	initMutex.Lock()
	defer initMutex.Unlock()
	if fileCloser != nil {
		return fileCloser()
	}
	return nil
}

// Convenience functions using the default logger.

// Debug logs a debug message using the default slog logger.
func Debug(msg string, args ...any) {
	slog.Debug(msg, args...)
}

// Info logs an info message using the default slog logger.
func Info(msg string, args ...any) {
	slog.Info(msg, args...)
}

// Warn logs a warning message using the default slog logger.
func Warn(msg string, args ...any) {
	slog.Warn(msg, args...)
}

// Error logs an error message using the default slog logger.
func Error(msg string, args ...any) {
	slog.Error(msg, args...)
}
