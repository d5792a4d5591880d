package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	charmlog "github.com/charmbracelet/log"

	"github.com/quillhq/retouch/internal/config"
)

// Logger appends structured lines to .retouch/logs/retouch.log so users can
// inspect a failed run after the TUI has closed.
type Logger struct {
	file  *os.File
	inner *charmlog.Logger
}

// New creates (or reuses) the log file for the current project directory.
func New(projectDir string) (*Logger, error) {
	logDir := filepath.Join(projectDir, config.RetouchDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: ensure log dir: %w", err)
	}
	path := filepath.Join(logDir, "retouch.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}
	inner := charmlog.NewWithOptions(f, charmlog.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	})
	return &Logger{file: f, inner: inner}, nil
}

// Close releases the file handle.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Printf writes a single info line. It matches the engine's Logf callback
// signature.
func (l *Logger) Printf(format string, args ...any) {
	if l == nil || l.inner == nil {
		return
	}
	l.inner.Infof(format, args...)
}

// Error writes an error line with optional key/value context.
func (l *Logger) Error(msg string, keyvals ...any) {
	if l == nil || l.inner == nil {
		return
	}
	l.inner.Error(msg, keyvals...)
}

// Warn writes a warning line with optional key/value context.
func (l *Logger) Warn(msg string, keyvals ...any) {
	if l == nil || l.inner == nil {
		return
	}
	l.inner.Warn(msg, keyvals...)
}
