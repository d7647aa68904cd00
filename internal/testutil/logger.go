package testutil

import (
	"fmt"
	"strings"
	"sync"

	"custdoc/internal/docs"
)

// LogEntry is one message captured by RecordingLogger.
type LogEntry struct {
	Level   string
	Message string
	Args    []any
}

func (e LogEntry) String() string {
	return fmt.Sprintf("%s %s %v", e.Level, e.Message, e.Args)
}

// RecordingLogger keeps every message for assertions. Child loggers created
// with With share the parent's entries.
type RecordingLogger struct {
	mu      *sync.Mutex
	entries *[]LogEntry
	attrs   []any
}

// NewRecordingLogger creates an empty RecordingLogger.
func NewRecordingLogger() *RecordingLogger {
	return &RecordingLogger{mu: &sync.Mutex{}, entries: &[]LogEntry{}}
}

func (l *RecordingLogger) log(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	all := append(append([]any{}, l.attrs...), args...)
	*l.entries = append(*l.entries, LogEntry{Level: level, Message: msg, Args: all})
}

func (l *RecordingLogger) Debug(msg string, args ...any) { l.log("DEBUG", msg, args) }
func (l *RecordingLogger) Info(msg string, args ...any)  { l.log("INFO", msg, args) }
func (l *RecordingLogger) Warn(msg string, args ...any)  { l.log("WARN", msg, args) }
func (l *RecordingLogger) Error(msg string, args ...any) { l.log("ERROR", msg, args) }

func (l *RecordingLogger) With(args ...any) docs.Logger {
	return &RecordingLogger{
		mu:      l.mu,
		entries: l.entries,
		attrs:   append(append([]any{}, l.attrs...), args...),
	}
}

// Entries returns the captured entries at level ("" for all).
func (l *RecordingLogger) Entries(level string) []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []LogEntry
	for _, e := range *l.entries {
		if level == "" || e.Level == level {
			out = append(out, e)
		}
	}
	return out
}

// Contains reports whether any entry at level has a message containing s.
func (l *RecordingLogger) Contains(level, s string) bool {
	for _, e := range l.Entries(level) {
		if strings.Contains(e.Message, s) {
			return true
		}
	}
	return false
}
