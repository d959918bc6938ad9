// Package report writes an append-only JSONL event log per run, so
// destructive operations leave an audit trail of exactly what was
// fetched, removed or moved.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	EventCrawl    EventType = "crawl"
	EventCommit   EventType = "commit"
	EventSkip     EventType = "skip"
	EventPromote  EventType = "promote"
	EventFilter   EventType = "filter"
	EventArchive  EventType = "archive"
	EventConflict EventType = "conflict"
	EventError    EventType = "error"
)

// EventLevel represents the severity level
type EventLevel string

const (
	LevelDebug   EventLevel = "debug"
	LevelInfo    EventLevel = "info"
	LevelWarning EventLevel = "warning"
	LevelError   EventLevel = "error"
)

var levelPriority = map[EventLevel]int{
	LevelDebug:   0,
	LevelInfo:    1,
	LevelWarning: 2,
	LevelError:   3,
}

// Event is a single pipeline event.
type Event struct {
	Timestamp time.Time  `json:"ts"`
	Level     EventLevel `json:"level"`
	Event     EventType  `json:"event"`
	RunID     string     `json:"run_id,omitempty"`
	NoteID    string     `json:"note_id,omitempty"`
	Keyword   string     `json:"keyword,omitempty"`
	Store     string     `json:"store,omitempty"`
	Dest      string     `json:"dest,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	Images    int        `json:"images,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// EventLogger writes events to a JSONL file
type EventLogger struct {
	file     *os.File
	encoder  *json.Encoder
	mu       sync.Mutex
	path     string
	minLevel EventLevel
}

// NewEventLogger creates an event logger writing to a timestamped file
// under outputDir. Events below minLevel are dropped.
func NewEventLogger(outputDir string, minLevel EventLevel) (*EventLogger, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	timestamp := time.Now().Format("20060102-150405")
	path := filepath.Join(outputDir, fmt.Sprintf("events-%s.jsonl", timestamp))

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create event log: %w", err)
	}

	return &EventLogger{
		file:     file,
		encoder:  json.NewEncoder(file),
		path:     path,
		minLevel: minLevel,
	}, nil
}

// NullLogger returns a logger that drops everything, for callers that
// could not open an event log but still want the call sites to work.
func NullLogger() *EventLogger {
	return &EventLogger{minLevel: LevelError}
}

// Path returns the log file path ("" for the null logger).
func (l *EventLogger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Log writes one event if it passes the level filter.
func (l *EventLogger) Log(event *Event) error {
	if l == nil || l.encoder == nil {
		return nil
	}
	if levelPriority[event.Level] < levelPriority[l.minLevel] {
		return nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.encoder.Encode(event)
}

// Close flushes and closes the log file.
func (l *EventLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.file.Close()
	l.file = nil
	l.encoder = nil
	return err
}
