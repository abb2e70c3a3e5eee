package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/netpush-network/netpush/pkg/util"
)

// rotatedSuffix is appended to the log path on rotation. It sorts
// chronologically as a string.
const rotatedSuffix = "20060102T150405.000000000"

// maxLine bounds one JSON line; device errors can embed long CLI output.
const maxLine = 1 << 20

// Logger is an audit backend.
type Logger interface {
	Log(event *Event) error
	Query(filter Filter) ([]*Event, error)
	Close() error
}

// FileLogger appends events to a JSON-lines file, rotating it by size.
// Queries read the current file and every retained rotated file.
type FileLogger struct {
	path     string
	rotation RotationConfig

	mu      sync.RWMutex
	file    *os.File
	encoder *json.Encoder
	size    int64
}

// RotationConfig configures log file rotation
type RotationConfig struct {
	MaxSize    int64 // Max file size in bytes before rotation
	MaxBackups int   // Max number of old files to retain
}

// NewFileLogger opens (or creates) the log at path and its directory.
func NewFileLogger(path string, rotation RotationConfig) (*FileLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating audit log directory: %w", err)
	}
	l := &FileLogger{path: path, rotation: rotation}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *FileLogger) open() error {
	file, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("opening audit log: %w", err)
	}
	l.file = file
	l.encoder = json.NewEncoder(&countingWriter{w: file, n: &l.size})
	l.size = info.Size()
	return nil
}

// countingWriter keeps the logger's size current without a stat per event.
type countingWriter struct {
	w *os.File
	n *int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	*c.n += int64(n)
	return n, err
}

// Log appends event, stamping an ID and time if it has none.
func (l *FileLogger) Log(event *Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return fmt.Errorf("audit log %s is closed", l.path)
	}
	if l.rotation.MaxSize > 0 && l.size >= l.rotation.MaxSize {
		if err := l.rotate(); err != nil {
			return fmt.Errorf("rotating audit log: %w", err)
		}
	}
	return l.encoder.Encode(event)
}

// Query returns matching events, newest first, across the current and
// rotated files. Offset and Limit apply after filtering.
func (l *FileLogger) Query(filter Filter) ([]*Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	files := append(l.rotatedFiles(), l.path)
	var events []*Event
	for _, path := range files {
		found, err := readEvents(path, filter)
		if err != nil {
			return nil, err
		}
		events = append(events, found...)
	}

	// Files are oldest first and each is in append order.
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(events) {
			return []*Event{}, nil
		}
		events = events[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(events) {
		events = events[:filter.Limit]
	}
	if events == nil {
		events = []*Event{}
	}
	return events, nil
}

func readEvents(path string, filter Filter) ([]*Event, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var events []*Event
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		var event Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			util.Warnf("audit: skipping malformed entry at %s:%d: %v", filepath.Base(path), lineNum, err)
			continue
		}
		if filter.Match(&event) {
			events = append(events, &event)
		}
	}
	return events, scanner.Err()
}

// Close closes the log file. Later Log calls fail; Query still works.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Match reports whether event passes every criterion set in f.
func (f Filter) Match(event *Event) bool {
	switch {
	case f.Device != "" && event.Device != f.Device,
		f.User != "" && event.User != f.User,
		f.Deployment != "" && event.Deployment != f.Deployment,
		f.Kind != "" && event.Kind != f.Kind,
		f.Status != "" && event.Status != f.Status,
		!f.StartTime.IsZero() && event.Timestamp.Before(f.StartTime),
		!f.EndTime.IsZero() && event.Timestamp.After(f.EndTime),
		f.FailureOnly && event.Success():
		return false
	}
	return true
}

func (l *FileLogger) rotate() error {
	if err := l.file.Close(); err != nil {
		return err
	}
	rotated := l.path + "." + time.Now().UTC().Format(rotatedSuffix)
	if err := os.Rename(l.path, rotated); err != nil {
		return err
	}
	if err := l.open(); err != nil {
		l.file = nil
		return err
	}
	if l.rotation.MaxBackups > 0 {
		l.prune()
	}
	return nil
}

// rotatedFiles lists rotated logs, oldest first.
func (l *FileLogger) rotatedFiles() []string {
	matches, err := filepath.Glob(l.path + ".*")
	if err != nil {
		return nil
	}
	prefix := l.path + "."
	var files []string
	for _, m := range matches {
		if _, err := time.Parse(rotatedSuffix, strings.TrimPrefix(m, prefix)); err == nil {
			files = append(files, m)
		}
	}
	sort.Strings(files)
	return files
}

// prune removes the oldest rotated files beyond MaxBackups.
func (l *FileLogger) prune() {
	files := l.rotatedFiles()
	for i := 0; i < len(files)-l.rotation.MaxBackups; i++ {
		if err := os.Remove(files[i]); err != nil {
			util.Warnf("audit: removing %s: %v", files[i], err)
		}
	}
}
