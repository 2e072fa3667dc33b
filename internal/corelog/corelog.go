// Package corelog writes structured JSONL log lines for the substrate's
// long-running processes (supervisor, workers, CLI entrypoints). Each line
// is a single JSON object with a timestamp, an event name, and a free-form
// field map, so log files can be tailed with jq without a schema.
package corelog

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
)

// Logger serializes writes of JSON lines to an underlying writer.
type Logger struct {
	mu sync.Mutex
	w  io.Writer
}

// New wraps w. w is never closed by the Logger.
func New(w io.Writer) *Logger {
	return &Logger{w: w}
}

// Open appends JSONL records to the file at path, creating it if needed.
// The caller is responsible for closing the returned file.
func Open(path string) (*Logger, *os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return New(f), f, nil
}

type record struct {
	Time   time.Time      `json:"time"`
	Event  string         `json:"event"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Log writes one JSON line. now is supplied by the caller rather than
// taken internally so callers can keep their own clock source.
func (l *Logger) Log(now time.Time, event string, fields map[string]any) error {
	line, err := json.Marshal(record{Time: now, Event: event, Fields: fields})
	if err != nil {
		return err
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.w.Write(line)
	return err
}

// RotateFile gzip-compresses the log file at path into path+".gz"+suffix
// and truncates the original, for operators who want to cap a long-running
// swarm's log file size without losing the history. The Logger writing to
// path should not be in use concurrently with a rotation.
func RotateFile(path, suffix string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open log for rotation: %w", err)
	}
	defer src.Close()

	dstPath := path + ".gz" + suffix
	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create rotated log: %w", err)
	}
	defer dst.Close()

	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		gz.Close()
		return fmt.Errorf("compress log: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("flush compressed log: %w", err)
	}

	return os.Truncate(path, 0)
}
