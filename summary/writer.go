// Package summary records scalar training series (losses, uncertainty
// magnitudes) keyed by a monotonically increasing step. Writers are
// append-only; nothing in the trainer reads events back.
package summary

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Writer is the summary sink the epoch runners emit into.
type Writer interface {
	// AddScalar appends one value of the named series at the given step.
	AddScalar(tag string, value float64, step int)
	Flush() error
	Close() error
}

// Event is one recorded scalar.
type Event struct {
	Tag      string  `json:"tag"`
	Value    float64 `json:"value"`
	Step     int     `json:"step"`
	WallTime int64   `json:"wall_time"`
}

// FileWriter appends events to a JSON-lines file, one run per file.
type FileWriter struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
}

// NewFileWriter opens (or creates) the event file for appending.
func NewFileWriter(path string) (*FileWriter, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open event file %s", path)
	}
	return &FileWriter{file: file, buf: bufio.NewWriter(file)}, nil
}

func (w *FileWriter) AddScalar(tag string, value float64, step int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	event := Event{Tag: tag, Value: value, Step: step, WallTime: time.Now().Unix()}
	line, err := json.Marshal(event)
	if err != nil {
		return
	}
	w.buf.Write(line)
	w.buf.WriteByte('\n')
}

func (w *FileWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return errors.Wrap(w.buf.Flush(), "failed to flush event file")
}

func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return errors.Wrap(err, "failed to flush event file")
	}
	return errors.Wrap(w.file.Close(), "failed to close event file")
}

// NopWriter discards every event.
type NopWriter struct{}

func (NopWriter) AddScalar(string, float64, int) {}
func (NopWriter) Flush() error                   { return nil }
func (NopWriter) Close() error                   { return nil }
