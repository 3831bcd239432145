// Package recorder writes terminal sessions as asciinema v2 cast files.
package recorder

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// header is the asciinema v2 file header, written as the first JSON line.
type header struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Env       map[string]string `json:"env,omitempty"`
}

// Recorder appends asciinema v2 events to a cast file. Events carry a
// float offset in seconds from the recording start, a direction ("o" for
// output, "i" for input) and the raw data as a string.
type Recorder struct {
	mu      sync.Mutex
	w       io.Writer
	file    *os.File // set only when the recorder owns the file
	started time.Time
}

// New creates a cast file at path and writes the v2 header for a terminal
// of the given size.
func New(path string, cols, rows int) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create cast file: %w", err)
	}
	r := &Recorder{w: f, file: f, started: time.Now()}
	if err := r.writeHeader(cols, rows); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	return r, nil
}

// NewWithWriter records to an arbitrary writer. Used by tests.
func NewWithWriter(w io.Writer, cols, rows int) (*Recorder, error) {
	r := &Recorder{w: w, started: time.Now()}
	if err := r.writeHeader(cols, rows); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Recorder) writeHeader(cols, rows int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	h := header{
		Version:   2,
		Width:     cols,
		Height:    rows,
		Timestamp: r.started.Unix(),
		Env:       map[string]string{"TERM": "xterm-256color"},
	}
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("failed to marshal cast header: %w", err)
	}
	if _, err := r.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write cast header: %w", err)
	}
	return nil
}

// Output records bytes the terminal produced.
func (r *Recorder) Output(data []byte) error {
	return r.writeEvent("o", data)
}

// Input records bytes the client sent to the terminal.
func (r *Recorder) Input(data []byte) error {
	return r.writeEvent("i", data)
}

func (r *Recorder) writeEvent(direction string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	event := []interface{}{
		time.Since(r.started).Seconds(),
		direction,
		string(data),
	}
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal cast event: %w", err)
	}
	if _, err := r.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write cast event: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file, if any.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		return err
	}
	return nil
}
