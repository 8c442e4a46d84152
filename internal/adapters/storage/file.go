package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/okian/windfarm/internal/domain/model"
)

// FileSink appends envelopes as JSON lines to one file per UTC day.
type FileSink struct {
	dir string
	now func() time.Time

	mu   sync.Mutex
	day  string
	file *os.File
}

// NewFileSink creates the directory and returns a sink writing into it.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create dir %s: %w", dir, err)
	}
	return &FileSink{dir: dir, now: time.Now}, nil
}

// Name identifies the sink.
func (s *FileSink) Name() string { return "file" }

// Write appends e to today's file.
func (s *FileSink) Write(_ context.Context, e model.Envelope) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.fileFor(s.now().UTC().Format("2006-01-02"))
	if err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("append %s: %w", f.Name(), err)
	}
	return nil
}

// fileFor returns the file of day, rolling over when the day changed.
// Must be called with s.mu held.
func (s *FileSink) fileFor(day string) (*os.File, error) {
	if s.file != nil && s.day == day {
		return s.file, nil
	}
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	name := filepath.Join(s.dir, "windfarm-"+day+".jsonl")
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	s.file = f
	s.day = day
	return f, nil
}

// Close closes the current file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
