package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/apperrors"
)

// FileSink appends entries as JSON lines to a log file, rotating by size.
type FileSink struct {
	mu      sync.Mutex
	dir     string
	maxSize int64
	file    *os.File
	encoder *json.Encoder
}

// FileSinkConfig configures a FileSink.
type FileSinkConfig struct {
	Dir     string
	MaxSize int64 // bytes before rotation; 0 means 100MB
}

// NewFileSink creates a file-backed sink, creating the directory if needed.
func NewFileSink(cfg FileSinkConfig) (*FileSink, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}
	sink := &FileSink{
		dir:     cfg.Dir,
		maxSize: cfg.MaxSize,
	}
	if sink.maxSize == 0 {
		sink.maxSize = 100 * 1024 * 1024
	}
	if err := sink.open(); err != nil {
		return nil, err
	}
	return sink, nil
}

func (s *FileSink) path() string {
	return filepath.Join(s.dir, "audit.log")
}

func (s *FileSink) open() error {
	file, err := os.OpenFile(s.path(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open audit log file: %w", err)
	}
	s.file = file
	s.encoder = json.NewEncoder(file)
	return nil
}

// Append writes the entry as one JSON line.
func (s *FileSink) Append(ctx context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.rotateIfNeeded(); err != nil {
		return apperrors.Wrap(apperrors.KindTransient, "failed to rotate audit log", err)
	}
	if err := s.encoder.Encode(entry); err != nil {
		return apperrors.Wrap(apperrors.KindTransient, "failed to append audit entry", err)
	}
	return nil
}

func (s *FileSink) rotateIfNeeded() error {
	info, err := s.file.Stat()
	if err != nil {
		return err
	}
	if info.Size() < s.maxSize {
		return nil
	}
	if err := s.file.Close(); err != nil {
		return err
	}
	rotated := s.path() + "." + info.ModTime().UTC().Format("20060102T150405")
	if err := os.Rename(s.path(), rotated); err != nil {
		return err
	}
	return s.open()
}

// Close flushes and closes the log file.
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
