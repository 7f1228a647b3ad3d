package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/justapithecus/flume/types"
)

// File sink defaults.
const (
	DefaultFileMaxBytes    = 10 * 1024 * 1024
	DefaultFileBackupCount = 5
)

// File writes newline-delimited JSON to a log file, rotating when the
// file exceeds maxBytes and keeping backupCount historical files
// (path.1 is the newest backup). Parent directories are created.
type File struct {
	path        string
	maxBytes    int64
	backupCount int

	mu   sync.Mutex
	f    *os.File
	size int64
}

// NewFile creates a file sink. maxBytes <= 0 and backupCount < 0 take
// the defaults.
func NewFile(path string, maxBytes int64, backupCount int) (*File, error) {
	if path == "" {
		return nil, NewError(ErrConfiguration, "file", "open", fmt.Errorf("file path is required"))
	}
	if maxBytes <= 0 {
		maxBytes = DefaultFileMaxBytes
	}
	if backupCount < 0 {
		backupCount = DefaultFileBackupCount
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, NewError(ErrConfiguration, "file", "mkdir", err)
	}

	s := &File{path: path, maxBytes: maxBytes, backupCount: backupCount}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *File) open() error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return NewError(ErrConfiguration, "file", "open", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return NewError(ErrWrite, "file", "stat", err)
	}
	s.f = f
	s.size = info.Size()
	return nil
}

// Name implements Sink.
func (s *File) Name() string { return "file" }

// Write appends one JSON line, rotating first if the line would push
// the file past maxBytes.
func (s *File) Write(ctx context.Context, event types.Event) error {
	line := append(event.EncodeJSON(), '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return NewError(ErrWrite, s.Name(), "write", fmt.Errorf("sink is closed"))
	}

	if s.size+int64(len(line)) > s.maxBytes && s.size > 0 {
		if err := s.rotate(); err != nil {
			return WrapWriteError(err, s.Name(), event)
		}
	}

	n, err := s.f.Write(line)
	s.size += int64(n)
	if err != nil {
		return WrapWriteError(err, s.Name(), event)
	}
	return nil
}

// rotate shifts path.N -> path.N+1, path -> path.1, and reopens.
// Caller must hold mu.
func (s *File) rotate() error {
	if err := s.f.Close(); err != nil {
		return err
	}
	s.f = nil

	if s.backupCount > 0 {
		// Oldest backup falls off the end.
		_ = os.Remove(s.backupName(s.backupCount))
		for i := s.backupCount - 1; i >= 1; i-- {
			src := s.backupName(i)
			if _, err := os.Stat(src); err == nil {
				if err := os.Rename(src, s.backupName(i+1)); err != nil {
					return err
				}
			}
		}
		if err := os.Rename(s.path, s.backupName(1)); err != nil {
			return err
		}
	} else {
		// No backups kept: truncate by removing.
		if err := os.Remove(s.path); err != nil {
			return err
		}
	}

	return s.open()
}

func (s *File) backupName(i int) string {
	return fmt.Sprintf("%s.%d", s.path, i)
}

// Close flushes and closes the file. Idempotent.
func (s *File) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// Verify File implements Sink.
var _ Sink = (*File)(nil)
