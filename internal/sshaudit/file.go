package sshaudit

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/gluk-w/claworc/sshrelay/internal/logutil"
)

// fileHeader is written once, when the audit file is first created.
const fileHeader = "# SSH Command Log\n# Format: [timestamp] [username@host] command\n\n"

// FileSink appends command records to a plain-text audit file, one line per
// command. It is safe for concurrent use: appends are serialized and each
// record is a single write on an O_APPEND descriptor, so lines from
// different relay connections never interleave.
//
// The file is never truncated or rewritten. If it is removed while the relay
// runs (e.g. by logrotate), the next append recreates it.
type FileSink struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// NewFileSink materializes the audit file at path, creating parent
// directories and the header as needed. An error here means the audit store
// is unusable and the relay should not start.
func NewFileSink(path string) (*FileSink, error) {
	if path == "" {
		return nil, fmt.Errorf("audit log path is empty")
	}
	s := &FileSink{path: path}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the audit file location.
func (s *FileSink) Path() string {
	return s.path
}

// Append writes rec as one line and syncs it to disk. Failures are logged.
func (s *FileSink) Append(rec CommandRecord) {
	line := []byte(rec.Line())

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureOpen(); err != nil {
		log.Printf("[ssh-audit] failed to open audit file: %v", err)
		return
	}
	if _, err := s.f.Write(line); err != nil {
		log.Printf("[ssh-audit] failed to write command for %s@%s: %v",
			logutil.SanitizeForLog(rec.Username), logutil.SanitizeForLog(rec.Host), err)
		s.f.Close()
		s.f = nil
		return
	}
	if err := s.f.Sync(); err != nil {
		log.Printf("[ssh-audit] failed to sync audit file: %v", err)
	}
}

// Close releases the file descriptor. A later Append reopens the file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// ensureOpen must be called with s.mu held.
func (s *FileSink) ensureOpen() error {
	if s.f != nil {
		if _, err := os.Stat(s.path); err == nil {
			return nil
		}
		s.f.Close()
		s.f = nil
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create audit directory: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat audit file: %w", err)
	}
	if info.Size() == 0 {
		if _, err := f.WriteString(fileHeader); err != nil {
			f.Close()
			return fmt.Errorf("write audit header: %w", err)
		}
	}
	s.f = f
	return nil
}
