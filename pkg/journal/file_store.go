package journal

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// FileStore keeps the journal as an append-only text file, one record per
// line: "<id> <json>" for an insert and "<id>" alone for a removal.
type FileStore struct {
	fs   afero.Fs
	path string

	mu sync.Mutex
	f  afero.File
}

var _ Store = (*FileStore)(nil)

// NewFileStore opens or creates the journal file at path on fs.
func NewFileStore(fs afero.Fs, path string) (*FileStore, error) {
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("error: cannot create journal directory: %w", err)
	}
	s := &FileStore{fs: fs, path: path}
	if err := s.open(0); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) open(extra int) error {
	f, err := s.fs.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND|extra, 0o644)
	if err != nil {
		return fmt.Errorf("error: cannot open journal %s: %w", s.path, err)
	}
	s.f = f
	return nil
}

// Path returns the journal file path.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Append(_ context.Context, rec Record) error {
	if rec.ID == "" || strings.ContainsAny(rec.ID, " \n") {
		return fmt.Errorf("%w: %q", ErrInvalidID, rec.ID)
	}
	var line []byte
	if rec.Deleted {
		line = append([]byte(rec.ID), '\n')
	} else {
		if bytes.IndexByte(rec.Data, '\n') >= 0 {
			return fmt.Errorf("error: journal data for %s spans lines", rec.ID)
		}
		line = make([]byte, 0, len(rec.ID)+len(rec.Data)+2)
		line = append(line, rec.ID...)
		line = append(line, ' ')
		line = append(line, rec.Data...)
		line = append(line, '\n')
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrClosed
	}
	if _, err := s.f.Write(line); err != nil {
		return fmt.Errorf("error: cannot write journal %s: %w", s.path, err)
	}
	return nil
}

func (s *FileStore) Load(_ context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil, ErrClosed
	}
	contents, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		return nil, fmt.Errorf("error: cannot read journal %s: %w", s.path, err)
	}
	var recs []Record
	for _, line := range bytes.Split(contents, []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		id, data, found := bytes.Cut(line, []byte{' '})
		if !found {
			recs = append(recs, Record{ID: string(id), Deleted: true})
			continue
		}
		recs = append(recs, Record{ID: string(id), Data: data})
	}
	return recs, nil
}

// Clear truncates the journal file.
func (s *FileStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrClosed
	}
	if err := s.f.Close(); err != nil {
		return fmt.Errorf("error: cannot close journal %s: %w", s.path, err)
	}
	s.f = nil
	return s.open(os.O_TRUNC)
}

// Close closes the journal file. It is safe to call more than once.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
