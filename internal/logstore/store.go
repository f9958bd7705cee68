package logstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// MarkerLayout is the timestamp layout used inside lifecycle markers.
const MarkerLayout = "2006-01-02 15:04:05.000000"

// ErrInvalidName is returned for identifiers that cannot be mapped to a file
// inside the store directory.
var ErrInvalidName = errors.New("invalid script identifier")

// Store keeps one append-only journal per script identifier at
// <dir>/<identifier>.log. Journals are never truncated or rotated.
type Store struct {
	dir string
	now func() time.Time

	mu    sync.Mutex
	files map[string]*File
}

func New(dir string) *Store {
	return &Store{dir: dir, now: time.Now, files: make(map[string]*File)}
}

// Path returns the journal path for id.
func (s *Store) Path(id string) (string, error) {
	if id == "" || strings.ContainsRune(id, 0) || !filepath.IsLocal(filepath.FromSlash(id)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, id)
	}
	return filepath.Join(s.dir, filepath.FromSlash(id)+".log"), nil
}

// Open returns the journal for id, opening it in append mode on first use.
// All callers share one *File per identifier so writes stay serialized.
func (s *Store) Open(id string) (*File, error) {
	p, err := s.Path(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.files[id]; ok && !f.closed() {
		return f, nil
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	// #nosec G304 -- path validated by Path
	fh, err := os.OpenFile(p, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", id, err)
	}
	f := &File{id: id, fh: fh, now: s.now}
	s.files[id] = f
	return f, nil
}

// Read returns the full journal content for id. A missing journal reads as empty.
func (s *Store) Read(id string) (string, error) {
	p, err := s.Path(id)
	if err != nil {
		return "", err
	}
	// #nosec G304 -- path validated by Path
	b, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read journal %s: %w", id, err)
	}
	return string(b), nil
}

// Close closes every journal opened through the store.
func (s *Store) Close() error {
	s.mu.Lock()
	files := make([]*File, 0, len(s.files))
	for _, f := range s.files {
		files = append(files, f)
	}
	s.files = make(map[string]*File)
	s.mu.Unlock()

	var errs []error
	for _, f := range files {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// File is an open journal. Each call writes one complete record under a lock.
type File struct {
	id  string
	now func() time.Time

	mu sync.Mutex
	fh *os.File
}

// Line appends one output line; a trailing newline is added when missing.
func (f *File) Line(line string) error {
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	return f.write(line)
}

// Marker appends a bracketed, timestamped lifecycle marker such as
// "[2024-05-01 10:00:00.000000] Script started".
func (f *File) Marker(event string) error {
	return f.write(FormatMarker(f.now(), event))
}

// FormatMarker renders a lifecycle marker record.
func FormatMarker(t time.Time, event string) string {
	return "\n[" + t.Format(MarkerLayout) + "] Script " + event + "\n"
}

func (f *File) write(s string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fh == nil {
		return fmt.Errorf("journal %s: %w", f.id, os.ErrClosed)
	}
	if _, err := f.fh.WriteString(s); err != nil {
		return fmt.Errorf("journal %s: %w", f.id, err)
	}
	return nil
}

func (f *File) closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fh == nil
}

func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fh == nil {
		return nil
	}
	err := f.fh.Close()
	f.fh = nil
	return err
}
