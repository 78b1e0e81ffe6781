// Package tempfile provides request-scoped temporary files that are removed
// exactly once, whatever happens to the request that owns them.
package tempfile

import (
	"errors"
	"fmt"
	"os"
	"sync"
)

// State tracks where a scoped file is in its lifecycle.
type State int

const (
	StateCreated State = iota
	StateConverting
	StateSending
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConverting:
		return "converting"
	case StateSending:
		return "sending"
	case StateDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrReleased is returned when a released file is used again.
var ErrReleased = errors.New("temp file already released")

// File is a temporary file owned by a single operation.
type File struct {
	path string

	mu    sync.Mutex
	state State
	once  sync.Once
	err   error
}

// Create allocates an empty file in dir (os.TempDir when empty). pattern follows
// os.CreateTemp, so "export-*.docx" keeps the extension.
func Create(dir, pattern string) (*File, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("close temp file: %w", err)
	}
	return &File{path: path, state: StateCreated}, nil
}

// With runs fn with a fresh file and releases it afterwards, also when fn
// panics. A release error is returned only if fn succeeded.
func With(dir, pattern string, fn func(*File) error) (err error) {
	f, err := Create(dir, pattern)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := f.Release(); rerr != nil && err == nil {
			err = rerr
		}
	}()
	return fn(f)
}

// Path returns the file's location on disk.
func (f *File) Path() string { return f.path }

// State returns the current lifecycle state.
func (f *File) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Advance moves the file forward to s. Moving backwards or past deletion is
// an error; use Release to delete.
func (f *File) Advance(s State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateDeleted {
		return ErrReleased
	}
	if s <= f.state || s == StateDeleted {
		return fmt.Errorf("invalid temp file transition %s -> %s", f.state, s)
	}
	f.state = s
	return nil
}

// WriteAll replaces the file content with data.
func (f *File) WriteAll(data []byte) error {
	if f.State() == StateDeleted {
		return ErrReleased
	}
	return os.WriteFile(f.path, data, 0o600)
}

// ReadAll returns the file content.
func (f *File) ReadAll() ([]byte, error) {
	if f.State() == StateDeleted {
		return nil, ErrReleased
	}
	return os.ReadFile(f.path)
}

// Release deletes the file. Only the first call touches the filesystem; later
// calls return the first result. A file already removed by someone else
// counts as released.
func (f *File) Release() error {
	f.once.Do(func() {
		err := os.Remove(f.path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			f.err = fmt.Errorf("remove temp file: %w", err)
		}
		f.mu.Lock()
		f.state = StateDeleted
		f.mu.Unlock()
	})
	return f.err
}
