// Package file opens local files for the csv stages and the fixed-width
// converter: reading, truncating writes, and appends.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Local is a file on the local disk.
type Local struct{ path string }

// NewLocal returns a Local bound to path.
func NewLocal(path string) *Local { return &Local{path: path} }

// Path returns the bound path.
func (l *Local) Path() string { return l.path }

// Open opens the file for reading. The *os.File is returned so callers that
// need random access (footer scans) can use ReadAt and Seek.
//
// A context that is already done short-circuits before touching the disk.
// Filesystem errors are wrapped with the path; errors.Is(err, os.ErrNotExist)
// still works.
func (l *Local) Open(ctx context.Context) (*os.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", l.path, err)
	}
	return f, nil
}

// Create truncates or creates the file for writing, creating parent
// directories as needed.
func (l *Local) Create(ctx context.Context) (*os.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", l.path, err)
	}
	f, err := os.Create(l.path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", l.path, err)
	}
	return f, nil
}

// Append opens the file for appending. fresh reports whether the file did
// not exist or was empty, i.e. whether a header row still has to be written.
func (l *Local) Append(ctx context.Context) (f *os.File, fresh bool, err error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	size, err := l.Size()
	switch {
	case errors.Is(err, fs.ErrNotExist):
		fresh = true
	case err != nil:
		return nil, false, err
	default:
		fresh = size == 0
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return nil, false, fmt.Errorf("append %s: %w", l.path, err)
	}
	f, err = os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("append %s: %w", l.path, err)
	}
	return f, fresh, nil
}

// Size returns the file size.
func (l *Local) Size() (int64, error) {
	fi, err := os.Stat(l.path)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", l.path, err)
	}
	return fi.Size(), nil
}

// Exists reports whether the path names an existing regular file.
func (l *Local) Exists() bool {
	fi, err := os.Stat(l.path)
	return err == nil && fi.Mode().IsRegular()
}
