// Package workdir manages the private directory tree owned by one daemon
// fixture: its data directory, generated configuration and captured logs.
package workdir

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// RootEnv names the environment variable that overrides the base directory of
// temporary workdirs, e.g. to place them on a ramdisk.
const RootEnv = "TEMPDIR_ROOT"

// Prefix is prepended to every temporary workdir name.
const Prefix = "nodefixture-"

// Dir is a workdir owned by exactly one supervisor.
type Dir struct {
	path      string
	temporary bool

	once      sync.Once
	removeErr error
}

// Create makes a uniquely named temporary directory under base.
// An empty base falls back to $TEMPDIR_ROOT, then to os.TempDir().
func Create(base string) (*Dir, error) {
	if base == "" {
		base = os.Getenv(RootEnv)
	}
	if base == "" {
		base = os.TempDir()
	}
	// The daemon runs with its own cwd; every path handed to it is absolute.
	base, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workdir base: %w", err)
	}

	if err := os.MkdirAll(base, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workdir base %s: %w", base, err)
	}

	path := filepath.Join(base, Prefix+uuid.NewString())
	// Mkdir (not MkdirAll) so an existing directory counts as a collision
	if err := os.Mkdir(path, 0700); err != nil {
		return nil, fmt.Errorf("failed to create workdir: %w", err)
	}

	return &Dir{path: path, temporary: true}, nil
}

// Persistent uses path as a workdir that survives teardown.
func Persistent(path string) (*Dir, error) {
	if path == "" {
		return nil, errors.New("persistent workdir path is required")
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create persistent workdir: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workdir path: %w", err)
	}
	return &Dir{path: abs, temporary: false}, nil
}

// Path returns the absolute directory path.
func (d *Dir) Path() string {
	return d.path
}

// Temporary reports whether Remove deletes the directory.
func (d *Dir) Temporary() bool {
	return d.temporary
}

// Join returns a path inside the workdir.
func (d *Dir) Join(elem ...string) string {
	return filepath.Join(append([]string{d.path}, elem...)...)
}

// Remove deletes a temporary workdir recursively. It runs at most once; later
// calls return the first result. Persistent workdirs are left in place.
func (d *Dir) Remove() error {
	if d == nil {
		return nil
	}
	d.once.Do(func() {
		if !d.temporary {
			return
		}
		if err := os.RemoveAll(d.path); err != nil {
			d.removeErr = fmt.Errorf("failed to remove workdir %s: %w", d.path, err)
		}
	})
	return d.removeErr
}
