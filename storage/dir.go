package storage

import (
	"fmt"
	"os"
	"sync"
)

const dirPrefix = "pausesim-chromium-data-*"

// Dir manages a browser user data directory.
type Dir struct {
	Dir string

	// remove is true when the directory was created by Make and must be
	// removed on Cleanup.
	remove bool
	mu     sync.Mutex
}

// Make uses dir as the data directory if it's set, or creates a new
// temporary directory under tmpDir otherwise.
func (d *Dir) Make(tmpDir, dir string) error {
	if dir != "" {
		d.Dir = dir
		return nil
	}

	var err error
	if d.Dir, err = os.MkdirTemp(tmpDir, dirPrefix); err != nil {
		return fmt.Errorf("creating a temporary data directory: %w", err)
	}
	d.remove = true

	return nil
}

// Cleanup removes the directory if it was created by Make. It's safe to
// call more than once.
func (d *Dir) Cleanup() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.remove {
		return nil
	}
	d.remove = false

	return os.RemoveAll(d.Dir)
}
