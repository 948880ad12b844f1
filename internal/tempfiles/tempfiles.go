// Package tempfiles provides temp files and directories for staging product
// data. Ingest work directories are created next to their final location so
// the commit move never crosses a file system boundary.
package tempfiles

import (
	"fmt"
	"os"
	"path/filepath"
)

// Create makes a temp file in dir (or the system temp dir when empty) and
// returns it together with its path.
func Create(dir, pattern string) (*os.File, string, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create temp file: %w", err)
	}
	return f, f.Name(), nil
}

// CreateDir makes a work directory under parent. The caller removes it when
// done; Commit renames content out of it first.
func CreateDir(parent, pattern string) (string, error) {
	if parent != "" {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return "", fmt.Errorf("failed to create parent directory %q: %w", parent, err)
		}
	}
	dir, err := os.MkdirTemp(parent, pattern)
	if err != nil {
		return "", fmt.Errorf("failed to create temp directory: %w", err)
	}
	return dir, nil
}

// DeleteOnClose wraps a file so Close also removes it from disk.
type DeleteOnClose struct {
	*os.File
}

// NewDeleteOnClose wraps f.
func NewDeleteOnClose(f *os.File) *DeleteOnClose {
	return &DeleteOnClose{File: f}
}

// Close closes and deletes the file. The remove error wins only when the
// close succeeded.
func (d *DeleteOnClose) Close() error {
	closeErr := d.File.Close()
	removeErr := os.Remove(d.File.Name())
	if closeErr != nil {
		return closeErr
	}
	if removeErr != nil && !os.IsNotExist(removeErr) {
		return removeErr
	}
	return nil
}

// Commit renames src into dstDir, replacing an existing entry of the same
// name.
func Commit(src, dstDir string) (string, error) {
	dst := filepath.Join(dstDir, filepath.Base(src))
	if err := os.RemoveAll(dst); err != nil {
		return "", fmt.Errorf("failed to replace %q: %w", dst, err)
	}
	if err := os.Rename(src, dst); err != nil {
		return "", fmt.Errorf("failed to move %q into place: %w", src, err)
	}
	return dst, nil
}
