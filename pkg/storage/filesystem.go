// Package storage implements the content-addressed server directory shared
// by the store (publish) and fetch engines, together with the atomic file
// operations both rely on.
//
// Every mutating operation follows the temp-file + rename pattern: data is
// written to a temporary file in the same directory as the target, synced,
// and then renamed into place. A crash or a concurrent reader can therefore
// observe either the old content or the new content, never a partial write.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// AtomicWriteFile writes data to path atomically. On error the target file,
// if it existed, is left unchanged and the temporary file is removed.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	if path == "" {
		return errors.New("path cannot be empty")
	}

	dir := filepath.Dir(path)
	if err := EnsureDir(dir, 0o755); err != nil {
		return err
	}

	// The temp file must live in the target's directory: rename is only
	// atomic within one filesystem.
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmp != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := CommitFile(tmp, path, perm); err != nil {
		return err
	}

	tmp = nil
	return nil
}

// CommitFile syncs, closes, and atomically renames an open temporary file
// onto dest. The file must have been created in dest's directory. On error
// the caller still owns the temporary file.
func CommitFile(tmp *os.File, dest string, perm os.FileMode) error {
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), perm); err != nil {
		return fmt.Errorf("set permissions: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// EnsureDir creates a directory and any missing parents. It is idempotent.
func EnsureDir(path string, perm os.FileMode) error {
	if path == "" {
		return errors.New("path cannot be empty")
	}
	if err := os.MkdirAll(path, perm); err != nil {
		return fmt.Errorf("create directory %s: %w", path, err)
	}
	return nil
}

// FileExists reports whether path exists and is a regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
