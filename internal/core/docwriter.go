package core

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
	"github.com/zeebo/blake3"
)

const (
	dirPerms  = 0o750
	filePerms = 0o600
)

// writeFileAtomic replaces path with data via a temp file and rename, so a
// reader never observes a half-written document.
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), dirPerms); err != nil {
		return fmt.Errorf("creating directory for %s: %w", filepath.Base(path), err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return err
	}
	// atomic.WriteFile does not apply permissions to new files.
	return os.Chmod(path, filePerms)
}

// contentDigest returns the blake3 digest of data.
func contentDigest(data []byte) [32]byte {
	return blake3.Sum256(data)
}

// writeVerified writes data to path and reads it back, failing if the bytes
// on disk do not hash to the same digest.
func writeVerified(path string, data []byte) error {
	if err := writeFileAtomic(path, data); err != nil {
		return err
	}
	back, err := os.ReadFile(path) //nolint:gosec // G304: path is built from the managed task root
	if err != nil {
		return fmt.Errorf("reading back %s: %w", filepath.Base(path), err)
	}
	if contentDigest(back) != contentDigest(data) {
		return fmt.Errorf("verifying %s: content mismatch after write", filepath.Base(path))
	}
	return nil
}

// removeIfEmpty deletes dir when it holds no entries. A missing directory is
// not an error.
func removeIfEmpty(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", dir, err)
	}
	if len(entries) > 0 {
		return nil
	}
	if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing empty directory %s: %w", dir, err)
	}
	return nil
}
