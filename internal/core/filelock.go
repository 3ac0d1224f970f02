package core

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// locksDir holds the advisory lock files, one per chain plus one for the
// chain sequence.
const locksDir = ".locks"

// LockChain takes an exclusive advisory lock on one chain under root, so
// that separate processes mutating the same chain run one at a time. An
// empty chainID locks chain creation. The returned function releases it.
func LockChain(root, chainID string) (unlock func() error, err error) {
	name := chainID
	if name == "" {
		name = chainSequenceKey
	}
	if !validPathSegment(name) {
		return nil, fmt.Errorf("locking chain: invalid chain id %q", chainID)
	}
	dir := filepath.Join(root, locksDir)
	if err := os.MkdirAll(dir, dirPerms); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	return lockFile(filepath.Join(dir, name+".lock"))
}

// lockFile acquires an exclusive file lock (LOCK_EX) on the given file path.
// It returns an unlock function that must be called to release the lock.
func lockFile(path string) (unlock func() error, err error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, filePerms) //nolint:gosec // G304: path is built from the managed task root
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("acquiring file lock: %w", err)
	}

	return func() error {
		defer f.Close()
		return syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	}, nil
}
