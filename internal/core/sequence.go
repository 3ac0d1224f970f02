package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// sequencesDir holds one high-water mark file per sequence key.
const sequencesDir = ".sequences"

// sequenceCounter persists high-water marks for sequence allocation so that
// a sequence number is never handed out twice, even after the record that
// used it has been deleted.
type sequenceCounter struct {
	dir string
}

func newSequenceCounter(root string) *sequenceCounter {
	return &sequenceCounter{dir: filepath.Join(root, sequencesDir)}
}

// next returns max(stored mark, floor) + 1 for key and records it as the new mark.
// floor is the highest sequence currently present on disk.
func (c *sequenceCounter) next(key string, floor int) (int, error) {
	mark, err := c.read(key)
	if err != nil {
		return 0, err
	}
	if floor > mark {
		mark = floor
	}
	mark++

	if err := os.MkdirAll(c.dir, 0o750); err != nil {
		return 0, fmt.Errorf("creating sequence directory: %w", err)
	}
	if err := writeFileAtomic(c.path(key), []byte(strconv.Itoa(mark))); err != nil {
		return 0, fmt.Errorf("writing sequence %s: %w", key, err)
	}
	return mark, nil
}

func (c *sequenceCounter) read(key string) (int, error) {
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading sequence %s: %w", key, err)
	}
	trimmed := strings.TrimSpace(string(data))
	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("parsing sequence %s %q: %w", key, trimmed, err)
	}
	return n, nil
}

func (c *sequenceCounter) remove(key string) error {
	if err := os.Remove(c.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing sequence %s: %w", key, err)
	}
	return nil
}

func (c *sequenceCounter) path(key string) string {
	return filepath.Join(c.dir, key)
}
