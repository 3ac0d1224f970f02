package cli

import (
	"fmt"

	"github.com/valter-silva-au/taskchain/internal/core"
)

// withChainLock runs fn while holding the advisory lock of chainID under the
// task root. An empty chainID takes the chain-creation lock.
func withChainLock(chainID string, fn func() error) error {
	if TasksRoot == "" {
		return fn()
	}
	unlock, err := core.LockChain(TasksRoot, chainID)
	if err != nil {
		return fmt.Errorf("locking chain: %w", err)
	}
	defer func() { _ = unlock() }()
	return fn()
}
