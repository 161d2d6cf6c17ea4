package runner

import (
	"context"
	"errors"
	"os"
	"slices"

	"github.com/shirou/gopsutil/v3/process"
)

// ZombieChildren lists children of the current process that exited but were
// never reaped. After a run it should always be empty.
func ZombieChildren(ctx context.Context) ([]int32, error) {
	self, err := process.NewProcessWithContext(ctx, int32(os.Getpid())) //nolint:gosec // G115: pids fit in int32
	if err != nil {
		return nil, err
	}

	children, err := self.ChildrenWithContext(ctx)
	if err != nil {
		if errors.Is(err, process.ErrorNoChildren) {
			return nil, nil
		}

		return nil, err
	}

	var zombies []int32

	for _, child := range children {
		status, err := child.StatusWithContext(ctx)
		if err != nil {
			// The child may have been reaped between listing and inspection.
			continue
		}

		if slices.Contains(status, process.Zombie) {
			zombies = append(zombies, child.Pid)
		}
	}

	return zombies, nil
}
