//go:build !linux

package completion

import (
	"errors"

	"github.com/musher-dev/cputally/internal/usage"
)

type reapResult struct {
	usage  usage.CPUUsage
	reason ExitReason
}

func reap(uintptr) (reapResult, bool, error) {
	return reapResult{}, false, errors.ErrUnsupported
}
