//go:build !linux

package pidfd

import (
	"errors"
	"syscall"
)

// NonBlock is accepted for API compatibility; pidfds only exist on Linux.
const NonBlock = 0

// Handle is unavailable outside Linux.
type Handle struct {
	pid int
}

// Open always fails with errors.ErrUnsupported.
func Open(pid, _ int) (*Handle, error) {
	return nil, errors.ErrUnsupported
}

// Pid returns the process id the handle was opened for.
func (h *Handle) Pid() int { return h.pid }

// Await always fails with errors.ErrUnsupported.
func (h *Handle) Await(func(fd uintptr) bool) error { return errors.ErrUnsupported }

// Control always fails with errors.ErrUnsupported.
func (h *Handle) Control(func(fd uintptr)) error { return errors.ErrUnsupported }

// Signal always fails with errors.ErrUnsupported.
func (h *Handle) Signal(syscall.Signal) error { return errors.ErrUnsupported }

// Close is a no-op.
func (h *Handle) Close() error { return nil }
