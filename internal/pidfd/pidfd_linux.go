//go:build linux

package pidfd

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/unix"
)

// NonBlock requests a non-blocking descriptor (PIDFD_NONBLOCK). Only a
// non-blocking descriptor is registered with the netpoller by os.NewFile.
const NonBlock = unix.PIDFD_NONBLOCK

// Handle is an open pidfd bound to exactly one process.
type Handle struct {
	pid  int
	file *os.File
	conn syscall.RawConn

	closed atomic.Bool
}

// Open returns a Handle for pid. The caller must be allowed to observe the
// process. Failures carry the errno as an *os.SyscallError.
func Open(pid, flags int) (*Handle, error) {
	fd, err := unix.PidfdOpen(pid, flags)
	if err != nil {
		return nil, os.NewSyscallError("pidfd_open", err)
	}

	file := os.NewFile(uintptr(fd), fmt.Sprintf("pidfd:%d", pid))

	conn, err := file.SyscallConn()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("pidfd raw conn: %w", err)
	}

	return &Handle{pid: pid, file: file, conn: conn}, nil
}

// Pid returns the process id the handle was opened for.
func (h *Handle) Pid() int {
	return h.pid
}

// Await calls try with the raw descriptor. Whenever try returns false the
// goroutine is parked until the descriptor becomes readable again and try is
// called once more. Await returns when try returns true.
func (h *Handle) Await(try func(fd uintptr) bool) error {
	if h.closed.Load() {
		return ErrClosed
	}

	if err := h.conn.Read(try); err != nil {
		if errors.Is(err, os.ErrClosed) {
			return ErrClosed
		}

		return fmt.Errorf("pidfd await: %w", err)
	}

	return nil
}

// Control calls fn with the raw descriptor without waiting for readiness.
func (h *Handle) Control(fn func(fd uintptr)) error {
	if h.closed.Load() {
		return ErrClosed
	}

	if err := h.conn.Control(fn); err != nil {
		if errors.Is(err, os.ErrClosed) {
			return ErrClosed
		}

		return fmt.Errorf("pidfd control: %w", err)
	}

	return nil
}

// Signal delivers sig through pidfd_send_signal, so it can never hit a
// recycled pid.
func (h *Handle) Signal(sig syscall.Signal) error {
	var sendErr error

	if err := h.Control(func(fd uintptr) {
		sendErr = unix.PidfdSendSignal(int(fd), sig, nil, 0)
	}); err != nil {
		return err
	}

	if sendErr != nil {
		return os.NewSyscallError("pidfd_send_signal", sendErr)
	}

	return nil
}

// Close releases the descriptor. It does not reap the process.
func (h *Handle) Close() error {
	if h.closed.Swap(true) {
		return nil
	}

	if err := h.file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("close pidfd: %w", err)
	}

	return nil
}
