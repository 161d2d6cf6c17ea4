//go:build linux

package pidfd

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
	"testing"

	"golang.org/x/sys/unix"
)

func TestOpen_Self(t *testing.T) {
	h, err := Open(os.Getpid(), NonBlock)
	if err != nil {
		t.Fatalf("Open(self) error = %v", err)
	}

	if h.Pid() != os.Getpid() {
		t.Errorf("Pid() = %d, want %d", h.Pid(), os.Getpid())
	}

	if err := h.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestOpen_InvalidPid(t *testing.T) {
	tests := []struct {
		name  string
		pid   int
		errno syscall.Errno
	}{
		{name: "negative", pid: -1, errno: unix.EINVAL},
		{name: "nonexistent", pid: 1 << 30, errno: unix.ESRCH},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := Open(tt.pid, NonBlock)
			if err == nil {
				_ = h.Close()
				t.Fatalf("Open(%d) succeeded, want error", tt.pid)
			}

			var sysErr *os.SyscallError
			if !errors.As(err, &sysErr) {
				t.Fatalf("error %v is not *os.SyscallError", err)
			}

			if !errors.Is(err, tt.errno) {
				t.Errorf("error = %v, want errno %v", err, tt.errno)
			}
		})
	}
}

func TestAwait_ParksUntilExit(t *testing.T) {
	cmd := exec.Command("sleep", "0.1")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start sleep: %v", err)
	}

	h, err := Open(cmd.Process.Pid, NonBlock)
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		t.Fatalf("Open() error = %v", err)
	}
	defer h.Close()

	calls := 0

	err = h.Await(func(fd uintptr) bool {
		calls++

		var info unix.Siginfo
		if err := unix.Waitid(unix.P_PIDFD, int(fd), &info, unix.WEXITED|unix.WNOHANG, nil); err != nil {
			return !errors.Is(err, unix.EAGAIN)
		}

		return info.Signo != 0
	})
	if err != nil {
		t.Fatalf("Await() error = %v", err)
	}

	if calls < 1 {
		t.Errorf("try called %d times", calls)
	}
}

func TestSignal_AfterClose(t *testing.T) {
	h, err := Open(os.Getpid(), NonBlock)
	if err != nil {
		t.Fatalf("Open(self) error = %v", err)
	}

	if err := h.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if err := h.Signal(0); !errors.Is(err, ErrClosed) {
		t.Errorf("Signal after Close = %v, want ErrClosed", err)
	}
}
