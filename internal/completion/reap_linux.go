//go:build linux

package completion

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"

	"github.com/musher-dev/cputally/internal/usage"
)

// si_code values for SIGCHLD from <signal.h>; x/sys does not export them.
const (
	cldExited = 1
	cldKilled = 2
	cldDumped = 3
)

type reapResult struct {
	usage  usage.CPUUsage
	reason ExitReason
}

// reap issues one non-blocking waitid on the pidfd. ready is false when the
// child has not exited yet; that case is never an error.
//
// This is the only place the rusage buffer is touched. Both output buffers
// are zeroed right before the call and read only after it returned success
// with a populated siginfo.
func reap(fd uintptr) (res reapResult, ready bool, err error) {
	info := unix.Siginfo{}
	ru := unix.Rusage{}

	err = unix.Waitid(unix.P_PIDFD, int(fd), &info, unix.WEXITED|unix.WNOHANG, &ru)

	switch {
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
		return reapResult{}, false, nil
	case err != nil:
		return reapResult{}, false, os.NewSyscallError("waitid", err)
	case info.Signo == 0:
		// WNOHANG with nothing to reap leaves si_signo zero.
		return reapResult{}, false, nil
	}

	return reapResult{
		usage:  usage.FromRusage(&ru),
		reason: exitReason(info.Code),
	}, true, nil
}

func exitReason(code int32) ExitReason {
	switch code {
	case cldExited:
		return Exited
	case cldKilled:
		return Killed
	case cldDumped:
		return Dumped
	default:
		return ExitUnknown
	}
}
