// Package completion turns the exit of a child process into a value a
// goroutine can wait for, and collects the CPU time the child consumed.
//
// A Process owns its child exclusively. The child is started with
// exec.Cmd.Start and is never passed to exec.Cmd.Wait or os.Process.Wait:
// those reap the child and discard the rusage report. Instead the Process
// watches a pidfd and performs the single reap itself with
// waitid(P_PIDFD, ..., &rusage).
//
// Because the runtime never reaps the child, the caller must either Wait
// for it or Close it. Close is how a pending Process is discarded: it reaps
// the child synchronously. A Process dropped without either leaves a zombie
// until cputally exits; the garbage collector only logs a warning for it.
package completion

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/musher-dev/cputally/internal/pidfd"
	"github.com/musher-dev/cputally/internal/usage"
)

var (
	// ErrProcessIDUnavailable is returned by Spawn when the started child
	// has no process id. The child is killed and reaped before returning.
	ErrProcessIDUnavailable = errors.New("process id unavailable after start")

	// ErrEmptyProgram is returned by Spawn for a CommandSpec without a program.
	ErrEmptyProgram = errors.New("command program is empty")

	// ErrDiscarded is the terminal error of a Process closed while pending.
	ErrDiscarded = errors.New("process discarded before completion")

	// ErrProcessDone is returned by Signal once the child has been reaped.
	ErrProcessDone = errors.New("process already reaped")
)

// openWatch is replaced in tests to force watch failures.
var openWatch = pidfd.Open

// onDropped runs when a Process is collected while still pending. Spawn
// copies it into the guard, so replacing it only affects later spawns.
var onDropped = func(pid int) {
	slog.Warn("process collected without Wait or Close; child left unreaped",
		slog.String("event.type", "process.dropped"), slog.Int("process.pid", pid))
}

// dropGuard outlives its Process so the cleanup can tell whether the child
// was ever settled. It must not reference the Process.
type dropGuard struct {
	pid     int
	report  func(pid int)
	settled atomic.Bool
}

func (g *dropGuard) check() {
	if !g.settled.Load() {
		g.report(g.pid)
	}
}

// Stream selects where a child's output stream goes.
type Stream int

const (
	// Discard connects the stream to the null device.
	Discard Stream = iota
	// Inherit shares the parent's stream.
	Inherit
)

func (s Stream) file(parent *os.File) *os.File {
	if s == Inherit {
		return parent
	}

	// exec.Cmd opens the null device for nil files.
	return nil
}

// CommandSpec describes the child to start.
type CommandSpec struct {
	Program string
	Args    []string
	Dir     string
	// Env replaces the environment when non-nil.
	Env    []string
	Stdout Stream
	Stderr Stream
}

// State is the lifecycle position of a Process.
type State int

const (
	// Pending means the child has not been reaped yet.
	Pending State = iota
	// Resolved means the child was reaped and its usage collected.
	Resolved
	// Failed means the reap failed or the Process was discarded.
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Resolved:
		return "resolved"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ExitReason reports how a resolved child terminated.
type ExitReason int

const (
	// ExitUnknown is reported before resolution.
	ExitUnknown ExitReason = iota
	// Exited means the child called exit.
	Exited
	// Killed means the child was terminated by a signal.
	Killed
	// Dumped means the child was terminated by a signal and dumped core.
	Dumped
)

func (r ExitReason) String() string {
	switch r {
	case Exited:
		return "exited"
	case Killed:
		return "killed"
	case Dumped:
		return "dumped"
	default:
		return "unknown"
	}
}

// Process is a started child plus the pidfd used to wait for it.
//
// Wait and Close serialize on an internal lock. Signal may be called from
// any goroutine.
type Process struct {
	mu sync.Mutex

	cmd    *exec.Cmd
	handle *pidfd.Handle
	pid    int

	state  State
	usage  usage.CPUUsage
	reason ExitReason
	err    error

	guard *dropGuard
}

// Spawn starts the child described by spec and returns the Process owning
// it. On any failure after the child started, the child is killed and reaped
// before Spawn returns.
func Spawn(spec CommandSpec) (*Process, error) {
	if spec.Program == "" {
		return nil, ErrEmptyProgram
	}

	cmd := exec.Command(spec.Program, spec.Args...) //nolint:gosec // G204: program is chosen by the operator
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	cmd.Stdout = spec.Stdout.file(os.Stdout)
	cmd.Stderr = spec.Stderr.file(os.Stderr)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.Program, err)
	}

	if cmd.Process == nil || cmd.Process.Pid <= 0 {
		abandon(cmd)
		return nil, ErrProcessIDUnavailable
	}

	pid := cmd.Process.Pid

	handle, err := openWatch(pid, pidfd.NonBlock)
	if err != nil {
		abandon(cmd)
		return nil, fmt.Errorf("watch pid %d: %w", pid, err)
	}

	p := &Process{
		cmd:    cmd,
		handle: handle,
		pid:    pid,
		guard:  &dropGuard{pid: pid, report: onDropped},
	}

	runtime.AddCleanup(p, (*dropGuard).check, p.guard)

	return p, nil
}

// abandon disposes of a child that never got a watcher. Nothing else owns
// it yet, so the runtime's own reap is safe here.
func abandon(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}

	_ = cmd.Process.Kill()
	_ = cmd.Wait()
}

// Pid returns the child's process id.
func (p *Process) Pid() int {
	return p.pid
}

// State returns the current lifecycle state.
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.state
}

// ExitReason reports how the child terminated once resolved.
func (p *Process) ExitReason() ExitReason {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.reason
}

// Wait parks the calling goroutine until the child exits, reaps it, and
// returns the CPU time it used. The outcome is recorded once; later calls
// return it without touching the kernel.
func (p *Process) Wait() (usage.CPUUsage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != Pending {
		return p.usage, p.err
	}

	res, err := p.awaitReap()
	p.settle(res, err)

	return p.usage, p.err
}

// Signal sends sig to the child through its pidfd.
func (p *Process) Signal(sig syscall.Signal) error {
	if err := p.handle.Signal(sig); err != nil {
		if errors.Is(err, pidfd.ErrClosed) {
			return ErrProcessDone
		}

		return err
	}

	return nil
}

// Close releases the Process. A pending child is reaped first, blocking
// until it exits; its usage is dropped and the state becomes Failed with
// ErrDiscarded.
func (p *Process) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != Pending {
		return nil
	}

	_, err := p.awaitReap()
	p.settle(reapResult{}, ErrDiscarded)

	if err != nil {
		return fmt.Errorf("reap discarded pid %d: %w", p.pid, err)
	}

	return nil
}

// awaitReap loops reap under the pidfd's readiness until the child is
// reaped or the kernel reports a real error. A not-yet-exited result simply
// re-arms readiness.
func (p *Process) awaitReap() (reapResult, error) {
	var (
		res     reapResult
		reapErr error
	)

	err := p.handle.Await(func(fd uintptr) bool {
		var ready bool

		res, ready, reapErr = reap(fd)

		return ready || reapErr != nil
	})
	if err != nil {
		return reapResult{}, err
	}

	if reapErr != nil {
		return reapResult{}, reapErr
	}

	return res, nil
}

func (p *Process) settle(res reapResult, err error) {
	if err != nil {
		p.state = Failed
		p.err = err
	} else {
		p.state = Resolved
		p.usage = res.usage
		p.reason = res.reason
	}

	p.guard.settled.Store(true)

	_ = p.handle.Close()

	// The runtime never reaped this child; Release only frees its bookkeeping.
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Release()
	}
}
