package runner

import (
	"time"

	"github.com/musher-dev/cputally/internal/aggregate"
	"github.com/musher-dev/cputally/internal/completion"
	"github.com/musher-dev/cputally/internal/usage"
)

// EventKind classifies an Event.
type EventKind int

const (
	// EventSpawned fires after a child started and its pidfd is open.
	EventSpawned EventKind = iota
	// EventCompleted fires after a child was reaped and its usage delivered.
	EventCompleted
	// EventFailed fires when a child could not be started, reaped, or delivered.
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventSpawned:
		return "spawned"
	case EventCompleted:
		return "completed"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event reports progress of a single process.
type Event struct {
	Kind   EventKind
	Index  int
	Pid    int
	Token  aggregate.Token
	Usage  usage.CPUUsage
	Reason completion.ExitReason
	Err    error
}

// ProcessResult is the outcome of one process.
type ProcessResult struct {
	Index     int
	Token     aggregate.Token
	Pid       int
	Usage     usage.CPUUsage
	Reason    completion.ExitReason
	Delivered bool
	Err       error
}

// Result is the outcome of a run, indexed by process.
type Result struct {
	RunID     string
	Started   time.Time
	Elapsed   time.Duration
	Processes []ProcessResult
}

// Failed counts processes that ended with an error.
func (r *Result) Failed() int {
	n := 0

	for i := range r.Processes {
		if r.Processes[i].Err != nil {
			n++
		}
	}

	return n
}

// Failures returns the failed processes in index order.
func (r *Result) Failures() []ProcessResult {
	var out []ProcessResult

	for _, p := range r.Processes {
		if p.Err != nil {
			out = append(out, p)
		}
	}

	return out
}
