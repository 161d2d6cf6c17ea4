// Package doctor runs capability checks for cputally on the current host.
//
// The checks confirm the kernel offers what process completion relies on:
// pidfd_open with PIDFD_NONBLOCK, waitid on a pidfd, and rusage reporting.
package doctor

import (
	"context"
	"fmt"

	"github.com/musher-dev/cputally/internal/config"
)

// Status represents the result of a diagnostic check.
type Status int

const (
	// StatusPass indicates the check passed.
	StatusPass Status = iota
	// StatusWarn indicates a non-critical issue.
	StatusWarn
	// StatusFail indicates a critical failure.
	StatusFail
)

func (s Status) String() string {
	switch s {
	case StatusPass:
		return "pass"
	case StatusWarn:
		return "warn"
	case StatusFail:
		return "fail"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Result holds the outcome of a single check.
type Result struct {
	Name    string `json:"name" yaml:"name"`
	Status  Status `json:"status" yaml:"status"`
	Message string `json:"message" yaml:"message"`
	Detail  string `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// Check is a diagnostic check function.
type Check func(ctx context.Context) Result

// Runner executes diagnostic checks in registration order.
type Runner struct {
	checks []namedCheck
}

type namedCheck struct {
	name  string
	check Check
}

// New creates a runner with the default checks for cfg.
func New(cfg *config.Config) *Runner {
	r := &Runner{}

	r.AddCheck("Kernel", checkKernel)
	r.AddCheck("pidfd_open", checkPidfdOpen)
	r.AddCheck("waitid(P_PIDFD)", checkWaitid)
	r.AddCheck("Reaping", checkNoZombies)
	r.AddCheck("Program", programCheck(cfg.Program()))
	r.AddCheck("Config", configCheck(cfg))
	r.AddCheck("CLI Version", checkCLIVersion)

	return r
}

// AddCheck registers a diagnostic check.
func (r *Runner) AddCheck(name string, check Check) {
	r.checks = append(r.checks, namedCheck{name: name, check: check})
}

// Run executes all registered checks and returns the results.
func (r *Runner) Run(ctx context.Context) []Result {
	results := make([]Result, 0, len(r.checks))

	for _, nc := range r.checks {
		result := nc.check(ctx)
		result.Name = nc.name
		results = append(results, result)
	}

	return results
}

// Summary returns counts of passed, failed, and warning checks.
func Summary(results []Result) (passed, failed, warnings int) {
	for _, r := range results {
		switch r.Status {
		case StatusPass:
			passed++
		case StatusFail:
			failed++
		case StatusWarn:
			warnings++
		}
	}

	return passed, failed, warnings
}

// Printer is the subset of output.Writer RenderResults needs.
type Printer interface {
	Success(format string, args ...any)
	Warning(format string, args ...any)
	Failure(format string, args ...any)
	Muted(format string, args ...any)
}

// RenderResults writes one aligned line per result.
func RenderResults(p Printer, results []Result) {
	width := 0
	for _, r := range results {
		width = max(width, len(r.Name))
	}

	width += 4

	for _, r := range results {
		switch r.Status {
		case StatusPass:
			p.Success("%-*s%s", width, r.Name, r.Message)
		case StatusWarn:
			p.Warning("%-*s%s", width, r.Name, r.Message)
		default:
			p.Failure("%-*s%s", width, r.Name, r.Message)
		}

		if r.Detail != "" {
			p.Muted("    %s", r.Detail)
		}
	}
}
