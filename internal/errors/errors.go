// Package errors provides structured CLI error types for cputally.
//
// CLIError wraps errors with user-facing messages, hints, and exit codes
// to provide consistent, actionable error output across all commands.
package errors

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
)

// Exit codes for CLI errors.
const (
	ExitSuccess   = 0  // Successful execution
	ExitGeneral   = 1  // General error
	ExitConfig    = 4  // Configuration error
	ExitExecution = 6  // One or more child processes failed
	ExitPlatform  = 7  // Kernel lacks a required facility
	ExitUsage     = 64 // Command line usage error (BSD convention)
)

// CLIError represents a user-facing CLI error with actionable guidance.
type CLIError struct {
	// Message is the primary error message shown to the user.
	Message string

	// Hint provides actionable guidance on how to fix the error.
	Hint string

	// Cause is the underlying error, if any.
	Cause error

	// Code is the exit code for the CLI.
	Code int
}

// Error implements the error interface.
func (e *CLIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}

	return e.Message
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CLIError) Unwrap() error {
	return e.Cause
}

// New creates a new CLIError with the given message and exit code.
func New(code int, message string) *CLIError {
	return &CLIError{
		Message: message,
		Code:    code,
	}
}

// Wrap wraps an existing error with a CLIError.
func Wrap(code int, message string, cause error) *CLIError {
	return &CLIError{
		Message: message,
		Cause:   cause,
		Code:    code,
	}
}

// WithHint adds a hint to the error.
func (e *CLIError) WithHint(hint string) *CLIError {
	e.Hint = hint
	return e
}

// As is a convenience function for errors.As with CLIError.
func As(err error, target **CLIError) bool {
	return errors.As(err, target)
}

// --- Common error constructors ---

// ConfigFailed returns an error for configuration save failures.
func ConfigFailed(operation string, cause error) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Failed to %s", operation),
		Hint:    "Check file permissions for your cputally config directory or run 'cputally doctor'",
		Cause:   cause,
		Code:    ExitConfig,
	}
}

// InvalidOption returns an error for a run option outside its allowed range.
func InvalidOption(name, detail string) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Invalid value for %s: %s", name, detail),
		Hint:    fmt.Sprintf("Pass a valid --%s or unset it in the config file", name),
		Code:    ExitUsage,
	}
}

// InvalidReportFormat returns an error for an unknown --format value.
func InvalidReportFormat(format string, supported []string) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Invalid report format: %s", format),
		Hint:    fmt.Sprintf("Supported formats: %s", strings.Join(supported, ", ")),
		Code:    ExitUsage,
	}
}

// SpawnFailed returns an error for a child that could not be started or
// watched. It inspects the cause to give a specific hint.
func SpawnFailed(program string, cause error) *CLIError {
	hint := "Run 'cputally doctor' to check process watching support"

	var errno syscall.Errno

	switch {
	case errors.Is(cause, exec.ErrNotFound):
		hint = fmt.Sprintf("Install %s or check that it is in PATH", program)
	case errors.As(cause, &errno) && (errno == syscall.EMFILE || errno == syscall.ENFILE):
		hint = "Too many open files; raise the descriptor limit (ulimit -n) or lower --concurrency"
	case errors.As(cause, &errno) && (errno == syscall.EPERM || errno == syscall.EACCES):
		hint = fmt.Sprintf("Permission denied starting %s; check its file mode", program)
	case cause != nil && containsAny(cause.Error(), "pidfd_open", "not supported", "unsupported"):
		hint = "Process watching needs Linux 5.10 or newer with pidfd support"
	}

	return &CLIError{
		Message: fmt.Sprintf("Failed to start %s", program),
		Hint:    hint,
		Cause:   cause,
		Code:    ExitExecution,
	}
}

// ProcessesFailed returns an error summarizing per-process failures.
func ProcessesFailed(failed, total int) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("%d of %d processes failed", failed, total),
		Hint:    "Rerun with --log-level=debug to see each failure",
		Code:    ExitExecution,
	}
}

// AggregatorStopped returns an error when completions could not be delivered.
func AggregatorStopped(cause error) *CLIError {
	return &CLIError{
		Message: "Aggregator stopped before all completions were delivered",
		Hint:    "The run was interrupted; partial totals were discarded",
		Cause:   cause,
		Code:    ExitGeneral,
	}
}

// PlatformUnsupported returns an error when the kernel cannot watch processes.
func PlatformUnsupported(cause error) *CLIError {
	return &CLIError{
		Message: "Process watching is not supported on this system",
		Hint:    "cputally needs Linux 5.10 or newer; run 'cputally doctor' for details",
		Cause:   cause,
		Code:    ExitPlatform,
	}
}

// RunInterrupted returns an error for a run stopped by a signal or the
// live view. Processes already reaped are still reported.
func RunInterrupted(cause error) *CLIError {
	return &CLIError{
		Message: "Run interrupted",
		Hint:    "Running processes were sent SIGTERM; the report covers those reaped so far",
		Cause:   cause,
		Code:    ExitExecution,
	}
}

// UnknownConfigKey returns an error for config get/set with an unsupported key.
func UnknownConfigKey(key string) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Unknown config key: %s", key),
		Hint:    "Run 'cputally config list' to see supported keys",
		Code:    ExitUsage,
	}
}

// WatchRequiresTTY returns an error when --watch is used without a terminal.
func WatchRequiresTTY() *CLIError {
	return &CLIError{
		Message: "Watch mode requires a terminal (TTY)",
		Hint:    "Run this command directly in a terminal, or drop --watch",
		Code:    ExitUsage,
	}
}

// containsAny checks if s contains any of the substrings (case-insensitive).
func containsAny(s string, substrings ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrings {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}

	return false
}
