// Package terminal detects terminal capabilities for stdout and stderr.
package terminal

import (
	"os"

	"golang.org/x/term"
)

// Info holds terminal capability information.
type Info struct {
	IsTTY       bool // stdout
	StderrIsTTY bool
	StdinIsTTY  bool
	NoColor     bool
	Width       int
	Height      int
	ForceFlag   bool // Set when --no-color flag is used
}

// Detect returns terminal information for the current environment.
func Detect() *Info {
	stdoutFD := int(os.Stdout.Fd())
	stderrFD := int(os.Stderr.Fd())

	info := &Info{
		IsTTY:       term.IsTerminal(stdoutFD),
		StderrIsTTY: term.IsTerminal(stderrFD),
		StdinIsTTY:  term.IsTerminal(int(os.Stdin.Fd())),
		Width:       80,
		Height:      24,
	}

	// Size the live view by whichever stream it draws on.
	sizeFD := stdoutFD
	if !info.IsTTY && info.StderrIsTTY {
		sizeFD = stderrFD
	}

	if info.IsTTY || info.StderrIsTTY {
		if w, h, err := term.GetSize(sizeFD); err == nil {
			info.Width, info.Height = w, h
		}
	}

	// https://no-color.org/
	_, info.NoColor = os.LookupEnv("NO_COLOR")

	if os.Getenv("TERM") == "dumb" {
		info.NoColor = true
	}

	return info
}

// ColorEnabled returns true if colored output should be used.
func (t *Info) ColorEnabled() bool {
	if t.ForceFlag {
		return false
	}

	return t.IsTTY && !t.NoColor
}

// SpinnersEnabled returns true if spinners should be used.
// Spinners draw on stderr, so stdout may be redirected.
func (t *Info) SpinnersEnabled() bool {
	return t.StderrIsTTY && !t.NoColor && !t.ForceFlag
}

// LiveViewEnabled reports whether a full-screen progress view can run.
// The view reads keys from stdin and draws on stderr.
func (t *Info) LiveViewEnabled() bool {
	return t.StderrIsTTY && t.StdinIsTTY
}
