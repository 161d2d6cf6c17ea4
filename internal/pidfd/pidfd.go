// Package pidfd wraps Linux process file descriptors.
//
// A pidfd becomes readable once the process it refers to has exited. Handles
// returned by Open are registered with the Go runtime netpoller, so Await
// parks the calling goroutine instead of blocking an OS thread.
package pidfd

import "errors"

// ErrClosed is returned when a Handle is used after Close.
var ErrClosed = errors.New("pidfd: handle closed")
