//go:build windows

package update

import "errors"

// NeedsElevation always returns false on Windows.
func NeedsElevation(string) bool {
	return false
}

// ReExecWithSudo is not supported on Windows.
func ReExecWithSudo() error {
	return errors.New("automatic elevation is not supported on Windows; run as Administrator")
}
