//go:build !windows

package update

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNeedsElevation(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root can write read-only directories")
	}

	tmp := t.TempDir()

	if NeedsElevation(filepath.Join(tmp, "cputally")) {
		t.Error("NeedsElevation() = true for a writable directory")
	}

	readOnly := filepath.Join(tmp, "readonly")
	if err := os.MkdirAll(readOnly, 0o555); err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() { _ = os.Chmod(readOnly, 0o755) })

	if !NeedsElevation(filepath.Join(readOnly, "cputally")) {
		t.Error("NeedsElevation() = false for a read-only directory")
	}
}
