package main

import (
	"strings"
	"testing"

	"github.com/musher-dev/cputally/internal/buildinfo"
	"github.com/musher-dev/cputally/internal/update"
)

func TestUpdateCmd_DisabledByEnv(t *testing.T) {
	t.Setenv(update.DisabledEnv, "1")

	out, buf := testWriter()
	if err := executeWith(t, newUpdateCmd(), out); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if !strings.Contains(buf.String(), "disabled") {
		t.Errorf("expected 'disabled' in output, got: %q", buf.String())
	}
}

func TestUpdateCmd_DevBuild(t *testing.T) {
	t.Setenv(update.DisabledEnv, "")

	prev := buildinfo.Version
	buildinfo.Version = "dev"

	t.Cleanup(func() { buildinfo.Version = prev })

	out, buf := testWriter()
	if err := executeWith(t, newUpdateCmd(), out); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if !strings.Contains(buf.String(), "Development build") {
		t.Errorf("expected 'Development build' in output, got: %q", buf.String())
	}

	if !strings.Contains(buf.String(), update.ReleasesURL) {
		t.Errorf("expected releases URL in output, got: %q", buf.String())
	}
}
