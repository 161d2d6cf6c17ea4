package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/musher-dev/cputally/internal/terminal"
	"github.com/musher-dev/cputally/internal/testutil"
)

// testTerminal returns a terminal.Info for testing (non-TTY, no color).
func testTerminal() *terminal.Info {
	return &terminal.Info{
		IsTTY:   false,
		NoColor: true,
		Width:   80,
		Height:  24,
	}
}

func TestWriter_Print(t *testing.T) {
	tests := []struct {
		name  string
		quiet bool
		want  string
	}{
		{name: "normal output", quiet: false, want: "spawned 10 processes"},
		{name: "quiet mode suppresses output", quiet: true, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer

			w := NewWriter(&buf, &buf, testTerminal())
			w.Quiet = tt.quiet

			w.Print("spawned %d processes", 10)

			if got := buf.String(); got != tt.want {
				t.Errorf("Print() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWriter_WriteIgnoresQuiet(t *testing.T) {
	var buf bytes.Buffer

	w := NewWriter(&buf, &buf, testTerminal())
	w.Quiet = true

	n, err := w.Write([]byte("report"))
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	if n != len("report") || buf.String() != "report" {
		t.Errorf("Write() = %d, %q; want report written", n, buf.String())
	}
}

func TestWriter_StatusGoesToStderr(t *testing.T) {
	tests := []struct {
		name  string
		emit  func(w *Writer)
		quiet bool
		want  string
	}{
		{name: "success", emit: func(w *Writer) { w.Success("ok") }, want: CheckMark + " ok\n"},
		{name: "failure", emit: func(w *Writer) { w.Failure("bad") }, want: XMark + " bad\n"},
		{name: "failure in quiet mode", emit: func(w *Writer) { w.Failure("bad") }, quiet: true, want: XMark + " bad\n"},
		{name: "warning", emit: func(w *Writer) { w.Warning("careful") }, want: WarningMark + " careful\n"},
		{name: "warning in quiet mode", emit: func(w *Writer) { w.Warning("careful") }, quiet: true, want: ""},
		{name: "info", emit: func(w *Writer) { w.Info("note") }, want: InfoMark + " note\n"},
		{name: "muted", emit: func(w *Writer) { w.Muted("hint") }, want: "hint\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var outBuf, errBuf bytes.Buffer

			w := NewWriter(&outBuf, &errBuf, testTerminal())
			w.Quiet = tt.quiet

			tt.emit(w)

			if outBuf.Len() != 0 {
				t.Errorf("stdout = %q, want empty", outBuf.String())
			}

			if got := errBuf.String(); got != tt.want {
				t.Errorf("stderr = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWriter_PrintJSON(t *testing.T) {
	var buf bytes.Buffer

	w := NewWriter(&buf, &buf, testTerminal())
	w.Quiet = true

	if err := w.PrintJSON(map[string]int{"count": 10}); err != nil {
		t.Fatalf("PrintJSON() error = %v", err)
	}

	if got, want := buf.String(), "{\n  \"count\": 10\n}\n"; got != want {
		t.Errorf("PrintJSON() = %q, want %q", got, want)
	}
}

func TestWriter_Context(t *testing.T) {
	var buf bytes.Buffer

	w := NewWriter(&buf, &buf, testTerminal())

	if FromContext(w.WithContext(t.Context())) != w {
		t.Error("FromContext should return the same writer")
	}

	if FromContext(t.Context()) == nil {
		t.Error("FromContext should return non-nil writer")
	}
}

func TestWriter_SetNoColor(t *testing.T) {
	var buf bytes.Buffer

	term := &terminal.Info{IsTTY: true, NoColor: false}
	w := NewWriter(&buf, &buf, term)

	w.SetNoColor(true)

	if !term.ForceFlag || term.ColorEnabled() {
		t.Error("SetNoColor(true) should disable color")
	}
}

func TestSpinner_Fallback(t *testing.T) {
	var outBuf, errBuf bytes.Buffer

	w := NewWriter(&outBuf, &errBuf, testTerminal())

	s := w.Spinner("Running processes")
	if !s.disabled {
		t.Fatal("Spinner should be disabled without a TTY")
	}

	s.Start()
	s.UpdateMessage("Reaping")
	s.StopWithFailure("2 of 10 processes failed")

	got := errBuf.String()
	if !strings.HasPrefix(got, "Running processes... failed\n") {
		t.Errorf("fallback output = %q", got)
	}

	if !strings.Contains(got, "2 of 10 processes failed") {
		t.Errorf("fallback output missing failure message: %q", got)
	}

	if outBuf.Len() != 0 {
		t.Errorf("spinner wrote to stdout: %q", outBuf.String())
	}
}

func TestSpinner_QuietIsSilent(t *testing.T) {
	var buf bytes.Buffer

	w := NewWriter(&buf, &buf, testTerminal())
	w.Quiet = true

	s := w.Spinner("Running")
	s.Start()
	s.StopWithSuccess("done")

	if buf.Len() != 0 {
		t.Errorf("quiet spinner wrote %q", buf.String())
	}
}

func TestStatusMessages_Golden(t *testing.T) {
	var buf bytes.Buffer

	w := NewWriter(&buf, &buf, testTerminal())

	w.Success("10 processes reaped")
	w.Warning("queue capacity 4 is below concurrency 8")
	w.Info("aggregating into 4 groups")
	w.Muted("logs: ~/.local/state/cputally/logs/cputally.log")

	testutil.AssertGolden(t, buf.String(), "status_messages.golden")
}
