package report

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/musher-dev/cputally/internal/aggregate"
	"github.com/musher-dev/cputally/internal/testutil"
	"github.com/musher-dev/cputally/internal/usage"
)

func sampleSnapshot() aggregate.Snapshot {
	return aggregate.Snapshot{Groups: []aggregate.Entry{
		{
			Token: 0,
			Usage: usage.CPUUsage{User: usage.NewTimeval(1, 250000), System: usage.NewTimeval(0, 500000)},
			Count: 3,
		},
		{
			Token: 2,
			Usage: usage.CPUUsage{User: usage.NewTimeval(0, 750000), System: usage.NewTimeval(0, 100000)},
			Count: 1,
		},
	}}
}

func sampleReport() *Report {
	r := FromSnapshot(sampleSnapshot())
	r.RunID = "run-7f9c"
	r.Program = "factor"
	r.Failed = 1

	return r
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{in: "table", want: FormatTable},
		{in: "JSON", want: FormatJSON},
		{in: " yaml ", want: FormatYAML},
		{in: "toml", want: FormatTOML},
		{in: "csv", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrUnknownFormat) {
				t.Errorf("ParseFormat(%q) error = %v, want ErrUnknownFormat", tt.in, err)
			}

			continue
		}

		if err != nil || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestFromSnapshot(t *testing.T) {
	r := FromSnapshot(sampleSnapshot())

	if r.Processes != 4 {
		t.Errorf("Processes = %d, want 4", r.Processes)
	}

	want := usage.CPUUsage{User: usage.NewTimeval(2, 0), System: usage.NewTimeval(0, 600000)}
	if r.Total != want {
		t.Errorf("Total = %v, want %v", r.Total, want)
	}

	if empty := FromSnapshot(aggregate.Snapshot{}); empty.Groups == nil {
		t.Error("FromSnapshot(empty).Groups is nil")
	}
}

func TestRender_JSON_Golden(t *testing.T) {
	tests := []struct {
		name   string
		report *Report
		golden string
	}{
		{name: "groups", report: sampleReport(), golden: "report.json.golden"},
		{name: "empty", report: func() *Report {
			r := FromSnapshot(aggregate.Snapshot{})
			r.Failed = 2

			return r
		}(), golden: "empty.json.golden"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := Render(&buf, FormatJSON, tt.report); err != nil {
				t.Fatalf("Render() error = %v", err)
			}

			testutil.AssertGolden(t, buf.String(), tt.golden)
		})
	}
}

func TestRender_YAML(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, FormatYAML, sampleReport()); err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	var got Report
	if err := yaml.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("yaml output does not parse: %v\n%s", err, buf.String())
	}

	assertSameReport(t, &got, sampleReport())
}

func TestRender_TOML(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, FormatTOML, sampleReport()); err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	var got Report
	if err := toml.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("toml output does not parse: %v\n%s", err, buf.String())
	}

	assertSameReport(t, &got, sampleReport())

	if !strings.Contains(buf.String(), "[[groups]]") {
		t.Errorf("toml output should use an array of tables:\n%s", buf.String())
	}
}

func assertSameReport(t *testing.T, got, want *Report) {
	t.Helper()

	if got.RunID != want.RunID || got.Processes != want.Processes || got.Failed != want.Failed || got.Total != want.Total {
		t.Errorf("header = %+v, want %+v", got, want)
	}

	if len(got.Groups) != len(want.Groups) {
		t.Fatalf("groups = %+v, want %+v", got.Groups, want.Groups)
	}

	for i := range want.Groups {
		if got.Groups[i] != want.Groups[i] {
			t.Errorf("group %d = %+v, want %+v", i, got.Groups[i], want.Groups[i])
		}
	}
}

func TestRender_Table(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, FormatTable, sampleReport()); err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	out := buf.String()

	for _, want := range []string{"GROUP", "PROCESSES", "1.250000s", "0.750000s", "2.000000s", "total", "run run-7f9c: 4 processes in 2 groups, 1 failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("table output missing %q:\n%s", want, out)
		}
	}

	// Token order: group 0 row precedes group 2 row.
	if strings.Index(out, "1.250000s") > strings.Index(out, "0.750000s") {
		t.Errorf("groups not in token order:\n%s", out)
	}
}

func TestRender_TableEmpty(t *testing.T) {
	var buf bytes.Buffer

	r := FromSnapshot(aggregate.Snapshot{})
	r.Failed = 3

	if err := Render(&buf, FormatTable, r); err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	if got, want := buf.String(), "No completed processes (3 failed)\n"; got != want {
		t.Errorf("empty table = %q, want %q", got, want)
	}
}

func TestRender_UnknownFormat(t *testing.T) {
	if err := Render(&bytes.Buffer{}, Format("xml"), sampleReport()); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("Render(xml) error = %v, want ErrUnknownFormat", err)
	}
}
