// Package report renders an aggregation snapshot for humans or machines.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/musher-dev/cputally/internal/aggregate"
	"github.com/musher-dev/cputally/internal/usage"
)

// Format selects a renderer.
type Format string

// Supported formats.
const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
	FormatTOML  Format = "toml"
)

// ErrUnknownFormat is returned by ParseFormat for unsupported names.
var ErrUnknownFormat = errors.New("unknown report format")

// Formats lists the supported format names.
func Formats() []string {
	return []string{string(FormatTable), string(FormatJSON), string(FormatYAML), string(FormatTOML)}
}

// ParseFormat validates a format name, case-insensitively.
func ParseFormat(name string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(name)))
	if !slices.Contains(Formats(), string(f)) {
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}

	return f, nil
}

// Report is the document every format renders.
type Report struct {
	RunID     string            `json:"run_id,omitempty" yaml:"run_id,omitempty" toml:"run_id,omitempty"`
	Program   string            `json:"program,omitempty" yaml:"program,omitempty" toml:"program,omitempty"`
	Processes int               `json:"processes" yaml:"processes" toml:"processes"`
	Failed    int               `json:"failed" yaml:"failed" toml:"failed"`
	Total     usage.CPUUsage    `json:"total" yaml:"total" toml:"total"`
	Groups    []aggregate.Entry `json:"groups" yaml:"groups" toml:"groups"`
}

// FromSnapshot builds a Report. Groups keep the snapshot's token order and
// are never nil, so empty reports encode as an empty list.
func FromSnapshot(snap aggregate.Snapshot) *Report {
	groups := snap.Groups
	if groups == nil {
		groups = []aggregate.Entry{}
	}

	return &Report{
		Processes: snap.Processes(),
		Total:     snap.Total(),
		Groups:    groups,
	}
}

// Render writes r to w in format f.
func Render(w io.Writer, f Format, r *Report) error {
	switch f {
	case FormatTable:
		return renderTable(w, r)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		return enc.Encode(r)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)

		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encode yaml report: %w", err)
		}

		return enc.Close()
	case FormatTOML:
		if err := toml.NewEncoder(w).Encode(r); err != nil {
			return fmt.Errorf("encode toml report: %w", err)
		}

		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, string(f))
	}
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	numberStyle = cellStyle.Align(lipgloss.Right)
	totalStyle  = numberStyle.Bold(true)
)

func renderTable(w io.Writer, r *Report) error {
	if len(r.Groups) == 0 {
		_, err := fmt.Fprintf(w, "No completed processes (%d failed)\n", r.Failed)
		return err
	}

	rows := make([][]string, 0, len(r.Groups)+1)
	for _, g := range r.Groups {
		rows = append(rows, []string{
			strconv.FormatUint(uint64(g.Token), 10),
			strconv.Itoa(g.Count),
			g.Usage.User.String(),
			g.Usage.System.String(),
			g.Usage.Total().String(),
		})
	}

	rows = append(rows, []string{
		"total",
		strconv.Itoa(r.Processes),
		r.Total.User.String(),
		r.Total.System.String(),
		r.Total.Total().String(),
	})

	last := len(rows) - 1

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("GROUP", "PROCESSES", "USER", "SYSTEM", "TOTAL").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case row == last:
				return totalStyle
			case col == 0:
				return cellStyle
			default:
				return numberStyle
			}
		})

	if _, err := fmt.Fprintln(w, t.Render()); err != nil {
		return err
	}

	if r.RunID != "" {
		if _, err := fmt.Fprintf(w, "run %s: %d processes in %d groups, %d failed\n", r.RunID, r.Processes, len(r.Groups), r.Failed); err != nil {
			return err
		}
	}

	return nil
}
