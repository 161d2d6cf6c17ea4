// Package watch renders a live progress view while a run is in flight.
package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/musher-dev/cputally/internal/runner"
)

const maxRecent = 6

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	noticeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
)

// EventMsg carries a runner event into the view.
type EventMsg runner.Event

// FinishedMsg tells the view the run is over.
type FinishedMsg struct {
	Err error
}

type recentLine struct {
	ok   bool
	text string
}

// Model is the bubbletea model of the live view.
type Model struct {
	command string
	total   int
	cancel  func()

	spinner  spinner.Model
	progress progress.Model
	width    int
	started  time.Time

	spawned   int
	completed int
	failed    int
	// failures of children that had started
	failedStarted int
	recent        []recentLine
	cancelling    bool
	finished      bool
	err           error
}

// New returns a view for a run of total processes of command. cancel is
// invoked once when the user asks to stop.
func New(command string, total int, cancel func()) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = okStyle

	return Model{
		command:  command,
		total:    total,
		cancel:   cancel,
		spinner:  s,
		progress: progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		width:    80,
		started:  time.Now(),
	}
}

// Init starts the spinner.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles events, keys, resizes, and spinner ticks.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			if !m.cancelling && m.cancel != nil {
				m.cancel()
			}

			m.cancelling = true
		}

		return m, nil
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progress.Width = max(10, min(msg.Width-20, 60))

		return m, nil
	case EventMsg:
		m.record(runner.Event(msg))
		return m, nil
	case FinishedMsg:
		m.finished = true
		m.err = msg.Err

		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd

		m.spinner, cmd = m.spinner.Update(msg)

		return m, cmd
	}

	return m, nil
}

func (m *Model) record(ev runner.Event) {
	var line recentLine

	switch ev.Kind {
	case runner.EventSpawned:
		m.spawned++
		return
	case runner.EventCompleted:
		m.completed++
		line = recentLine{ok: true, text: fmt.Sprintf("#%d pid %d group %d %s (%s)", ev.Index, ev.Pid, ev.Token, ev.Usage, ev.Reason)}
	case runner.EventFailed:
		m.failed++
		if ev.Pid != 0 {
			m.failedStarted++
		}

		line = recentLine{text: fmt.Sprintf("#%d group %d: %v", ev.Index, ev.Token, ev.Err)}
	default:
		return
	}

	m.recent = append(m.recent, line)
	if len(m.recent) > maxRecent {
		m.recent = m.recent[len(m.recent)-maxRecent:]
	}
}

// Done is the number of processes that reached a final outcome.
func (m Model) Done() int {
	return m.completed + m.failed
}

// Live is the number of started children without an outcome yet.
func (m Model) Live() int {
	return max(0, m.spawned-m.completed-m.failedStarted)
}

// Cancelling reports whether the user asked to stop.
func (m Model) Cancelling() bool {
	return m.cancelling
}

// Err is the run error delivered with FinishedMsg.
func (m Model) Err() error {
	return m.err
}

// View renders the live view.
func (m Model) View() string {
	var sb strings.Builder

	header := runewidth.Truncate(m.command, max(10, m.width-12), "…")
	sb.WriteString(titleStyle.Render("cputally") + " " + mutedStyle.Render(header) + "\n\n")

	percent := 0.0
	if m.total > 0 {
		percent = float64(m.Done()) / float64(m.total)
	}

	status := m.spinner.View()
	if m.finished {
		status = okStyle.Render("✓")
	}

	fmt.Fprintf(&sb, "%s %s %d/%d", status, m.progress.ViewAs(percent), m.Done(), m.total)

	if m.failed > 0 {
		sb.WriteString(" " + failStyle.Render(fmt.Sprintf("%d failed", m.failed)))
	}

	fmt.Fprintf(&sb, "  %s\n\n", mutedStyle.Render(time.Since(m.started).Truncate(time.Millisecond).String()))

	for _, line := range m.recent {
		mark := failStyle.Render("✗")
		if line.ok {
			mark = okStyle.Render("✓")
		}

		sb.WriteString(mark + " " + runewidth.Truncate(line.text, max(20, m.width-2), "…") + "\n")
	}

	switch {
	case m.finished:
	case m.cancelling:
		sb.WriteString("\n" + noticeStyle.Render("Stopping: running processes were sent SIGTERM") + "\n")
	default:
		sb.WriteString("\n" + mutedStyle.Render("q: stop run") + "\n")
	}

	return sb.String()
}
