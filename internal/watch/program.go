package watch

import (
	"context"
	"io"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/musher-dev/cputally/internal/runner"
)

// Options configures Run.
type Options struct {
	Command string
	Total   int
	// Output is where the view draws; the report stays on stdout.
	Output io.Writer
	Input  io.Reader
}

// Run drives work under the live view. work receives the event callback to
// pass to the runner. The view stops when work returns; pressing q or ctrl+c
// cancels the context given to work and waits for it to wind down.
func Run(ctx context.Context, opts Options, work func(ctx context.Context, onEvent func(runner.Event)) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	programOpts := []tea.ProgramOption{}
	if opts.Output != nil {
		programOpts = append(programOpts, tea.WithOutput(opts.Output))
	}

	if opts.Input != nil {
		programOpts = append(programOpts, tea.WithInput(opts.Input))
	}

	p := tea.NewProgram(New(opts.Command, opts.Total, cancel), programOpts...)

	workErr := make(chan error, 1)

	go func() {
		err := work(ctx, func(ev runner.Event) {
			p.Send(EventMsg(ev))
		})
		workErr <- err

		p.Send(FinishedMsg{Err: err})
	}()

	if _, err := p.Run(); err != nil {
		// The view failed; stop the run and still wait for its outcome.
		cancel()
		<-workErr

		return err
	}

	return <-workErr
}
