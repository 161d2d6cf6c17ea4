package main

import (
	"github.com/spf13/cobra"

	"github.com/musher-dev/cputally/internal/config"
	"github.com/musher-dev/cputally/internal/doctor"
	"github.com/musher-dev/cputally/internal/output"
)

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose common issues",
		Long: `Run diagnostic checks to confirm this host can watch and measure child processes.

Checks performed:
  - Kernel release (5.10 or newer)
  - pidfd_open with PIDFD_NONBLOCK
  - waitid on a pidfd with rusage, using a short-lived child
  - No unreaped children left behind
  - Configured program availability
  - Config file and CLI version`,
		Example: `  cputally doctor
  cputally doctor --json`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			runner := doctor.New(config.Load())
			results := runner.Run(cmd.Context())

			if out.JSON {
				return out.PrintJSON(results)
			}

			renderDoctor(out, results)

			return nil
		},
	}
}

func renderDoctor(out *output.Writer, results []doctor.Result) {
	out.Println("cputally doctor")
	out.Println("===============")
	out.Println()

	doctor.RenderResults(out, results)

	passed, failed, warnings := doctor.Summary(results)
	out.Println()
	out.Print("%d passed", passed)

	if failed > 0 {
		out.Print(", %d failed", failed)
	}

	if warnings > 0 {
		out.Print(", %d warning(s)", warnings)
	}

	out.Println()
}
