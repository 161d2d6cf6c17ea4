package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/musher-dev/cputally/internal/aggregate"
	"github.com/musher-dev/cputally/internal/completion"
	"github.com/musher-dev/cputally/internal/config"
	clierrors "github.com/musher-dev/cputally/internal/errors"
	"github.com/musher-dev/cputally/internal/observability"
	"github.com/musher-dev/cputally/internal/output"
	"github.com/musher-dev/cputally/internal/report"
	"github.com/musher-dev/cputally/internal/runner"
	"github.com/musher-dev/cputally/internal/watch"
)

// maxListedFailures caps the per-process failure lines printed after a run.
const maxListedFailures = 10

type runFlags struct {
	count         int
	groupSize     int
	concurrency   int
	spawnRate     float64
	queueCapacity int
	format        string
	inheritStdout bool
	watch         bool
}

// runPlan is a run fully resolved from flags, config, and positional args.
type runPlan struct {
	runner        runner.Options
	queueCapacity int
	format        report.Format
	watch         bool
	commandLine   string
}

func newRunCmd() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run [flags] [-- program [args...]]",
		Short: "Run child processes and total their CPU time",
		Long: `Start --count copies of a program, wait for each to exit through its pidfd,
and total the user and system CPU time of every child per group. Process i
belongs to group i / --group-size. Without a program after --, the configured
run.program and run.args are used (factor on a large number by default).

The report goes to stdout; progress and failures go to stderr. The command
exits non-zero when any process failed to start, be reaped, or be counted.`,
		Example: `  cputally run
  cputally run --count 12 --group-size 4 -- sha256sum /usr/bin/env
  cputally run -n 100 -c 8 --spawn-rate 50 --format json
  cputally run --watch -- sh -c 'i=0; while [ $i -lt 200000 ]; do i=$((i+1)); done'`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			plan, err := resolveRunPlan(cmd, &flags, config.Load(), args, out.JSON)
			if err != nil {
				return err
			}

			if plan.watch && !out.Terminal().LiveViewEnabled() {
				return clierrors.WatchRequiresTTY()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return executeRun(ctx, out, plan)
		},
	}

	cmd.Flags().IntVarP(&flags.count, "count", "n", config.DefaultCount, "Number of processes to start")
	cmd.Flags().IntVarP(&flags.groupSize, "group-size", "g", config.DefaultGroupSize, "Consecutive processes per group")
	cmd.Flags().IntVarP(&flags.concurrency, "concurrency", "c", 0, "Maximum live children (0 = unlimited)")
	cmd.Flags().Float64Var(&flags.spawnRate, "spawn-rate", 0, "Maximum process starts per second (0 = unlimited)")
	cmd.Flags().IntVar(&flags.queueCapacity, "queue-capacity", config.DefaultQueueCapacity, "Aggregator queue capacity")
	cmd.Flags().StringVarP(&flags.format, "format", "o", config.DefaultReportFormat, "Report format: "+strings.Join(report.Formats(), ", "))
	cmd.Flags().BoolVar(&flags.inheritStdout, "inherit-stdout", false, "Let children write to this terminal's stdout")
	cmd.Flags().BoolVarP(&flags.watch, "watch", "w", false, "Show a live progress view")

	_ = cmd.RegisterFlagCompletionFunc("format", cobra.FixedCompletions(report.Formats(), cobra.ShellCompDirectiveNoFileComp))

	return cmd
}

// resolveRunPlan merges flags over config. A flag wins only when it was set
// on the command line; otherwise the config value (env, file, or default) applies.
func resolveRunPlan(cmd *cobra.Command, flags *runFlags, cfg *config.Config, args []string, jsonOutput bool) (*runPlan, error) {
	changed := cmd.Flags().Changed

	pickInt := func(name string, flagValue, configValue int) int {
		if changed(name) {
			return flagValue
		}

		return configValue
	}

	count := pickInt("count", flags.count, cfg.Count())
	groupSize := pickInt("group-size", flags.groupSize, cfg.GroupSize())
	concurrency := pickInt("concurrency", flags.concurrency, cfg.Concurrency())
	queueCapacity := pickInt("queue-capacity", flags.queueCapacity, cfg.QueueCapacity())

	spawnRate := cfg.SpawnRate()
	if changed("spawn-rate") {
		spawnRate = flags.spawnRate
	}

	formatName := cfg.ReportFormat()
	if changed("format") {
		formatName = flags.format
	} else if jsonOutput {
		formatName = string(report.FormatJSON)
	}

	format, err := report.ParseFormat(formatName)
	if err != nil {
		return nil, clierrors.InvalidReportFormat(formatName, report.Formats())
	}

	if queueCapacity <= 0 {
		return nil, clierrors.InvalidOption("queue-capacity", "must be positive")
	}

	program, programArgs := cfg.Program(), cfg.Args()
	if len(args) > 0 {
		program, programArgs = args[0], args[1:]
	}

	if strings.TrimSpace(program) == "" {
		return nil, clierrors.InvalidOption("program", "no program given after -- and run.program is empty")
	}

	stderr := completion.Inherit
	if flags.watch {
		stderr = completion.Discard
	}

	stdout := completion.Discard
	if flags.inheritStdout {
		stdout = completion.Inherit
	}

	opts := runner.Options{
		Command: completion.CommandSpec{
			Program: program,
			Args:    programArgs,
			Stdout:  stdout,
			Stderr:  stderr,
		},
		Count:       count,
		GroupSize:   groupSize,
		Concurrency: concurrency,
		SpawnRate:   spawnRate,
	}

	if err := validateRunOptions(&opts); err != nil {
		return nil, err
	}

	return &runPlan{
		runner:        opts,
		queueCapacity: queueCapacity,
		format:        format,
		watch:         flags.watch,
		commandLine:   strings.Join(append([]string{program}, programArgs...), " "),
	}, nil
}

// validateRunOptions maps runner validation failures to flag-specific errors.
// The queue is attached once the aggregator starts.
func validateRunOptions(opts *runner.Options) error {
	err := opts.Validate()

	switch {
	case err == nil, errors.Is(err, runner.ErrNoQueue):
		return nil
	case errors.Is(err, runner.ErrInvalidCount):
		return clierrors.InvalidOption("count", "must be at least 1")
	case errors.Is(err, runner.ErrInvalidGroupSize):
		return clierrors.InvalidOption("group-size", "must be at least 1")
	case errors.Is(err, runner.ErrTooManyGroups):
		return clierrors.InvalidOption("count", "too many groups for --group-size")
	case opts.Concurrency < 0:
		return clierrors.InvalidOption("concurrency", "must not be negative")
	case opts.SpawnRate < 0:
		return clierrors.InvalidOption("spawn-rate", "must not be negative")
	default:
		return clierrors.InvalidOption("run", err.Error())
	}
}

func executeRun(ctx context.Context, out *output.Writer, plan *runPlan) error {
	logger := observability.FromContext(ctx)

	agg := aggregate.New(aggregate.Options{
		Capacity: plan.queueCapacity,
		Logger:   logger,
	})

	// The aggregator outlives interrupts so reaped measurements still count.
	aggDone := make(chan error, 1)

	go func() { aggDone <- agg.Run(context.WithoutCancel(ctx)) }()

	defer func() {
		agg.Queue().Close()
		<-aggDone
	}()

	opts := plan.runner
	opts.Queue = agg.Queue()
	opts.Logger = logger

	var res *runner.Result

	work := func(ctx context.Context, onEvent func(runner.Event)) error {
		opts.OnEvent = onEvent

		r, err := runner.New(opts)
		if err != nil {
			return err
		}

		res, err = r.Run(ctx)

		return err
	}

	var runErr error

	if plan.watch {
		runErr = watch.Run(ctx, watch.Options{
			Command: plan.commandLine,
			Total:   opts.Count,
			Output:  os.Stderr,
		}, work)
	} else {
		spin := out.Spinner(fmt.Sprintf("Running %d × %s", opts.Count, plan.commandLine))
		spin.Start()

		runErr = work(ctx, nil)

		if runErr == nil && res != nil && res.Failed() == 0 {
			spin.StopWithSuccess(fmt.Sprintf("%d processes reaped", len(res.Processes)))
		} else {
			spin.StopWithFailure("")
		}
	}

	if res == nil {
		// The runner never started; nothing to report.
		return clierrors.Wrap(clierrors.ExitGeneral, "Run could not start", runErr)
	}

	snap, err := agg.Queue().Dump(context.WithoutCancel(ctx))
	if err != nil {
		return clierrors.AggregatorStopped(err)
	}

	rep := report.FromSnapshot(snap)
	rep.RunID = res.RunID
	rep.Program = plan.commandLine
	rep.Failed = res.Failed()

	if err := report.Render(out, plan.format, rep); err != nil {
		return clierrors.Wrap(clierrors.ExitGeneral, "Failed to render report", err)
	}

	listFailures(out, res)
	auditZombies(ctx, out, logger)

	return runOutcome(plan, res, runErr)
}

func listFailures(out *output.Writer, res *runner.Result) {
	failures := res.Failures()

	for i, f := range failures {
		if i == maxListedFailures {
			out.Muted("  ... and %d more", len(failures)-maxListedFailures)
			break
		}

		out.Warning("process %d (group %d): %v", f.Index, f.Token, f.Err)
	}
}

func auditZombies(ctx context.Context, out *output.Writer, logger *slog.Logger) {
	zombies, err := runner.ZombieChildren(context.WithoutCancel(ctx))
	if err != nil {
		logger.Debug("zombie audit skipped", slog.String("error", err.Error()))
		return
	}

	if len(zombies) > 0 {
		logger.Error("unreaped children after run", slog.Any("process.pids", zombies))
		out.Warning("%d children were left unreaped: %v", len(zombies), zombies)
	}
}

// runOutcome picks the exit error for a finished run.
func runOutcome(plan *runPlan, res *runner.Result, runErr error) error {
	if runErr != nil && errors.Is(runErr, context.Canceled) {
		return clierrors.RunInterrupted(runErr)
	}

	if runErr != nil {
		return clierrors.Wrap(clierrors.ExitGeneral, "Run failed", runErr)
	}

	failures := res.Failures()
	if len(failures) == 0 {
		return nil
	}

	first := failures[0].Err

	switch {
	case errors.Is(first, errors.ErrUnsupported):
		return clierrors.PlatformUnsupported(first)
	case len(failures) == len(res.Processes) && failures[0].Pid == 0:
		return clierrors.SpawnFailed(plan.runner.Command.Program, first)
	case errors.Is(first, aggregate.ErrChannelClosed):
		return clierrors.AggregatorStopped(first)
	default:
		return clierrors.ProcessesFailed(len(failures), len(res.Processes))
	}
}
