// Package runner fans out child processes, waits for each through its pidfd,
// and delivers the measured CPU time to an aggregator queue grouped by token.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/musher-dev/cputally/internal/aggregate"
	"github.com/musher-dev/cputally/internal/completion"
	"github.com/musher-dev/cputally/internal/observability"
)

var (
	// ErrInvalidCount is returned for a non-positive process count.
	ErrInvalidCount = errors.New("process count must be positive")

	// ErrInvalidGroupSize is returned for a non-positive group size.
	ErrInvalidGroupSize = errors.New("group size must be positive")

	// ErrTooManyGroups is returned when tokens would not fit in a Token.
	ErrTooManyGroups = errors.New("process count exceeds token range for group size")

	// ErrNoQueue is returned when Options has no aggregator queue.
	ErrNoQueue = errors.New("aggregator queue is required")
)

// spawn is replaced in tests.
var spawn = completion.Spawn

// Options configures a run.
type Options struct {
	// Command is started Count times.
	Command completion.CommandSpec
	// CommandFor overrides Command per process index when set.
	CommandFor func(index int) completion.CommandSpec

	Count     int
	GroupSize int
	// Concurrency caps live children; zero means no cap.
	Concurrency int
	// SpawnRate limits starts per second; zero means unlimited.
	SpawnRate float64

	Queue  *aggregate.Queue
	Logger *slog.Logger
	// OnEvent observes process lifecycle events. It is called from worker
	// goroutines and must be safe for concurrent use.
	OnEvent func(Event)
}

// TokenFor returns the group token of the process at index.
func TokenFor(index, groupSize int) aggregate.Token {
	return aggregate.Token(index / groupSize)
}

// Validate checks Options before any child is started.
func (o *Options) Validate() error {
	if o.Count <= 0 {
		return ErrInvalidCount
	}

	if o.GroupSize <= 0 {
		return ErrInvalidGroupSize
	}

	if uint64((o.Count-1)/o.GroupSize) > math.MaxUint32 {
		return ErrTooManyGroups
	}

	if o.Concurrency < 0 {
		return fmt.Errorf("concurrency must not be negative: %d", o.Concurrency)
	}

	if o.SpawnRate < 0 {
		return fmt.Errorf("spawn rate must not be negative: %g", o.SpawnRate)
	}

	if o.Queue == nil {
		return ErrNoQueue
	}

	return nil
}

func (o *Options) command(index int) completion.CommandSpec {
	if o.CommandFor != nil {
		return o.CommandFor(index)
	}

	return o.Command
}

// Runner executes one fan-out.
type Runner struct {
	opts    Options
	logger  *slog.Logger
	tracer  trace.Tracer
	limiter *rate.Limiter
	runID   string

	live atomic.Int64
}

// New validates opts and returns a Runner.
func New(opts Options) (*Runner, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	limit := rate.Inf
	if opts.SpawnRate > 0 {
		limit = rate.Limit(opts.SpawnRate)
	}

	runID := uuid.NewString()

	return &Runner{
		opts:    opts,
		logger:  logger.With(slog.String("run.id", runID)),
		tracer:  observability.Tracer(observability.InstrumentationName + "/runner"),
		limiter: rate.NewLimiter(limit, 1),
		runID:   runID,
	}, nil
}

// RunID identifies this run in logs and reports.
func (r *Runner) RunID() string {
	return r.runID
}

// Run starts every process, waits for all of them, and returns one
// ProcessResult per index. A failing process never stops the others.
//
// When ctx ends, children still running are sent SIGTERM and processes not
// yet started are recorded as failed with the context error, which Run also
// returns. Measured usage is delivered even after cancellation.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	res := &Result{
		RunID:     r.runID,
		Started:   time.Now(),
		Processes: make([]ProcessResult, r.opts.Count),
	}

	r.logger.Info("run started",
		slog.String("event.type", "run.start"),
		slog.String("process.program", r.opts.command(0).Program),
		slog.Int("process.count", r.opts.Count),
		slog.Int("group.size", r.opts.GroupSize),
		slog.Int("concurrency", r.opts.Concurrency),
	)

	var g errgroup.Group
	if r.opts.Concurrency > 0 {
		g.SetLimit(r.opts.Concurrency)
	}

	for i := range r.opts.Count {
		res.Processes[i] = ProcessResult{Index: i, Token: TokenFor(i, r.opts.GroupSize)}

		if err := r.limiter.Wait(ctx); err != nil {
			r.skip(ctx, res.Processes[i:])
			break
		}

		g.Go(func() error {
			r.runOne(ctx, &res.Processes[i])
			return nil
		})
	}

	_ = g.Wait()

	res.Elapsed = time.Since(res.Started)

	r.logger.Info("run finished",
		slog.String("event.type", "run.finish"),
		slog.Int("process.count", r.opts.Count),
		slog.Int("process.failed", res.Failed()),
		slog.Duration("elapsed", res.Elapsed),
	)

	return res, ctx.Err()
}

// skip marks processes that were never started because ctx ended.
func (r *Runner) skip(ctx context.Context, rest []ProcessResult) {
	for i := range rest {
		rest[i].Index = rest[0].Index + i
		rest[i].Token = TokenFor(rest[i].Index, r.opts.GroupSize)
		rest[i].Err = fmt.Errorf("not started: %w", context.Cause(ctx))
		r.emit(Event{Kind: EventFailed, Index: rest[i].Index, Token: rest[i].Token, Err: rest[i].Err})
	}
}

func (r *Runner) runOne(ctx context.Context, pr *ProcessResult) {
	ctx, span := r.tracer.Start(ctx, "cputally.process", trace.WithAttributes(
		attribute.Int("process.index", pr.Index),
		attribute.Int64("group", int64(pr.Token)),
	))
	defer span.End()

	err := r.execute(ctx, pr)
	if err != nil {
		pr.Err = err
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		r.logger.Warn("process failed",
			slog.String("event.type", "process.failed"),
			slog.Int("process.index", pr.Index),
			slog.Int("process.pid", pr.Pid),
			slog.Uint64("group", uint64(pr.Token)),
			slog.String("error", err.Error()),
		)
		r.emit(Event{Kind: EventFailed, Index: pr.Index, Pid: pr.Pid, Token: pr.Token, Err: err})

		return
	}

	span.SetAttributes(
		attribute.Int("process.pid", pr.Pid),
		attribute.Int64("cpu.user_us", pr.Usage.User.Micros()),
		attribute.Int64("cpu.system_us", pr.Usage.System.Micros()),
		attribute.String("process.exit_reason", pr.Reason.String()),
	)
}

func (r *Runner) execute(ctx context.Context, pr *ProcessResult) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("not started: %w", err)
	}

	proc, err := spawn(r.opts.command(pr.Index))
	if err != nil {
		return err
	}

	pr.Pid = proc.Pid()
	r.live.Add(1)

	r.logger.Debug("process spawned",
		slog.String("event.type", "process.spawn"),
		slog.Int("process.index", pr.Index),
		slog.Int("process.pid", pr.Pid),
		slog.Uint64("group", uint64(pr.Token)),
	)
	r.emit(Event{Kind: EventSpawned, Index: pr.Index, Pid: pr.Pid, Token: pr.Token})

	stop := context.AfterFunc(ctx, func() {
		if err := proc.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, completion.ErrProcessDone) {
			r.logger.Debug("signal failed", slog.Int("process.pid", pr.Pid), slog.String("error", err.Error()))
		}
	})

	u, err := proc.Wait()

	stop()
	r.live.Add(-1)

	// Wait already settled the process; Close only releases bookkeeping.
	_ = proc.Close()

	if err != nil {
		return fmt.Errorf("wait pid %d: %w", pr.Pid, err)
	}

	pr.Usage = u
	pr.Reason = proc.ExitReason()

	r.logger.Info("process reaped",
		slog.String("event.type", "process.reap"),
		slog.Int("process.index", pr.Index),
		slog.Int("process.pid", pr.Pid),
		slog.Uint64("group", uint64(pr.Token)),
		slog.String("process.exit_reason", pr.Reason.String()),
		slog.Int64("cpu.user_us", u.User.Micros()),
		slog.Int64("cpu.system_us", u.System.Micros()),
	)

	// The measurement exists now; deliver it even if the run is cancelled.
	if err := r.opts.Queue.Send(context.WithoutCancel(ctx), aggregate.Completed(pr.Token, u)); err != nil {
		return fmt.Errorf("deliver usage for pid %d: %w", pr.Pid, err)
	}

	pr.Delivered = true
	r.emit(Event{Kind: EventCompleted, Index: pr.Index, Pid: pr.Pid, Token: pr.Token, Usage: u, Reason: pr.Reason})

	return nil
}

// Live returns the number of children started and not yet reaped.
func (r *Runner) Live() int {
	return int(r.live.Load())
}

func (r *Runner) emit(ev Event) {
	if r.opts.OnEvent != nil {
		r.opts.OnEvent(ev)
	}
}
