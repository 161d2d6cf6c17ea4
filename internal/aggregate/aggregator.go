// Package aggregate merges per-process CPU usage by token.
//
// An Aggregator owns its map exclusively: only the goroutine running Run
// reads or writes it, one message at a time, in arrival order. Everything
// else talks to it through its Queue.
package aggregate

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sync/atomic"

	"github.com/musher-dev/cputally/internal/usage"
)

// DefaultCapacity is the queue capacity used when Options.Capacity is unset.
const DefaultCapacity = 512

// ErrAlreadyRunning is returned by a second call to Run.
var ErrAlreadyRunning = errors.New("aggregator already running")

// Options configures an Aggregator.
type Options struct {
	// Capacity bounds the inbound queue. Zero means DefaultCapacity.
	Capacity int
	// Logger receives merge and dump events. Nil discards them.
	Logger *slog.Logger
	// OnDump, if set, is called on the consumer goroutine for every Dump.
	OnDump func(Snapshot)
}

// Aggregator is the single consumer of completion messages.
type Aggregator struct {
	queue   *Queue
	groups  map[Token]*Entry
	onDump  func(Snapshot)
	logger  *slog.Logger
	running atomic.Bool
}

// New creates an Aggregator. Call Run to start consuming.
func New(opts Options) *Aggregator {
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Aggregator{
		queue:  newQueue(capacity),
		groups: make(map[Token]*Entry),
		onDump: opts.OnDump,
		logger: logger,
	}
}

// Queue returns the inbound queue shared by all senders.
func (a *Aggregator) Queue() *Queue {
	return a.queue
}

// Done is closed when Run returns.
func (a *Aggregator) Done() <-chan struct{} {
	return a.queue.done
}

// Run consumes messages until the queue is closed (returning nil) or ctx
// ends (returning ctx.Err()). Messages still queued when ctx ends are not
// processed.
func (a *Aggregator) Run(ctx context.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	defer close(a.queue.done)

	for {
		select {
		case <-ctx.Done():
			a.logger.Warn("aggregator stopped", slog.String("event.type", "aggregate.cancelled"), slog.Int("queue.pending", a.queue.Len()))
			return ctx.Err()
		case msg, ok := <-a.queue.ch:
			if !ok {
				a.logger.Debug("aggregator drained", slog.String("event.type", "aggregate.closed"), slog.Int("groups", len(a.groups)))
				return nil
			}

			a.handle(msg)
		}
	}
}

func (a *Aggregator) handle(msg Message) {
	switch msg.Kind {
	case KindCompleted:
		a.merge(msg.Token, msg.Usage)
	case KindDump:
		snap := a.snapshot()

		a.logger.Info("aggregate dump",
			slog.String("event.type", "aggregate.dump"),
			slog.Int("groups", len(snap.Groups)),
			slog.Int("processes", snap.Processes()),
			slog.String("cpu.total", snap.Total().Total().String()),
		)

		if a.onDump != nil {
			a.onDump(snap)
		}

		if msg.reply != nil {
			msg.reply <- snap
		}
	default:
		a.logger.Warn("unknown aggregate message", slog.Int("kind", int(msg.Kind)))
	}
}

func (a *Aggregator) merge(token Token, u usage.CPUUsage) {
	entry, ok := a.groups[token]
	if !ok {
		entry = &Entry{Token: token}
		a.groups[token] = entry
	}

	entry.Usage = entry.Usage.Add(u)
	entry.Count++

	a.logger.Debug("completion merged",
		slog.String("event.type", "aggregate.merge"),
		slog.Uint64("group", uint64(token)),
		slog.Int64("cpu.user_us", u.User.Micros()),
		slog.Int64("cpu.system_us", u.System.Micros()),
		slog.Int("group.count", entry.Count),
	)
}

func (a *Aggregator) snapshot() Snapshot {
	groups := make([]Entry, 0, len(a.groups))
	for _, token := range slices.Sorted(maps.Keys(a.groups)) {
		groups = append(groups, *a.groups[token])
	}

	return Snapshot{Groups: groups}
}
