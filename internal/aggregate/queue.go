package aggregate

import (
	"context"
	"errors"
	"sync"
)

// ErrChannelClosed is returned to senders once the queue is closed or its
// consumer has stopped.
var ErrChannelClosed = errors.New("aggregator channel closed")

// Queue is the bounded, ordered inbound channel of an Aggregator. Sends
// block while the queue is full; nothing is ever dropped.
type Queue struct {
	ch      chan Message
	closing chan struct{}
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

func newQueue(capacity int) *Queue {
	return &Queue{
		ch:      make(chan Message, capacity),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Send enqueues msg, waiting for space while the queue is full. It returns
// ErrChannelClosed if the queue is closed or the consumer has stopped, and
// ctx.Err() if ctx ends first.
func (q *Queue) Send(ctx context.Context, msg Message) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrChannelClosed
	}

	select {
	case <-q.done:
		return ErrChannelClosed
	default:
	}

	select {
	case q.ch <- msg:
		return nil
	case <-q.closing:
		return ErrChannelClosed
	case <-q.done:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dump requests a snapshot and waits for the consumer to produce it.
func (q *Queue) Dump(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)

	msg := Dump()
	msg.reply = reply

	if err := q.Send(ctx, msg); err != nil {
		return Snapshot{}, err
	}

	select {
	case snap := <-reply:
		return snap, nil
	case <-q.done:
		// The consumer may have answered right before stopping.
		select {
		case snap := <-reply:
			return snap, nil
		default:
			return Snapshot{}, ErrChannelClosed
		}
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Close stops accepting messages. Messages already queued are still
// processed; senders blocked on a full queue get ErrChannelClosed. Close is
// idempotent.
func (q *Queue) Close() {
	q.once.Do(func() {
		close(q.closing)

		q.mu.Lock()
		defer q.mu.Unlock()

		q.closed = true
		close(q.ch)
	})
}

// Len is the number of queued messages.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap is the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}
