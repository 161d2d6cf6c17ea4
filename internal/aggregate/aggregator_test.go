package aggregate

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/musher-dev/cputally/internal/usage"
)

func startAggregator(t *testing.T, opts Options) *Aggregator {
	t.Helper()

	agg := New(opts)

	ctx, cancel := context.WithCancel(t.Context())

	errCh := make(chan error, 1)

	go func() { errCh <- agg.Run(ctx) }()

	t.Cleanup(func() {
		agg.Queue().Close()

		select {
		case <-agg.Done():
		case <-time.After(5 * time.Second):
			t.Error("aggregator did not stop after Close")
		}

		cancel()
		<-errCh
	})

	return agg
}

func cpu(userSec, userUsec, sysSec, sysUsec int64) usage.CPUUsage {
	return usage.CPUUsage{
		User:   usage.NewTimeval(userSec, userUsec),
		System: usage.NewTimeval(sysSec, sysUsec),
	}
}

func TestAggregator_SumsPerToken(t *testing.T) {
	agg := startAggregator(t, Options{Capacity: 4})
	q := agg.Queue()

	type delivery struct {
		token Token
		usage usage.CPUUsage
	}

	var deliveries []delivery

	want := map[Token]usage.CPUUsage{}
	counts := map[Token]int{}

	r := rand.New(rand.NewPCG(7, 8))

	for i := range 60 {
		d := delivery{
			token: Token(i % 4),
			usage: cpu(r.Int64N(5), r.Int64N(1_000_000), r.Int64N(5), r.Int64N(1_000_000)),
		}
		deliveries = append(deliveries, d)
		want[d.token] = want[d.token].Add(d.usage)
		counts[d.token]++
	}

	r.Shuffle(len(deliveries), func(i, j int) {
		deliveries[i], deliveries[j] = deliveries[j], deliveries[i]
	})

	for _, d := range deliveries {
		if err := q.Send(t.Context(), Completed(d.token, d.usage)); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}

	snap, err := q.Dump(t.Context())
	if err != nil {
		t.Fatalf("Dump() error = %v", err)
	}

	if len(snap.Groups) != len(want) {
		t.Fatalf("groups = %d, want %d", len(snap.Groups), len(want))
	}

	for token, wantUsage := range want {
		entry, ok := snap.Lookup(token)
		if !ok {
			t.Fatalf("token %d missing from snapshot", token)
		}

		if entry.Usage != wantUsage {
			t.Errorf("token %d usage = %v, want %v", token, entry.Usage, wantUsage)
		}

		if entry.Count != counts[token] {
			t.Errorf("token %d count = %d, want %d", token, entry.Count, counts[token])
		}
	}

	if snap.Processes() != len(deliveries) {
		t.Errorf("Processes() = %d, want %d", snap.Processes(), len(deliveries))
	}
}

func TestAggregator_TwoProcessesSameToken(t *testing.T) {
	agg := startAggregator(t, Options{})
	q := agg.Queue()

	a := cpu(0, 700_000, 0, 10)
	b := cpu(1, 400_000, 0, 20)

	for _, u := range []usage.CPUUsage{a, b} {
		if err := q.Send(t.Context(), Completed(1, u)); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}

	snap, err := q.Dump(t.Context())
	if err != nil {
		t.Fatalf("Dump() error = %v", err)
	}

	entry, ok := snap.Lookup(1)
	if !ok {
		t.Fatal("token 1 missing")
	}

	want := cpu(2, 100_000, 0, 30)
	if entry.Usage != want {
		t.Errorf("usage = %v, want %v", entry.Usage, want)
	}
}

func TestAggregator_DumpEmpty(t *testing.T) {
	agg := startAggregator(t, Options{})

	snap, err := agg.Queue().Dump(t.Context())
	if err != nil {
		t.Fatalf("Dump() error = %v", err)
	}

	if snap.Groups == nil || len(snap.Groups) != 0 {
		t.Errorf("Groups = %#v, want empty non-nil slice", snap.Groups)
	}

	if !snap.Total().IsZero() {
		t.Errorf("Total() = %v, want zero", snap.Total())
	}
}

func TestAggregator_DumpIsSortedAndDoesNotReset(t *testing.T) {
	var (
		mu    sync.Mutex
		dumps []Snapshot
	)

	agg := startAggregator(t, Options{OnDump: func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()

		dumps = append(dumps, s)
	}})
	q := agg.Queue()

	for _, token := range []Token{9, 3, 7, 0, 3} {
		if err := q.Send(t.Context(), Completed(token, cpu(0, 1, 0, 1))); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}

	if err := q.Send(t.Context(), Dump()); err != nil {
		t.Fatalf("Send(Dump) error = %v", err)
	}

	second, err := q.Dump(t.Context())
	if err != nil {
		t.Fatalf("Dump() error = %v", err)
	}

	wantOrder := []Token{0, 3, 7, 9}
	for i, e := range second.Groups {
		if e.Token != wantOrder[i] {
			t.Errorf("Groups[%d].Token = %d, want %d", i, e.Token, wantOrder[i])
		}
	}

	mu.Lock()
	defer mu.Unlock()

	if len(dumps) != 2 {
		t.Fatalf("OnDump called %d times, want 2", len(dumps))
	}

	if dumps[0].Processes() != 5 || dumps[1].Processes() != 5 {
		t.Errorf("dump changed totals: %d then %d", dumps[0].Processes(), dumps[1].Processes())
	}
}

func TestQueue_SendAfterClose(t *testing.T) {
	agg := startAggregator(t, Options{})
	q := agg.Queue()

	q.Close()
	q.Close()

	err := q.Send(t.Context(), Completed(0, usage.Zero))
	if !errors.Is(err, ErrChannelClosed) {
		t.Errorf("Send() after Close = %v, want ErrChannelClosed", err)
	}

	if _, err := q.Dump(t.Context()); !errors.Is(err, ErrChannelClosed) {
		t.Errorf("Dump() after Close = %v, want ErrChannelClosed", err)
	}
}

func TestQueue_SendAfterConsumerStopped(t *testing.T) {
	agg := New(Options{Capacity: 1})

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	if err := agg.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() = %v, want context.Canceled", err)
	}

	q := agg.Queue()

	// Fill the single slot, then the next send must fail instead of hanging.
	_ = q.Send(t.Context(), Completed(0, usage.Zero))

	if err := q.Send(t.Context(), Completed(0, usage.Zero)); !errors.Is(err, ErrChannelClosed) {
		t.Errorf("Send() = %v, want ErrChannelClosed", err)
	}
}

func TestQueue_Backpressure(t *testing.T) {
	agg := New(Options{Capacity: 1})
	q := agg.Queue()

	if err := q.Send(t.Context(), Completed(5, cpu(1, 0, 0, 0))); err != nil {
		t.Fatalf("first Send() error = %v", err)
	}

	sent := make(chan error, 1)

	go func() { sent <- q.Send(t.Context(), Completed(5, cpu(2, 0, 0, 0))) }()

	select {
	case err := <-sent:
		t.Fatalf("Send() on full queue returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	runErr := make(chan error, 1)

	go func() { runErr <- agg.Run(ctx) }()

	select {
	case err := <-sent:
		if err != nil {
			t.Fatalf("blocked Send() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("blocked Send() never completed")
	}

	snap, err := q.Dump(t.Context())
	if err != nil {
		t.Fatalf("Dump() error = %v", err)
	}

	entry, _ := snap.Lookup(5)
	if entry.Count != 2 || entry.Usage != cpu(3, 0, 0, 0) {
		t.Errorf("entry = %+v, want count 2 and 3s user", entry)
	}

	q.Close()

	if err := <-runErr; err != nil {
		t.Errorf("Run() after Close = %v, want nil", err)
	}
}

func TestQueue_CloseReleasesBlockedSender(t *testing.T) {
	agg := New(Options{Capacity: 1})
	q := agg.Queue()

	if err := q.Send(t.Context(), Completed(0, usage.Zero)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	sent := make(chan error, 1)

	go func() { sent <- q.Send(t.Context(), Completed(0, usage.Zero)) }()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case err := <-sent:
		if !errors.Is(err, ErrChannelClosed) {
			t.Errorf("blocked Send() = %v, want ErrChannelClosed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not release blocked sender")
	}
}

func TestAggregator_RunTwice(t *testing.T) {
	agg := startAggregator(t, Options{})

	// Make sure the first Run owns the aggregator before racing it.
	if _, err := agg.Queue().Dump(t.Context()); err != nil {
		t.Fatalf("Dump() error = %v", err)
	}

	if err := agg.Run(t.Context()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run() = %v, want ErrAlreadyRunning", err)
	}
}
