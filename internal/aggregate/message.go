package aggregate

import (
	"slices"

	"github.com/musher-dev/cputally/internal/usage"
)

// Token is the caller-chosen grouping key. Several processes may share one.
type Token uint32

// Kind distinguishes aggregator messages.
type Kind int

const (
	// KindCompleted carries one process's usage.
	KindCompleted Kind = iota
	// KindDump asks for a snapshot of the current totals.
	KindDump
)

// Message is the unit sent through a Queue.
type Message struct {
	Kind  Kind
	Token Token
	Usage usage.CPUUsage

	reply chan<- Snapshot
}

// Completed builds the message reporting that a process grouped under token
// finished with usage u.
func Completed(token Token, u usage.CPUUsage) Message {
	return Message{Kind: KindCompleted, Token: token, Usage: u}
}

// Dump builds a snapshot request. The snapshot is delivered to the
// aggregator's OnDump hook and its log; use Queue.Dump to receive it
// directly.
func Dump() Message {
	return Message{Kind: KindDump}
}

// Entry is the merged usage for one token.
type Entry struct {
	Token Token          `json:"token" yaml:"token" toml:"token"`
	Usage usage.CPUUsage `json:"usage" yaml:"usage" toml:"usage"`
	Count int            `json:"count" yaml:"count" toml:"count"`
}

// Snapshot is a token-ordered copy of the aggregation map.
type Snapshot struct {
	Groups []Entry `json:"groups" yaml:"groups" toml:"groups"`
}

// Lookup returns the entry for token.
func (s Snapshot) Lookup(token Token) (Entry, bool) {
	i, found := slices.BinarySearchFunc(s.Groups, token, func(e Entry, t Token) int {
		switch {
		case e.Token < t:
			return -1
		case e.Token > t:
			return 1
		default:
			return 0
		}
	})
	if !found {
		return Entry{}, false
	}

	return s.Groups[i], true
}

// Total sums every group.
func (s Snapshot) Total() usage.CPUUsage {
	total := usage.Zero
	for _, e := range s.Groups {
		total = total.Add(e.Usage)
	}

	return total
}

// Processes is the number of completions merged into the snapshot.
func (s Snapshot) Processes() int {
	n := 0
	for _, e := range s.Groups {
		n += e.Count
	}

	return n
}
