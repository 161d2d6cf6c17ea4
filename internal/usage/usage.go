// Package usage holds the CPU-time measurement produced for a finished
// process and the rule for combining measurements.
//
// Combination is true duration addition: the microsecond field of a Timeval
// is always kept in [0, 1_000_000) and any overflow is carried into seconds.
// Plain field-wise addition (no carry) would let Usec grow without bound and
// make two equal durations compare unequal.
package usage

import (
	"fmt"
	"time"
)

const usecPerSec = 1_000_000

// Timeval is a seconds + microseconds pair, the granularity the kernel
// reports resource usage at.
type Timeval struct {
	Sec  int64 `json:"sec" yaml:"sec" toml:"sec"`
	Usec int64 `json:"usec" yaml:"usec" toml:"usec"`
}

// CPUUsage is the user and system CPU time consumed by a process.
type CPUUsage struct {
	User   Timeval `json:"user" yaml:"user" toml:"user"`
	System Timeval `json:"system" yaml:"system" toml:"system"`
}

// Zero is the identity for Add.
var Zero CPUUsage

// NewTimeval returns a normalized Timeval.
func NewTimeval(sec, usec int64) Timeval {
	return Timeval{Sec: sec, Usec: usec}.normalize()
}

func (t Timeval) normalize() Timeval {
	if t.Usec >= usecPerSec || t.Usec < 0 {
		carry := t.Usec / usecPerSec
		t.Usec %= usecPerSec

		if t.Usec < 0 {
			t.Usec += usecPerSec
			carry--
		}

		t.Sec += carry
	}

	return t
}

// Add returns t + o with the microsecond overflow carried into seconds.
func (t Timeval) Add(o Timeval) Timeval {
	return Timeval{Sec: t.Sec + o.Sec, Usec: t.Usec + o.Usec}.normalize()
}

// Duration converts the pair to a time.Duration.
func (t Timeval) Duration() time.Duration {
	return time.Duration(t.Sec)*time.Second + time.Duration(t.Usec)*time.Microsecond
}

// Micros returns the value in whole microseconds.
func (t Timeval) Micros() int64 {
	return t.Sec*usecPerSec + t.Usec
}

func (t Timeval) String() string {
	return fmt.Sprintf("%d.%06ds", t.Sec, t.Usec)
}

// Add merges two measurements field by field.
func (u CPUUsage) Add(o CPUUsage) CPUUsage {
	return CPUUsage{
		User:   u.User.Add(o.User),
		System: u.System.Add(o.System),
	}
}

// Total is user plus system time.
func (u CPUUsage) Total() Timeval {
	return u.User.Add(u.System)
}

// IsZero reports whether no CPU time is recorded.
func (u CPUUsage) IsZero() bool {
	return u.User.normalize() == Timeval{} && u.System.normalize() == Timeval{}
}

func (u CPUUsage) String() string {
	return fmt.Sprintf("user=%s sys=%s", u.User, u.System)
}
