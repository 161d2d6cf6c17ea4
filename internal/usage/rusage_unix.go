//go:build unix

package usage

import "golang.org/x/sys/unix"

// FromRusage extracts the two CPU-time fields from a kernel rusage report.
func FromRusage(ru *unix.Rusage) CPUUsage {
	return CPUUsage{
		User:   NewTimeval(int64(ru.Utime.Sec), int64(ru.Utime.Usec)),
		System: NewTimeval(int64(ru.Stime.Sec), int64(ru.Stime.Usec)),
	}
}
