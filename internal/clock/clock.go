// Package clock provides the single monotonic time source used to stamp
// every message published through conduit. It has no dependency on any
// other package in this module.
package clock

import _ "unsafe" // for go:linkname

// NowNS returns a monotonic nanosecond counter. It is never affected by
// wall-clock adjustments (NTP steps, manual clock changes) and never
// decreases across calls within a process.
//
// Values are comparable across processes on the same host because they
// are the runtime's raw monotonic reading, which on Linux is the
// system-wide CLOCK_MONOTONIC the C++ reference implementation uses; they
// are not comparable across machines.
func NowNS() uint64 {
	return uint64(nanotime())
}

// nanotime is the runtime's monotonic clock read. The public time API
// only exposes monotonic readings as differences between time.Time
// values, which would tie NowNS to a per-process epoch.
//
//go:linkname nanotime runtime.nanotime
func nanotime() int64
