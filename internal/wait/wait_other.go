//go:build !linux

package wait

import "time"

// The core's wait primitive is specified in terms of a Linux futex; other
// platforms are out of scope for this module (conduit is single-host
// robotics middleware that in practice targets Linux). These stubs exist
// only so the package remains importable while cross-compiling tooling
// that never actually calls Wait/Wake on a non-Linux GOOS.
func futexWait(word *uint32, expected uint32, timeout time.Duration) (Result, error) {
	return TimedOut, ErrUnsupported
}

func futexWake(word *uint32, n int) (int, error) {
	return 0, ErrUnsupported
}
