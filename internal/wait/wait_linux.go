//go:build linux

package wait

import (
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// futexWait issues FUTEX_WAIT. Deliberately not FUTEX_WAIT_PRIVATE: private
// futexes assume all waiters share one virtual address space, which does
// not hold here — the word lives in a region mapped by unrelated
// processes at possibly different addresses, so the kernel must hash on
// the physical page rather than the process-local virtual address.
func futexWait(word *uint32, expected uint32, timeout time.Duration) (Result, error) {
	var ts *unix.Timespec
	if timeout > 0 {
		t := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &t
	}

	err := unix.Futex(word, unix.FUTEX_WAIT, expected, ts, nil, 0)
	if err == nil {
		return Woken, nil
	}

	switch err {
	case unix.EAGAIN:
		// *word had already changed before the kernel could park us:
		// exactly the case the caller wants to treat as "woken".
		return Woken, nil
	case unix.ETIMEDOUT:
		return TimedOut, nil
	case unix.EINTR:
		// Interrupted by a signal; the documented contract permits
		// reporting this as a spurious wakeup rather than propagating it.
		return Woken, nil
	default:
		return Woken, err
	}
}

// futexWake issues FUTEX_WAKE directly through Syscall6 rather than the
// unix.Futex helper: the helper discards the syscall's return value, but
// the contract here needs the actual count of waiters woken.
func futexWake(word *uint32, n int) (int, error) {
	count := n
	if n == All {
		count = int(^uint32(0) >> 1) // INT_MAX: kernel stops at the last real waiter
	}

	r1, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(word)),
		uintptr(unix.FUTEX_WAKE),
		uintptr(count),
		0, 0, 0,
	)
	if errno != 0 {
		return 0, errno
	}
	return int(r1), nil
}
