package ring

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/venkisagunner93/conduit-go/internal/wait"
)

// ErrNoSubscriberSlots is returned by ClaimSlot when every reader slot
// (0..MaxSubscribers-1) is already claimed.
var ErrNoSubscriberSlots = errors.New("ring: no subscriber slots available")

// View is a transient borrowed reference into a slot's payload bytes. It
// is valid only until the owning Reader's next read call — the byte
// range it points at may be overwritten by the producer thereafter.
type View struct {
	Data        []byte
	Sequence    uint64
	TimestampNS uint64
}

// Reader is one subscriber's view of a topic's ring: a claimed slot index
// plus that slot's exclusively-owned read cursor. A Reader must not be
// used from more than one goroutine at a time.
type Reader struct {
	header
	slots    []byte
	slotSize uint32
	slotMask uint64
	slot     int // claimed reader-cursor index, -1 if unclaimed
}

// NewReader wraps an already-initialized region with the reader side of
// the ring protocol, reading slot_count/slot_size back out of the header
// the publisher wrote during Initialize.
func NewReader(data []byte) (*Reader, error) {
	h := header{b: data[:HeaderSize]}
	slotCount := h.slotCount()
	if slotCount == 0 || slotCount&(slotCount-1) != 0 {
		return nil, fmt.Errorf("ring: header not initialized (slot_count=%d)", slotCount)
	}
	slotSize := h.slotSize()

	want := HeaderSize + int(slotCount)*int(slotSize)
	if len(data) < want {
		return nil, fmt.Errorf("ring: region too small for header config (have %d, want %d)", len(data), want)
	}

	return &Reader{
		header:   h,
		slots:    data[HeaderSize:want],
		slotSize: slotSize,
		slotMask: uint64(slotCount) - 1,
		slot:     -1,
	}, nil
}

// ClaimSlot attaches this Reader to the next free reader-cursor index
// (§4.4.5): find the lowest clear bit in the subscriber bitmap and CAS it
// set, retrying on contention. On success the cursor is initialized to
// the current write_idx, so a newly-attached subscriber sees only
// messages published strictly after attach — there is no historical
// drain, a deliberate core semantic choice (see DESIGN.md's Open
// Questions).
func (r *Reader) ClaimSlot() error {
	for {
		mask := r.subscriberMask()
		slot := -1
		for i := 0; i < MaxSubscribers; i++ {
			if mask&(1<<uint(i)) == 0 {
				slot = i
				break
			}
		}
		if slot == -1 {
			return ErrNoSubscriberSlots
		}

		newMask := mask | (1 << uint(slot))
		if atomic.CompareAndSwapUint32(r.u32(offSubscriberMask), mask, newMask) {
			w := r.writeIdx() // acquire
			r.storeReadIdx(slot, w)
			r.slot = slot
			return nil
		}
		// Lost the race to another attacher; retry with a fresh mask.
	}
}

// ReleaseSlot detaches this Reader, clearing its bit in the subscriber
// bitmap so another subscriber can claim the index.
func (r *Reader) ReleaseSlot() {
	if r.slot < 0 {
		return
	}
	bit := uint32(1) << uint(r.slot)
	for {
		mask := r.subscriberMask()
		newMask := mask &^ bit
		if atomic.CompareAndSwapUint32(r.u32(offSubscriberMask), mask, newMask) {
			break
		}
	}
	r.slot = -1
}

// TryRead performs one non-blocking read attempt (§4.4.6). It returns
// (view, true) on a delivered message, or (View{}, false) if there is
// nothing new, or if the slot it read was overwritten mid-read (it then
// skips past the overrun); the caller is expected to retry on false
// exactly as it would on "no new data". A reader that was already lapped
// before the call is moved to the oldest live sequence and that message
// is delivered in the same call.
func (r *Reader) TryRead() (View, bool) {
	i := r.slot
	rIdx := r.readIdx(i) // relaxed

	w := r.writeIdx() // acquire: pairs with the writer's release store
	if rIdx >= w {
		return View{}, false
	}

	if w-rIdx > uint64(r.slotMask+1) {
		// The writer lapped us while we were behind; jump to the oldest
		// sequence still guaranteed live and read it below.
		rIdx = w - uint64(r.slotMask+1)
		r.storeReadIdx(i, rIdx)
	}

	slotOff := (rIdx & r.slotMask) * uint64(r.slotSize)
	slot := r.slots[slotOff : slotOff+uint64(r.slotSize)]

	length := binary.LittleEndian.Uint32(slot[0:])
	seq := binary.LittleEndian.Uint64(slot[4:])
	ts := binary.LittleEndian.Uint64(slot[12:])

	if seq != rIdx {
		// The writer overwrote this slot between our write_idx load and
		// this header read (a lap mid-read). The sequence stamp, written
		// before the writer's release, is the per-slot fingerprint that
		// makes this detectable. Skip to the oldest live sequence and
		// ask the caller to retry.
		rIdx = w - uint64(r.slotMask+1)
		r.storeReadIdx(i, rIdx)
		return View{}, false
	}

	view := View{
		Data:        slot[SlotHeaderSize : SlotHeaderSize+length],
		Sequence:    seq,
		TimestampNS: ts,
	}

	r.storeReadIdx(i, rIdx+1) // release
	return view, true
}

// Wait blocks until a message is available or ctx is done (§4.4.7). The
// core's own contract has no forced cancellation of a parked waiter —
// cancellation here is cooperative: it is checked between wake-ups, the
// same granularity WaitFor's timeout loop gives callers, wired through
// ctx instead of a duration so callers can compose it with their own
// shutdown signal.
func (r *Reader) Wait(ctx context.Context) (View, bool) {
	for {
		if v, ok := r.TryRead(); ok {
			return v, true
		}

		select {
		case <-ctx.Done():
			return View{}, false
		default:
		}

		snap := atomic.LoadUint32(r.wakeWord())

		if v, ok := r.TryRead(); ok {
			return v, true
		}

		res, err := waitOnWord(ctx, r.wakeWord(), snap, 0)
		if err != nil || res == wait.TimedOut {
			continue
		}
	}
}

// WaitFor blocks until a message is available or timeout elapses,
// returning (View{}, false) once the deadline passes with nothing
// delivered.
func (r *Reader) WaitFor(timeout time.Duration) (View, bool) {
	deadline := time.Now().Add(timeout)

	for {
		if v, ok := r.TryRead(); ok {
			return v, true
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return View{}, false
		}

		snap := atomic.LoadUint32(r.wakeWord())

		if v, ok := r.TryRead(); ok {
			return v, true
		}

		remaining = time.Until(deadline)
		if remaining <= 0 {
			return View{}, false
		}

		res, err := wait.Wait(r.wakeWord(), snap, remaining)
		if err != nil {
			return View{}, false
		}
		if res == wait.TimedOut {
			return View{}, false
		}
		// Woken (possibly spuriously): loop around and re-check.
	}
}

// waitOnWord blocks on word until it is woken or ctx is done. It parks in
// the kernel primitive in 200ms slices and checks ctx between slices, so
// Wait can notice cancellation without the kernel primitive itself
// supporting it.
func waitOnWord(ctx context.Context, word *uint32, expected uint32, _ time.Duration) (wait.Result, error) {
	const pollSlice = 200 * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			return wait.TimedOut, ctx.Err()
		default:
		}
		res, err := wait.Wait(word, expected, pollSlice)
		if err != nil {
			return res, err
		}
		if res == wait.Woken {
			return wait.Woken, nil
		}
		// TimedOut against our internal poll slice: loop to recheck ctx.
	}
}
