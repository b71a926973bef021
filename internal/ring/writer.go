package ring

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/venkisagunner93/conduit-go/internal/clock"
	"github.com/venkisagunner93/conduit-go/internal/wait"
)

// ErrTooLarge is returned by Write when the payload does not fit in a
// single slot. The write has no side effects when this is returned.
var ErrTooLarge = errors.New("ring: payload too large for slot size")

// Writer is the sole producer for one topic's ring. Concurrent Write
// calls from two goroutines on the same Writer are undefined — callers
// serialize externally or use one Writer per writing goroutine on
// distinct topics, exactly as the component design requires.
type Writer struct {
	header
	slots    []byte
	slotSize uint32
	slotMask uint64
	nextSeq  uint64 // local cache of write_idx; this goroutine is the sole mutator
}

// NewWriter validates cfg and wraps region (sized by RegionSize(cfg))
// with the writer side of the ring protocol. It does not initialize the
// header — call Initialize exactly once after NewWriter, before any
// reader can observe the region.
func NewWriter(data []byte, cfg Config) (*Writer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	want := RegionSize(cfg)
	if len(data) != want {
		return nil, fmt.Errorf("ring: region size %d does not match config (want %d)", len(data), want)
	}
	return &Writer{
		header:   header{b: data[:HeaderSize]},
		slots:    data[HeaderSize:],
		slotSize: cfg.SlotSize,
		slotMask: uint64(cfg.SlotCount) - 1,
	}, nil
}

// Initialize writes the three immutable configuration fields, zeros both
// cursors, the subscriber bitmap, the wake word, and every reader cursor,
// then performs a release-ordering publish of write_idx. From that moment
// any opener reading the header — however it first observes slot_count —
// sees a fully consistent header, because the config fields were written
// before this release and every subsequent reader load of write_idx is
// acquire-ordered against it.
func (w *Writer) Initialize() {
	binary.LittleEndian.PutUint32(w.b[offSlotCount:], uint32(w.slotMask+1))
	binary.LittleEndian.PutUint32(w.b[offSlotSize:], w.slotSize)
	binary.LittleEndian.PutUint32(w.b[offMaxSubscribers:], MaxSubscribers)
	binary.LittleEndian.PutUint32(w.b[offReserved:], 0)

	atomic.StoreUint32(w.u32(offSubscriberMask), 0)
	atomic.StoreUint32(w.wakeWord(), 0)
	for i := 0; i < MaxSubscribers; i++ {
		w.storeReadIdx(i, 0)
	}

	w.nextSeq = 0
	w.storeWriteIdx(0)
}

// Write publishes payload as the next message. It never blocks, never
// retries, and never allocates on the hot path: claim the next slot by
// index arithmetic, stamp it, copy the payload, then release write_idx
// and wake any idle subscribers. Returns ErrTooLarge (no state change) if
// payload does not fit in a slot.
func (w *Writer) Write(payload []byte) error {
	if uint32(len(payload))+SlotHeaderSize > w.slotSize {
		return ErrTooLarge
	}

	i := w.nextSeq // relaxed: this goroutine is the only mutator
	slotOff := (i & w.slotMask) * uint64(w.slotSize)
	slot := w.slots[slotOff : slotOff+uint64(w.slotSize)]

	ts := clock.NowNS()

	binary.LittleEndian.PutUint32(slot[0:], uint32(len(payload)))
	binary.LittleEndian.PutUint64(slot[4:], i)
	binary.LittleEndian.PutUint64(slot[12:], ts)
	copy(slot[SlotHeaderSize:], payload)

	// Release store: every byte written above must be visible to any
	// reader that subsequently acquire-loads write_idx >= i+1.
	w.storeWriteIdx(i + 1)

	// Release fetch-add: the delta, not the value, is what parked
	// waiters compare their snapshot against.
	atomic.AddUint32(w.wakeWord(), 1)
	_, _ = wait.Wake(w.wakeWord(), wait.All)

	w.nextSeq = i + 1
	return nil
}
