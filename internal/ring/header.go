// Package ring implements the lock-free single-producer / multi-consumer
// ring buffer that lives inside a shared-memory region (internal/shm) and
// coordinates idle subscribers through the kernel wait primitive
// (internal/wait). It is the hard engineering core of conduit: the
// in-memory layout two or more unrelated processes can map and agree on,
// the wait-free write algorithm, and the overwrite-detecting read
// algorithm.
package ring

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"unsafe"
)

// CacheLineSize is the padding unit used to keep cross-CPU-hot header
// fields off each other's cache lines. 64 bytes matches the reference
// implementation and most x86/arm64 parts; platforms with 128-byte
// effective lines (server CPUs with adjacent-line prefetch) would need to
// bump this, but it is a platform constant, not a protocol constant — two
// processes on the same host always agree on it because they're compiled
// against the same binary's notion of it.
const CacheLineSize = 64

// MaxSubscribers is the compile-time ceiling on concurrent subscribers per
// topic. It is part of the wire format: two implementations must agree on
// it to agree on the size and layout of read_idx[].
const MaxSubscribers = 16

// SlotHeaderSize is the per-slot framing overhead: a 4-byte payload
// length, an 8-byte sequence number, and an 8-byte monotonic timestamp,
// immediately before the payload bytes.
const SlotHeaderSize = 4 + 8 + 8

// Byte offsets within the ring header. The header is three cache lines of
// fixed fields followed by one cache line per reader cursor.
const (
	offSlotCount      = 0
	offSlotSize       = 4
	offMaxSubscribers = 8
	offReserved       = 12

	offWriteIdx = CacheLineSize // cache-line-aligned producer cursor

	offSubscriberMask = CacheLineSize * 2
	offWakeWord       = CacheLineSize*2 + 4 // shares the mask's cache line

	readIdxBase = CacheLineSize * 3
)

func readIdxOffset(i int) int {
	return readIdxBase + i*CacheLineSize
}

// HeaderSize is the fixed size, in bytes, of the ring header preceding
// the slot array.
const HeaderSize = readIdxBase + MaxSubscribers*CacheLineSize

// Config is the immutable, publisher-chosen configuration of a ring:
// slot count (must be a power of two) and slot size (must be at least
// SlotHeaderSize plus the largest payload the topic will ever carry).
type Config struct {
	SlotCount uint32
	SlotSize  uint32
}

// Validate checks the invariants a Config must satisfy before a region is
// sized and initialized from it.
func (c Config) Validate() error {
	if c.SlotCount == 0 || c.SlotCount&(c.SlotCount-1) != 0 {
		return fmt.Errorf("ring: slot count %d is not a power of two", c.SlotCount)
	}
	if c.SlotSize < SlotHeaderSize {
		return fmt.Errorf("ring: slot size %d smaller than header overhead %d", c.SlotSize, SlotHeaderSize)
	}
	return nil
}

// MaxPayload is the largest payload Config can carry per slot.
func (c Config) MaxPayload() uint32 {
	return c.SlotSize - SlotHeaderSize
}

// RegionSize returns the total shared-memory region size required to
// back a ring built from cfg: header plus every slot.
func RegionSize(cfg Config) int {
	return HeaderSize + int(cfg.SlotCount)*int(cfg.SlotSize)
}

// header is the shared read/write view over a mapped region's control
// block, embedded in both Writer and Reader so they share one set of
// atomic accessors instead of duplicating offset arithmetic.
type header struct {
	b []byte
}

func (h header) u32(off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&h.b[off]))
}

func (h header) u64(off int) *uint64 {
	return (*uint64)(unsafe.Pointer(&h.b[off]))
}

func (h header) slotCount() uint32      { return binary.LittleEndian.Uint32(h.b[offSlotCount:]) }
func (h header) slotSize() uint32       { return binary.LittleEndian.Uint32(h.b[offSlotSize:]) }
func (h header) maxSubscribers() uint32 { return binary.LittleEndian.Uint32(h.b[offMaxSubscribers:]) }

func (h header) writeIdx() uint64            { return atomic.LoadUint64(h.u64(offWriteIdx)) }
func (h header) storeWriteIdx(v uint64)      { atomic.StoreUint64(h.u64(offWriteIdx), v) }
func (h header) subscriberMask() uint32      { return atomic.LoadUint32(h.u32(offSubscriberMask)) }
func (h header) wakeWord() *uint32           { return h.u32(offWakeWord) }
func (h header) readIdx(i int) uint64        { return atomic.LoadUint64(h.u64(readIdxOffset(i))) }
func (h header) storeReadIdx(i int, v uint64) {
	atomic.StoreUint64(h.u64(readIdxOffset(i)), v)
}

// Stats is a read-only snapshot of header fields for introspection tools
// (the `conduit info` CLI command, §6.3) that have no need to construct a
// full Writer or Reader.
type Stats struct {
	SlotCount         uint32
	SlotSize          uint32
	MaxSubscribers    uint32
	ActiveSubscribers int
	MessagesPublished uint64
}

// Inspect reads header fields directly out of a mapped region's bytes
// without constructing a Writer or Reader, for read-only tooling.
func Inspect(data []byte) Stats {
	h := header{b: data}
	mask := h.subscriberMask()
	active := 0
	for m := mask; m != 0; m &= m - 1 {
		active++
	}
	return Stats{
		SlotCount:         h.slotCount(),
		SlotSize:          h.slotSize(),
		MaxSubscribers:    h.maxSubscribers(),
		ActiveSubscribers: active,
		MessagesPublished: h.writeIdx(),
	}
}
