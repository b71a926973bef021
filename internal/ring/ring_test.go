package ring

import (
	"bytes"
	"encoding/binary"
	"runtime"
	"sync"
	"testing"
)

func newTestRing(t *testing.T, slotCount, slotSize uint32) ([]byte, *Writer, *Reader) {
	t.Helper()
	cfg := Config{SlotCount: slotCount, SlotSize: slotSize}
	data := make([]byte, RegionSize(cfg))

	w, err := NewWriter(data, cfg)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	w.Initialize()

	r, err := NewReader(data)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	return data, w, r
}

func TestRing_BasicWriteRead(t *testing.T) {
	_, w, r := newTestRing(t, 16, 256)

	if err := r.ClaimSlot(); err != nil {
		t.Fatalf("ClaimSlot: %v", err)
	}

	if err := w.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	view, ok := r.TryRead()
	if !ok {
		t.Fatalf("expected a message")
	}
	if !bytes.Equal(view.Data, []byte("hello")) {
		t.Fatalf("got %q, want %q", view.Data, "hello")
	}
	if view.Sequence != 0 {
		t.Fatalf("sequence = %d, want 0", view.Sequence)
	}
}

func TestRing_MultipleMessages(t *testing.T) {
	_, w, r := newTestRing(t, 16, 256)
	if err := r.ClaimSlot(); err != nil {
		t.Fatalf("ClaimSlot: %v", err)
	}

	for _, m := range []string{"one", "two", "three"} {
		if err := w.Write([]byte(m)); err != nil {
			t.Fatalf("Write(%q): %v", m, err)
		}
	}

	for i, want := range []string{"one", "two", "three"} {
		v, ok := r.TryRead()
		if !ok {
			t.Fatalf("message %d: expected a value", i)
		}
		if string(v.Data) != want {
			t.Fatalf("message %d: got %q, want %q", i, v.Data, want)
		}
		if v.Sequence != uint64(i) {
			t.Fatalf("message %d: sequence = %d, want %d", i, v.Sequence, i)
		}
	}

	if _, ok := r.TryRead(); ok {
		t.Fatalf("expected no more messages")
	}
}

func TestRing_MultipleSubscribersFanOut(t *testing.T) {
	cfg := Config{SlotCount: 16, SlotSize: 256}
	raw := make([]byte, RegionSize(cfg))
	w, err := NewWriter(raw, cfg)
	if err != nil {
		t.Fatal(err)
	}
	w.Initialize()

	var readers []*Reader
	for i := 0; i < 3; i++ {
		r, err := NewReader(raw)
		if err != nil {
			t.Fatalf("NewReader %d: %v", i, err)
		}
		if err := r.ClaimSlot(); err != nil {
			t.Fatalf("ClaimSlot %d: %v", i, err)
		}
		readers = append(readers, r)
	}

	if err := w.Write([]byte("message")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	for i, r := range readers {
		v, ok := r.TryRead()
		if !ok {
			t.Fatalf("reader %d: expected a message", i)
		}
		if string(v.Data) != "message" || v.Sequence != 0 {
			t.Fatalf("reader %d: got (%q, seq=%d)", i, v.Data, v.Sequence)
		}
	}
}

func TestRing_Overrun(t *testing.T) {
	cfg := Config{SlotCount: 4, SlotSize: 4 + SlotHeaderSize}
	data := make([]byte, RegionSize(cfg))

	w, err := NewWriter(data, cfg)
	if err != nil {
		t.Fatal(err)
	}
	w.Initialize()

	r, err := NewReader(data)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.ClaimSlot(); err != nil {
		t.Fatal(err)
	}

	var buf [4]byte
	for i := 0; i < 10; i++ {
		binary.LittleEndian.PutUint32(buf[:], uint32(i))
		if err := w.Write(buf[:]); err != nil {
			t.Fatalf("Write(%d): %v", i, err)
		}
	}

	count := 0
	var firstSeq uint64 = ^uint64(0)
	for {
		v, ok := r.TryRead()
		if !ok {
			break
		}
		if count == 0 {
			firstSeq = v.Sequence
		}
		got := binary.LittleEndian.Uint32(v.Data)
		if uint64(got) != v.Sequence {
			t.Fatalf("payload %d does not match sequence %d", got, v.Sequence)
		}
		count++
	}

	if count > 4 {
		t.Fatalf("expected at most 4 messages, got %d", count)
	}
	if firstSeq < 6 {
		t.Fatalf("expected first surviving sequence >= 6, got %d", firstSeq)
	}
}

func TestRing_PayloadTooLarge(t *testing.T) {
	cfg := Config{SlotCount: 4, SlotSize: SlotHeaderSize + 16}
	data := make([]byte, RegionSize(cfg))
	w, err := NewWriter(data, cfg)
	if err != nil {
		t.Fatal(err)
	}
	w.Initialize()

	if err := w.Write(make([]byte, 16)); err != nil {
		t.Fatalf("exact max payload should succeed: %v", err)
	}
	if err := w.Write(make([]byte, 17)); err == nil {
		t.Fatalf("expected ErrTooLarge for oversized payload")
	}
}

func TestRing_SubscriberCap(t *testing.T) {
	cfg := Config{SlotCount: 16, SlotSize: 64}
	data := make([]byte, RegionSize(cfg))
	w, err := NewWriter(data, cfg)
	if err != nil {
		t.Fatal(err)
	}
	w.Initialize()

	var readers []*Reader
	for i := 0; i < MaxSubscribers; i++ {
		r, err := NewReader(data)
		if err != nil {
			t.Fatal(err)
		}
		if err := r.ClaimSlot(); err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		readers = append(readers, r)
	}

	extra, err := NewReader(data)
	if err != nil {
		t.Fatal(err)
	}
	if err := extra.ClaimSlot(); err == nil {
		t.Fatalf("expected ErrNoSubscriberSlots on the 17th attach")
	}

	readers[0].ReleaseSlot()
	if err := extra.ClaimSlot(); err != nil {
		t.Fatalf("expected claim to succeed after a release: %v", err)
	}
}

func TestRing_HighThroughputConcurrent(t *testing.T) {
	cfg := Config{SlotCount: 1024, SlotSize: SlotHeaderSize + 4}
	data := make([]byte, RegionSize(cfg))
	w, err := NewWriter(data, cfg)
	if err != nil {
		t.Fatal(err)
	}
	w.Initialize()

	r, err := NewReader(data)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.ClaimSlot(); err != nil {
		t.Fatal(err)
	}

	const total = 100000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		var buf [4]byte
		for i := 0; i < total; i++ {
			// Back-pressure: the ring overwrites on lap, so yield while
			// the reader is a full ring behind to keep every message.
			for w.writeIdx()-r.readIdx(r.slot) >= uint64(cfg.SlotCount) {
				runtime.Gosched()
			}
			binary.LittleEndian.PutUint32(buf[:], uint32(i))
			for w.Write(buf[:]) != nil {
				// slot_size guarantees this never happens; defensive only.
			}
		}
	}()

	received := 0
	for received < total {
		if _, ok := r.TryRead(); ok {
			received++
		}
	}
	wg.Wait()

	if received != total {
		t.Fatalf("received %d, want %d", received, total)
	}
}

func TestRing_NewSubscriberSeesOnlyFutureMessages(t *testing.T) {
	cfg := Config{SlotCount: 16, SlotSize: 64}
	data := make([]byte, RegionSize(cfg))
	w, err := NewWriter(data, cfg)
	if err != nil {
		t.Fatal(err)
	}
	w.Initialize()

	if err := w.Write([]byte("before attach")); err != nil {
		t.Fatal(err)
	}

	r, err := NewReader(data)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.ClaimSlot(); err != nil {
		t.Fatal(err)
	}

	if _, ok := r.TryRead(); ok {
		t.Fatalf("a newly attached subscriber must not see pre-attach messages")
	}

	if err := w.Write([]byte("after attach")); err != nil {
		t.Fatal(err)
	}
	v, ok := r.TryRead()
	if !ok || string(v.Data) != "after attach" {
		t.Fatalf("expected to see the post-attach message, got ok=%v data=%q", ok, v.Data)
	}
}
