package pubsub

import (
	"context"
	"fmt"
	"time"

	"github.com/venkisagunner93/conduit-go/internal/ring"
	"github.com/venkisagunner93/conduit-go/internal/shm"
)

// Message is the subscriber-facing view of a delivered message: the same
// (bytes, length, sequence, timestamp) tuple as ring.View, re-exported so
// callers never need to import internal/ring themselves.
type Message struct {
	Data        []byte
	Sequence    uint64
	TimestampNS uint64
}

// Subscriber is one reader attached to a topic. Construction opens the
// topic's region (failing cleanly with ErrNotFound if no publisher has
// created it yet) and claims a reader slot. Close releases the slot and
// unmaps the region; it does not affect the publisher or other
// subscribers.
type Subscriber struct {
	topic  string
	region *shm.Region
	reader *ring.Reader
}

// NewSubscriber opens topic and attaches a reader slot. Use
// WaitUntilExists first if the subscriber may start before its
// publisher.
func NewSubscriber(topic string) (*Subscriber, error) {
	region, err := shm.Open(topic)
	if err != nil {
		return nil, err
	}

	reader, err := ring.NewReader(region.Data())
	if err != nil {
		_ = region.Close()
		return nil, fmt.Errorf("pubsub: building reader for %q: %w", topic, err)
	}

	if err := reader.ClaimSlot(); err != nil {
		_ = region.Close()
		return nil, err
	}

	return &Subscriber{topic: topic, region: region, reader: reader}, nil
}

// WaitUntilExists blocks until topic's shared-memory region exists or ctx
// is done, polling every pollInterval. Returns false if ctx ended the
// wait first.
func WaitUntilExists(ctx context.Context, topic string, pollInterval time.Duration) bool {
	return shm.WaitUntilExists(ctx, topic, pollInterval)
}

// Topic returns the subscriber's topic name.
func (s *Subscriber) Topic() string { return s.topic }

// TryTake performs one non-blocking read. It returns (msg, true) if a
// message was delivered, or (Message{}, false) if nothing new is
// available right now.
func (s *Subscriber) TryTake() (Message, bool) {
	v, ok := s.reader.TryRead()
	if !ok {
		return Message{}, false
	}
	return Message{Data: v.Data, Sequence: v.Sequence, TimestampNS: v.TimestampNS}, true
}

// Wait blocks until a message is available or ctx is done, parking the
// goroutine in the kernel wait primitive between wake-ups instead of
// busy-polling; ctx is re-checked every 200ms while parked.
func (s *Subscriber) Wait(ctx context.Context) (Message, bool) {
	v, ok := s.reader.Wait(ctx)
	if !ok {
		return Message{}, false
	}
	return Message{Data: v.Data, Sequence: v.Sequence, TimestampNS: v.TimestampNS}, true
}

// WaitFor blocks until a message is available or timeout elapses.
func (s *Subscriber) WaitFor(timeout time.Duration) (Message, bool) {
	v, ok := s.reader.WaitFor(timeout)
	if !ok {
		return Message{}, false
	}
	return Message{Data: v.Data, Sequence: v.Sequence, TimestampNS: v.TimestampNS}, true
}

// Close releases this subscriber's reader slot and unmaps the region.
func (s *Subscriber) Close() error {
	if s.reader == nil {
		return nil
	}
	s.reader.ReleaseSlot()
	s.reader = nil
	return s.region.Close()
}
