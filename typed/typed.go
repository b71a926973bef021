// Package typed layers schema-aware publish/subscribe over pubsub's raw
// byte API. It adds nothing to the wire protocol — a typed publisher and
// a typed subscriber on the same topic interoperate byte-for-byte with a
// raw pubsub.Publisher/Subscriber on that topic, so long as both sides
// agree on the schema. Two schema shapes are supported: fixed-size
// "plain data" records copied by value, and variable-size "serializable"
// records that supply their own encode/decode.
package typed

import (
	"context"
	"fmt"
	"time"
	"unsafe"

	"github.com/venkisagunner93/conduit-go/pubsub"
)

// Plain is the constraint for fixed-size, copy-safe records: no owning
// pointers, no embedded variable-length fields, just value data. Go
// cannot express "no pointers" as a generic constraint, so this is
// documentation, not compile-time enforcement — the same trust boundary
// the reference implementation places on its template parameter.
type Plain interface {
	comparable
}

// PlainPublisher publishes fixed-size records of type T by copying their
// raw bytes into the ring, with no intermediate allocation.
type PlainPublisher[T Plain] struct {
	pub *pubsub.Publisher
}

// NewPlainPublisher creates topic sized for depth records of exactly
// sizeof(T) bytes each.
func NewPlainPublisher[T Plain](topic string, depth uint32) (*PlainPublisher[T], error) {
	var zero T
	size := uint32(unsafe.Sizeof(zero))
	pub, err := pubsub.NewPublisher(topic, depth, size)
	if err != nil {
		return nil, err
	}
	return &PlainPublisher[T]{pub: pub}, nil
}

// Publish copies msg's bytes into the next slot.
func (p *PlainPublisher[T]) Publish(msg T) error {
	return p.pub.Publish(structBytes(&msg))
}

// Close releases the underlying publisher.
func (p *PlainPublisher[T]) Close() error { return p.pub.Close() }

// PlainSubscriber subscribes to fixed-size records of type T, copying
// each delivered slot's bytes out into a caller-owned T.
type PlainSubscriber[T Plain] struct {
	sub *pubsub.Subscriber
}

// NewPlainSubscriber attaches to topic expecting records of type T.
func NewPlainSubscriber[T Plain](topic string) (*PlainSubscriber[T], error) {
	sub, err := pubsub.NewSubscriber(topic)
	if err != nil {
		return nil, err
	}
	return &PlainSubscriber[T]{sub: sub}, nil
}

// TryTake performs one non-blocking read, decoding the slot's bytes into
// T by value copy.
func (s *PlainSubscriber[T]) TryTake() (T, uint64, uint64, bool) {
	msg, ok := s.sub.TryTake()
	if !ok {
		var zero T
		return zero, 0, 0, false
	}
	out, err := decodePlain[T](msg.Data)
	if err != nil {
		var zero T
		return zero, 0, 0, false
	}
	return out, msg.Sequence, msg.TimestampNS, true
}

// Wait blocks until a record is available or ctx is done.
func (s *PlainSubscriber[T]) Wait(ctx context.Context) (T, uint64, uint64, bool) {
	msg, ok := s.sub.Wait(ctx)
	if !ok {
		var zero T
		return zero, 0, 0, false
	}
	out, err := decodePlain[T](msg.Data)
	if err != nil {
		var zero T
		return zero, 0, 0, false
	}
	return out, msg.Sequence, msg.TimestampNS, true
}

// WaitFor blocks until a record is available or timeout elapses.
func (s *PlainSubscriber[T]) WaitFor(timeout time.Duration) (T, uint64, uint64, bool) {
	msg, ok := s.sub.WaitFor(timeout)
	if !ok {
		var zero T
		return zero, 0, 0, false
	}
	out, err := decodePlain[T](msg.Data)
	if err != nil {
		var zero T
		return zero, 0, 0, false
	}
	return out, msg.Sequence, msg.TimestampNS, true
}

// Close releases the underlying subscriber's slot.
func (s *PlainSubscriber[T]) Close() error { return s.sub.Close() }

func structBytes[T any](v *T) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(v)), unsafe.Sizeof(*v))
}

func decodePlain[T any](data []byte) (T, error) {
	var out T
	if len(data) != int(unsafe.Sizeof(out)) {
		return out, fmt.Errorf("typed: expected %d bytes, got %d", unsafe.Sizeof(out), len(data))
	}
	copy(structBytes(&out), data)
	return out, nil
}

// Serializable is a variable-size schema that knows its own encoded size
// and how to write itself into a caller-provided buffer. Pairing this
// with a decode function (rather than a static method, which Go generics
// cannot express) gives the same encoder/decoder-pair shape the
// reference implementation's template requires.
type Serializable interface {
	SerializedSize() int
	Serialize(buf []byte)
}

// SerializablePublisher publishes variable-size records of type T,
// encoding each into a reusable scratch buffer before publishing.
type SerializablePublisher[T Serializable] struct {
	pub     *pubsub.Publisher
	scratch []byte
}

// NewSerializablePublisher creates topic sized for depth records of up to
// maxMessageSize encoded bytes each.
func NewSerializablePublisher[T Serializable](topic string, depth uint32, maxMessageSize uint32) (*SerializablePublisher[T], error) {
	pub, err := pubsub.NewPublisher(topic, depth, maxMessageSize)
	if err != nil {
		return nil, err
	}
	return &SerializablePublisher[T]{pub: pub}, nil
}

// Publish encodes msg into the publisher's scratch buffer and publishes
// those bytes.
func (p *SerializablePublisher[T]) Publish(msg T) error {
	n := msg.SerializedSize()
	if cap(p.scratch) < n {
		p.scratch = make([]byte, n)
	} else {
		p.scratch = p.scratch[:n]
	}
	msg.Serialize(p.scratch)
	return p.pub.Publish(p.scratch)
}

// Close releases the underlying publisher.
func (p *SerializablePublisher[T]) Close() error { return p.pub.Close() }

// Decoder constructs a T from borrowed slot bytes. It must not retain the
// slice past the call — the same borrowing rule pubsub.Message documents.
type Decoder[T any] func(data []byte) (T, error)

// SerializableSubscriber subscribes to variable-size records of type T,
// constructing each from the borrowed slot bytes via decode.
type SerializableSubscriber[T Serializable] struct {
	sub    *pubsub.Subscriber
	decode Decoder[T]
}

// NewSerializableSubscriber attaches to topic, using decode to construct
// each delivered T.
func NewSerializableSubscriber[T Serializable](topic string, decode Decoder[T]) (*SerializableSubscriber[T], error) {
	sub, err := pubsub.NewSubscriber(topic)
	if err != nil {
		return nil, err
	}
	return &SerializableSubscriber[T]{sub: sub, decode: decode}, nil
}

// TryTake performs one non-blocking read, decoding the slot's bytes via
// the configured Decoder.
func (s *SerializableSubscriber[T]) TryTake() (T, uint64, uint64, bool) {
	msg, ok := s.sub.TryTake()
	if !ok {
		var zero T
		return zero, 0, 0, false
	}
	out, err := s.decode(msg.Data)
	if err != nil {
		var zero T
		return zero, 0, 0, false
	}
	return out, msg.Sequence, msg.TimestampNS, true
}

// Wait blocks until a record is available or ctx is done.
func (s *SerializableSubscriber[T]) Wait(ctx context.Context) (T, uint64, uint64, bool) {
	msg, ok := s.sub.Wait(ctx)
	if !ok {
		var zero T
		return zero, 0, 0, false
	}
	out, err := s.decode(msg.Data)
	if err != nil {
		var zero T
		return zero, 0, 0, false
	}
	return out, msg.Sequence, msg.TimestampNS, true
}

// WaitFor blocks until a record is available or timeout elapses.
func (s *SerializableSubscriber[T]) WaitFor(timeout time.Duration) (T, uint64, uint64, bool) {
	msg, ok := s.sub.WaitFor(timeout)
	if !ok {
		var zero T
		return zero, 0, 0, false
	}
	out, err := s.decode(msg.Data)
	if err != nil {
		var zero T
		return zero, 0, 0, false
	}
	return out, msg.Sequence, msg.TimestampNS, true
}

// Close releases the underlying subscriber's slot.
func (s *SerializableSubscriber[T]) Close() error { return s.sub.Close() }
