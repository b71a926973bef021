// Package pubsub is the thin byte-level façade over internal/ring and
// internal/shm (the typed layer is package typed, built on this one): it
// ties a topic name to an owned region (Publisher)
// or a mapped-open region (Subscriber), and is the surface every other
// package in this repository is expected to use instead of reaching into
// internal/ring or internal/shm directly.
package pubsub

import (
	"errors"
	"fmt"

	"github.com/venkisagunner93/conduit-go/internal/ring"
	"github.com/venkisagunner93/conduit-go/internal/shm"
)

// Re-exported sentinels so callers can errors.Is against one package.
var (
	ErrAlreadyExists     = shm.ErrAlreadyExists
	ErrNotFound          = shm.ErrNotFound
	ErrTooLarge          = ring.ErrTooLarge
	ErrNoSubscriberSlots = ring.ErrNoSubscriberSlots
)

// DefaultDepth and DefaultMaxMessageSize are reasonable defaults for
// topics that don't need to tune the ring's shape; they mirror the sizes
// used throughout the component design's worked examples.
const (
	DefaultDepth          = 16
	DefaultMaxMessageSize = 4096
)

// Publisher is the sole writer of one topic. Construction creates the
// backing shared-memory region exclusively — a second Publisher on the
// same topic fails with ErrAlreadyExists. Destruction (Close) unlinks the
// region so no new subscriber can open it; subscribers that already
// mapped it keep working until they unmap.
type Publisher struct {
	topic  string
	region *shm.Region
	writer *ring.Writer
}

// NewPublisher creates topic's region sized for depth slots of up to
// maxMessageSize bytes each, initializes the ring header, and returns a
// ready-to-publish Publisher. depth must be a power of two >= 1.
func NewPublisher(topic string, depth uint32, maxMessageSize uint32) (*Publisher, error) {
	cfg := ring.Config{
		SlotCount: depth,
		SlotSize:  ring.SlotHeaderSize + maxMessageSize,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	region, err := shm.Create(topic, ring.RegionSize(cfg))
	if err != nil {
		return nil, err
	}

	writer, err := ring.NewWriter(region.Data(), cfg)
	if err != nil {
		_ = region.Close()
		_ = shm.Unlink(topic)
		return nil, fmt.Errorf("pubsub: building writer for %q: %w", topic, err)
	}
	writer.Initialize()

	return &Publisher{topic: topic, region: region, writer: writer}, nil
}

// Topic returns the publisher's topic name.
func (p *Publisher) Topic() string { return p.topic }

// Publish writes payload as the next message on the topic. It returns
// ErrTooLarge (with no side effects) if payload exceeds the topic's
// configured maximum message size; any other returned error indicates a
// programming error (a closed publisher), not a transient condition.
func (p *Publisher) Publish(payload []byte) error {
	if p.writer == nil {
		return errors.New("pubsub: publish on closed publisher")
	}
	return p.writer.Write(payload)
}

// Close unlinks the topic's shared-memory name (so no new subscriber can
// open it) and unmaps the publisher's own mapping. Existing subscriber
// mappings remain valid until they themselves unmap.
func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	p.writer = nil

	unlinkErr := shm.Unlink(p.topic)
	closeErr := p.region.Close()
	if unlinkErr != nil {
		return unlinkErr
	}
	return closeErr
}
