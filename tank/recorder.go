// Package tank records messages published on one or more topics to a flat
// file for later inspection, one append-only frame per message. It is
// write-only: there is no reader API in this package, matching the scope
// of the original conduit_tank collaborator.
package tank

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/venkisagunner93/conduit-go/pubsub"
)

// magic identifies a conduit tank recording. version tracks the frame
// format below; bump it if the layout changes.
const (
	magic   = "CNDT"
	version = uint32(1)
)

// ErrAlreadyRecording is returned by AddTopic once Start has been called,
// and by Start if called twice.
var ErrAlreadyRecording = errors.New("tank: already recording")

// Options configures a Recorder.
type Options struct {
	Logger *zap.Logger
	// WaitInterval bounds how long each per-topic goroutine blocks on a
	// single subscriber wait before checking for a stop request.
	WaitInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.WaitInterval <= 0 {
		o.WaitInterval = 100 * time.Millisecond
	}
	return o
}

// Recorder subscribes to a fixed set of topics and appends every message
// received on any of them to a single output file, in arrival order within
// each topic (but interleaved across topics as they arrive).
type Recorder struct {
	outputPath string
	opts       Options
	log        *zap.Logger

	mu       sync.Mutex
	running  bool
	topics   []string
	file     *os.File
	writeMu  sync.Mutex
	subs     []*pubsub.Subscriber
	stopCh   chan struct{}
	wg       sync.WaitGroup
	messages atomic.Uint64
}

// NewRecorder creates a Recorder that will write to outputPath once
// started. AddTopic must be called for every topic to record before
// Start.
func NewRecorder(outputPath string, opts Options) *Recorder {
	opts = opts.withDefaults()
	return &Recorder{outputPath: outputPath, opts: opts, log: opts.Logger}
}

// AddTopic registers a topic to record. It must be called before Start.
func (r *Recorder) AddTopic(topic string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return ErrAlreadyRecording
	}
	r.topics = append(r.topics, topic)
	return nil
}

// Start opens the output file, writes its header, and begins recording
// every registered topic in its own goroutine.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return ErrAlreadyRecording
	}

	f, err := os.Create(r.outputPath)
	if err != nil {
		return fmt.Errorf("tank: create %s: %w", r.outputPath, err)
	}

	runID := uuid.New()
	if err := writeHeader(f, runID, r.topics); err != nil {
		_ = f.Close()
		return err
	}

	subs := make([]*pubsub.Subscriber, len(r.topics))
	for i, topic := range r.topics {
		sub, err := pubsub.NewSubscriber(topic)
		if err != nil {
			for _, s := range subs {
				if s != nil {
					_ = s.Close()
				}
			}
			_ = f.Close()
			return fmt.Errorf("tank: subscribe %s: %w", topic, err)
		}
		subs[i] = sub
	}

	r.file = f
	r.subs = subs
	r.stopCh = make(chan struct{})
	r.running = true

	r.log.Info("recording started", zap.String("output", r.outputPath), zap.String("run_id", runID.String()), zap.Strings("topics", r.topics))

	for i, topic := range r.topics {
		r.wg.Add(1)
		go r.recordLoop(uint32(i), topic, subs[i])
	}

	return nil
}

func (r *Recorder) recordLoop(topicIndex uint32, topic string, sub *pubsub.Subscriber) {
	defer r.wg.Done()
	for {
		select {
		case <-r.stopCh:
			return
		default:
		}

		msg, ok := sub.WaitFor(r.opts.WaitInterval)
		if !ok {
			continue
		}

		if err := r.writeFrame(topicIndex, msg); err != nil {
			r.log.Error("write frame failed", zap.String("topic", topic), zap.Error(err))
			continue
		}
		r.messages.Add(1)
	}
}

// frameHeaderSize is the fixed portion of a recorded frame: topic index,
// sequence, timestamp, payload length.
const frameHeaderSize = 4 + 8 + 8 + 4

func (r *Recorder) writeFrame(topicIndex uint32, msg pubsub.Message) error {
	buf := make([]byte, frameHeaderSize+len(msg.Data))
	binary.LittleEndian.PutUint32(buf[0:4], topicIndex)
	binary.LittleEndian.PutUint64(buf[4:12], msg.Sequence)
	binary.LittleEndian.PutUint64(buf[12:20], msg.TimestampNS)
	binary.LittleEndian.PutUint32(buf[20:24], uint32(len(msg.Data)))
	copy(buf[frameHeaderSize:], msg.Data)

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	_, err := r.file.Write(buf)
	return err
}

// Stop halts all per-topic goroutines and finalizes the output file. It is
// a no-op if the recorder is not running.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	stopCh := r.stopCh
	subs := r.subs
	file := r.file
	r.mu.Unlock()

	close(stopCh)
	r.wg.Wait()

	for _, s := range subs {
		_ = s.Close()
	}

	return file.Close()
}

// Recording reports whether the recorder is currently active.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// MessageCount returns the running total of frames written so far.
func (r *Recorder) MessageCount() uint64 {
	return r.messages.Load()
}

func writeHeader(f *os.File, runID uuid.UUID, topics []string) error {
	if _, err := f.WriteString(magic); err != nil {
		return fmt.Errorf("tank: write header: %w", err)
	}

	var versionBuf [4]byte
	binary.LittleEndian.PutUint32(versionBuf[:], version)
	if _, err := f.Write(versionBuf[:]); err != nil {
		return fmt.Errorf("tank: write header: %w", err)
	}

	runIDBytes, err := runID.MarshalBinary()
	if err != nil {
		return fmt.Errorf("tank: marshal run id: %w", err)
	}
	if _, err := f.Write(runIDBytes); err != nil {
		return fmt.Errorf("tank: write header: %w", err)
	}

	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(topics)))
	if _, err := f.Write(countBuf[:]); err != nil {
		return fmt.Errorf("tank: write header: %w", err)
	}

	for _, topic := range topics {
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(topic)))
		if _, err := f.Write(lenBuf[:]); err != nil {
			return fmt.Errorf("tank: write header: %w", err)
		}
		if _, err := f.WriteString(topic); err != nil {
			return fmt.Errorf("tank: write header: %w", err)
		}
	}

	return nil
}
