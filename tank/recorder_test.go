package tank

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/venkisagunner93/conduit-go/pubsub"
)

func uniqueTopic(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("tanktest_%d_%d", os.Getpid(), time.Now().UnixNano())
}

type readFrame struct {
	topicIndex  uint32
	sequence    uint64
	timestampNS uint64
	payload     []byte
}

// parseRecording reads back a recorder's output file well enough to assert
// on in tests. It is deliberately not part of the package's public API.
func parseRecording(t *testing.T, path string) (topics []string, frames []readFrame) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read recording: %v", err)
	}

	if string(data[0:4]) != magic {
		t.Fatalf("bad magic: %q", data[0:4])
	}
	off := 4
	gotVersion := binary.LittleEndian.Uint32(data[off : off+4])
	if gotVersion != version {
		t.Fatalf("version = %d, want %d", gotVersion, version)
	}
	off += 4
	off += 16 // run id (uuid)

	topicCount := binary.LittleEndian.Uint32(data[off : off+4])
	off += 4
	for i := uint32(0); i < topicCount; i++ {
		n := binary.LittleEndian.Uint32(data[off : off+4])
		off += 4
		topics = append(topics, string(data[off:off+int(n)]))
		off += int(n)
	}

	for off < len(data) {
		f := readFrame{}
		f.topicIndex = binary.LittleEndian.Uint32(data[off : off+4])
		off += 4
		f.sequence = binary.LittleEndian.Uint64(data[off : off+8])
		off += 8
		f.timestampNS = binary.LittleEndian.Uint64(data[off : off+8])
		off += 8
		payloadLen := binary.LittleEndian.Uint32(data[off : off+4])
		off += 4
		f.payload = append([]byte(nil), data[off:off+int(payloadLen)]...)
		off += int(payloadLen)
		frames = append(frames, f)
	}

	return topics, frames
}

func TestRecorder_RecordsPublishedMessages(t *testing.T) {
	topic := uniqueTopic(t)

	pub, err := pubsub.NewPublisher(topic, 16, 64)
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	defer pub.Close()

	outPath := filepath.Join(t.TempDir(), "recording.tank")

	rec := NewRecorder(outPath, Options{WaitInterval: 20 * time.Millisecond})
	if err := rec.AddTopic(topic); err != nil {
		t.Fatalf("AddTopic: %v", err)
	}
	if err := rec.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := pub.Publish([]byte{byte(i)}); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for rec.MessageCount() < 5 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := rec.MessageCount(); got != 5 {
		t.Fatalf("MessageCount() = %d, want 5", got)
	}

	if !rec.Recording() {
		t.Fatalf("expected Recording() == true before Stop")
	}
	if err := rec.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if rec.Recording() {
		t.Fatalf("expected Recording() == false after Stop")
	}

	topics, frames := parseRecording(t, outPath)
	if len(topics) != 1 || topics[0] != topic {
		t.Fatalf("topics = %v", topics)
	}
	if len(frames) != 5 {
		t.Fatalf("len(frames) = %d, want 5", len(frames))
	}
	for i, f := range frames {
		if f.topicIndex != 0 {
			t.Fatalf("frame %d topicIndex = %d, want 0", i, f.topicIndex)
		}
		if len(f.payload) != 1 || f.payload[0] != byte(i) {
			t.Fatalf("frame %d payload = %v, want [%d]", i, f.payload, i)
		}
	}
}

func TestRecorder_AddTopicAfterStartFails(t *testing.T) {
	topic := uniqueTopic(t)

	pub, err := pubsub.NewPublisher(topic, 16, 64)
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	defer pub.Close()

	outPath := filepath.Join(t.TempDir(), "recording.tank")
	rec := NewRecorder(outPath, Options{})
	if err := rec.AddTopic(topic); err != nil {
		t.Fatalf("AddTopic: %v", err)
	}
	if err := rec.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer rec.Stop()

	if err := rec.AddTopic("anything"); err != ErrAlreadyRecording {
		t.Fatalf("expected ErrAlreadyRecording, got %v", err)
	}
	if err := rec.Start(); err != ErrAlreadyRecording {
		t.Fatalf("expected ErrAlreadyRecording on second Start, got %v", err)
	}
}

func TestRecorder_StopWithoutStartIsNoop(t *testing.T) {
	rec := NewRecorder(filepath.Join(t.TempDir(), "unused.tank"), Options{})
	if err := rec.Stop(); err != nil {
		t.Fatalf("Stop on a never-started recorder should be a no-op: %v", err)
	}
}
