package typed

import (
	"encoding/binary"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/venkisagunner93/conduit-go/pubsub"
)

func uniqueTopic(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("typedtest_%d_%d", os.Getpid(), time.Now().UnixNano())
}

type imuSample struct {
	AccelX, AccelY, AccelZ float64
	GyroX, GyroY, GyroZ    float64
}

func TestPlainPubSub_RoundTrip(t *testing.T) {
	topic := uniqueTopic(t)

	pub, err := NewPlainPublisher[imuSample](topic, 16)
	if err != nil {
		t.Fatalf("NewPlainPublisher: %v", err)
	}
	defer pub.Close()

	sub, err := NewPlainSubscriber[imuSample](topic)
	if err != nil {
		t.Fatalf("NewPlainSubscriber: %v", err)
	}
	defer sub.Close()

	want := imuSample{AccelX: 1, AccelY: 2, AccelZ: 9.8, GyroX: 0.1, GyroY: 0.2, GyroZ: 0.3}
	if err := pub.Publish(want); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	got, seq, _, ok := sub.TryTake()
	if !ok {
		t.Fatalf("expected a message")
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	if seq != 0 {
		t.Fatalf("sequence = %d, want 0", seq)
	}
}

type floatRecord struct {
	value float64
}

func (f floatRecord) SerializedSize() int { return 8 }

func (f floatRecord) Serialize(buf []byte) {
	binary.LittleEndian.PutUint64(buf, uint64(f.value*1e6))
}

func decodeFloatRecord(data []byte) (floatRecord, error) {
	if len(data) != 8 {
		return floatRecord{}, fmt.Errorf("bad length %d", len(data))
	}
	return floatRecord{value: float64(binary.LittleEndian.Uint64(data)) / 1e6}, nil
}

func TestSerializablePubSub_RoundTrip(t *testing.T) {
	topic := uniqueTopic(t)

	pub, err := NewSerializablePublisher[floatRecord](topic, 16, 64)
	if err != nil {
		t.Fatalf("NewSerializablePublisher: %v", err)
	}
	defer pub.Close()

	sub, err := NewSerializableSubscriber[floatRecord](topic, decodeFloatRecord)
	if err != nil {
		t.Fatalf("NewSerializableSubscriber: %v", err)
	}
	defer sub.Close()

	if err := pub.Publish(floatRecord{value: 3.5}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	got, seq, _, ok := sub.TryTake()
	if !ok {
		t.Fatalf("expected a message")
	}
	if got.value != 3.5 {
		t.Fatalf("got %v, want 3.5", got.value)
	}
	if seq != 0 {
		t.Fatalf("sequence = %d, want 0", seq)
	}
}

func TestTypedAndRawPubSub_Interop(t *testing.T) {
	topic := uniqueTopic(t)

	pub, err := NewPlainPublisher[imuSample](topic, 16)
	if err != nil {
		t.Fatalf("NewPlainPublisher: %v", err)
	}
	defer pub.Close()

	raw, err := pubsub.NewSubscriber(topic)
	if err != nil {
		t.Fatalf("raw subscriber: %v", err)
	}
	defer raw.Close()

	msg := imuSample{AccelX: 42}
	if err := pub.Publish(msg); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	got, ok := raw.TryTake()
	if !ok {
		t.Fatalf("expected a message on the raw side")
	}
	if len(got.Data) != 48 { // 6 float64 fields
		t.Fatalf("got %d bytes, want 48", len(got.Data))
	}
}
