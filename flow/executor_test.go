package flow

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/venkisagunner93/conduit-go/internal/shm"
)

func uniqueTopic(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("flowtest_%d_%d", os.Getpid(), time.Now().UnixNano())
}

func TestExecutor_NodeExitTriggersShutdown(t *testing.T) {
	cfg := Config{
		Startup: []Step{
			{Node: &NodeConfig{Name: "quick", Exec: "sh", Args: []string{"-c", "exit 3"}}},
		},
	}

	ex := NewExecutor(Options{ShutdownGrace: time.Second})

	done := make(chan error, 1)
	go func() { done <- ex.Run(context.Background(), cfg) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after the only node exited")
	}
}

func TestExecutor_RequestShutdownStopsRunningNode(t *testing.T) {
	cfg := Config{
		Startup: []Step{
			{Node: &NodeConfig{Name: "n", Exec: "sh", Args: []string{"-c", `trap 'exit 0' TERM INT; sleep 5 & wait`}}},
		},
		Shutdown: []Step{
			{Node: &NodeConfig{Name: "n"}},
		},
	}

	ex := NewExecutor(Options{ShutdownGrace: 2 * time.Second})

	done := make(chan error, 1)
	go func() { done <- ex.Run(context.Background(), cfg) }()

	time.Sleep(100 * time.Millisecond)
	ex.RequestShutdown()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("Run did not return after RequestShutdown")
	}
}

func TestExecutor_WaitDurationStepThenCancel(t *testing.T) {
	cfg := Config{
		Startup: []Step{
			{Wait: &WaitDuration{Duration: 60 * time.Millisecond}},
		},
	}

	ex := NewExecutor(Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()

	start := time.Now()
	if err := ex.Run(ctx, cfg); err != nil {
		t.Fatalf("Run: %v", err)
	}
	elapsed := time.Since(start)

	if elapsed < 60*time.Millisecond {
		t.Fatalf("Run returned too early: %v", elapsed)
	}
	if elapsed > time.Second {
		t.Fatalf("Run took too long: %v", elapsed)
	}
}

func TestExecutor_WaitTopicsStepUnblocksWhenTopicAppears(t *testing.T) {
	topic := uniqueTopic(t)

	cfg := Config{
		Startup: []Step{
			{Topic: &WaitTopics{Topics: []string{topic}, Timeout: 2 * time.Second}},
		},
	}

	ex := NewExecutor(Options{TopicPollEvery: 10 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- ex.Run(ctx, cfg) }()

	time.Sleep(50 * time.Millisecond)
	reg, err := shm.Create(topic, 64)
	if err != nil {
		t.Fatalf("shm.Create: %v", err)
	}
	defer func() {
		_ = reg.Close()
		_ = shm.Unlink(topic)
	}()

	time.Sleep(50 * time.Millisecond)
	ex.RequestShutdown()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return once the topic appeared and shutdown was requested")
	}
}

func TestExecutor_WaitTopicsStepTimesOutWithoutTopic(t *testing.T) {
	topic := uniqueTopic(t)

	cfg := Config{
		Startup: []Step{
			{Topic: &WaitTopics{Topics: []string{topic}, Timeout: 80 * time.Millisecond}},
		},
	}

	ex := NewExecutor(Options{TopicPollEvery: 10 * time.Millisecond})

	start := time.Now()
	err := ex.Run(context.Background(), cfg)
	elapsed := time.Since(start)

	if err == nil {
		t.Fatalf("expected an error when the awaited topic never appears")
	}
	if elapsed < 80*time.Millisecond {
		t.Fatalf("Run returned before the topic wait timeout: %v", elapsed)
	}
}
