// Package shm manages the lifecycle of a named, page-mapped shared-memory
// region: create (exclusive), open, existence probe, and unlink. It knows
// nothing about ring buffers — it just hands back a mutable byte mapping
// that two or more unrelated processes can agree to interpret the same
// way, the way shm_region.cpp does for the reference implementation.
package shm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sys/unix"
)

// namePrefix is the OS-visible prefix for every conduit shared-memory
// object, so CLI tools can list topics by enumerating shmDir for matching
// entries (§6.1).
const namePrefix = "conduit_"

// shmDir is where Linux actually surfaces POSIX shared-memory objects.
const shmDir = "/dev/shm"

var (
	// ErrAlreadyExists is returned by Create when the named region already
	// exists — another publisher owns this topic.
	ErrAlreadyExists = errors.New("shm: region already exists")
	// ErrNotFound is returned by Open when no publisher has created the
	// named region yet.
	ErrNotFound = errors.New("shm: region not found")
)

// Region is a page-aligned mutable mapping of a named shared-memory
// object. Region is move-only: copying the struct would let two values
// independently unmap the same mapping. Go cannot forbid copying a
// struct at compile time, so this is enforced by convention (store
// *Region, never Region) the same way the C++ type deletes its copy
// constructor and keeps only a move constructor.
type Region struct {
	name string
	data []byte
}

// osName derives the OS-level shared-memory object name from the logical
// topic name (§4.3 "Naming").
func osName(topic string) string {
	return namePrefix + topic
}

func shmPath(topic string) string {
	return filepath.Join(shmDir, osName(topic))
}

// Create exclusively creates a new named region of exactly size bytes,
// zero-filled, mapped read/write. If the name already exists this returns
// ErrAlreadyExists. On any failure after the name is claimed, the
// partially-created name is unlinked before the error is returned so a
// failed Create never leaks a namespace entry.
func Create(topic string, size int) (reg *Region, err error) {
	path := shmPath(topic)

	fd, err := unix.Open(path, unix.O_CREAT|unix.O_EXCL|unix.O_RDWR, 0o666)
	if err != nil {
		if errors.Is(err, unix.EEXIST) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, topic)
		}
		return nil, fmt.Errorf("shm: open %q: %w", topic, err)
	}
	defer unix.Close(fd)

	cleanupOnErr := func(cause error) (*Region, error) {
		_ = unix.Unlink(path)
		return nil, cause
	}

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		return cleanupOnErr(fmt.Errorf("shm: ftruncate %q to %d: %w", topic, size, err))
	}

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return cleanupOnErr(fmt.Errorf("shm: mmap %q: %w", topic, err))
	}

	for i := range data {
		data[i] = 0
	}

	return &Region{name: topic, data: data}, nil
}

// Open maps an existing named region read/write, sizing the mapping to
// whatever the publisher's Create call set. Returns ErrNotFound if the
// name does not exist.
func Open(topic string) (*Region, error) {
	path := shmPath(topic)

	fd, err := unix.Open(path, unix.O_RDWR, 0o666)
	if err != nil {
		if errors.Is(err, unix.ENOENT) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, topic)
		}
		return nil, fmt.Errorf("shm: open %q: %w", topic, err)
	}
	defer unix.Close(fd)

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, fmt.Errorf("shm: fstat %q: %w", topic, err)
	}

	data, err := unix.Mmap(fd, 0, int(st.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("shm: mmap %q: %w", topic, err)
	}

	return &Region{name: topic, data: data}, nil
}

// Exists is a non-blocking probe for whether topic's region currently
// exists in the shared-memory namespace.
func Exists(topic string) bool {
	_, err := os.Stat(shmPath(topic))
	return err == nil
}

// WaitUntilExists polls Exists every pollInterval until the region
// appears (returns true) or ctx is done (returns false). This exists
// because a subscriber may legitimately start before its publisher: the
// caller decides how long that's tolerable via ctx.
func WaitUntilExists(ctx context.Context, topic string, pollInterval time.Duration) bool {
	if Exists(topic) {
		return true
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if Exists(topic) {
				return true
			}
		}
	}
}

// WatchUntilExists is WaitUntilExists's low-latency sibling: instead of
// sleeping pollInterval between checks, it watches shmDir with inotify
// (via fsnotify) for the CREATE event of topic's object and wakes
// immediately. pollInterval is still used as a safety-net fallback —
// polled at 10x pollInterval — in case the watcher misses an event (e.g.
// shmDir itself doesn't exist yet when Add is attempted, or the topic's
// region is created and unlinked before the watcher is armed). If the
// watcher fails to start at all (platforms without inotify, fd
// exhaustion), WatchUntilExists falls back to plain polling.
func WatchUntilExists(ctx context.Context, topic string, pollInterval time.Duration) bool {
	if Exists(topic) {
		return true
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return WaitUntilExists(ctx, topic, pollInterval)
	}
	defer watcher.Close()

	if err := watcher.Add(shmDir); err != nil {
		return WaitUntilExists(ctx, topic, pollInterval)
	}

	if Exists(topic) {
		return true
	}

	want := shmPath(topic)
	fallback := time.NewTicker(10 * pollInterval)
	defer fallback.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-watcher.Events:
			if !ok {
				return WaitUntilExists(ctx, topic, pollInterval)
			}
			if ev.Name == want && (ev.Op&(fsnotify.Create|fsnotify.Write) != 0) {
				return true
			}
		case <-watcher.Errors:
			// keep going; the fallback ticker still covers us.
		case <-fallback.C:
			if Exists(topic) {
				return true
			}
		}
	}
}

// Unlink removes topic's name from the shared-memory namespace. Existing
// mappings remain valid — their backing pages stay live until the last
// mapping is unmapped — only new Open/Create calls are affected. Unlinking
// a name that does not exist is not an error.
func Unlink(topic string) error {
	err := unix.Unlink(shmPath(topic))
	if err != nil && !errors.Is(err, unix.ENOENT) {
		return fmt.Errorf("shm: unlink %q: %w", topic, err)
	}
	return nil
}

// Data returns the mapped byte slice backing the region.
func (r *Region) Data() []byte { return r.data }

// Size returns the size of the mapping in bytes.
func (r *Region) Size() int { return len(r.data) }

// Name returns the logical topic name the region was created/opened
// with.
func (r *Region) Name() string { return r.name }

// Close unmaps the region. It does not unlink the name — only the
// publisher's Unlink call does that, on its own schedule at teardown.
// Close is idempotent; closing an already-closed Region is a no-op.
func (r *Region) Close() error {
	if r.data == nil {
		return nil
	}
	err := unix.Munmap(r.data)
	r.data = nil
	if err != nil {
		return fmt.Errorf("shm: munmap %q: %w", r.name, err)
	}
	return nil
}

// ListTopics enumerates shmDir for entries carrying namePrefix and
// returns the topic names with the prefix stripped, for the `conduit
// topics` CLI command (§6.1).
func ListTopics() ([]string, error) {
	entries, err := os.ReadDir(shmDir)
	if err != nil {
		return nil, fmt.Errorf("shm: read %s: %w", shmDir, err)
	}

	var topics []string
	for _, e := range entries {
		name := e.Name()
		if len(name) > len(namePrefix) && name[:len(namePrefix)] == namePrefix {
			topics = append(topics, name[len(namePrefix):])
		}
	}
	return topics, nil
}
