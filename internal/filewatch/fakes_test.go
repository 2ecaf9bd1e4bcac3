package filewatch

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eyeconictv/common-component/internal/bus"
	"github.com/eyeconictv/common-component/internal/licensing"
)

type fakeBus struct {
	mu           sync.Mutex
	disconnected bool
	sent         []bus.Message
	subscribers  bus.Subscribers
}

func (f *fakeBus) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.disconnected
}

func (f *fakeBus) Broadcast(msg bus.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeBus) Subscribe(handler bus.Handler) func() {
	return f.subscribers.Add(handler)
}

func (f *fakeBus) deliver(t *testing.T, raw string) {
	t.Helper()
	var msg bus.Message
	if err := msg.UnmarshalJSON([]byte(raw)); err != nil {
		t.Fatalf("bad test message %s: %v", raw, err)
	}
	f.subscribers.Dispatch(msg)
}

func (f *fakeBus) count(topic string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, msg := range f.sent {
		if msg.Is(topic) {
			n++
		}
	}
	return n
}

func (f *fakeBus) watched(t *testing.T) []string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var paths []string
	for _, msg := range f.sent {
		if !msg.Is(bus.TopicWatch) {
			continue
		}
		var watch bus.Watch
		if err := msg.Decode(&watch); err != nil {
			t.Fatalf("decode watch: %v", err)
		}
		paths = append(paths, watch.FilePath)
	}
	return paths
}

type fakeAuthorizer struct {
	mu       sync.Mutex
	status   licensing.Status
	requests int32
}

func (f *fakeAuthorizer) IsAuthorized() licensing.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeAuthorizer) RequestAuthorization() {
	atomic.AddInt32(&f.requests, 1)
}

func (f *fakeAuthorizer) requestCount() int {
	return int(atomic.LoadInt32(&f.requests))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}
