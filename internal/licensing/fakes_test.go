package licensing

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eyeconictv/common-component/internal/bus"
	"github.com/eyeconictv/common-component/internal/verdictcache"
)

type fakeBus struct {
	mu          sync.Mutex
	sent        []bus.Message
	subscribers bus.Subscribers
}

func (f *fakeBus) Connected() bool { return true }

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

func (f *fakeBus) last(topic string) (bus.Message, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].Is(topic) {
			return f.sent[i], true
		}
	}
	return bus.Message{}, false
}

type fakeChecker struct {
	calls      int32
	authorized bool
	err        error
	release    chan struct{}
}

func (f *fakeChecker) Check(ctx context.Context, identity string) (bool, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return f.authorized, f.err
}

func (f *fakeChecker) callCount() int {
	return int(atomic.LoadInt32(&f.calls))
}

type failingStore struct {
	loads int32
	saves int32
	err   error
}

func (s *failingStore) Load(context.Context, string) (verdictcache.Verdict, bool, error) {
	atomic.AddInt32(&s.loads, 1)
	return verdictcache.Verdict{}, false, s.err
}

func (s *failingStore) Save(context.Context, string, verdictcache.Verdict) error {
	atomic.AddInt32(&s.saves, 1)
	return s.err
}

type recordingReporter struct {
	mu      sync.Mutex
	names   []string
	details []map[string]any
}

func (r *recordingReporter) Event(name string, details map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, name)
	r.details = append(r.details, details)
}

func (r *recordingReporter) snapshot() ([]string, []map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...), append([]map[string]any(nil), r.details...)
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
