package events

import (
	"sync"
	"testing"
	"time"
)

// Recorder is a Sink that keeps every event for later assertions.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Emit(event Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *Recorder) Kinds() []Kind {
	events := r.Events()
	kinds := make([]Kind, 0, len(events))
	for _, event := range events {
		kinds = append(kinds, event.Kind)
	}
	return kinds
}

func (r *Recorder) Count(kind Kind) int {
	count := 0
	for _, event := range r.Events() {
		if event.Kind == kind {
			count++
		}
	}
	return count
}

// WaitForCount blocks until at least n events were recorded or fails the test.
func (r *Recorder) WaitForCount(t *testing.T, n int, timeout time.Duration) []Event {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		events := r.Events()
		if len(events) >= n {
			return events
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d events after %s, got %d: %v", n, timeout, len(events), events)
		}
		time.Sleep(time.Millisecond)
	}
}

// ReceiveWithTimeout waits for a single event or fails the test.
func ReceiveWithTimeout(t *testing.T, ch <-chan Event, timeout time.Duration) Event {
	t.Helper()
	select {
	case event, ok := <-ch:
		if !ok {
			t.Fatal("event channel closed")
		}
		return event
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for event after %s", timeout)
	}
	return Event{}
}
