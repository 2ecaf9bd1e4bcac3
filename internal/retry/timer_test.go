package retry

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

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

func TestTimerRunsFirstAttemptImmediately(t *testing.T) {
	mock := clock.NewMock()
	var calls int32
	timer := New(func(attempt int) {
		atomic.AddInt32(&calls, 1)
	}, Options{Interval: time.Second, MaxAttempts: 3, Clock: mock})

	timer.Start()
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected 1 call after start, got %d", got)
	}
	if timer.Attempts() != 1 {
		t.Fatalf("expected attempts 1, got %d", timer.Attempts())
	}
	timer.Start()
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected second start to be ignored, got %d calls", got)
	}
}

func TestTimerExhaustsAfterMaxAttempts(t *testing.T) {
	mock := clock.NewMock()
	var calls, exhausted int32
	timer := New(func(attempt int) {
		atomic.AddInt32(&calls, 1)
	}, Options{
		Interval:    time.Second,
		MaxAttempts: 3,
		Clock:       mock,
		OnExhausted: func() { atomic.AddInt32(&exhausted, 1) },
	})
	timer.Start()

	for want := int32(2); want <= 3; want++ {
		mock.Add(time.Second)
		waitFor(t, "next attempt", func() bool { return atomic.LoadInt32(&calls) == want })
	}
	if atomic.LoadInt32(&exhausted) != 0 {
		t.Fatalf("expected no exhaustion before the final interval elapsed")
	}

	mock.Add(time.Second)
	waitFor(t, "exhaustion", func() bool { return atomic.LoadInt32(&exhausted) == 1 })
	if !timer.Exhausted() {
		t.Fatalf("expected timer to report exhausted")
	}

	mock.Add(5 * time.Second)
	time.Sleep(20 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", got)
	}
	if got := atomic.LoadInt32(&exhausted); got != 1 {
		t.Fatalf("expected exhaustion callback once, got %d", got)
	}
	if timer.Stop() {
		t.Fatalf("expected stop after exhaustion to report inactive")
	}
}

func TestTimerStopCancelsPendingAttempts(t *testing.T) {
	mock := clock.NewMock()
	var calls, exhausted int32
	timer := New(func(attempt int) {
		atomic.AddInt32(&calls, 1)
	}, Options{
		Interval:    time.Second,
		MaxAttempts: 2,
		Clock:       mock,
		OnExhausted: func() { atomic.AddInt32(&exhausted, 1) },
	})
	timer.Start()
	if !timer.Stop() {
		t.Fatalf("expected stop to report an active timer")
	}

	mock.Add(10 * time.Second)
	time.Sleep(20 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected no attempts after stop, got %d calls", got)
	}
	if got := atomic.LoadInt32(&exhausted); got != 0 {
		t.Fatalf("expected stopped timer never to exhaust, got %d", got)
	}
}

func TestTimerStartAfterStopIsNoop(t *testing.T) {
	var calls int32
	timer := New(func(attempt int) {
		atomic.AddInt32(&calls, 1)
	}, Options{Clock: clock.NewMock()})
	timer.Stop()
	timer.Start()
	if got := atomic.LoadInt32(&calls); got != 0 {
		t.Fatalf("expected no attempts, got %d", got)
	}
}

func TestTimerDefaults(t *testing.T) {
	timer := New(nil, Options{})
	if timer.interval != DefaultInterval {
		t.Fatalf("expected default interval %s, got %s", DefaultInterval, timer.interval)
	}
	if timer.maxAttempts != DefaultMaxAttempts {
		t.Fatalf("expected default max attempts %d, got %d", DefaultMaxAttempts, timer.maxAttempts)
	}
}
