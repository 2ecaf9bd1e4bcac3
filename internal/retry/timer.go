package retry

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	DefaultInterval    = time.Second
	DefaultMaxAttempts = 30
)

type Options struct {
	Interval    time.Duration
	MaxAttempts int
	Clock       clock.Clock
	// OnExhausted runs once, one interval after the last attempt, unless the
	// timer was stopped first.
	OnExhausted func()
}

// Timer invokes an action immediately and then once per interval until it is
// stopped or the attempt budget runs out.
type Timer struct {
	action      func(attempt int)
	interval    time.Duration
	maxAttempts int
	clock       clock.Clock
	onExhausted func()

	mu        sync.Mutex
	started   bool
	stopped   bool
	exhausted bool
	attempts  int
	pending   *clock.Timer
}

func New(action func(attempt int), opts Options) *Timer {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if action == nil {
		action = func(int) {}
	}
	return &Timer{
		action:      action,
		interval:    opts.Interval,
		maxAttempts: opts.MaxAttempts,
		clock:       opts.Clock,
		onExhausted: opts.OnExhausted,
	}
}

// Start runs the first attempt on the calling goroutine. Calling Start twice,
// or after Stop, does nothing.
func (t *Timer) Start() {
	t.mu.Lock()
	if t.started || t.stopped {
		t.mu.Unlock()
		return
	}
	t.started = true
	attempt := t.advanceLocked()
	t.mu.Unlock()
	t.action(attempt)
}

// Stop cancels any pending attempt and the exhaustion callback. It reports
// whether the timer was still active.
func (t *Timer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.exhausted {
		return false
	}
	t.stopped = true
	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
	return true
}

func (t *Timer) Attempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

func (t *Timer) Exhausted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exhausted
}

func (t *Timer) tick() {
	t.mu.Lock()
	if t.stopped || t.exhausted {
		t.mu.Unlock()
		return
	}
	if t.attempts >= t.maxAttempts {
		t.exhausted = true
		t.pending = nil
		onExhausted := t.onExhausted
		t.mu.Unlock()
		if onExhausted != nil {
			onExhausted()
		}
		return
	}
	attempt := t.advanceLocked()
	t.mu.Unlock()
	t.action(attempt)
}

func (t *Timer) advanceLocked() int {
	t.attempts++
	t.pending = t.clock.AfterFunc(t.interval, t.tick)
	return t.attempts
}
