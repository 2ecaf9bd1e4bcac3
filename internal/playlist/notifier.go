package playlist

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

const DefaultDoneDelay = 5 * time.Second

// Item is the playlist wrapper that schedules the component.
type Item interface {
	CallReady()
	CallDone()
	CallRSParamGet()
}

// StepLogger records playlist lifecycle steps. *analytics.Logger satisfies it.
type StepLogger interface {
	PlaylistEvent(step string)
}

type Options struct {
	DoneDelay time.Duration
	Clock     clock.Clock
	Logger    logrus.FieldLogger
}

// Notifier forwards component lifecycle signals to the playlist item.
type Notifier struct {
	steps     StepLogger
	clock     clock.Clock
	doneDelay time.Duration
	logger    logrus.FieldLogger

	mu   sync.Mutex
	item Item
	done *clock.Timer
}

func NewNotifier(item Item, steps StepLogger, opts Options) *Notifier {
	if opts.DoneDelay <= 0 {
		opts.DoneDelay = DefaultDoneDelay
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Notifier{
		item:      item,
		steps:     steps,
		clock:     opts.Clock,
		doneDelay: opts.DoneDelay,
		logger:    logger.WithField("component", "playlist"),
	}
}

func (n *Notifier) SetItem(item Item) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.item = item
}

func (n *Notifier) Item() Item {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.item
}

func (n *Notifier) EmitReady() {
	item := n.Item()
	if item == nil {
		return
	}
	n.record("Ready Event")
	item.CallReady()
}

func (n *Notifier) EmitReadyForEvents() {
	item := n.Item()
	if item == nil {
		return
	}
	n.record("Ready for Events")
	item.CallRSParamGet()
}

// EmitDone calls CallDone after the done delay. A second call before the
// delay elapses replaces the pending one.
func (n *Notifier) EmitDone() {
	n.mu.Lock()
	item := n.item
	if item == nil {
		n.mu.Unlock()
		return
	}
	n.stopDoneLocked()
	var timer *clock.Timer
	timer = n.clock.AfterFunc(n.doneDelay, func() {
		n.mu.Lock()
		if n.done != timer {
			n.mu.Unlock()
			return
		}
		n.done = nil
		n.mu.Unlock()
		item.CallDone()
	})
	n.done = timer
	n.mu.Unlock()

	n.record("Done Event")
}

func (n *Notifier) ClearDoneTimeout() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stopDoneLocked()
}

func (n *Notifier) stopDoneLocked() {
	if n.done != nil {
		n.done.Stop()
		n.done = nil
	}
}

func (n *Notifier) record(step string) {
	n.logger.Debug(step)
	if n.steps != nil {
		n.steps.PlaylistEvent(step)
	}
}
