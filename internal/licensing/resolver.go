package licensing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/eyeconictv/common-component/internal/bus"
	"github.com/eyeconictv/common-component/internal/events"
	"github.com/eyeconictv/common-component/internal/retry"
	"github.com/eyeconictv/common-component/internal/verdictcache"
)

const DefaultCheckTimeout = 15 * time.Second

var ErrInvalidInput = errors.New("invalid input")

// Reporter forwards resolver failures to an analytics sink.
type Reporter interface {
	Event(name string, details map[string]any)
}

type Options struct {
	// Identity is the company id. Empty selects peer negotiation.
	Identity string
	Channel  Channel
	// Store persists remote verdicts. Nil means persistence is unavailable.
	Store     verdictcache.Store
	Namespace string
	TTL       time.Duration
	Checker   Checker
	// CheckTimeout bounds one cache read plus remote check.
	CheckTimeout        time.Duration
	NegotiationInterval time.Duration
	NegotiationAttempts int
	// Announce rebroadcasts every emitted verdict as licensing-update.
	Announce bool
	Clock    clock.Clock
	Logger   logrus.FieldLogger
	Reporter Reporter
}

// Resolver determines whether the component is licensed and reports the
// verdict as events.
type Resolver struct {
	bus      bus.Bus
	sink     events.Sink
	identity string
	channel  Channel
	opts     Options
	clock    clock.Clock
	logger   logrus.FieldLogger
	pipeline []strategy

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	status      Status
	pending     bool
	closed      bool
	negotiation *retry.Timer
	unsubscribe func()
}

func NewResolver(b bus.Bus, sink events.Sink, opts Options) (*Resolver, error) {
	if b == nil {
		return nil, fmt.Errorf("%w: bus is required", ErrInvalidInput)
	}
	if sink == nil {
		sink = events.Discard
	}
	identity := strings.TrimSpace(opts.Identity)
	if opts.Channel == "" {
		opts.Channel = ChannelStorage
	}
	if opts.Channel != ChannelStorage && opts.Channel != ChannelRPP {
		return nil, fmt.Errorf("%w: licensing channel %q", ErrInvalidInput, opts.Channel)
	}
	if identity != "" && !IsAllowListed(identity) && opts.Checker == nil {
		return nil, fmt.Errorf("%w: checker is required when identity is set", ErrInvalidInput)
	}
	if opts.TTL <= 0 {
		opts.TTL = verdictcache.DefaultTTL
	}
	if opts.CheckTimeout <= 0 {
		opts.CheckTimeout = DefaultCheckTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Resolver{
		bus:      b,
		sink:     sink,
		identity: identity,
		channel:  opts.Channel,
		opts:     opts,
		clock:    opts.Clock,
		logger:   logger.WithField("component", "licensing"),
		ctx:      ctx,
		cancel:   cancel,
	}
	r.pipeline = r.buildPipeline()
	return r, nil
}

func (r *Resolver) buildPipeline() []strategy {
	if r.identity == "" {
		return []strategy{peerStrategy{start: r.startNegotiation}}
	}
	pipeline := []strategy{allowListStrategy{identity: r.identity}}
	if r.opts.Store != nil {
		pipeline = append(pipeline, cacheStrategy{
			store:  r.opts.Store,
			key:    verdictcache.Key(r.opts.Namespace, r.identity),
			ttl:    r.opts.TTL,
			clock:  r.clock,
			logger: r.logger,
		})
	}
	if r.opts.Checker != nil {
		pipeline = append(pipeline, remoteStrategy{
			checker:  r.opts.Checker,
			identity: r.identity,
			timeout:  r.opts.CheckTimeout,
			persist:  r.opts.Store != nil,
		})
	}
	return pipeline
}

// IsAuthorized returns the current verdict without side effects.
func (r *Resolver) IsAuthorized() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// RequestAuthorization replays a known verdict, or starts resolving one.
// Calls made while a resolution is in flight are absorbed by it.
func (r *Resolver) RequestAuthorization() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if r.status.Known() {
		r.sink.Emit(events.Verdict(r.status == Authorized))
		announce := r.announcementLocked()
		r.mu.Unlock()
		r.broadcast(announce)
		return
	}
	if r.pending {
		r.mu.Unlock()
		return
	}
	r.pending = true
	r.mu.Unlock()

	go r.runPipeline()
}

func (r *Resolver) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	negotiation := r.negotiation
	r.negotiation = nil
	unsubscribe := r.unsubscribe
	r.unsubscribe = nil
	r.mu.Unlock()

	r.cancel()
	if negotiation != nil {
		negotiation.Stop()
	}
	if unsubscribe != nil {
		unsubscribe()
	}
}

func (r *Resolver) runPipeline() {
	for _, step := range r.pipeline {
		res, err := step.Resolve(r.ctx)
		if err != nil {
			r.fail(step.Name(), err)
			return
		}
		switch res.outcome {
		case outcomeNext:
			continue
		case outcomeDeferred:
			return
		case outcomeSettled:
			if res.persist {
				r.persist(res.authorized)
			}
			r.settle(step.Name(), res.authorized)
			return
		}
	}
	r.mu.Lock()
	r.pending = false
	r.mu.Unlock()
	r.logger.WithField("identity", r.identity).Warn("no licensing strategy produced a verdict")
}

func (r *Resolver) persist(authorized bool) {
	key := verdictcache.Key(r.opts.Namespace, r.identity)
	ctx, cancel := context.WithTimeout(r.ctx, r.opts.CheckTimeout)
	defer cancel()
	if err := r.opts.Store.Save(ctx, key, verdictcache.NewVerdict(authorized, r.clock.Now())); err != nil {
		r.logger.WithError(err).WithField("key", key).Warn("verdict cache write failed")
	}
}

func (r *Resolver) settle(source string, authorized bool) {
	r.mu.Lock()
	r.pending = false
	if r.closed {
		r.mu.Unlock()
		return
	}
	announce := r.applyLocked(authorized)
	r.mu.Unlock()
	r.logger.WithFields(logrus.Fields{"source": source, "authorized": authorized}).Info("licensing verdict resolved")
	r.broadcast(announce)
}

func (r *Resolver) fail(source string, err error) {
	var event events.Event
	details := map[string]any{"source": source}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		event = events.AuthorizationStatusError(httpErr.StatusCode)
		details["statusCode"] = httpErr.StatusCode
	} else {
		event = events.AuthorizationError(err.Error())
		details["detail"] = err.Error()
	}

	r.logger.WithError(err).WithField("identity", r.identity).Warn("licensing check failed")
	if r.opts.Reporter != nil {
		r.opts.Reporter.Event(string(events.KindAuthorizationError), details)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = false
	if r.closed {
		return
	}
	r.sink.Emit(event)
}

// applyLocked records a verdict and emits it when it differs from the
// current status. It returns the announcement to broadcast, if any.
func (r *Resolver) applyLocked(authorized bool) *bus.Message {
	next := statusFor(authorized)
	if next == r.status {
		return nil
	}
	r.status = next
	r.sink.Emit(events.Verdict(authorized))
	return r.announcementLocked()
}

func (r *Resolver) announcementLocked() *bus.Message {
	if !r.opts.Announce || !r.status.Known() {
		return nil
	}
	friendly := "unauthorized"
	if r.status == Authorized {
		friendly = "authorized"
	}
	msg, err := bus.NewMessage(bus.TopicLicensingUpdate, bus.LicensingUpdate{
		IsAuthorized:       r.status == Authorized,
		UserFriendlyStatus: friendly,
	})
	if err != nil {
		r.logger.WithError(err).Error("build licensing announcement")
		return nil
	}
	return &msg
}

func (r *Resolver) broadcast(msg *bus.Message) {
	if msg == nil {
		return
	}
	if err := r.bus.Broadcast(*msg); err != nil {
		r.logger.WithError(err).WithField("topic", msg.Topic).Warn("licensing broadcast failed")
	}
}

func (r *Resolver) startNegotiation() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if r.unsubscribe == nil {
		r.unsubscribe = r.bus.Subscribe(r.handleMessage)
	}
	if r.status.Known() {
		r.pending = false
		r.mu.Unlock()
		return
	}
	if r.negotiation != nil {
		r.mu.Unlock()
		return
	}
	request := bus.MustMessage(r.channel.requestTopic(), nil)
	timer := retry.New(func(attempt int) {
		if err := r.bus.Broadcast(request); err != nil {
			r.logger.WithError(err).WithField("attempt", attempt).Warn("licensing request broadcast failed")
		}
	}, retry.Options{
		Interval:    r.opts.NegotiationInterval,
		MaxAttempts: r.opts.NegotiationAttempts,
		Clock:       r.clock,
		OnExhausted: r.negotiationExhausted,
	})
	r.negotiation = timer
	r.mu.Unlock()

	timer.Start()
}

func (r *Resolver) negotiationExhausted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.negotiation = nil
	if r.status.Known() {
		return
	}
	r.pending = false
	r.logger.WithField("topic", r.channel.requestTopic()).Warn("licensing peer never answered")
}

func (r *Resolver) handleMessage(msg bus.Message) {
	if !msg.Is(r.channel.updateTopic()) {
		return
	}
	var update bus.LicensingUpdate
	if err := bus.DecodeValid(msg, &update); err != nil {
		r.logger.WithError(err).Warn("dropping licensing update")
		return
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	negotiation := r.negotiation
	r.negotiation = nil
	r.pending = false
	announce := r.applyLocked(update.IsAuthorized)
	r.mu.Unlock()

	if negotiation != nil {
		negotiation.Stop()
	}
	r.broadcast(announce)
}
