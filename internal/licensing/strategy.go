package licensing

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/eyeconictv/common-component/internal/verdictcache"
)

type outcome int

const (
	// outcomeNext hands the request to the next strategy.
	outcomeNext outcome = iota
	// outcomeSettled carries a verdict.
	outcomeSettled
	// outcomeDeferred means the verdict will arrive later on the bus.
	outcomeDeferred
)

type result struct {
	outcome    outcome
	authorized bool
	persist    bool
}

// strategy is one step of the resolution pipeline. Resolve runs off the
// resolver lock and may block on I/O.
type strategy interface {
	Name() string
	Resolve(ctx context.Context) (result, error)
}

type allowListStrategy struct {
	identity string
}

func (allowListStrategy) Name() string { return "allow-list" }

func (s allowListStrategy) Resolve(context.Context) (result, error) {
	if IsAllowListed(s.identity) {
		return result{outcome: outcomeSettled, authorized: true}, nil
	}
	return result{outcome: outcomeNext}, nil
}

type cacheStrategy struct {
	store  verdictcache.Store
	key    string
	ttl    time.Duration
	clock  clock.Clock
	logger logrus.FieldLogger
}

func (cacheStrategy) Name() string { return "cache" }

func (s cacheStrategy) Resolve(ctx context.Context) (result, error) {
	verdict, ok, err := s.store.Load(ctx, s.key)
	if err != nil {
		s.logger.WithError(err).WithField("key", s.key).Warn("verdict cache read failed, treating as miss")
		return result{outcome: outcomeNext}, nil
	}
	if !ok || verdict.Expired(s.clock.Now(), s.ttl) {
		return result{outcome: outcomeNext}, nil
	}
	return result{outcome: outcomeSettled, authorized: verdict.Status}, nil
}

type remoteStrategy struct {
	checker  Checker
	identity string
	timeout  time.Duration
	persist  bool
}

func (remoteStrategy) Name() string { return "remote" }

func (s remoteStrategy) Resolve(ctx context.Context) (result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	authorized, err := s.checker.Check(ctx, s.identity)
	if err != nil {
		return result{}, err
	}
	return result{outcome: outcomeSettled, authorized: authorized, persist: s.persist}, nil
}

type peerStrategy struct {
	start func()
}

func (peerStrategy) Name() string { return "peer" }

func (s peerStrategy) Resolve(context.Context) (result, error) {
	s.start()
	return result{outcome: outcomeDeferred}, nil
}
