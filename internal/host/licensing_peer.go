package host

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/eyeconictv/common-component/internal/bus"
)

const LicensingPeerName = "licensing"

// LicensingPeer answers storage and RPP licensing requests with a fixed
// verdict that can be changed at runtime.
type LicensingPeer struct {
	client *LocalClient
	logger logrus.FieldLogger
	cancel func()

	mu         sync.Mutex
	authorized bool
}

func NewLicensingPeer(hub *Hub, authorized bool, logger logrus.FieldLogger) (*LicensingPeer, error) {
	client, err := hub.Connect(LicensingPeerName)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	p := &LicensingPeer{
		client:     client,
		logger:     logger.WithField("component", "licensing-peer"),
		authorized: authorized,
	}
	p.cancel = client.Subscribe(p.handleMessage)
	return p, nil
}

func (p *LicensingPeer) Authorized() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.authorized
}

// SetAuthorized changes the verdict and pushes it to every listener when it
// differs from the previous one.
func (p *LicensingPeer) SetAuthorized(authorized bool) {
	p.mu.Lock()
	changed := p.authorized != authorized
	p.authorized = authorized
	p.mu.Unlock()
	if !changed {
		return
	}
	p.send(bus.TopicStorageLicensingUpdate, authorized)
	p.send(bus.TopicRPPLicensingUpdate, authorized)
}

func (p *LicensingPeer) Close() error {
	p.cancel()
	return p.client.Close()
}

func (p *LicensingPeer) handleMessage(msg bus.Message) {
	switch {
	case msg.Is(bus.TopicStorageLicensingRequest):
		p.send(bus.TopicStorageLicensingUpdate, p.Authorized())
	case msg.Is(bus.TopicRPPLicensingRequest):
		p.send(bus.TopicRPPLicensingUpdate, p.Authorized())
	}
}

func (p *LicensingPeer) send(topic string, authorized bool) {
	status := "unauthorized"
	if authorized {
		status = "authorized"
	}
	msg := bus.MustMessage(topic, bus.LicensingUpdate{IsAuthorized: authorized, UserFriendlyStatus: status})
	if err := p.client.Broadcast(msg); err != nil {
		p.logger.WithError(err).WithField("topic", topic).Warn("licensing update failed")
	}
}
