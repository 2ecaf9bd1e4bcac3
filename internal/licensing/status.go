package licensing

import (
	"fmt"
	"strings"

	"github.com/eyeconictv/common-component/internal/bus"
)

// Status is the tri-state licensing verdict. Once known it never returns to
// Unknown.
type Status int

const (
	Unknown Status = iota
	Authorized
	Unauthorized
)

func statusFor(authorized bool) Status {
	if authorized {
		return Authorized
	}
	return Unauthorized
}

func (s Status) Known() bool {
	return s != Unknown
}

func (s Status) String() string {
	switch s {
	case Authorized:
		return "authorized"
	case Unauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

// Channel selects which licensing peer answers when no identity is set.
type Channel string

const (
	ChannelStorage Channel = "storage"
	ChannelRPP     Channel = "rpp"
)

func ParseChannel(raw string) (Channel, error) {
	switch Channel(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ChannelStorage:
		return ChannelStorage, nil
	case ChannelRPP:
		return ChannelRPP, nil
	default:
		return "", fmt.Errorf("%w: licensing channel %q", ErrInvalidInput, raw)
	}
}

func (c Channel) requestTopic() string {
	if c == ChannelRPP {
		return bus.TopicRPPLicensingRequest
	}
	return bus.TopicStorageLicensingRequest
}

func (c Channel) updateTopic() string {
	if c == ChannelRPP {
		return bus.TopicRPPLicensingUpdate
	}
	return bus.TopicStorageLicensingUpdate
}

var allowListedIdentities = map[string]struct{}{
	"f114ad26-949d-44b4-87e9-8528afc76ce4": {},
	"7fa5ee92-7deb-450b-a8d5-e5ed648c575f": {},
}

func IsAllowListed(identity string) bool {
	_, ok := allowListedIdentities[strings.TrimSpace(identity)]
	return ok
}
