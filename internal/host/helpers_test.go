package host

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/eyeconictv/common-component/internal/bus"
)

func newTestHub(t *testing.T) (*Hub, *logtest.Hook) {
	t.Helper()
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	hub := NewHub(HubOptions{Logger: logger})
	t.Cleanup(hub.Close)
	return hub, hook
}

// inbox connects a named client that records every message it receives.
func inbox(t *testing.T, hub *Hub, name string) (*LocalClient, <-chan bus.Message) {
	t.Helper()
	client, err := hub.Connect(name)
	if err != nil {
		t.Fatalf("connect %s: %v", name, err)
	}
	messages := make(chan bus.Message, 64)
	client.Subscribe(func(msg bus.Message) { messages <- msg })
	return client, messages
}

func receive(t *testing.T, messages <-chan bus.Message, topic string) bus.Message {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case msg := <-messages:
			if msg.Is(topic) {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", topic)
		}
	}
}

func expectSilence(t *testing.T, messages <-chan bus.Message) {
	t.Helper()
	select {
	case msg := <-messages:
		t.Fatalf("expected no message, got %s", msg.Topic)
	case <-time.After(50 * time.Millisecond):
	}
}

func decodeUpdate(t *testing.T, msg bus.Message) bus.FileUpdate {
	t.Helper()
	var update bus.FileUpdate
	if err := bus.DecodeValid(msg, &update); err != nil {
		t.Fatalf("decode file update: %v", err)
	}
	return update
}
