package analytics

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/eyeconictv/common-component/internal/bus"
)

type fakeBus struct {
	mu           sync.Mutex
	disconnected bool
	sent         []bus.Message
}

func (f *fakeBus) Connected() bool { return !f.disconnected }

func (f *fakeBus) Broadcast(msg bus.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeBus) Subscribe(bus.Handler) func() { return func() {} }

func testConfig() Config {
	return Config{FailedEntryFile: "component-failed.log", Table: "component_events", ComponentName: "rise-image"}
}

type logMessage struct {
	Topic string   `json:"topic"`
	Data  Envelope `json:"data"`
}

func TestEventBuildsLogEnvelope(t *testing.T) {
	b := &fakeBus{}
	logger := New(b, testConfig(), Context{CompanyID: "company-1", ComponentVersion: "2024.01.01"}, nil)

	logger.Event("authorization-error", map[string]any{"statusCode": 500})

	if len(b.sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(b.sent))
	}
	msg := b.sent[0]
	if err := bus.Validate(msg); err != nil {
		t.Fatalf("expected valid log message, got %v", err)
	}
	var decoded logMessage
	if err := json.Unmarshal(msg.Body, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Topic != bus.TopicLog {
		t.Fatalf("expected topic log, got %q", decoded.Topic)
	}
	want := Envelope{
		ProjectName:     DefaultProjectName,
		DatasetName:     DefaultDatasetName,
		FailedEntryFile: "component-failed.log",
		Table:           "component_events",
		Data: Row{
			Event:         "authorization-error",
			DisplayID:     DefaultDisplayID,
			CompanyID:     "company-1",
			ComponentName: "rise-image",
			EventDetails:  `{"statusCode":500}`,
			Version:       "2024.01.01",
		},
	}
	if decoded.Data != want {
		t.Fatalf("expected %+v, got %+v", want, decoded.Data)
	}
}

func TestEventDropsInvalidEntries(t *testing.T) {
	b := &fakeBus{}
	nullLogger, hook := test.NewNullLogger()
	cfg := testConfig()
	cfg.Table = ""
	logger := New(b, cfg, Context{}, nullLogger)

	logger.Event("Error", map[string]any{"detail": "x"})
	New(b, testConfig(), Context{}, nullLogger).Event("Error", nil)

	if len(b.sent) != 0 {
		t.Fatalf("expected invalid entries to be dropped, got %d messages", len(b.sent))
	}
	entries := hook.AllEntries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 log lines, got %d", len(entries))
	}
	for _, entry := range entries {
		if entry.Level != logrus.WarnLevel {
			t.Fatalf("expected warn level, got %s", entry.Level)
		}
		if err, _ := entry.Data[logrus.ErrorKey].(error); !errors.Is(err, ErrInvalidEntry) {
			t.Fatalf("expected ErrInvalidEntry, got %v", entry.Data[logrus.ErrorKey])
		}
	}
}

func TestEventDroppedWhileDisconnected(t *testing.T) {
	b := &fakeBus{disconnected: true}
	nullLogger, hook := test.NewNullLogger()
	New(b, testConfig(), Context{}, nullLogger).PlaylistEvent("Ready Event")

	if len(b.sent) != 0 {
		t.Fatalf("expected no broadcast while disconnected")
	}
	if entry := hook.LastEntry(); entry == nil || entry.Message != "analytics entry dropped" {
		t.Fatalf("expected drop log line, got %+v", entry)
	}
}

func TestPlaylistEventUsesStepAsDetail(t *testing.T) {
	b := &fakeBus{}
	New(b, testConfig(), Context{DisplayID: "display-9"}, nil).PlaylistEvent("Done Event")

	var decoded logMessage
	if err := json.Unmarshal(b.sent[0].Body, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Data.Data.Event != EventPlaylist || decoded.Data.Data.EventDetails != "Done Event" {
		t.Fatalf("unexpected row %+v", decoded.Data.Data)
	}
	if decoded.Data.Data.DisplayID != "display-9" {
		t.Fatalf("expected display id display-9, got %q", decoded.Data.Data.DisplayID)
	}
}
