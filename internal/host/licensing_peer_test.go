package host

import (
	"testing"

	"github.com/eyeconictv/common-component/internal/bus"
)

func TestLicensingPeerAnswersRequests(t *testing.T) {
	hub, _ := newTestHub(t)
	peer, err := NewLicensingPeer(hub, true, nil)
	if err != nil {
		t.Fatalf("new licensing peer: %v", err)
	}
	defer peer.Close()
	component, messages := inbox(t, hub, "component")

	if err := component.Broadcast(bus.MustMessage(bus.TopicStorageLicensingRequest, nil)); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	var update bus.LicensingUpdate
	if err := bus.DecodeValid(receive(t, messages, bus.TopicStorageLicensingUpdate), &update); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !update.IsAuthorized || update.UserFriendlyStatus != "authorized" {
		t.Fatalf("unexpected update %+v", update)
	}

	if err := component.Broadcast(bus.MustMessage(bus.TopicRPPLicensingRequest, nil)); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	receive(t, messages, bus.TopicRPPLicensingUpdate)
}

func TestLicensingPeerPushesVerdictChanges(t *testing.T) {
	hub, _ := newTestHub(t)
	peer, err := NewLicensingPeer(hub, true, nil)
	if err != nil {
		t.Fatalf("new licensing peer: %v", err)
	}
	defer peer.Close()
	_, messages := inbox(t, hub, "component")

	peer.SetAuthorized(true)
	expectSilence(t, messages)

	peer.SetAuthorized(false)
	var update bus.LicensingUpdate
	if err := bus.DecodeValid(receive(t, messages, bus.TopicStorageLicensingUpdate), &update); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if update.IsAuthorized {
		t.Fatalf("expected revoked verdict")
	}
	if peer.Authorized() {
		t.Fatalf("expected peer to report unauthorized")
	}
}
