package webrtc

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/weiawesome/wes-io-live/studio-service/internal/capture"
	"github.com/weiawesome/wes-io-live/studio-service/internal/capture/capturetest"
	"github.com/weiawesome/wes-io-live/studio-service/internal/domain"
	"github.com/weiawesome/wes-io-live/studio-service/internal/service"
	"github.com/weiawesome/wes-io-live/studio-service/pkg/pubsub"
)

func newHandle(t *testing.T) *capture.Handle {
	t.Helper()
	h := capture.NewHandle(domain.CaptureModeCamera, domain.QualityLow, []capture.TrackSpec{
		{Kind: capture.TrackKindVideo, MimeType: webrtc.MimeTypeVP8, Source: capturetest.NewSource()},
		{Kind: capture.TrackKindAudio, MimeType: webrtc.MimeTypeOpus, Source: capturetest.NewSource()},
	})
	t.Cleanup(h.Release)
	return h
}

func nextEvent(t *testing.T, ch <-chan *pubsub.Event) *pubsub.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

// answer plays the media service: it answers an offer with a plain peer connection.
func answer(t *testing.T, offerJSON string) string {
	t.Helper()

	var offer webrtc.SessionDescription
	if err := json.Unmarshal([]byte(offerJSON), &offer); err != nil {
		t.Fatalf("offer is not a session description: %v", err)
	}
	if offer.Type != webrtc.SDPTypeOffer {
		t.Fatalf("expected offer, got %s", offer.Type)
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("NewPeerConnection: %v", err)
	}
	t.Cleanup(func() { pc.Close() })

	if err := pc.SetRemoteDescription(offer); err != nil {
		t.Fatalf("SetRemoteDescription: %v", err)
	}
	ans, err := pc.CreateAnswer(nil)
	if err != nil {
		t.Fatalf("CreateAnswer: %v", err)
	}
	gather := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(ans); err != nil {
		t.Fatalf("SetLocalDescription: %v", err)
	}
	<-gather

	data, _ := json.Marshal(pc.LocalDescription())
	return string(data)
}

func TestPublisher_OfferAnswerStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := pubsub.NewMemoryPubSub()
	defer bus.Close()

	toMedia, err := bus.Subscribe(ctx, pubsub.SignalToMediaChannel("room-1"))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	pub := NewPublisher(NewPeerManager(nil), bus, "studio-user")
	defer pub.Close()

	err = pub.OnSessionStart(ctx, service.SessionStartInfo{
		SessionID: "s1",
		RoomID:    "room-1",
		Mode:      domain.CaptureModeCamera,
		Quality:   domain.QualityLow,
		StartedAt: time.Now(),
		Handle:    newHandle(t),
	})
	if err != nil {
		t.Fatalf("OnSessionStart: %v", err)
	}

	ev := nextEvent(t, toMedia)
	if ev.Type != pubsub.EventStartBroadcast {
		t.Fatalf("expected start_broadcast, got %s", ev.Type)
	}
	if ev.SessionID != "s1" || ev.Source != pubsub.SourceStudio {
		t.Errorf("start_broadcast not tagged with the session: %+v", ev)
	}
	var start pubsub.StartBroadcastPayload
	if err := ev.UnmarshalPayload(&start); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if start.RoomID != "room-1" || start.UserID != "studio-user" {
		t.Errorf("unexpected start payload: %+v", start)
	}

	pc := pub.Connection("s1")
	if pc == nil {
		t.Fatal("expected a peer connection for the session")
	}
	if n := len(pc.GetSenders()); n != 2 {
		t.Errorf("expected video and audio senders, got %d", n)
	}

	answerEvent, _ := pubsub.NewEvent(pubsub.EventBroadcastAnswer, "room-1", &pubsub.BroadcastAnswerPayload{
		RoomID: "room-1",
		Answer: answer(t, start.Offer),
	})
	if err := bus.Publish(ctx, pubsub.MediaToSignalChannel("room-1"), answerEvent); err != nil {
		t.Fatalf("Publish answer: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for pc.RemoteDescription() == nil {
		if time.Now().After(deadline) {
			t.Fatal("answer was not applied")
		}
		time.Sleep(10 * time.Millisecond)
	}

	err = pub.OnSessionStop(ctx, service.SessionStopInfo{SessionID: "s1", RoomID: "room-1", Reason: service.StopReasonManual})
	if err != nil {
		t.Fatalf("OnSessionStop: %v", err)
	}

	ev = nextEvent(t, toMedia)
	var stop pubsub.StopBroadcastPayload
	if err := ev.UnmarshalPayload(&stop); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Type != pubsub.EventStopBroadcast || stop.Reason != "manual" {
		t.Errorf("unexpected stop event: %s %+v", ev.Type, stop)
	}
	if pub.Connection("s1") != nil {
		t.Error("connection should be removed after stop")
	}
	if pc.ConnectionState() != webrtc.PeerConnectionStateClosed {
		t.Errorf("expected closed connection, got %s", pc.ConnectionState())
	}
}

func TestPublisher_StopUnknownSession(t *testing.T) {
	bus := pubsub.NewMemoryPubSub()
	defer bus.Close()

	pub := NewPublisher(NewPeerManager(nil), bus, "studio-user")
	if err := pub.OnSessionStop(context.Background(), service.SessionStopInfo{SessionID: "nope", RoomID: "room-1"}); err != nil {
		t.Errorf("stop of unknown session should be a no-op, got %v", err)
	}
}

func TestPeerManager_HandleAnswerRejectsEmptySDP(t *testing.T) {
	pm := NewPeerManager(nil)
	pc, err := pm.CreatePeerConnection(nil)
	if err != nil {
		t.Fatalf("CreatePeerConnection: %v", err)
	}
	defer pc.Close()

	if err := pm.HandleAnswer(pc, `{"type":"answer","sdp":""}`); !errors.Is(err, ErrEmptyAnswer) {
		t.Errorf("expected ErrEmptyAnswer, got %v", err)
	}
	if err := pm.HandleAnswer(pc, "not json"); err == nil {
		t.Error("expected error for malformed answer")
	}
}

func TestPeerManager_CreateOffer(t *testing.T) {
	pm := NewPeerManager(nil)
	pc, err := pm.CreatePeerConnection(nil)
	if err != nil {
		t.Fatalf("CreatePeerConnection: %v", err)
	}
	defer pc.Close()
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionSendonly}); err != nil {
		t.Fatalf("AddTransceiverFromKind: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	offer, err := pm.CreateOffer(ctx, pc)
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	var desc webrtc.SessionDescription
	if err := json.Unmarshal([]byte(offer), &desc); err != nil {
		t.Fatalf("offer is not a session description: %v", err)
	}
	if desc.Type != webrtc.SDPTypeOffer || desc.SDP == "" {
		t.Errorf("unexpected offer: %+v", desc)
	}
}
