package webrtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/weiawesome/wes-io-live/studio-service/internal/capture"
	"github.com/weiawesome/wes-io-live/studio-service/internal/service"
	pkglog "github.com/weiawesome/wes-io-live/studio-service/pkg/log"
	"github.com/weiawesome/wes-io-live/studio-service/pkg/pubsub"
)

const (
	sampleBuffer = 128
	offerTimeout = 10 * time.Second
)

// broadcast is the outgoing stream of one session.
type broadcast struct {
	roomID      string
	sessionID   string
	pc          *webrtc.PeerConnection
	cancel      context.CancelFunc
	unsubscribe func()
	forwarded   sync.WaitGroup
}

// Publisher forwards a live session to the platform's media service. It plays
// the broadcaster side of the signal <-> media protocol: the offer goes out as
// start_broadcast and the answer comes back as broadcast_answer.
type Publisher struct {
	peers  *PeerManager
	bus    pubsub.PubSub
	userID string
	logger zerolog.Logger

	mu         sync.Mutex
	broadcasts map[string]*broadcast // sessionID -> broadcast
}

// NewPublisher creates a publisher signalling over bus as userID.
func NewPublisher(peers *PeerManager, bus pubsub.PubSub, userID string) *Publisher {
	return &Publisher{
		peers:      peers,
		bus:        bus,
		userID:     userID,
		logger:     pkglog.Component("publisher"),
		broadcasts: make(map[string]*broadcast),
	}
}

// OnSessionStart opens a peer connection fed from the session's handle and
// sends the offer.
func (p *Publisher) OnSessionStart(ctx context.Context, info service.SessionStartInfo) error {
	if info.Handle == nil {
		return errors.New("session has no capture handle")
	}
	l := p.logger.With().Str(pkglog.FieldRoomID, info.RoomID).Str(pkglog.FieldSessionID, info.SessionID).Logger()

	pc, err := p.peers.CreatePeerConnection(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateFailed {
			l.Warn().Msg("publish connection failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to create peer connection: %w", err)
	}

	tracks := make(map[capture.TrackKind]*webrtc.TrackLocalStaticSample)
	for _, t := range info.Handle.Tracks() {
		local, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: t.MimeType()},
			string(t.Kind()),
			"studio-"+info.SessionID,
		)
		if err != nil {
			pc.Close()
			return fmt.Errorf("failed to create %s track: %w", t.Kind(), err)
		}
		sender, err := pc.AddTrack(local)
		if err != nil {
			pc.Close()
			return fmt.Errorf("failed to add %s track: %w", t.Kind(), err)
		}
		go drainRTCP(sender)
		tracks[t.Kind()] = local
	}

	bctx, cancel := context.WithCancel(context.Background())
	signals, err := p.bus.Subscribe(bctx, pubsub.MediaToSignalChannel(info.RoomID))
	if err != nil {
		cancel()
		pc.Close()
		return fmt.Errorf("failed to subscribe to media events: %w", err)
	}

	octx, ocancel := context.WithTimeout(ctx, offerTimeout)
	offer, err := p.peers.CreateOffer(octx, pc)
	ocancel()
	if err != nil {
		cancel()
		pc.Close()
		return err
	}

	samples, unsubscribe := info.Handle.Subscribe(sampleBuffer)
	b := &broadcast{
		roomID:      info.RoomID,
		sessionID:   info.SessionID,
		pc:          pc,
		cancel:      cancel,
		unsubscribe: unsubscribe,
	}
	b.forwarded.Add(1)
	go p.forward(b, samples, tracks)
	go p.handleSignals(bctx, b, signals)

	p.mu.Lock()
	p.broadcasts[info.SessionID] = b
	p.mu.Unlock()

	event, err := pubsub.NewEvent(pubsub.EventStartBroadcast, info.RoomID, &pubsub.StartBroadcastPayload{
		RoomID: info.RoomID,
		UserID: p.userID,
		Offer:  offer,
	}, pubsub.ForSession(info.SessionID), pubsub.FromSource(pubsub.SourceStudio))
	if err != nil {
		p.teardown(b)
		return err
	}
	if err := p.bus.Publish(ctx, pubsub.SignalToMediaChannel(info.RoomID), event); err != nil {
		p.teardown(b)
		return fmt.Errorf("failed to publish start broadcast: %w", err)
	}

	l.Info().Int("tracks", len(tracks)).Msg("broadcast offer sent")
	return nil
}

// OnSessionStop tells the media service the broadcast ended and closes the
// peer connection.
func (p *Publisher) OnSessionStop(ctx context.Context, info service.SessionStopInfo) error {
	p.mu.Lock()
	b, ok := p.broadcasts[info.SessionID]
	delete(p.broadcasts, info.SessionID)
	p.mu.Unlock()
	if !ok {
		return nil
	}

	event, err := pubsub.NewEvent(pubsub.EventStopBroadcast, info.RoomID, &pubsub.StopBroadcastPayload{
		RoomID: info.RoomID,
		Reason: info.Reason,
	}, pubsub.ForSession(info.SessionID), pubsub.FromSource(pubsub.SourceStudio))
	if err == nil {
		err = p.bus.Publish(ctx, pubsub.SignalToMediaChannel(info.RoomID), event)
	}

	p.teardown(b)
	p.logger.Info().Str(pkglog.FieldRoomID, info.RoomID).Str(pkglog.FieldSessionID, info.SessionID).Msg("broadcast stopped")

	if err != nil {
		return fmt.Errorf("failed to publish stop broadcast: %w", err)
	}
	return nil
}

// Connection returns the peer connection of a session, or nil.
func (p *Publisher) Connection(sessionID string) *webrtc.PeerConnection {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.broadcasts[sessionID]; ok {
		return b.pc
	}
	return nil
}

// Close tears down every broadcast without signalling.
func (p *Publisher) Close() error {
	p.mu.Lock()
	all := make([]*broadcast, 0, len(p.broadcasts))
	for id, b := range p.broadcasts {
		all = append(all, b)
		delete(p.broadcasts, id)
	}
	p.mu.Unlock()

	for _, b := range all {
		p.teardown(b)
	}
	return nil
}

func (p *Publisher) teardown(b *broadcast) {
	p.mu.Lock()
	if p.broadcasts[b.sessionID] == b {
		delete(p.broadcasts, b.sessionID)
	}
	p.mu.Unlock()

	b.cancel()
	b.unsubscribe()
	b.forwarded.Wait()
	if err := b.pc.Close(); err != nil {
		p.logger.Debug().Err(err).Str(pkglog.FieldSessionID, b.sessionID).Msg("peer connection close failed")
	}
}

// forward writes handle samples to the local tracks until the subscription closes.
func (p *Publisher) forward(b *broadcast, samples <-chan capture.Sample, tracks map[capture.TrackKind]*webrtc.TrackLocalStaticSample) {
	defer b.forwarded.Done()

	for s := range samples {
		track, ok := tracks[s.Kind]
		if !ok {
			continue
		}
		if err := track.WriteSample(s.Sample); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Debug().Err(err).Str(pkglog.FieldTrackKind, string(s.Kind)).Msg("failed to write sample")
		}
	}
}

func (p *Publisher) handleSignals(ctx context.Context, b *broadcast, events <-chan *pubsub.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			p.processSignal(b, event)
		}
	}
}

func (p *Publisher) processSignal(b *broadcast, event *pubsub.Event) {
	l := p.logger.With().Str(pkglog.FieldRoomID, b.roomID).Str(pkglog.FieldSessionID, b.sessionID).Logger()

	switch event.Type {
	case pubsub.EventBroadcastAnswer:
		var payload pubsub.BroadcastAnswerPayload
		if err := event.UnmarshalPayload(&payload); err != nil {
			l.Error().Err(err).Msg("failed to unmarshal broadcast answer")
			return
		}
		if err := p.peers.HandleAnswer(b.pc, payload.Answer); err != nil {
			l.Error().Err(err).Msg("failed to apply broadcast answer")
			return
		}
		l.Info().Msg("broadcast answer applied")

	case pubsub.EventServerICECandidate:
		var payload pubsub.ServerICECandidatePayload
		if err := event.UnmarshalPayload(&payload); err != nil {
			l.Error().Err(err).Msg("failed to unmarshal server ICE candidate")
			return
		}
		if err := p.peers.AddICECandidate(b.pc, payload.Candidate); err != nil {
			l.Warn().Err(err).Msg("failed to add server ICE candidate")
		}

	case pubsub.EventStreamEnded:
		l.Info().Msg("media service reported stream ended")
	}
}

// drainRTCP reads RTCP so interceptors such as NACK keep working.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// Ensure Publisher implements service.PublishSink
var _ service.PublishSink = (*Publisher)(nil)
