package webrtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	pkglog "github.com/weiawesome/wes-io-live/studio-service/pkg/log"
)

// ErrEmptyAnswer is returned for an answer without SDP.
var ErrEmptyAnswer = errors.New("answer SDP is empty")

type sendCodec struct {
	params webrtc.RTPCodecParameters
	kind   webrtc.RTPCodecType
}

// sendCodecs are the codecs a capture handle can produce. Payload types
// match what the media service registers on its receiving side.
var sendCodecs = []sendCodec{
	{
		params: webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			PayloadType:        96,
		},
		kind: webrtc.RTPCodecTypeVideo,
	},
	{
		params: webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP9, ClockRate: 90000},
			PayloadType:        98,
		},
		kind: webrtc.RTPCodecTypeVideo,
	},
	{
		params: webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:    webrtc.MimeTypeOpus,
				ClockRate:   48000,
				Channels:    2,
				SDPFmtpLine: "minptime=10;useinbandfec=1",
			},
			PayloadType: 111,
		},
		kind: webrtc.RTPCodecTypeAudio,
	},
}

// PeerManager builds the offering peer connections the studio publishes on.
type PeerManager struct {
	iceServers []webrtc.ICEServer
	logger     zerolog.Logger
}

func NewPeerManager(iceServers []webrtc.ICEServer) *PeerManager {
	return &PeerManager{
		iceServers: iceServers,
		logger:     pkglog.Component("webrtc"),
	}
}

// StateHandler observes connection state changes.
type StateHandler func(state webrtc.PeerConnectionState)

func (pm *PeerManager) newAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	for _, c := range sendCodecs {
		if err := m.RegisterCodec(c.params, c.kind); err != nil {
			return nil, fmt.Errorf("failed to register %s: %w", c.params.MimeType, err)
		}
	}

	// NACK, RTCP reports and TWCC
	reg := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, reg); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}
	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(reg)), nil
}

// CreatePeerConnection returns a connection able to send VP8, VP9 and Opus.
func (pm *PeerManager) CreatePeerConnection(onState StateHandler) (*webrtc.PeerConnection, error) {
	api, err := pm.newAPI()
	if err != nil {
		return nil, err
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: pm.iceServers})
	if err != nil {
		return nil, err
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		pm.logger.Info().Str("state", state.String()).Msg("publish connection state changed")
		if onState != nil {
			onState(state)
		}
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		pm.logger.Debug().Str("state", state.String()).Msg("ICE state changed")
	})

	return pc, nil
}

// CreateOffer sets a local offer and returns it as a JSON session
// description once ICE gathering completes. Gathering is bounded by ctx.
func (pm *PeerManager) CreateOffer(ctx context.Context, pc *webrtc.PeerConnection) (string, error) {
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create offer: %w", err)
	}

	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		return "", fmt.Errorf("ICE gathering interrupted: %w", ctx.Err())
	}

	data, err := json.Marshal(pc.LocalDescription())
	if err != nil {
		return "", fmt.Errorf("failed to marshal offer: %w", err)
	}
	return string(data), nil
}

// HandleAnswer applies a JSON session description as the remote answer.
// The type field is ignored.
func (pm *PeerManager) HandleAnswer(pc *webrtc.PeerConnection, answerJSON string) error {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal([]byte(answerJSON), &answer); err != nil {
		return fmt.Errorf("failed to parse answer: %w", err)
	}
	if answer.SDP == "" {
		return ErrEmptyAnswer
	}
	answer.Type = webrtc.SDPTypeAnswer

	if err := pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	return nil
}

// AddICECandidate accepts either an ICECandidateInit JSON object or a bare
// candidate line.
func (pm *PeerManager) AddICECandidate(pc *webrtc.PeerConnection, candidate string) error {
	var cand webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(candidate), &cand); err != nil {
		cand = webrtc.ICECandidateInit{Candidate: candidate}
	}
	return pc.AddICECandidate(cand)
}
