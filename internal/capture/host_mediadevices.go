//go:build cgo

package capture

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/samplebuilder"

	"github.com/weiawesome/wes-io-live/studio-service/internal/domain"
	pkglog "github.com/weiawesome/wes-io-live/studio-service/pkg/log"
)

const (
	rtpMTU          = 1200
	sampleMaxLate   = 64
	videoClockRate  = 90000
	audioClockRate  = 48000
	defaultBitRate  = 2_500_000
	defaultAudioBPS = 128_000
)

// MediaDevicesHost captures from local cameras, microphones and screens
// through pion/mediadevices, encoding to VP8 and Opus.
type MediaDevicesHost struct {
	mu       sync.Mutex
	selector *mediadevices.CodecSelector
}

// NewMediaDevicesHost creates a host with VP8 and Opus encoders.
func NewMediaDevicesHost() (*MediaDevicesHost, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("failed to create vp8 params: %w", err)
	}
	vpxParams.BitRate = defaultBitRate

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("failed to create opus params: %w", err)
	}
	opusParams.BitRate = defaultAudioBPS

	return &MediaDevicesHost{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

// EnumerateDevices implements Host.
func (h *MediaDevicesHost) EnumerateDevices(ctx context.Context) ([]domain.CaptureDevice, error) {
	var out []domain.CaptureDevice
	for _, info := range mediadevices.EnumerateDevices() {
		var kind domain.DeviceKind
		switch info.Kind {
		case mediadevices.VideoInput:
			kind = domain.DeviceKindVideoInput
		case mediadevices.AudioInput:
			kind = domain.DeviceKindAudioInput
		default:
			continue
		}
		out = append(out, domain.CaptureDevice{
			ID:    info.DeviceID,
			Kind:  kind,
			Label: info.Label,
		})
	}
	return out, nil
}

// SupportsSystemAudio implements Host. Loopback capture is not available.
func (h *MediaDevicesHost) SupportsSystemAudio() bool {
	return false
}

// OpenUserMedia implements Host.
func (h *MediaDevicesHost) OpenUserMedia(ctx context.Context, c Constraints) ([]TrackSpec, error) {
	constraints := mediadevices.MediaStreamConstraints{Codec: h.selector}
	if c.Video != nil {
		constraints.Video = videoConstraint(c.Video)
	}
	if c.Audio != nil {
		a := c.Audio
		// mediadevices has no audio processing constraints.
		if p := a.Processing(); len(p) > 0 {
			l := pkglog.Component("capture")
			l.Debug().Strs("processing", p).Msg("audio processing not supported by host, ignored")
		}
		constraints.Audio = func(mc *mediadevices.MediaTrackConstraints) {
			if a.DeviceID != "" {
				mc.DeviceID = prop.StringExact(a.DeviceID)
			}
		}
	}
	return h.open(ctx, func() (mediadevices.MediaStream, error) {
		return mediadevices.GetUserMedia(constraints)
	})
}

// OpenDisplayMedia implements Host.
func (h *MediaDevicesHost) OpenDisplayMedia(ctx context.Context, c Constraints) ([]TrackSpec, error) {
	constraints := mediadevices.MediaStreamConstraints{Codec: h.selector}
	if c.Video != nil {
		v := *c.Video
		v.DeviceID = ""
		constraints.Video = videoConstraint(&v)
	}
	return h.open(ctx, func() (mediadevices.MediaStream, error) {
		return mediadevices.GetDisplayMedia(constraints)
	})
}

func videoConstraint(v *VideoConstraints) mediadevices.MediaOption {
	return func(mc *mediadevices.MediaTrackConstraints) {
		if v.DeviceID != "" {
			mc.DeviceID = prop.StringExact(v.DeviceID)
		}
		mc.Width = prop.Int(v.Width)
		mc.Height = prop.Int(v.Height)
		mc.FrameRate = prop.Float(float32(v.FrameRate))
	}
}

type streamResult struct {
	stream mediadevices.MediaStream
	err    error
}

// open runs the blocking acquisition off the caller's goroutine so ctx can
// abort the wait. A stream that arrives after cancellation is closed.
func (h *MediaDevicesHost) open(ctx context.Context, get func() (mediadevices.MediaStream, error)) ([]TrackSpec, error) {
	done := make(chan streamResult, 1)
	go func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		s, err := get()
		done <- streamResult{stream: s, err: err}
	}()

	var res streamResult
	select {
	case <-ctx.Done():
		go func() {
			if late := <-done; late.err == nil {
				closeStream(late.stream)
			}
		}()
		return nil, fmt.Errorf("%w: %v", domain.ErrCaptureAborted, ctx.Err())
	case res = <-done:
	}

	if res.err != nil {
		return nil, classifyHostError(res.err)
	}

	var specs []TrackSpec
	for _, t := range res.stream.GetTracks() {
		spec, err := newRTPSource(t)
		if err != nil {
			closeStream(res.stream)
			closeSpecs(specs)
			return nil, fmt.Errorf("%w: %v", domain.ErrCaptureUnavailable, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func closeStream(s mediadevices.MediaStream) {
	for _, t := range s.GetTracks() {
		t.Close()
	}
}

func classifyHostError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, os.ErrPermission), strings.Contains(msg, "permission denied"), strings.Contains(msg, "not permitted"):
		return fmt.Errorf("%w: %v", domain.ErrCaptureDenied, err)
	default:
		return fmt.Errorf("%w: %v", domain.ErrCaptureUnavailable, err)
	}
}

// rtpSource reads the encoder's RTP output and reassembles it into samples.
type rtpSource struct {
	track   mediadevices.Track
	reader  mediadevices.RTPReadCloser
	builder *samplebuilder.SampleBuilder
	once    sync.Once
}

func newRTPSource(t mediadevices.Track) (TrackSpec, error) {
	var (
		kind      TrackKind
		mimeType  string
		depacket  rtp.Depacketizer
		clockRate uint32
	)
	switch t.Kind() {
	case webrtc.RTPCodecTypeVideo:
		kind, mimeType, depacket, clockRate = TrackKindVideo, webrtc.MimeTypeVP8, &codecs.VP8Packet{}, videoClockRate
	case webrtc.RTPCodecTypeAudio:
		kind, mimeType, depacket, clockRate = TrackKindAudio, webrtc.MimeTypeOpus, &codecs.OpusPacket{}, audioClockRate
	default:
		return TrackSpec{}, fmt.Errorf("unsupported track kind %s", t.Kind())
	}

	reader, err := t.NewRTPReader(mimeType, rand.Uint32(), rtpMTU)
	if err != nil {
		return TrackSpec{}, fmt.Errorf("failed to open %s reader: %w", kind, err)
	}

	return TrackSpec{
		Kind:     kind,
		MimeType: mimeType,
		DeviceID: t.ID(),
		Source: &rtpSource{
			track:   t,
			reader:  reader,
			builder: samplebuilder.New(sampleMaxLate, depacket, clockRate),
		},
	}, nil
}

// ReadSample implements Source.
func (s *rtpSource) ReadSample() (media.Sample, error) {
	for {
		if smp := s.builder.Pop(); smp != nil {
			return *smp, nil
		}

		pkts, release, err := s.reader.Read()
		if err != nil {
			return media.Sample{}, err
		}
		for _, p := range pkts {
			s.builder.Push(p.Clone())
		}
		release()
	}
}

// Close implements Source.
func (s *rtpSource) Close() error {
	var err error
	s.once.Do(func() {
		err = errors.Join(s.reader.Close(), s.track.Close())
	})
	return err
}
