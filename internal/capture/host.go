package capture

import (
	"context"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/weiawesome/wes-io-live/studio-service/internal/domain"
)

// TrackKind distinguishes the two track slots of a handle.
type TrackKind string

const (
	TrackKindVideo TrackKind = "video"
	TrackKindAudio TrackKind = "audio"
)

// Source produces encoded samples for one track.
// ReadSample blocks until a sample is ready; after Close it must return an error.
type Source interface {
	ReadSample() (media.Sample, error)
	Close() error
}

// TrackSpec is one track returned by a host acquisition.
type TrackSpec struct {
	Kind     TrackKind
	MimeType string
	DeviceID string
	Label    string
	Source   Source
}

// VideoConstraints narrows a video request.
type VideoConstraints struct {
	DeviceID  string
	Width     int
	Height    int
	FrameRate int
}

// AudioConstraints narrows an audio request.
type AudioConstraints struct {
	DeviceID         string
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// Processing names the audio processing steps requested.
func (a *AudioConstraints) Processing() []string {
	if a == nil {
		return nil
	}
	var out []string
	if a.EchoCancellation {
		out = append(out, "echo_cancellation")
	}
	if a.NoiseSuppression {
		out = append(out, "noise_suppression")
	}
	if a.AutoGainControl {
		out = append(out, "auto_gain_control")
	}
	return out
}

// Constraints describe an acquisition. A nil member means that kind is not requested.
type Constraints struct {
	Video *VideoConstraints
	Audio *AudioConstraints
}

// Host is the operating-system media seam.
//
// OpenUserMedia and OpenDisplayMedia may block on a permission prompt or a
// source picker. They must honour ctx cancellation by returning ctx.Err()
// (or an error wrapping domain.ErrCaptureAborted) and releasing anything
// acquired meanwhile.
type Host interface {
	EnumerateDevices(ctx context.Context) ([]domain.CaptureDevice, error)
	OpenUserMedia(ctx context.Context, c Constraints) ([]TrackSpec, error)
	OpenDisplayMedia(ctx context.Context, c Constraints) ([]TrackSpec, error)
	SupportsSystemAudio() bool
}

// Sample is one encoded sample delivered to handle subscribers.
type Sample struct {
	Kind     TrackKind
	MimeType string
	media.Sample
}

// FrameDuration returns the nominal duration of one video frame at fps.
func FrameDuration(fps int) time.Duration {
	if fps <= 0 {
		fps = 30
	}
	return time.Second / time.Duration(fps)
}
