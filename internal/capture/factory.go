package capture

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/weiawesome/wes-io-live/studio-service/internal/domain"
	pkglog "github.com/weiawesome/wes-io-live/studio-service/pkg/log"
)

// Request describes what to acquire for one session.
type Request struct {
	Mode          domain.CaptureMode
	Quality       domain.QualityProfile
	VideoDeviceID string
	AudioDeviceID string
}

// Factory turns a Request into a live Handle through a Host.
type Factory struct {
	host   Host
	logger zerolog.Logger
}

// NewFactory creates a factory over host.
func NewFactory(host Host) *Factory {
	return &Factory{
		host:   host,
		logger: pkglog.Component("capture"),
	}
}

// Host returns the underlying host.
func (f *Factory) Host() Host {
	return f.host
}

// Acquire opens the sources for req. It blocks until the host resolves and
// has no timeout of its own; cancel ctx to abort.
func (f *Factory) Acquire(ctx context.Context, req Request) (*Handle, error) {
	res := req.Quality.Resolution()
	video := &VideoConstraints{
		Width:     res.Width,
		Height:    res.Height,
		FrameRate: res.FrameRate,
	}

	var (
		specs []TrackSpec
		err   error
	)

	switch req.Mode {
	case domain.CaptureModeCamera:
		video.DeviceID = req.VideoDeviceID
		c := Constraints{
			Video: video,
			Audio: &AudioConstraints{
				DeviceID:         req.AudioDeviceID,
				EchoCancellation: true,
				NoiseSuppression: true,
				AutoGainControl:  true,
			},
		}
		specs, err = f.host.OpenUserMedia(ctx, c)

	case domain.CaptureModeScreen:
		c := Constraints{Video: video}
		if f.host.SupportsSystemAudio() {
			c.Audio = &AudioConstraints{}
		}
		specs, err = f.host.OpenDisplayMedia(ctx, c)
		if err != nil && c.Audio != nil && errors.Is(err, domain.ErrCaptureUnavailable) && ctx.Err() == nil {
			f.logger.Info().Err(err).Msg("system audio unavailable, retrying screen capture without audio")
			c.Audio = nil
			specs, err = f.host.OpenDisplayMedia(ctx, c)
		}

	default:
		return nil, fmt.Errorf("%w: unknown mode %q", domain.ErrInvalidSetting, req.Mode)
	}

	if err != nil {
		return nil, classify(ctx, err)
	}

	if ctx.Err() != nil {
		closeSpecs(specs)
		return nil, fmt.Errorf("%w: %v", domain.ErrCaptureAborted, ctx.Err())
	}

	if !hasKind(specs, TrackKindVideo) {
		closeSpecs(specs)
		return nil, fmt.Errorf("%w: host returned no video track", domain.ErrCaptureUnavailable)
	}

	h := NewHandle(req.Mode, req.Quality, specs)
	f.logger.Info().
		Str(pkglog.FieldMode, string(req.Mode)).
		Str(pkglog.FieldQuality, string(req.Quality)).
		Bool("audio", h.Audio() != nil).
		Msg("capture acquired")
	return h, nil
}

// classify maps a host failure onto the acquisition error kinds.
func classify(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrCaptureDenied),
		errors.Is(err, domain.ErrCaptureUnavailable),
		errors.Is(err, domain.ErrCaptureAborted):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), ctx.Err() != nil:
		return fmt.Errorf("%w: %v", domain.ErrCaptureAborted, err)
	case errors.Is(err, domain.ErrDeviceAccess):
		return fmt.Errorf("%w: %v", domain.ErrCaptureDenied, err)
	default:
		return fmt.Errorf("%w: %v", domain.ErrCaptureUnavailable, err)
	}
}

func hasKind(specs []TrackSpec, kind TrackKind) bool {
	for _, s := range specs {
		if s.Kind == kind {
			return true
		}
	}
	return false
}

func closeSpecs(specs []TrackSpec) {
	for _, s := range specs {
		if s.Source != nil {
			s.Source.Close()
		}
	}
}
