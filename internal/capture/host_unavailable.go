//go:build !cgo

package capture

import (
	"context"
	"fmt"

	"github.com/weiawesome/wes-io-live/studio-service/internal/domain"
)

// MediaDevicesHost stands in for the cgo capture host in builds without cgo.
// It exposes no devices and every acquisition fails as unavailable.
type MediaDevicesHost struct{}

// NewMediaDevicesHost returns the unavailable host.
func NewMediaDevicesHost() (*MediaDevicesHost, error) {
	return &MediaDevicesHost{}, nil
}

// EnumerateDevices implements Host.
func (h *MediaDevicesHost) EnumerateDevices(ctx context.Context) ([]domain.CaptureDevice, error) {
	return nil, nil
}

// SupportsSystemAudio implements Host.
func (h *MediaDevicesHost) SupportsSystemAudio() bool {
	return false
}

// OpenUserMedia implements Host.
func (h *MediaDevicesHost) OpenUserMedia(ctx context.Context, c Constraints) ([]TrackSpec, error) {
	return nil, fmt.Errorf("%w: capture requires a cgo build", domain.ErrCaptureUnavailable)
}

// OpenDisplayMedia implements Host.
func (h *MediaDevicesHost) OpenDisplayMedia(ctx context.Context, c Constraints) ([]TrackSpec, error) {
	return nil, fmt.Errorf("%w: capture requires a cgo build", domain.ErrCaptureUnavailable)
}
