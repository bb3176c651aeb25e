// Package capturetest provides an in-memory capture host for tests.
package capturetest

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/weiawesome/wes-io-live/studio-service/internal/capture"
	"github.com/weiawesome/wes-io-live/studio-service/internal/domain"
)

// Source is a capture.Source driven by Emit and Fail.
type Source struct {
	samples   chan media.Sample
	fail      chan error
	closed    chan struct{}
	closeOnce sync.Once
}

// NewSource creates an idle source.
func NewSource() *Source {
	return &Source{
		samples: make(chan media.Sample),
		fail:    make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

// ReadSample implements capture.Source.
func (s *Source) ReadSample() (media.Sample, error) {
	select {
	case smp := <-s.samples:
		return smp, nil
	case err := <-s.fail:
		return media.Sample{}, err
	case <-s.closed:
		return media.Sample{}, io.EOF
	}
}

// Close implements capture.Source.
func (s *Source) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// Closed reports whether Close was called.
func (s *Source) Closed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// Emit hands one sample to the reader. It returns false if the source is
// closed or nobody read the sample within a second.
func (s *Source) Emit(data []byte, duration time.Duration) bool {
	select {
	case s.samples <- media.Sample{Data: data, Duration: duration}:
		return true
	case <-s.closed:
		return false
	case <-time.After(time.Second):
		return false
	}
}

// Fail makes the next ReadSample return err.
func (s *Source) Fail(err error) {
	select {
	case s.fail <- err:
	default:
	}
}

// Host is a scriptable capture.Host.
type Host struct {
	mu sync.Mutex

	Devices      []domain.CaptureDevice
	EnumerateErr error
	OpenErr      error
	SystemAudio  bool
	WithAudio    bool
	// Block makes Open* wait until ctx is cancelled or Unblock is called.
	Block bool

	UserCalls       int
	DisplayCalls    int
	EnumerateCalls  int
	LastConstraints capture.Constraints
	Video           *Source
	Audio           *Source

	entered chan struct{}
	unblock chan struct{}
}

// NewHost creates a host exposing devices and returning audio when requested.
func NewHost(devices ...domain.CaptureDevice) *Host {
	return &Host{
		Devices:   devices,
		WithAudio: true,
		entered:   make(chan struct{}, 16),
		unblock:   make(chan struct{}),
	}
}

// Entered is signalled each time an Open call begins.
func (h *Host) Entered() <-chan struct{} {
	return h.entered
}

// Unblock releases every blocked Open call.
func (h *Host) Unblock() {
	close(h.unblock)
}

// SetOpenErr changes the error returned by Open calls.
func (h *Host) SetOpenErr(err error) {
	h.mu.Lock()
	h.OpenErr = err
	h.mu.Unlock()
}

// SetDevices replaces the enumerated devices.
func (h *Host) SetDevices(devices ...domain.CaptureDevice) {
	h.mu.Lock()
	h.Devices = devices
	h.mu.Unlock()
}

// Calls returns how many user, display and enumerate calls were made.
func (h *Host) Calls() (user, display, enumerate int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.UserCalls, h.DisplayCalls, h.EnumerateCalls
}

// Sources returns the sources created by the last successful Open call.
func (h *Host) Sources() (video, audio *Source) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Video, h.Audio
}

// Constraints returns the constraints of the last Open call.
func (h *Host) Constraints() capture.Constraints {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.LastConstraints
}

// EnumerateDevices implements capture.Host.
func (h *Host) EnumerateDevices(ctx context.Context) ([]domain.CaptureDevice, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.EnumerateCalls++
	if h.EnumerateErr != nil {
		return nil, h.EnumerateErr
	}
	return append([]domain.CaptureDevice(nil), h.Devices...), nil
}

// OpenUserMedia implements capture.Host.
func (h *Host) OpenUserMedia(ctx context.Context, c capture.Constraints) ([]capture.TrackSpec, error) {
	h.mu.Lock()
	h.UserCalls++
	h.mu.Unlock()
	return h.open(ctx, c)
}

// OpenDisplayMedia implements capture.Host.
func (h *Host) OpenDisplayMedia(ctx context.Context, c capture.Constraints) ([]capture.TrackSpec, error) {
	h.mu.Lock()
	h.DisplayCalls++
	h.mu.Unlock()
	return h.open(ctx, c)
}

// SupportsSystemAudio implements capture.Host.
func (h *Host) SupportsSystemAudio() bool {
	return h.SystemAudio
}

func (h *Host) open(ctx context.Context, c capture.Constraints) ([]capture.TrackSpec, error) {
	h.mu.Lock()
	h.LastConstraints = c
	block := h.Block
	h.mu.Unlock()

	select {
	case h.entered <- struct{}{}:
	default:
	}

	if block {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-h.unblock:
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.OpenErr != nil {
		return nil, h.OpenErr
	}

	video := NewSource()
	specs := []capture.TrackSpec{{
		Kind:     capture.TrackKindVideo,
		MimeType: webrtc.MimeTypeVP8,
		DeviceID: deviceID(c.Video),
		Source:   video,
	}}
	h.Video, h.Audio = video, nil

	if c.Audio != nil && h.WithAudio {
		audio := NewSource()
		specs = append(specs, capture.TrackSpec{
			Kind:     capture.TrackKindAudio,
			MimeType: webrtc.MimeTypeOpus,
			DeviceID: c.Audio.DeviceID,
			Source:   audio,
		})
		h.Audio = audio
	}
	return specs, nil
}

func deviceID(v *capture.VideoConstraints) string {
	if v == nil {
		return ""
	}
	return v.DeviceID
}

// VP8Keyframe returns a minimal VP8 payload flagged as a keyframe.
func VP8Keyframe() []byte {
	return []byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a}
}

// VP8Interframe returns a minimal VP8 payload flagged as an interframe.
func VP8Interframe() []byte {
	return []byte{0x11, 0x02, 0x00}
}
