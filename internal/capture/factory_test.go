package capture_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/weiawesome/wes-io-live/studio-service/internal/capture"
	"github.com/weiawesome/wes-io-live/studio-service/internal/capture/capturetest"
	"github.com/weiawesome/wes-io-live/studio-service/internal/domain"
)

func TestAcquire_CameraConstraints(t *testing.T) {
	host := capturetest.NewHost()
	f := capture.NewFactory(host)

	h, err := f.Acquire(context.Background(), capture.Request{
		Mode:          domain.CaptureModeCamera,
		Quality:       domain.QualityHigh,
		VideoDeviceID: "cam-1",
		AudioDeviceID: "mic-1",
	})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer h.Release()

	c := host.Constraints()
	if c.Video == nil || c.Video.Width != 1920 || c.Video.Height != 1080 || c.Video.FrameRate != 30 {
		t.Errorf("unexpected video constraints: %+v", c.Video)
	}
	if c.Video.DeviceID != "cam-1" {
		t.Errorf("expected video device cam-1, got %q", c.Video.DeviceID)
	}
	if c.Audio == nil || c.Audio.DeviceID != "mic-1" {
		t.Fatalf("unexpected audio constraints: %+v", c.Audio)
	}
	if !c.Audio.EchoCancellation || !c.Audio.NoiseSuppression || !c.Audio.AutoGainControl {
		t.Error("audio processing should always be requested for camera mode")
	}
	if h.Video() == nil || h.Audio() == nil {
		t.Error("expected both tracks")
	}
	if user, display, _ := host.Calls(); user != 1 || display != 0 {
		t.Errorf("expected one user-media call, got user=%d display=%d", user, display)
	}
}

func TestAcquire_ScreenAudioBestEffort(t *testing.T) {
	host := capturetest.NewHost()
	f := capture.NewFactory(host)

	h, err := f.Acquire(context.Background(), capture.Request{Mode: domain.CaptureModeScreen, Quality: domain.QualityLow})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer h.Release()

	c := host.Constraints()
	if c.Audio != nil {
		t.Error("audio should not be requested without system-audio support")
	}
	if c.Video.Width != 640 || c.Video.Height != 480 || c.Video.FrameRate != 15 {
		t.Errorf("unexpected screen constraints: %+v", c.Video)
	}
	if h.Audio() != nil {
		t.Error("expected video-only screen capture")
	}

	host.SystemAudio = true
	h2, err := f.Acquire(context.Background(), capture.Request{Mode: domain.CaptureModeScreen, Quality: domain.QualityLow})
	if err != nil {
		t.Fatalf("Acquire with system audio: %v", err)
	}
	defer h2.Release()
	if h2.Audio() == nil {
		t.Error("expected system audio track")
	}
}

func TestAcquire_ErrorKinds(t *testing.T) {
	tests := []struct {
		name    string
		hostErr error
		want    error
	}{
		{"denied", domain.ErrCaptureDenied, domain.ErrCaptureDenied},
		{"unavailable", domain.ErrCaptureUnavailable, domain.ErrCaptureUnavailable},
		{"aborted", domain.ErrCaptureAborted, domain.ErrCaptureAborted},
		{"context", context.Canceled, domain.ErrCaptureAborted},
		{"access", domain.ErrDeviceAccess, domain.ErrCaptureDenied},
		{"unknown", errors.New("driver exploded"), domain.ErrCaptureUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host := capturetest.NewHost()
			host.SetOpenErr(tt.hostErr)
			f := capture.NewFactory(host)

			_, err := f.Acquire(context.Background(), capture.Request{Mode: domain.CaptureModeCamera, Quality: domain.QualityMedium})
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestAcquire_CancelWhileBlocked(t *testing.T) {
	host := capturetest.NewHost()
	host.Block = true
	f := capture.NewFactory(host)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := f.Acquire(ctx, capture.Request{Mode: domain.CaptureModeScreen, Quality: domain.QualityMedium})
		errCh <- err
	}()

	select {
	case <-host.Entered():
	case <-time.After(time.Second):
		t.Fatal("host never entered")
	}
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, domain.ErrCaptureAborted) {
			t.Errorf("expected ErrCaptureAborted, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("acquire did not unwind after cancel")
	}
}

func TestAcquire_UnknownMode(t *testing.T) {
	f := capture.NewFactory(capturetest.NewHost())
	if _, err := f.Acquire(context.Background(), capture.Request{Mode: "hologram"}); !errors.Is(err, domain.ErrInvalidSetting) {
		t.Errorf("expected ErrInvalidSetting, got %v", err)
	}
}

func TestAudioConstraints_Processing(t *testing.T) {
	var none *capture.AudioConstraints
	if got := none.Processing(); len(got) != 0 {
		t.Errorf("nil constraints: %v", got)
	}
	got := (&capture.AudioConstraints{EchoCancellation: true, AutoGainControl: true}).Processing()
	if len(got) != 2 || got[0] != "echo_cancellation" || got[1] != "auto_gain_control" {
		t.Errorf("unexpected processing list %v", got)
	}
}
