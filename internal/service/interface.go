package service

import (
	"context"

	"github.com/weiawesome/wes-io-live/studio-service/internal/capture"
	"github.com/weiawesome/wes-io-live/studio-service/internal/domain"
	"github.com/weiawesome/wes-io-live/studio-service/internal/recorder"
)

// StudioService drives the broadcast session of one studio.
type StudioService interface {
	// Start acquires capture and goes live. It blocks while connecting.
	Start(ctx context.Context) (domain.Snapshot, error)

	// Stop ends the session, or cancels a pending acquisition.
	// The artifact is nil when nothing was recorded.
	Stop(ctx context.Context) (*recorder.Artifact, error)

	// ToggleVideo and ToggleAudio flip a track's enabled flag.
	// They report false when there is no track to toggle.
	ToggleVideo() bool
	ToggleAudio() bool

	// PauseTimer and ResumeTimer suspend and resume duration counting.
	PauseTimer() error
	ResumeTimer() error

	// ApplySettings changes mode, quality and device selection while idle.
	ApplySettings(ctx context.Context, s Settings) (domain.Snapshot, error)

	// ListDevices enumerates the host's capture devices.
	ListDevices(ctx context.Context) ([]domain.CaptureDevice, error)

	// Sessions returns the room's session history, newest first.
	Sessions(ctx context.Context, limit int) ([]*domain.SessionRecord, error)

	// Session returns one record, or ErrSessionNotFound.
	Session(ctx context.Context, sessionID string) (*domain.SessionRecord, error)

	// ClearArtifact forgets the artifact of a record whose recording was deleted.
	ClearArtifact(ctx context.Context, sessionID string) error

	// Snapshot returns the current observable state.
	Snapshot() domain.Snapshot

	// Subscribe returns a feed of change events and a cancel func.
	Subscribe(buffer int) (<-chan domain.Event, func())
}

// Acquirer opens capture sources for a session.
type Acquirer interface {
	Acquire(ctx context.Context, req capture.Request) (*capture.Handle, error)
}

// Recorder records a capture handle into an artifact.
type Recorder interface {
	Start(h *capture.Handle, sessionID string) *recorder.Session
	Stop(ctx context.Context, sess *recorder.Session) (*recorder.Artifact, error)
}

// DeviceRegistry resolves device selections against the host's devices.
type DeviceRegistry interface {
	ListDevices(ctx context.Context) ([]domain.CaptureDevice, error)
	ResolveFresh(ctx context.Context, id string, kind domain.DeviceKind) (domain.CaptureDevice, error)
	Invalidate()
}

// Settings is a partial settings update; nil fields are left unchanged.
type Settings struct {
	Mode          *domain.CaptureMode    `json:"mode,omitempty"`
	Quality       *domain.QualityProfile `json:"quality,omitempty"`
	VideoDeviceID *string                `json:"video_device_id,omitempty"`
	AudioDeviceID *string                `json:"audio_device_id,omitempty"`
}
