package domain

import "errors"

var (
	// ErrDeviceAccess is returned when the host denies device listing.
	ErrDeviceAccess = errors.New("device access denied")
	// ErrDeviceNotFound is returned when a device id no longer matches the last enumeration.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrCaptureDenied is returned when the user declines the capture permission prompt.
	ErrCaptureDenied = errors.New("capture permission denied")
	// ErrCaptureUnavailable is returned when no matching capture hardware exists.
	ErrCaptureUnavailable = errors.New("capture device unavailable")
	// ErrCaptureAborted is returned when the user cancels the screen picker or the
	// acquisition is cancelled.
	ErrCaptureAborted = errors.New("capture aborted")

	// ErrSessionActive is returned by Start when a session is already connecting or live.
	ErrSessionActive = errors.New("session already active")
	// ErrNotActive is returned by Stop when no session is in progress.
	ErrNotActive = errors.New("no active session")
	// ErrSettingsLocked is returned when mode, quality or devices change outside idle.
	ErrSettingsLocked = errors.New("settings cannot change while a session is active")
	// ErrInvalidSetting is returned for unknown modes, qualities or device kinds.
	ErrInvalidSetting = errors.New("invalid setting")

	// ErrSessionNotFound is returned when no record exists for a session id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrRecordingNotFound is returned when no exported recording exists for a session.
	ErrRecordingNotFound = errors.New("recording not found")
	// ErrRecordingsDisabled is returned when no export storage is configured.
	ErrRecordingsDisabled = errors.New("recording export is not configured")
)

// ErrorKind is the stable code reported to consumers for a failure.
type ErrorKind string

const (
	KindDeviceAccess       ErrorKind = "DEVICE_ACCESS"
	KindDeviceNotFound     ErrorKind = "DEVICE_NOT_FOUND"
	KindCaptureDenied      ErrorKind = "CAPTURE_DENIED"
	KindCaptureUnavailable ErrorKind = "CAPTURE_UNAVAILABLE"
	KindCaptureAborted     ErrorKind = "CAPTURE_ABORTED"
	KindSessionActive      ErrorKind = "SESSION_ACTIVE"
	KindNotActive          ErrorKind = "NOT_ACTIVE"
	KindSettingsLocked     ErrorKind = "SETTINGS_LOCKED"
	KindInvalidSetting     ErrorKind = "INVALID_SETTING"
	KindSessionNotFound    ErrorKind = "SESSION_NOT_FOUND"
	KindRecordingNotFound  ErrorKind = "RECORDING_NOT_FOUND"
	KindRecordingsDisabled ErrorKind = "RECORDINGS_DISABLED"
	KindInternal           ErrorKind = "INTERNAL_ERROR"
)

var kinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrDeviceAccess, KindDeviceAccess},
	{ErrDeviceNotFound, KindDeviceNotFound},
	{ErrCaptureDenied, KindCaptureDenied},
	{ErrCaptureUnavailable, KindCaptureUnavailable},
	{ErrCaptureAborted, KindCaptureAborted},
	{ErrSessionActive, KindSessionActive},
	{ErrNotActive, KindNotActive},
	{ErrSettingsLocked, KindSettingsLocked},
	{ErrInvalidSetting, KindInvalidSetting},
	{ErrSessionNotFound, KindSessionNotFound},
	{ErrRecordingNotFound, KindRecordingNotFound},
	{ErrRecordingsDisabled, KindRecordingsDisabled},
}

// KindOf classifies err. Unknown errors are KindInternal.
func KindOf(err error) ErrorKind {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}
