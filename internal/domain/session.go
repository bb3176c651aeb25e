package domain

import "time"

// Snapshot is the observable state of the studio at one instant.
type Snapshot struct {
	State           SessionState   `json:"state"`
	SessionID       string         `json:"session_id,omitempty"`
	RoomID          string         `json:"room_id"`
	Mode            CaptureMode    `json:"mode"`
	Quality         QualityProfile `json:"quality"`
	VideoDeviceID   string         `json:"video_device_id,omitempty"`
	AudioDeviceID   string         `json:"audio_device_id,omitempty"`
	VideoEnabled    bool           `json:"video_enabled"`
	AudioEnabled    bool           `json:"audio_enabled"`
	VideoAvailable  bool           `json:"video_available"`
	AudioAvailable  bool           `json:"audio_available"`
	DurationSeconds int64          `json:"duration_seconds"`
	TimerPaused     bool           `json:"timer_paused"`
	Recording       bool           `json:"recording"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
}

// RecordStatus is the lifecycle status of a persisted session record.
type RecordStatus string

const (
	RecordStatusLive      RecordStatus = "live"
	RecordStatusCompleted RecordStatus = "completed"
	RecordStatusFailed    RecordStatus = "failed"
	// RecordStatusInterrupted marks a live record left behind by a process
	// that exited without stopping its session.
	RecordStatusInterrupted RecordStatus = "interrupted"
)

// SessionRecord describes one broadcast session for other services and history.
type SessionRecord struct {
	SessionID        string         `json:"session_id"`
	RoomID           string         `json:"room_id"`
	Mode             CaptureMode    `json:"mode"`
	Quality          QualityProfile `json:"quality"`
	Status           RecordStatus   `json:"status"`
	StartedAt        time.Time      `json:"started_at"`
	EndedAt          *time.Time     `json:"ended_at,omitempty"`
	DurationSeconds  int64          `json:"duration_seconds"`
	ArtifactName     string         `json:"artifact_name,omitempty"`
	ArtifactSize     int64          `json:"artifact_size,omitempty"`
	ArtifactLocation string         `json:"artifact_location,omitempty"`
	Error            string         `json:"error,omitempty"`
}

// IsLive reports whether the record describes a session still on air.
func (r *SessionRecord) IsLive() bool {
	return r.Status == RecordStatusLive
}

// Event types emitted to state subscribers.
const (
	EventStateChanged   = "state_changed"
	EventDuration       = "duration"
	EventTrackChanged   = "track_changed"
	EventDevicesChanged = "devices_changed"
	EventError          = "error"
)

// Event is a change notification for the control surface.
type Event struct {
	Type      string    `json:"type"`
	Snapshot  Snapshot  `json:"snapshot"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
