package pubsub

import "fmt"

// Channel naming conventions for the live streaming system.
// Every channel follows {source}:room:{roomID}:to_{target}.
const (
	// Signal -> Media channels
	ChannelSignalToMedia = "signal:room:%s:to_media"

	// Media -> Signal channels
	ChannelMediaToSignal = "media:room:%s:to_signal"

	// Studio -> Signal channels
	ChannelStudioToSignal = "studio:room:%s:to_signal"
)

// Event sources stamped on the envelope.
const (
	SourceStudio = "studio"
)

// Topics backing the channels when the Kafka driver is used.
const (
	TopicSignalToMedia  = "signal-to-media"
	TopicMediaToSignal  = "media-to-signal"
	TopicStudioToSignal = "studio-to-signal"
)

// DefaultTopics lists the topics the Kafka driver ensures exist.
var DefaultTopics = []string{TopicSignalToMedia, TopicMediaToSignal, TopicStudioToSignal}

// Event types for Signal -> Media communication.
const (
	EventStartBroadcast = "start_broadcast"
	EventICECandidate   = "ice_candidate"
	EventStopBroadcast  = "stop_broadcast"
)

// Event types for Media -> Signal communication.
const (
	EventBroadcastAnswer    = "broadcast_answer"
	EventServerICECandidate = "server_ice_candidate"
	EventStreamReady        = "stream_ready"
	EventStreamEnded        = "stream_ended"
)

// Event types for Studio -> Signal communication.
const (
	EventStudioSessionStarted = "studio_session_started"
	EventStudioSessionStopped = "studio_session_stopped"
)

// SignalToMediaChannel returns the channel name for Signal -> Media events.
func SignalToMediaChannel(roomID string) string {
	return fmt.Sprintf(ChannelSignalToMedia, roomID)
}

// MediaToSignalChannel returns the channel name for Media -> Signal events.
func MediaToSignalChannel(roomID string) string {
	return fmt.Sprintf(ChannelMediaToSignal, roomID)
}

// StudioToSignalChannel returns the channel name for Studio -> Signal events.
func StudioToSignalChannel(roomID string) string {
	return fmt.Sprintf(ChannelStudioToSignal, roomID)
}

// Event payloads for Signal -> Media.

// StartBroadcastPayload is sent when a broadcaster starts streaming.
type StartBroadcastPayload struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
	Offer  string `json:"offer"` // SDP JSON
}

// ICECandidatePayload is sent when a broadcaster ICE candidate is gathered.
type ICECandidatePayload struct {
	RoomID    string `json:"room_id"`
	Candidate string `json:"candidate"` // JSON
}

// StopBroadcastPayload is sent when a broadcast should stop.
type StopBroadcastPayload struct {
	RoomID string `json:"room_id"`
	Reason string `json:"reason"` // "manual", "disconnect"
}

// Event payloads for Media -> Signal.

// BroadcastAnswerPayload is sent when the media service creates an SDP answer.
type BroadcastAnswerPayload struct {
	RoomID string `json:"room_id"`
	Answer string `json:"answer"` // SDP JSON
}

// ServerICECandidatePayload is sent when the media service has an ICE candidate.
type ServerICECandidatePayload struct {
	RoomID    string `json:"room_id"`
	Candidate string `json:"candidate"`
}

// StreamEndedPayload is sent when the stream has ended.
type StreamEndedPayload struct {
	RoomID string `json:"room_id"`
}

// Event payloads for Studio -> Signal.

// StudioSessionStartedPayload announces a studio session going live.
type StudioSessionStartedPayload struct {
	RoomID    string `json:"room_id"`
	SessionID string `json:"session_id"`
	Mode      string `json:"mode"`
	Quality   string `json:"quality"`
	Timestamp int64  `json:"timestamp"` // unix millis
}

// StudioSessionStoppedPayload announces the end of a studio session.
type StudioSessionStoppedPayload struct {
	RoomID          string `json:"room_id"`
	SessionID       string `json:"session_id"`
	DurationSeconds int64  `json:"duration_seconds"`
	Reason          string `json:"reason"`
	Timestamp       int64  `json:"timestamp"` // unix millis
}
