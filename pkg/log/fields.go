package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Actor (matches pkg/middleware/auth.go keys)
	FieldSubject = "subject"

	// Service
	FieldService   = "service"
	FieldComponent = "component"

	// Studio
	FieldRoomID    = "room_id"
	FieldSessionID = "session_id"
	FieldState     = "state"
	FieldMode      = "mode"
	FieldQuality   = "quality"
	FieldDeviceID  = "device_id"
	FieldTrackKind = "track_kind"
	FieldArtifact  = "artifact"
)
