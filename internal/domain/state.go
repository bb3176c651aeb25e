package domain

// SessionState represents the state of the studio broadcast session.
type SessionState string

const (
	SessionStateIdle       SessionState = "idle"
	SessionStateConnecting SessionState = "connecting"
	SessionStateLive       SessionState = "live"
	SessionStateStopping   SessionState = "stopping"
)

// IsActive reports whether a session is in progress (a capture handle may exist).
func (s SessionState) IsActive() bool {
	return s == SessionStateConnecting || s == SessionStateLive || s == SessionStateStopping
}

// CanStart reports whether Start is legal from this state.
func (s SessionState) CanStart() bool {
	return s == SessionStateIdle
}

// CanStop reports whether Stop is legal from this state.
func (s SessionState) CanStop() bool {
	return s == SessionStateConnecting || s == SessionStateLive
}
