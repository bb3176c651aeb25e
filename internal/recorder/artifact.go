package recorder

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// Artifact is the finalized recording of one session.
type Artifact struct {
	SessionID   string    `json:"session_id"`
	Name        string    `json:"name"`
	MimeType    string    `json:"mime_type"`
	Data        []byte    `json:"-"`
	Chunks      int       `json:"chunks"`
	Size        int64     `json:"size"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
	Location    string    `json:"location,omitempty"`
	ExportError string    `json:"export_error,omitempty"`
}

// ArtifactName returns the download name for a recording finalized at t.
func ArtifactName(t time.Time) string {
	return fmt.Sprintf("stream-%d.webm", t.UnixMilli())
}

// cleanPrefix reduces a storage prefix to its slash-free form, so
// "/recordings/" and "recordings" name the same keys.
func cleanPrefix(prefix string) string {
	return strings.Trim(path.Clean("/"+prefix), "/")
}

// Key returns the storage key of the artifact under prefix.
func (a *Artifact) Key(prefix string) string {
	return path.Join(prefix, a.SessionID, a.Name)
}

// Duration returns the wall-clock span of the recording.
func (a *Artifact) Duration() time.Duration {
	return a.EndedAt.Sub(a.StartedAt)
}
