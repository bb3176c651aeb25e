package domain

import "fmt"

// QualityProfile names a resolution/frame-rate preset.
type QualityProfile string

const (
	QualityLow    QualityProfile = "low"
	QualityMedium QualityProfile = "medium"
	QualityHigh   QualityProfile = "high"
)

// Resolution is the fixed (width, height, frameRate) triple of a quality profile.
type Resolution struct {
	Width     int `json:"width"`
	Height    int `json:"height"`
	FrameRate int `json:"frame_rate"`
}

var resolutions = map[QualityProfile]Resolution{
	QualityLow:    {Width: 640, Height: 480, FrameRate: 15},
	QualityMedium: {Width: 1280, Height: 720, FrameRate: 30},
	QualityHigh:   {Width: 1920, Height: 1080, FrameRate: 30},
}

// Resolution returns the triple for q. Unknown profiles fall back to medium.
func (q QualityProfile) Resolution() Resolution {
	if r, ok := resolutions[q]; ok {
		return r
	}
	return resolutions[QualityMedium]
}

// Valid reports whether q is a known profile.
func (q QualityProfile) Valid() bool {
	_, ok := resolutions[q]
	return ok
}

// ParseQuality parses a profile name.
func ParseQuality(s string) (QualityProfile, error) {
	q := QualityProfile(s)
	if !q.Valid() {
		return "", fmt.Errorf("%w: unknown quality %q", ErrInvalidSetting, s)
	}
	return q, nil
}

// CaptureMode selects what is captured for a session.
type CaptureMode string

const (
	CaptureModeCamera CaptureMode = "camera"
	CaptureModeScreen CaptureMode = "screen"
)

// Valid reports whether m is a known capture mode.
func (m CaptureMode) Valid() bool {
	return m == CaptureModeCamera || m == CaptureModeScreen
}

// ParseMode parses a capture mode name.
func ParseMode(s string) (CaptureMode, error) {
	m := CaptureMode(s)
	if !m.Valid() {
		return "", fmt.Errorf("%w: unknown mode %q", ErrInvalidSetting, s)
	}
	return m, nil
}
