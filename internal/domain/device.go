package domain

// DeviceKind identifies the kind of capture input a device provides.
type DeviceKind string

const (
	DeviceKindVideoInput DeviceKind = "video-input"
	DeviceKindAudioInput DeviceKind = "audio-input"
)

// Valid reports whether k is a known device kind.
func (k DeviceKind) Valid() bool {
	return k == DeviceKindVideoInput || k == DeviceKindAudioInput
}

// CaptureDevice is one entry of a device enumeration snapshot.
type CaptureDevice struct {
	ID    string     `json:"id"`
	Kind  DeviceKind `json:"kind"`
	Label string     `json:"label"`
}

// FilterDevices returns the devices of the given kind, preserving order.
func FilterDevices(devices []CaptureDevice, kind DeviceKind) []CaptureDevice {
	var out []CaptureDevice
	for _, d := range devices {
		if d.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}
