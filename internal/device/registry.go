package device

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/weiawesome/wes-io-live/studio-service/internal/domain"
	pkglog "github.com/weiawesome/wes-io-live/studio-service/pkg/log"
)

// Enumerator lists the capture devices the host currently exposes.
// Implementations return domain.ErrDeviceAccess when listing is not permitted.
type Enumerator interface {
	EnumerateDevices(ctx context.Context) ([]domain.CaptureDevice, error)
}

// Registry keeps the last enumeration snapshot and resolves device ids against it.
type Registry struct {
	enum     Enumerator
	mu       sync.RWMutex
	snapshot []domain.CaptureDevice
	stale    bool
	logger   zerolog.Logger
}

// NewRegistry creates a registry backed by enum. No enumeration happens until ListDevices.
func NewRegistry(enum Enumerator) *Registry {
	return &Registry{
		enum:   enum,
		stale:  true,
		logger: pkglog.Component("device"),
	}
}

// ListDevices takes a fresh snapshot from the host and retains it for Resolve.
func (r *Registry) ListDevices(ctx context.Context) ([]domain.CaptureDevice, error) {
	devices, err := r.enum.EnumerateDevices(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrDeviceAccess) {
			return nil, err
		}
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}

	snapshot := make([]domain.CaptureDevice, 0, len(devices))
	for _, d := range devices {
		if !d.Kind.Valid() || d.ID == "" {
			continue
		}
		snapshot = append(snapshot, d)
	}

	r.mu.Lock()
	r.snapshot = snapshot
	r.stale = false
	r.mu.Unlock()

	r.logger.Debug().Int("count", len(snapshot)).Msg("devices enumerated")
	return cloneDevices(snapshot), nil
}

// Snapshot returns the last enumeration without querying the host.
func (r *Registry) Snapshot() []domain.CaptureDevice {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneDevices(r.snapshot)
}

// Stale reports whether the retained snapshot may no longer match the host.
func (r *Registry) Stale() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stale
}

// Invalidate marks the retained snapshot stale. The next ResolveFresh re-enumerates.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	r.stale = true
	r.mu.Unlock()
}

// Resolve looks id up in the last snapshot. An empty id means "host default"
// and resolves to a device with only Kind set.
func (r *Registry) Resolve(id string, kind domain.DeviceKind) (domain.CaptureDevice, error) {
	if id == "" {
		return domain.CaptureDevice{Kind: kind}, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, d := range r.snapshot {
		if d.ID == id && d.Kind == kind {
			return d, nil
		}
	}
	return domain.CaptureDevice{}, fmt.Errorf("%w: %s %s", domain.ErrDeviceNotFound, kind, id)
}

// ResolveFresh resolves id, re-enumerating once when the id is missing or the
// snapshot was invalidated.
func (r *Registry) ResolveFresh(ctx context.Context, id string, kind domain.DeviceKind) (domain.CaptureDevice, error) {
	if !r.Stale() {
		d, err := r.Resolve(id, kind)
		if err == nil || !errors.Is(err, domain.ErrDeviceNotFound) {
			return d, err
		}
	}
	if id == "" {
		return domain.CaptureDevice{Kind: kind}, nil
	}

	r.logger.Debug().Str(pkglog.FieldDeviceID, id).Msg("device not in snapshot, re-enumerating")
	if _, err := r.ListDevices(ctx); err != nil {
		return domain.CaptureDevice{}, err
	}
	return r.Resolve(id, kind)
}

func cloneDevices(in []domain.CaptureDevice) []domain.CaptureDevice {
	out := make([]domain.CaptureDevice, len(in))
	copy(out, in)
	return out
}
