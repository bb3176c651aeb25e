package capture

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/weiawesome/wes-io-live/studio-service/internal/domain"
	pkglog "github.com/weiawesome/wes-io-live/studio-service/pkg/log"
)

// opusSilence is a 20 ms Opus frame that decodes to silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// Track is one live track of a handle.
type Track struct {
	kind     TrackKind
	mimeType string
	deviceID string
	label    string
	source   Source

	enabled   atomic.Bool
	available atomic.Bool
	samples   atomic.Int64
}

func newTrack(spec TrackSpec) *Track {
	t := &Track{
		kind:     spec.Kind,
		mimeType: spec.MimeType,
		deviceID: spec.DeviceID,
		label:    spec.Label,
		source:   spec.Source,
	}
	t.enabled.Store(true)
	t.available.Store(true)
	return t
}

func (t *Track) Kind() TrackKind    { return t.kind }
func (t *Track) MimeType() string   { return t.mimeType }
func (t *Track) DeviceID() string   { return t.deviceID }
func (t *Track) Label() string      { return t.label }
func (t *Track) Enabled() bool      { return t.enabled.Load() }
func (t *Track) Available() bool    { return t.available.Load() }
func (t *Track) SampleCount() int64 { return t.samples.Load() }

// Handle owns the tracks of one acquisition. It pumps every track source,
// applies the enabled flags and fans samples out to subscribers.
type Handle struct {
	mode    domain.CaptureMode
	quality domain.QualityProfile
	video   *Track
	audio   *Track
	logger  zerolog.Logger

	mu       sync.Mutex
	subs     map[int]chan Sample
	nextSub  int
	onEnded  func(TrackKind, error)
	released bool

	closed      chan struct{}
	releaseOnce sync.Once
	wg          sync.WaitGroup
}

// NewHandle builds a handle from acquired tracks and starts pumping them.
// At most one track of each kind is kept; extra tracks are closed.
func NewHandle(mode domain.CaptureMode, quality domain.QualityProfile, specs []TrackSpec) *Handle {
	h := &Handle{
		mode:    mode,
		quality: quality,
		logger:  pkglog.Component("capture"),
		subs:    make(map[int]chan Sample),
		closed:  make(chan struct{}),
	}

	for _, spec := range specs {
		switch {
		case spec.Kind == TrackKindVideo && h.video == nil:
			h.video = newTrack(spec)
		case spec.Kind == TrackKindAudio && h.audio == nil:
			h.audio = newTrack(spec)
		default:
			spec.Source.Close()
		}
	}

	for _, t := range h.Tracks() {
		h.wg.Add(1)
		go h.pump(t)
	}
	return h
}

func (h *Handle) Mode() domain.CaptureMode       { return h.mode }
func (h *Handle) Quality() domain.QualityProfile { return h.quality }
func (h *Handle) Video() *Track                  { return h.video }
func (h *Handle) Audio() *Track                  { return h.audio }

// Tracks returns the present tracks, video first.
func (h *Handle) Tracks() []*Track {
	var out []*Track
	if h.video != nil {
		out = append(out, h.video)
	}
	if h.audio != nil {
		out = append(out, h.audio)
	}
	return out
}

// Track returns the track of the given kind, or nil.
func (h *Handle) Track(kind TrackKind) *Track {
	switch kind {
	case TrackKindVideo:
		return h.video
	case TrackKindAudio:
		return h.audio
	}
	return nil
}

// Toggle flips the enabled flag of the track of the given kind in place.
// It returns the new flag and false when there is no usable track of that kind.
func (h *Handle) Toggle(kind TrackKind) (bool, bool) {
	t := h.Track(kind)
	if t == nil || !t.Available() || h.Released() {
		return false, false
	}
	for {
		old := t.enabled.Load()
		if t.enabled.CompareAndSwap(old, !old) {
			return !old, true
		}
	}
}

// OnTrackEnded registers fn to run when a track's source fails.
// fn runs on the pump goroutine and must not call Release.
func (h *Handle) OnTrackEnded(fn func(kind TrackKind, err error)) {
	h.mu.Lock()
	h.onEnded = fn
	h.mu.Unlock()
}

// Subscribe returns a channel receiving every sample and a cancel func.
// Samples are dropped for a subscriber whose buffer is full.
// The channel is closed on cancel or when the handle is released.
func (h *Handle) Subscribe(buffer int) (<-chan Sample, func()) {
	ch := make(chan Sample, buffer)

	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := h.nextSub
	h.nextSub++
	h.subs[id] = ch
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
	}
}

// Released reports whether Release has been called.
func (h *Handle) Released() bool {
	select {
	case <-h.closed:
		return true
	default:
		return false
	}
}

// Done is closed once Release starts.
func (h *Handle) Done() <-chan struct{} {
	return h.closed
}

// Release stops every source, waits for the pumps and closes all subscriber
// channels. Only the first call has an effect.
func (h *Handle) Release() {
	h.releaseOnce.Do(func() {
		close(h.closed)
		for _, t := range h.Tracks() {
			if err := t.source.Close(); err != nil {
				h.logger.Debug().Err(err).Str(pkglog.FieldTrackKind, string(t.kind)).Msg("source close failed")
			}
			t.enabled.Store(false)
		}
		h.wg.Wait()

		h.mu.Lock()
		h.released = true
		for id, ch := range h.subs {
			delete(h.subs, id)
			close(ch)
		}
		h.mu.Unlock()

		h.logger.Debug().Msg("capture handle released")
	})
}

func (h *Handle) pump(t *Track) {
	defer h.wg.Done()

	for {
		s, err := t.source.ReadSample()
		if err != nil {
			if h.Released() {
				return
			}
			t.available.Store(false)
			t.enabled.Store(false)
			h.logger.Warn().Err(err).Str(pkglog.FieldTrackKind, string(t.kind)).Msg("capture track ended")

			h.mu.Lock()
			fn := h.onEnded
			h.mu.Unlock()
			if fn != nil {
				fn(t.kind, err)
			}
			return
		}

		if !t.Enabled() {
			if t.kind == TrackKindVideo {
				continue
			}
			s.Data = silence(t.mimeType, len(s.Data))
		}
		t.samples.Add(1)
		h.broadcast(Sample{Kind: t.kind, MimeType: t.mimeType, Sample: s})
	}
}

func (h *Handle) broadcast(s Sample) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs {
		select {
		case ch <- s:
		default:
			// Channel full, skip sample
		}
	}
}

// silence returns the muted payload for an audio codec: the Opus silence
// frame, or zeroed PCM of the same length.
func silence(mimeType string, n int) []byte {
	if strings.EqualFold(mimeType, webrtc.MimeTypeOpus) {
		out := make([]byte, len(opusSilence))
		copy(out, opusSilence)
		return out
	}
	return make([]byte, n)
}
