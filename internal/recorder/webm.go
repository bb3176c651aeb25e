package recorder

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/at-wat/ebml-go/webm"
	"github.com/pion/webrtc/v4"

	"github.com/weiawesome/wes-io-live/studio-service/internal/capture"
	"github.com/weiawesome/wes-io-live/studio-service/internal/domain"
)

// WebMMimeType is the container type of every recording.
const WebMMimeType = "video/webm"

var (
	errNoTracks         = errors.New("no recordable tracks")
	errAwaitingKeyframe = errors.New("video waiting for keyframe")
)

// chunkBuffer collects muxer output and hands it out in cuts.
type chunkBuffer struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	closed  chan struct{}
	closeMu sync.Once
}

func newChunkBuffer() *chunkBuffer {
	return &chunkBuffer{closed: make(chan struct{})}
}

func (c *chunkBuffer) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

// Close is called by the muxer once its last block is written.
func (c *chunkBuffer) Close() error {
	c.closeMu.Do(func() { close(c.closed) })
	return nil
}

// cut returns and clears the bytes written since the last cut.
func (c *chunkBuffer) cut() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.buf.Len() == 0 {
		return nil
	}
	out := make([]byte, c.buf.Len())
	copy(out, c.buf.Bytes())
	c.buf.Reset()
	return out
}

// webmMuxer writes capture samples as WebM simple blocks.
type webmMuxer struct {
	out     *chunkBuffer
	writers map[capture.TrackKind]webm.BlockWriteCloser
	elapsed map[capture.TrackKind]time.Duration
	blocks  int

	videoStarted bool
}

func codecID(mimeType string) (string, bool) {
	switch strings.ToLower(mimeType) {
	case strings.ToLower(webrtc.MimeTypeVP8):
		return "V_VP8", true
	case strings.ToLower(webrtc.MimeTypeOpus):
		return "A_OPUS", true
	}
	return "", false
}

// newWebMMuxer creates a muxer for the handle's tracks. Video dimensions
// come from the first keyframe when it carries them, else from res.
func newWebMMuxer(out *chunkBuffer, tracks []*capture.Track, res domain.Resolution, keyframe []byte) (*webmMuxer, error) {
	width, height := uint64(res.Width), uint64(res.Height)
	if w, h, ok := vp8Dimensions(keyframe); ok {
		width, height = uint64(w), uint64(h)
	}

	var (
		entries []webm.TrackEntry
		kinds   []capture.TrackKind
	)
	for _, t := range tracks {
		id, ok := codecID(t.MimeType())
		if !ok {
			continue
		}
		n := uint64(len(entries) + 1)
		entry := webm.TrackEntry{
			Name:        string(t.Kind()),
			TrackNumber: n,
			TrackUID:    n,
			CodecID:     id,
		}
		switch t.Kind() {
		case capture.TrackKindVideo:
			entry.TrackType = 1
			entry.DefaultDuration = uint64(capture.FrameDuration(res.FrameRate).Nanoseconds())
			entry.Video = &webm.Video{PixelWidth: width, PixelHeight: height}
		case capture.TrackKindAudio:
			entry.TrackType = 2
			entry.DefaultDuration = uint64((20 * time.Millisecond).Nanoseconds())
			entry.Audio = &webm.Audio{SamplingFrequency: 48000.0, Channels: 2}
		}
		entries = append(entries, entry)
		kinds = append(kinds, t.Kind())
	}
	if len(entries) == 0 {
		return nil, errNoTracks
	}

	ws, err := webm.NewSimpleBlockWriter(out, entries)
	if err != nil {
		return nil, fmt.Errorf("failed to create webm writer: %w", err)
	}

	m := &webmMuxer{
		out:     out,
		writers: make(map[capture.TrackKind]webm.BlockWriteCloser, len(ws)),
		elapsed: make(map[capture.TrackKind]time.Duration, len(ws)),
	}
	for i, w := range ws {
		m.writers[kinds[i]] = w
	}
	return m, nil
}

func (m *webmMuxer) write(s capture.Sample) error {
	w, ok := m.writers[s.Kind]
	if !ok {
		return nil
	}
	keyframe := true
	if s.Kind == capture.TrackKindVideo {
		keyframe = isVP8Keyframe(s.Data)
		if !m.videoStarted {
			if !keyframe {
				return errAwaitingKeyframe
			}
			// Video joining after audio starts where audio is.
			m.videoStarted = true
			if a := m.elapsed[capture.TrackKindAudio]; a > m.elapsed[s.Kind] {
				m.elapsed[s.Kind] = a
			}
		}
	}

	ts := m.elapsed[s.Kind]
	m.elapsed[s.Kind] = ts + s.Duration
	if _, err := w.Write(keyframe, ts.Milliseconds(), s.Data); err != nil {
		return err
	}
	m.blocks++
	return nil
}

// close finishes every track and waits up to timeout for the final bytes.
func (m *webmMuxer) close(timeout time.Duration) error {
	var errs []error
	for _, w := range m.writers {
		errs = append(errs, w.Close())
	}
	select {
	case <-m.out.closed:
	case <-time.After(timeout):
		errs = append(errs, errors.New("timed out waiting for webm writer"))
	}
	return errors.Join(errs...)
}

// isVP8Keyframe reads the inverse key-frame bit of the VP8 frame tag.
func isVP8Keyframe(b []byte) bool {
	return len(b) > 0 && b[0]&0x01 == 0
}

// vp8Dimensions parses width and height from a VP8 keyframe header.
func vp8Dimensions(b []byte) (int, int, bool) {
	if len(b) < 10 || !isVP8Keyframe(b) || b[3] != 0x9d || b[4] != 0x01 || b[5] != 0x2a {
		return 0, 0, false
	}
	w := int(b[6]) | int(b[7])<<8
	h := int(b[8]) | int(b[9])<<8
	return w & 0x3fff, h & 0x3fff, true
}
