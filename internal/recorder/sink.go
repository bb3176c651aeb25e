package recorder

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/weiawesome/wes-io-live/studio-service/internal/capture"
	"github.com/weiawesome/wes-io-live/studio-service/internal/clock"
	pkglog "github.com/weiawesome/wes-io-live/studio-service/pkg/log"
)

const (
	defaultFlushInterval = time.Second
	defaultCloseTimeout  = 5 * time.Second
	defaultExportTimeout = 30 * time.Second
	sampleBuffer         = 256
	pendingLimit         = 1024
)

// ErrNilSession is returned by Stop when given no session.
var ErrNilSession = errors.New("nil recording session")

// Option configures a Sink.
type Option func(*Sink)

// WithFlushInterval sets how often buffered output is cut into a chunk.
func WithFlushInterval(d time.Duration) Option {
	return func(s *Sink) {
		if d > 0 {
			s.flushInterval = d
		}
	}
}

// WithTicker replaces the flush ticker factory.
func WithTicker(fn clock.TickerFunc) Option {
	return func(s *Sink) { s.newTicker = fn }
}

// WithExporter exports every finalized artifact.
func WithExporter(e Exporter) Option {
	return func(s *Sink) { s.exporter = e }
}

// WithExportTimeout bounds a single export.
func WithExportTimeout(d time.Duration) Option {
	return func(s *Sink) {
		if d > 0 {
			s.exportTimeout = d
		}
	}
}

// WithNow replaces the wall clock used for artifact timestamps.
func WithNow(now func() time.Time) Option {
	return func(s *Sink) { s.now = now }
}

// Sink records capture handles into WebM artifacts.
type Sink struct {
	flushInterval time.Duration
	exportTimeout time.Duration
	newTicker     clock.TickerFunc
	exporter      Exporter
	now           func() time.Time
	logger        zerolog.Logger

	mu     sync.Mutex
	active map[*capture.Handle]*Session
}

// NewSink creates a recording sink.
func NewSink(opts ...Option) *Sink {
	s := &Sink{
		flushInterval: defaultFlushInterval,
		exportTimeout: defaultExportTimeout,
		newTicker:     clock.Real,
		now:           time.Now,
		logger:        pkglog.Component("recorder"),
		active:        make(map[*capture.Handle]*Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Session is one recording in progress or finished.
type Session struct {
	id        string
	handle    *capture.Handle
	startedAt time.Time
	logger    zerolog.Logger

	samples     <-chan capture.Sample
	unsubscribe func()
	ticker      clock.Ticker
	buf         *chunkBuffer
	mux         *webmMuxer
	muxFailed   bool
	// pending holds audio that arrived before the first video keyframe.
	pending []capture.Sample

	mu      sync.Mutex
	chunks  [][]byte
	dropped int

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	artifact *Artifact
}

// ID returns the session id given to Start.
func (s *Session) ID() string { return s.id }

// ChunkCount returns how many chunks have been collected so far.
func (s *Session) ChunkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

// Active reports whether the session is still recording.
func (s *Session) Active() bool {
	select {
	case <-s.stop:
		return false
	default:
		return true
	}
}

// Start begins recording h. Starting again while a session for the same
// handle is active returns that session.
func (k *Sink) Start(h *capture.Handle, sessionID string) *Session {
	k.mu.Lock()
	defer k.mu.Unlock()

	if existing, ok := k.active[h]; ok {
		return existing
	}

	samples, unsubscribe := h.Subscribe(sampleBuffer)
	sess := &Session{
		id:          sessionID,
		handle:      h,
		startedAt:   k.now(),
		logger:      k.logger.With().Str(pkglog.FieldSessionID, sessionID).Logger(),
		samples:     samples,
		unsubscribe: unsubscribe,
		ticker:      k.newTicker(k.flushInterval),
		buf:         newChunkBuffer(),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	k.active[h] = sess

	go sess.run()

	sess.logger.Info().Dur("flush_interval", k.flushInterval).Msg("recording started")
	return sess
}

// Stop finalizes the session into an artifact and exports it. Later calls
// return the same artifact. A released handle is tolerated.
func (k *Sink) Stop(ctx context.Context, sess *Session) (*Artifact, error) {
	if sess == nil {
		return nil, ErrNilSession
	}

	sess.stopOnce.Do(func() {
		close(sess.stop)
		<-sess.done
		sess.unsubscribe()

		if sess.mux == nil && len(sess.pending) > 0 {
			sess.openMux(nil)
		}
		if sess.mux != nil {
			if err := sess.mux.close(defaultCloseTimeout); err != nil {
				sess.logger.Warn().Err(err).Msg("webm writer did not close cleanly")
			}
		}
		sess.flush()

		ended := k.now()
		sess.mu.Lock()
		var size int
		for _, c := range sess.chunks {
			size += len(c)
		}
		data := make([]byte, 0, size)
		for _, c := range sess.chunks {
			data = append(data, c...)
		}
		a := &Artifact{
			SessionID: sess.id,
			Name:      ArtifactName(ended),
			MimeType:  WebMMimeType,
			Data:      data,
			Chunks:    len(sess.chunks),
			Size:      int64(size),
			StartedAt: sess.startedAt,
			EndedAt:   ended,
		}
		dropped := sess.dropped
		sess.mu.Unlock()

		k.mu.Lock()
		if k.active[sess.handle] == sess {
			delete(k.active, sess.handle)
		}
		k.mu.Unlock()

		k.export(ctx, sess, a)
		sess.artifact = a

		sess.logger.Info().
			Str(pkglog.FieldArtifact, a.Name).
			Int("chunks", a.Chunks).
			Int64("size", a.Size).
			Int("dropped_samples", dropped).
			Msg("recording finalized")
	})

	return sess.artifact, nil
}

func (k *Sink) export(ctx context.Context, sess *Session, a *Artifact) {
	if k.exporter == nil {
		return
	}
	if a.Size == 0 {
		sess.logger.Warn().Msg("empty recording, skipping export")
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.exportTimeout)
	defer cancel()

	loc, err := k.exporter.Export(ctx, a)
	if err != nil {
		a.ExportError = err.Error()
		sess.logger.Error().Err(err).Str(pkglog.FieldArtifact, a.Name).Msg("failed to export recording")
		return
	}
	a.Location = loc
}

func (s *Session) run() {
	defer close(s.done)
	defer s.ticker.Stop()

	samples := s.samples
	for {
		select {
		case smp, ok := <-samples:
			if !ok {
				// Handle released; keep what was collected.
				samples = nil
				continue
			}
			s.write(smp)
		case <-s.ticker.C():
			// No keyframe within a flush interval: record what there is.
			if s.mux == nil && len(s.pending) > 0 {
				s.openMux(nil)
			}
			s.flush()
		case <-s.stop:
			for {
				select {
				case smp, ok := <-samples:
					if !ok {
						return
					}
					s.write(smp)
				default:
					return
				}
			}
		}
	}
}

func (s *Session) write(smp capture.Sample) {
	if s.muxFailed {
		s.countDropped()
		return
	}
	if s.mux == nil {
		keyframe := smp.Kind == capture.TrackKindVideo && isVP8Keyframe(smp.Data)
		if !keyframe && s.videoUsable() {
			// Video recordings begin on a keyframe. Audio waits for it.
			if smp.Kind != capture.TrackKindAudio {
				s.countDropped()
				return
			}
			s.hold(smp)
			return
		}
		var first []byte
		if keyframe {
			first = smp.Data
		}
		if !s.openMux(first) {
			s.countDropped()
			return
		}
	}
	s.writeBlock(smp)
}

func (s *Session) videoUsable() bool {
	v := s.handle.Video()
	return v != nil && v.Available() && v.Enabled()
}

func (s *Session) hold(smp capture.Sample) {
	if len(s.pending) >= pendingLimit {
		s.pending = s.pending[1:]
		s.countDropped()
	}
	s.pending = append(s.pending, smp)
}

// openMux starts the muxer and writes any held audio ahead of the next
// sample.
func (s *Session) openMux(keyframe []byte) bool {
	mux, err := newWebMMuxer(s.buf, s.handle.Tracks(), s.handle.Quality().Resolution(), keyframe)
	if err != nil {
		s.muxFailed = true
		s.logger.Error().Err(err).Msg("failed to start webm muxer")
		for range s.pending {
			s.countDropped()
		}
		s.pending = nil
		return false
	}
	s.mux = mux
	pending := s.pending
	s.pending = nil
	for _, smp := range pending {
		s.writeBlock(smp)
	}
	return true
}

func (s *Session) writeBlock(smp capture.Sample) {
	if err := s.mux.write(smp); err != nil {
		s.countDropped()
		if !errors.Is(err, errAwaitingKeyframe) {
			s.logger.Debug().Err(err).Str(pkglog.FieldTrackKind, string(smp.Kind)).Msg("failed to write block")
		}
	}
}

func (s *Session) countDropped() {
	s.mu.Lock()
	s.dropped++
	s.mu.Unlock()
}

// flush cuts the bytes muxed since the last flush into a chunk.
func (s *Session) flush() {
	chunk := s.buf.cut()
	if chunk == nil {
		return
	}
	s.mu.Lock()
	s.chunks = append(s.chunks, chunk)
	s.mu.Unlock()
}
