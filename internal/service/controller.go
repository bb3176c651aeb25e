package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/weiawesome/wes-io-live/studio-service/internal/capture"
	"github.com/weiawesome/wes-io-live/studio-service/internal/clock"
	"github.com/weiawesome/wes-io-live/studio-service/internal/domain"
	"github.com/weiawesome/wes-io-live/studio-service/internal/recorder"
	pkglog "github.com/weiawesome/wes-io-live/studio-service/pkg/log"
)

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("studio controller closed")

const (
	defaultTickInterval = time.Second
	defaultHistoryLimit = 100
)

// ControllerConfig holds the initial settings of a controller.
type ControllerConfig struct {
	RoomID        string
	Mode          domain.CaptureMode
	Quality       domain.QualityProfile
	VideoDeviceID string
	AudioDeviceID string
	TickInterval  time.Duration
	// HistoryLimit caps the finished records kept per room; 0 uses the
	// default and a negative value keeps every record.
	HistoryLimit int
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithRecorder records every session. Without it sessions are not recorded.
func WithRecorder(r Recorder) ControllerOption {
	return func(c *Controller) {
		c.recorder = r
	}
}

// WithSessionStore persists session records to store.
func WithSessionStore(store SessionStore) ControllerOption {
	return func(c *Controller) {
		c.store = store
	}
}

// WithPublishSink notifies sink on session start and stop.
func WithPublishSink(sink PublishSink) ControllerOption {
	return func(c *Controller) {
		c.sink = sink
	}
}

// WithTicker replaces the duration ticker factory.
func WithTicker(fn clock.TickerFunc) ControllerOption {
	return func(c *Controller) {
		c.newTicker = fn
	}
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) ControllerOption {
	return func(c *Controller) {
		c.now = now
	}
}

// WithIDGenerator replaces the session id generator.
func WithIDGenerator(fn func() string) ControllerOption {
	return func(c *Controller) {
		c.newID = fn
	}
}

// Controller is the session state machine of one studio:
// idle -> connecting -> live -> stopping -> idle, and connecting -> idle.
// It owns at most one capture handle and one recording at a time.
type Controller struct {
	roomID       string
	tickInterval time.Duration
	historyLimit int
	registry     DeviceRegistry
	acquirer     Acquirer
	recorder     Recorder
	store        SessionStore
	sink         PublishSink
	newTicker    clock.TickerFunc
	now          func() time.Time
	newID        func() string
	logger       zerolog.Logger

	mu            sync.Mutex
	state         domain.SessionState
	mode          domain.CaptureMode
	quality       domain.QualityProfile
	videoDeviceID string
	audioDeviceID string
	sessionID     string
	startedAt     time.Time
	handle        *capture.Handle
	recording     *recorder.Session
	duration      int64
	timerPaused   bool
	cancelAcquire context.CancelFunc
	startDone     chan struct{}
	timerStop     chan struct{}
	timerDone     chan struct{}
	closed        bool

	// notifyMu orders record writes and sink calls of one session.
	notifyMu   sync.Mutex
	notifiedID string

	subsMu     sync.Mutex
	subs       map[int]chan domain.Event
	nextSub    int
	subsClosed bool
}

// NewController creates an idle controller.
func NewController(cfg ControllerConfig, registry DeviceRegistry, acquirer Acquirer, opts ...ControllerOption) *Controller {
	c := &Controller{
		roomID:        cfg.RoomID,
		tickInterval:  cfg.TickInterval,
		historyLimit:  cfg.HistoryLimit,
		registry:      registry,
		acquirer:      acquirer,
		newTicker:     clock.Real,
		now:           time.Now,
		newID:         uuid.NewString,
		state:         domain.SessionStateIdle,
		mode:          cfg.Mode,
		quality:       cfg.Quality,
		videoDeviceID: cfg.VideoDeviceID,
		audioDeviceID: cfg.AudioDeviceID,
		subs:          make(map[int]chan domain.Event),
	}
	if c.tickInterval <= 0 {
		c.tickInterval = defaultTickInterval
	}
	if c.historyLimit == 0 {
		c.historyLimit = defaultHistoryLimit
	}
	if !c.mode.Valid() {
		c.mode = domain.CaptureModeCamera
	}
	if !c.quality.Valid() {
		c.quality = domain.QualityMedium
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.store == nil {
		c.store = NewMemorySessionStore()
	}
	if c.sink == nil {
		c.sink = NewMultiSink()
	}
	c.logger = pkglog.Component("controller").With().Str(pkglog.FieldRoomID, c.roomID).Logger()
	return c
}

// RoomID returns the room the studio broadcasts to.
func (c *Controller) RoomID() string {
	return c.roomID
}

// Start acquires capture for the current settings and goes live. It blocks
// while connecting; Stop or cancelling ctx aborts the acquisition.
func (c *Controller) Start(ctx context.Context) (domain.Snapshot, error) {
	c.mu.Lock()
	if c.closed {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, ErrClosed
	}
	if !c.state.CanStart() {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, domain.ErrSessionActive
	}

	sessionID := c.newID()
	req := capture.Request{
		Mode:          c.mode,
		Quality:       c.quality,
		VideoDeviceID: c.videoDeviceID,
		AudioDeviceID: c.audioDeviceID,
	}
	acqCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	c.state = domain.SessionStateConnecting
	c.sessionID = sessionID
	c.cancelAcquire = cancel
	c.startDone = done
	c.emitLocked(domain.EventStateChanged)
	c.mu.Unlock()

	defer close(done)
	defer cancel()

	logger := c.logger.With().Str(pkglog.FieldSessionID, sessionID).Logger()
	logger.Info().
		Str(pkglog.FieldMode, string(req.Mode)).
		Str(pkglog.FieldQuality, string(req.Quality)).
		Msg("acquiring capture")

	handle, err := c.acquire(acqCtx, req)

	// Stop cancels under c.mu, so a cancellation seen here is final.
	c.mu.Lock()
	var aborted *capture.Handle
	if err == nil && acqCtx.Err() != nil {
		aborted = handle
		err = fmt.Errorf("%w: %v", domain.ErrCaptureAborted, acqCtx.Err())
	}
	if err != nil {
		c.resetLocked()
		c.emitErrorLocked(err)
		c.emitLocked(domain.EventStateChanged)
		snap := c.snapshotLocked()
		c.mu.Unlock()

		if aborted != nil {
			aborted.Release()
		}

		logger.Warn().Err(err).Str("error_kind", string(domain.KindOf(err))).Msg("capture acquisition failed")
		return snap, err
	}

	handle.OnTrackEnded(func(kind capture.TrackKind, err error) {
		c.onTrackEnded(handle, kind, err)
	})

	startedAt := c.now()
	c.handle = handle
	c.startedAt = startedAt
	c.duration = 0
	c.timerPaused = false
	c.cancelAcquire = nil
	if c.recorder != nil {
		c.recording = c.recorder.Start(handle, sessionID)
	}
	c.state = domain.SessionStateLive
	c.startTimerLocked()
	c.emitLocked(domain.EventStateChanged)
	snap := c.snapshotLocked()
	c.mu.Unlock()

	logger.Info().Bool("recording", c.recorder != nil).Msg("session live")

	c.notifyStart(ctx, SessionStartInfo{
		SessionID: sessionID,
		RoomID:    c.roomID,
		Mode:      req.Mode,
		Quality:   req.Quality,
		StartedAt: startedAt,
		Handle:    handle,
	})
	return snap, nil
}

// acquire resolves the selected devices, then opens capture.
func (c *Controller) acquire(ctx context.Context, req capture.Request) (*capture.Handle, error) {
	if req.Mode == domain.CaptureModeCamera {
		if _, err := c.registry.ResolveFresh(ctx, req.VideoDeviceID, domain.DeviceKindVideoInput); err != nil {
			return nil, err
		}
		if _, err := c.registry.ResolveFresh(ctx, req.AudioDeviceID, domain.DeviceKindAudioInput); err != nil {
			return nil, err
		}
	}
	return c.acquirer.Acquire(ctx, req)
}

// Stop ends the live session: duration timer, then recording, then capture.
// While connecting it cancels the acquisition and waits for Start to return.
func (c *Controller) Stop(ctx context.Context) (*recorder.Artifact, error) {
	return c.stop(ctx, StopReasonManual)
}

func (c *Controller) stop(ctx context.Context, reason string) (*recorder.Artifact, error) {
	c.mu.Lock()
	switch c.state {
	case domain.SessionStateConnecting:
		done := c.startDone
		c.cancelAcquire()
		c.mu.Unlock()

		c.logger.Info().Str("reason", reason).Msg("cancelled pending acquisition")
		<-done
		return nil, nil
	case domain.SessionStateLive:
	default:
		c.mu.Unlock()
		return nil, domain.ErrNotActive
	}

	sessionID := c.sessionID
	handle := c.handle
	rec := c.recording
	startedAt := c.startedAt
	c.state = domain.SessionStateStopping
	timerDone := c.stopTimerLocked()
	c.emitLocked(domain.EventStateChanged)
	c.mu.Unlock()

	logger := c.logger.With().Str(pkglog.FieldSessionID, sessionID).Logger()

	if timerDone != nil {
		<-timerDone
	}

	var artifact *recorder.Artifact
	if rec != nil {
		a, err := c.recorder.Stop(ctx, rec)
		if err != nil {
			logger.Error().Err(err).Msg("failed to finalize recording")
		} else {
			artifact = a
		}
	}

	handle.Release()

	endedAt := c.now()
	c.mu.Lock()
	duration := c.duration
	c.resetLocked()
	c.emitLocked(domain.EventStateChanged)
	c.mu.Unlock()

	logger.Info().Int64("duration_seconds", duration).Str("reason", reason).Msg("session stopped")

	record := &domain.SessionRecord{
		SessionID:       sessionID,
		RoomID:          c.roomID,
		Mode:            handle.Mode(),
		Quality:         handle.Quality(),
		Status:          domain.RecordStatusCompleted,
		StartedAt:       startedAt,
		EndedAt:         &endedAt,
		DurationSeconds: duration,
	}
	if artifact != nil {
		record.ArtifactName = artifact.Name
		record.ArtifactSize = artifact.Size
		record.ArtifactLocation = artifact.Location
		record.Error = artifact.ExportError
	}

	c.notifyStop(ctx, record, SessionStopInfo{
		SessionID:       sessionID,
		RoomID:          c.roomID,
		DurationSeconds: duration,
		EndedAt:         endedAt,
		Reason:          reason,
		Artifact:        artifact,
	})
	return artifact, nil
}

// notifyStart saves the live record and tells the sinks, unless the session
// already ended.
func (c *Controller) notifyStart(ctx context.Context, info SessionStartInfo) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	current := c.sessionID == info.SessionID && c.state == domain.SessionStateLive
	c.mu.Unlock()
	if !current {
		return
	}

	ctx = pkglog.WithSession(context.WithoutCancel(ctx), info.RoomID, info.SessionID)
	c.saveRecord(ctx, &domain.SessionRecord{
		SessionID: info.SessionID,
		RoomID:    info.RoomID,
		Mode:      info.Mode,
		Quality:   info.Quality,
		Status:    domain.RecordStatusLive,
		StartedAt: info.StartedAt,
	})

	c.notifiedID = info.SessionID
	if err := c.sink.OnSessionStart(ctx, info); err != nil {
		l := pkglog.Ctx(ctx)
		l.Warn().Err(err).Msg("publish sink rejected session start")
	}
}

func (c *Controller) notifyStop(ctx context.Context, record *domain.SessionRecord, info SessionStopInfo) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	ctx = pkglog.WithSession(context.WithoutCancel(ctx), info.RoomID, info.SessionID)
	c.saveRecord(ctx, record)
	c.pruneHistory(ctx)

	if c.notifiedID != info.SessionID {
		return
	}
	c.notifiedID = ""
	if err := c.sink.OnSessionStop(ctx, info); err != nil {
		l := pkglog.Ctx(ctx)
		l.Warn().Err(err).Msg("publish sink rejected session stop")
	}
}

// pruneHistory deletes the oldest finished records beyond the history limit.
func (c *Controller) pruneHistory(ctx context.Context) {
	if c.historyLimit < 0 {
		return
	}
	l := pkglog.Ctx(ctx)

	records, err := c.store.List(ctx, c.roomID, 0)
	if err != nil {
		l.Warn().Err(err).Msg("failed to list session history")
		return
	}
	kept := 0
	for _, r := range records {
		if r.IsLive() {
			continue
		}
		kept++
		if kept <= c.historyLimit {
			continue
		}
		if err := c.store.Delete(ctx, r.SessionID); err != nil {
			l.Warn().Err(err).Str(pkglog.FieldSessionID, r.SessionID).Msg("failed to prune session record")
			return
		}
	}
}

func (c *Controller) saveRecord(ctx context.Context, record *domain.SessionRecord) {
	if err := c.store.Save(ctx, record); err != nil {
		l := pkglog.Ctx(ctx)
		l.Error().Err(err).Str("status", string(record.Status)).Msg("failed to save session record")
	}
}

// ToggleVideo flips the video track. It returns false when no session holds a video track.
func (c *Controller) ToggleVideo() bool {
	return c.toggle(capture.TrackKindVideo)
}

// ToggleAudio flips the audio track. It returns false when no session holds an audio track.
func (c *Controller) ToggleAudio() bool {
	return c.toggle(capture.TrackKindAudio)
}

func (c *Controller) toggle(kind capture.TrackKind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle == nil {
		return false
	}
	enabled, ok := c.handle.Toggle(kind)
	if !ok {
		return false
	}

	c.logger.Info().
		Str(pkglog.FieldSessionID, c.sessionID).
		Str(pkglog.FieldTrackKind, string(kind)).
		Bool("enabled", enabled).
		Msg("track toggled")
	c.emitLocked(domain.EventTrackChanged)
	return true
}

// PauseTimer stops duration counting. Capture and recording continue.
func (c *Controller) PauseTimer() error {
	return c.setTimerPaused(true)
}

// ResumeTimer resumes duration counting.
func (c *Controller) ResumeTimer() error {
	return c.setTimerPaused(false)
}

func (c *Controller) setTimerPaused(paused bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != domain.SessionStateLive {
		return domain.ErrNotActive
	}
	if c.timerPaused == paused {
		return nil
	}
	c.timerPaused = paused
	c.emitLocked(domain.EventStateChanged)
	return nil
}

// ApplySettings changes the settings used by the next Start. Device ids are
// checked against the host, re-enumerating once when unknown.
func (c *Controller) ApplySettings(ctx context.Context, s Settings) (domain.Snapshot, error) {
	if s.Mode != nil && !s.Mode.Valid() {
		return c.Snapshot(), fmt.Errorf("%w: unknown mode %q", domain.ErrInvalidSetting, *s.Mode)
	}
	if s.Quality != nil && !s.Quality.Valid() {
		return c.Snapshot(), fmt.Errorf("%w: unknown quality %q", domain.ErrInvalidSetting, *s.Quality)
	}

	if snap, locked := c.settingsLocked(); locked {
		return snap, domain.ErrSettingsLocked
	}

	if s.VideoDeviceID != nil && *s.VideoDeviceID != "" {
		if _, err := c.registry.ResolveFresh(ctx, *s.VideoDeviceID, domain.DeviceKindVideoInput); err != nil {
			return c.Snapshot(), err
		}
	}
	if s.AudioDeviceID != nil && *s.AudioDeviceID != "" {
		if _, err := c.registry.ResolveFresh(ctx, *s.AudioDeviceID, domain.DeviceKindAudioInput); err != nil {
			return c.Snapshot(), err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// A session may have started while devices were resolved.
	if c.state != domain.SessionStateIdle {
		return c.snapshotLocked(), domain.ErrSettingsLocked
	}
	if s.Mode != nil {
		c.mode = *s.Mode
	}
	if s.Quality != nil {
		c.quality = *s.Quality
	}
	if s.VideoDeviceID != nil {
		c.videoDeviceID = *s.VideoDeviceID
	}
	if s.AudioDeviceID != nil {
		c.audioDeviceID = *s.AudioDeviceID
	}

	c.logger.Info().
		Str(pkglog.FieldMode, string(c.mode)).
		Str(pkglog.FieldQuality, string(c.quality)).
		Str("video_device_id", c.videoDeviceID).
		Str("audio_device_id", c.audioDeviceID).
		Msg("settings updated")
	c.emitLocked(domain.EventStateChanged)
	return c.snapshotLocked(), nil
}

func (c *Controller) settingsLocked() (domain.Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked(), c.state != domain.SessionStateIdle
}

// SetMode selects camera or screen capture.
func (c *Controller) SetMode(mode domain.CaptureMode) error {
	_, err := c.ApplySettings(context.Background(), Settings{Mode: &mode})
	return err
}

// SetQuality selects the resolution preset.
func (c *Controller) SetQuality(quality domain.QualityProfile) error {
	_, err := c.ApplySettings(context.Background(), Settings{Quality: &quality})
	return err
}

// SelectVideoDevice selects the camera. An empty id means the host default.
func (c *Controller) SelectVideoDevice(ctx context.Context, id string) error {
	_, err := c.ApplySettings(ctx, Settings{VideoDeviceID: &id})
	return err
}

// SelectAudioDevice selects the microphone. An empty id means the host default.
func (c *Controller) SelectAudioDevice(ctx context.Context, id string) error {
	_, err := c.ApplySettings(ctx, Settings{AudioDeviceID: &id})
	return err
}

// ListDevices enumerates the host's capture devices.
func (c *Controller) ListDevices(ctx context.Context) ([]domain.CaptureDevice, error) {
	return c.registry.ListDevices(ctx)
}

// DevicesChanged marks the device list stale and notifies subscribers.
func (c *Controller) DevicesChanged() {
	c.registry.Invalidate()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitLocked(domain.EventDevicesChanged)
}

// Sessions returns the room's session history, newest first.
func (c *Controller) Sessions(ctx context.Context, limit int) ([]*domain.SessionRecord, error) {
	return c.store.List(ctx, c.roomID, limit)
}

// Session returns one record of this room.
func (c *Controller) Session(ctx context.Context, sessionID string) (*domain.SessionRecord, error) {
	record, err := c.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if record == nil || record.RoomID != c.roomID {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
	}
	return record, nil
}

// ClearArtifact drops the artifact fields of a record after its recording
// was deleted. A missing record is not an error.
func (c *Controller) ClearArtifact(ctx context.Context, sessionID string) error {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	record, err := c.store.Get(ctx, sessionID)
	if err != nil || record == nil || record.RoomID != c.roomID {
		return err
	}
	record.ArtifactName = ""
	record.ArtifactSize = 0
	record.ArtifactLocation = ""
	return c.store.Save(ctx, record)
}

// RecoverInterrupted closes a live record of this room that no running
// session owns, left behind when a previous process exited mid-session.
// It returns the repaired record, or nil when there was none.
func (c *Controller) RecoverInterrupted(ctx context.Context) (*domain.SessionRecord, error) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	record, err := c.store.GetLive(ctx, c.roomID)
	if err != nil || record == nil {
		return nil, err
	}
	c.mu.Lock()
	owned := record.SessionID == c.sessionID
	c.mu.Unlock()
	if owned {
		return nil, nil
	}

	endedAt := c.now()
	record.Status = domain.RecordStatusInterrupted
	record.EndedAt = &endedAt
	if record.Error == "" {
		record.Error = "session was not stopped before the service exited"
	}
	if err := c.store.Save(ctx, record); err != nil {
		return nil, err
	}
	c.logger.Warn().Str(pkglog.FieldSessionID, record.SessionID).Msg("closed interrupted session record")
	return record, nil
}

// Snapshot returns the current observable state.
func (c *Controller) Snapshot() domain.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe returns a feed of change events. Events are dropped for a
// subscriber whose buffer is full. The channel closes on cancel or Close.
func (c *Controller) Subscribe(buffer int) (<-chan domain.Event, func()) {
	ch := make(chan domain.Event, buffer)

	c.subsMu.Lock()
	if c.subsClosed {
		c.subsMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.subsMu.Unlock()

	return ch, func() {
		c.subsMu.Lock()
		defer c.subsMu.Unlock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
	}
}

// Close stops an active session and closes every subscriber feed.
// Start fails with ErrClosed afterwards.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	active := c.state.CanStop()
	c.mu.Unlock()

	var err error
	if active {
		_, err = c.stop(ctx, StopReasonShutdown)
		if errors.Is(err, domain.ErrNotActive) {
			err = nil
		}
	}

	c.subsMu.Lock()
	c.subsClosed = true
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	c.subsMu.Unlock()

	return err
}

func (c *Controller) onTrackEnded(h *capture.Handle, kind capture.TrackKind, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle != h {
		return
	}
	c.logger.Warn().
		Err(err).
		Str(pkglog.FieldSessionID, c.sessionID).
		Str(pkglog.FieldTrackKind, string(kind)).
		Msg("track ended, session continues")
	c.emitLocked(domain.EventTrackChanged)
	c.emitErrorLocked(fmt.Errorf("%w: %s track ended: %v", domain.ErrCaptureUnavailable, kind, err))
}

func (c *Controller) startTimerLocked() {
	stop := make(chan struct{})
	done := make(chan struct{})
	c.timerStop = stop
	c.timerDone = done
	go c.runTimer(c.newTicker(c.tickInterval), stop, done)
}

// stopTimerLocked signals the timer goroutine and returns a channel closed
// once it has exited.
func (c *Controller) stopTimerLocked() <-chan struct{} {
	if c.timerStop == nil {
		return nil
	}
	close(c.timerStop)
	done := c.timerDone
	c.timerStop = nil
	c.timerDone = nil
	return done
}

func (c *Controller) runTimer(t clock.Ticker, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer t.Stop()

	for {
		select {
		case <-stop:
			return
		case <-t.C():
			c.tick()
		}
	}
}

func (c *Controller) tick() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != domain.SessionStateLive || c.timerPaused {
		return
	}
	c.duration++
	c.emitLocked(domain.EventDuration)
}

func (c *Controller) resetLocked() {
	c.state = domain.SessionStateIdle
	c.sessionID = ""
	c.startedAt = time.Time{}
	c.handle = nil
	c.recording = nil
	c.duration = 0
	c.timerPaused = false
	c.cancelAcquire = nil
	c.startDone = nil
}

func (c *Controller) snapshotLocked() domain.Snapshot {
	s := domain.Snapshot{
		State:           c.state,
		SessionID:       c.sessionID,
		RoomID:          c.roomID,
		Mode:            c.mode,
		Quality:         c.quality,
		VideoDeviceID:   c.videoDeviceID,
		AudioDeviceID:   c.audioDeviceID,
		DurationSeconds: c.duration,
		TimerPaused:     c.timerPaused,
		Recording:       c.recording != nil,
	}
	if c.handle != nil {
		if v := c.handle.Video(); v != nil {
			s.VideoEnabled = v.Enabled()
			s.VideoAvailable = v.Available()
		}
		if a := c.handle.Audio(); a != nil {
			s.AudioEnabled = a.Enabled()
			s.AudioAvailable = a.Available()
		}
		startedAt := c.startedAt
		s.StartedAt = &startedAt
	}
	return s
}

func (c *Controller) emitLocked(eventType string) {
	c.publish(domain.Event{
		Type:      eventType,
		Snapshot:  c.snapshotLocked(),
		Timestamp: c.now(),
	})
}

func (c *Controller) emitErrorLocked(err error) {
	c.publish(domain.Event{
		Type:      domain.EventError,
		Snapshot:  c.snapshotLocked(),
		ErrorKind: domain.KindOf(err),
		Message:   err.Error(),
		Timestamp: c.now(),
	})
}

func (c *Controller) publish(ev domain.Event) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	for _, ch := range c.subs {
		select {
		case ch <- ev:
		default:
			// Channel full, skip event
		}
	}
}

// Ensure Controller implements StudioService interface
var _ StudioService = (*Controller)(nil)
