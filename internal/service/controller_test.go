package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/weiawesome/wes-io-live/studio-service/internal/capture"
	"github.com/weiawesome/wes-io-live/studio-service/internal/capture/capturetest"
	"github.com/weiawesome/wes-io-live/studio-service/internal/clock"
	"github.com/weiawesome/wes-io-live/studio-service/internal/device"
	"github.com/weiawesome/wes-io-live/studio-service/internal/domain"
	"github.com/weiawesome/wes-io-live/studio-service/internal/recorder"
)

var (
	cam1 = domain.CaptureDevice{ID: "cam-1", Kind: domain.DeviceKindVideoInput, Label: "Front camera"}
	cam2 = domain.CaptureDevice{ID: "cam-2", Kind: domain.DeviceKindVideoInput, Label: "USB camera"}
	mic1 = domain.CaptureDevice{ID: "mic-1", Kind: domain.DeviceKindAudioInput, Label: "Built-in mic"}
)

type sinkCall struct {
	start *SessionStartInfo
	stop  *SessionStopInfo
}

type fakeSink struct {
	mu    sync.Mutex
	calls []sinkCall
	err   error
}

func (s *fakeSink) OnSessionStart(ctx context.Context, info SessionStartInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sinkCall{start: &info})
	return s.err
}

func (s *fakeSink) OnSessionStop(ctx context.Context, info SessionStopInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sinkCall{stop: &info})
	return s.err
}

func (s *fakeSink) counts() (starts, stops int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.calls {
		if c.start != nil {
			starts++
		}
		if c.stop != nil {
			stops++
		}
	}
	return starts, stops
}

func (s *fakeSink) lastStop() *SessionStopInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.calls) - 1; i >= 0; i-- {
		if s.calls[i].stop != nil {
			return s.calls[i].stop
		}
	}
	return nil
}

// countingRecorder wraps a real sink and counts calls.
type countingRecorder struct {
	sink   *recorder.Sink
	mu     sync.Mutex
	starts int
	stops  int
}

func (r *countingRecorder) Start(h *capture.Handle, sessionID string) *recorder.Session {
	r.mu.Lock()
	r.starts++
	r.mu.Unlock()
	return r.sink.Start(h, sessionID)
}

func (r *countingRecorder) Stop(ctx context.Context, sess *recorder.Session) (*recorder.Artifact, error) {
	r.mu.Lock()
	r.stops++
	r.mu.Unlock()
	return r.sink.Stop(ctx, sess)
}

func (r *countingRecorder) counts() (starts, stops int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts, r.stops
}

type fixture struct {
	ctrl     *Controller
	host     *capturetest.Host
	registry *device.Registry
	ticks    *clock.ManualFactory
	sink     *fakeSink
	rec      *countingRecorder
	store    *MemorySessionStore
}

func newFixture(t *testing.T, cfg ControllerConfig, opts ...ControllerOption) *fixture {
	t.Helper()

	f := &fixture{
		host:  capturetest.NewHost(cam1, cam2, mic1),
		ticks: clock.NewManualFactory(),
		sink:  &fakeSink{},
		store: NewMemorySessionStore(),
	}
	f.rec = &countingRecorder{sink: recorder.NewSink(recorder.WithTicker(clock.NewManualFactory().New))}
	f.registry = device.NewRegistry(f.host)

	if cfg.RoomID == "" {
		cfg.RoomID = "room-1"
	}
	seq := 0
	opts = append([]ControllerOption{
		WithTicker(f.ticks.New),
		WithRecorder(f.rec),
		WithSessionStore(f.store),
		WithPublishSink(f.sink),
		WithIDGenerator(func() string {
			seq++
			return "session-" + string(rune('0'+seq))
		}),
	}, opts...)

	f.ctrl = NewController(cfg, f.registry, capture.NewFactory(f.host), opts...)
	t.Cleanup(func() { f.ctrl.Close(context.Background()) })
	return f
}

func (f *fixture) ticker(t *testing.T) *clock.ManualTicker {
	t.Helper()
	tk := f.ticks.Wait(f.ticks.Count(), time.Second)
	if tk == nil {
		t.Fatal("duration ticker was not created")
	}
	return tk
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func assertIdle(t *testing.T, snap domain.Snapshot) {
	t.Helper()
	if snap.State != domain.SessionStateIdle {
		t.Errorf("expected idle, got %s", snap.State)
	}
	if snap.SessionID != "" || snap.StartedAt != nil {
		t.Errorf("expected no session, got id=%q started=%v", snap.SessionID, snap.StartedAt)
	}
	if snap.DurationSeconds != 0 {
		t.Errorf("expected duration 0, got %d", snap.DurationSeconds)
	}
	if snap.VideoEnabled || snap.AudioEnabled || snap.Recording {
		t.Errorf("expected no tracks, got %+v", snap)
	}
}

func TestController_StartStop(t *testing.T) {
	f := newFixture(t, ControllerConfig{})
	ctx := context.Background()

	snap, err := f.ctrl.Start(ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if snap.State != domain.SessionStateLive || snap.SessionID != "session-1" {
		t.Fatalf("unexpected snapshot after start: %+v", snap)
	}
	if !snap.VideoEnabled || !snap.AudioEnabled || !snap.Recording {
		t.Errorf("expected enabled tracks and recording, got %+v", snap)
	}

	video, audio := f.host.Sources()
	if _, err := f.ctrl.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	assertIdle(t, f.ctrl.Snapshot())
	if !video.Closed() || !audio.Closed() {
		t.Error("expected capture sources to be closed")
	}
	if starts, stops := f.sink.counts(); starts != 1 || stops != 1 {
		t.Errorf("expected one start and one stop notification, got %d/%d", starts, stops)
	}
}

func TestController_StopWhileIdle(t *testing.T) {
	f := newFixture(t, ControllerConfig{})

	if _, err := f.ctrl.Stop(context.Background()); !errors.Is(err, domain.ErrNotActive) {
		t.Fatalf("expected ErrNotActive, got %v", err)
	}
	if starts, stops := f.sink.counts(); starts != 0 || stops != 0 {
		t.Errorf("expected no notifications, got %d/%d", starts, stops)
	}
}

func TestController_StartWhileLiveRejected(t *testing.T) {
	f := newFixture(t, ControllerConfig{})
	ctx := context.Background()

	if _, err := f.ctrl.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	before := f.ctrl.Snapshot()

	snap, err := f.ctrl.Start(ctx)
	if !errors.Is(err, domain.ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive, got %v", err)
	}
	if snap.SessionID != before.SessionID || snap.State != domain.SessionStateLive {
		t.Errorf("second start mutated state: %+v", snap)
	}
	if user, _, _ := f.host.Calls(); user != 1 {
		t.Errorf("expected one acquisition, got %d", user)
	}
	if starts, _ := f.rec.counts(); starts != 1 {
		t.Errorf("expected one recording, got %d", starts)
	}
}

func TestController_StartWhileConnectingRejected(t *testing.T) {
	f := newFixture(t, ControllerConfig{})
	f.host.Block = true
	ctx := context.Background()

	result := make(chan error, 1)
	go func() {
		_, err := f.ctrl.Start(ctx)
		result <- err
	}()
	<-f.host.Entered()

	if snap := f.ctrl.Snapshot(); snap.State != domain.SessionStateConnecting {
		t.Fatalf("expected connecting, got %s", snap.State)
	}
	if _, err := f.ctrl.Start(ctx); !errors.Is(err, domain.ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive, got %v", err)
	}

	f.host.Unblock()
	if err := <-result; err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if user, _, _ := f.host.Calls(); user != 1 {
		t.Errorf("expected one acquisition, got %d", user)
	}
}

func TestController_StopWhileConnectingCancels(t *testing.T) {
	f := newFixture(t, ControllerConfig{})
	f.host.Block = true
	ctx := context.Background()

	result := make(chan error, 1)
	go func() {
		_, err := f.ctrl.Start(ctx)
		result <- err
	}()
	<-f.host.Entered()

	artifact, err := f.ctrl.Stop(ctx)
	if err != nil || artifact != nil {
		t.Fatalf("expected nil artifact and error, got %v, %v", artifact, err)
	}
	assertIdle(t, f.ctrl.Snapshot())

	if err := <-result; !errors.Is(err, domain.ErrCaptureAborted) {
		t.Errorf("expected Start to fail with ErrCaptureAborted, got %v", err)
	}
	if starts, _ := f.rec.counts(); starts != 0 {
		t.Errorf("recorder should not start, got %d", starts)
	}
	if starts, stops := f.sink.counts(); starts != 0 || stops != 0 {
		t.Errorf("expected no notifications, got %d/%d", starts, stops)
	}
}

func TestController_TogglesWhileIdle(t *testing.T) {
	f := newFixture(t, ControllerConfig{})
	before := f.ctrl.Snapshot()

	if f.ctrl.ToggleVideo() || f.ctrl.ToggleAudio() {
		t.Error("toggles while idle should report false")
	}
	if after := f.ctrl.Snapshot(); after != before {
		t.Errorf("toggle while idle changed state: %+v", after)
	}
}

func TestController_TogglesWhileLive(t *testing.T) {
	f := newFixture(t, ControllerConfig{})
	if _, err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if !f.ctrl.ToggleAudio() {
		t.Fatal("ToggleAudio should succeed while live")
	}
	snap := f.ctrl.Snapshot()
	if snap.AudioEnabled || !snap.VideoEnabled {
		t.Errorf("expected audio muted and video on, got %+v", snap)
	}

	if !f.ctrl.ToggleVideo() || !f.ctrl.ToggleAudio() {
		t.Fatal("toggles should succeed while live")
	}
	snap = f.ctrl.Snapshot()
	if !snap.AudioEnabled || snap.VideoEnabled {
		t.Errorf("expected audio on and video off, got %+v", snap)
	}
}

func TestController_ToggleAudioWithoutAudioTrack(t *testing.T) {
	f := newFixture(t, ControllerConfig{Mode: domain.CaptureModeScreen})
	if _, err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if f.ctrl.ToggleAudio() {
		t.Error("screen capture without system audio has no audio to toggle")
	}
}

func TestController_AcquisitionDenied(t *testing.T) {
	f := newFixture(t, ControllerConfig{})
	f.host.SetOpenErr(domain.ErrCaptureDenied)

	events, cancel := f.ctrl.Subscribe(16)
	defer cancel()

	snap, err := f.ctrl.Start(context.Background())
	if !errors.Is(err, domain.ErrCaptureDenied) {
		t.Fatalf("expected ErrCaptureDenied, got %v", err)
	}
	assertIdle(t, snap)

	var states []domain.SessionState
	var kinds []domain.ErrorKind
	for len(events) > 0 {
		ev := <-events
		switch ev.Type {
		case domain.EventStateChanged:
			states = append(states, ev.Snapshot.State)
		case domain.EventError:
			kinds = append(kinds, ev.ErrorKind)
		}
	}
	if len(states) != 2 || states[0] != domain.SessionStateConnecting || states[1] != domain.SessionStateIdle {
		t.Errorf("expected connecting then idle, got %v", states)
	}
	if len(kinds) != 1 || kinds[0] != domain.KindCaptureDenied {
		t.Errorf("expected one CAPTURE_DENIED event, got %v", kinds)
	}
	if starts, _ := f.rec.counts(); starts != 0 {
		t.Errorf("recorder should not start, got %d", starts)
	}
}

func TestController_ScreenPickerCancelled(t *testing.T) {
	f := newFixture(t, ControllerConfig{Mode: domain.CaptureModeScreen})
	f.host.SetOpenErr(domain.ErrCaptureAborted)

	snap, err := f.ctrl.Start(context.Background())
	if !errors.Is(err, domain.ErrCaptureAborted) {
		t.Fatalf("expected ErrCaptureAborted, got %v", err)
	}
	assertIdle(t, snap)
	if _, display, _ := f.host.Calls(); display != 1 {
		t.Errorf("expected one display capture, got %d", display)
	}
}

func TestController_DurationTicks(t *testing.T) {
	f := newFixture(t, ControllerConfig{Quality: domain.QualityHigh})
	ctx := context.Background()

	if _, err := f.ctrl.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if c := f.host.Constraints(); c.Video.Width != 1920 || c.Video.Height != 1080 || c.Video.FrameRate != 30 {
		t.Errorf("unexpected high constraints: %+v", c.Video)
	}

	tk := f.ticker(t)
	for i := 0; i < 3; i++ {
		if !tk.Tick() {
			t.Fatalf("tick %d not delivered", i+1)
		}
	}
	waitFor(t, "duration 3", func() bool { return f.ctrl.Snapshot().DurationSeconds == 3 })

	if _, err := f.ctrl.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := f.ctrl.Snapshot().DurationSeconds; got != 0 {
		t.Errorf("expected duration 0 after stop, got %d", got)
	}
	if !tk.Stopped() || tk.Tick() {
		t.Error("duration ticker should be stopped")
	}
	if _, stops := f.sink.counts(); stops != 1 {
		t.Errorf("expected one stop notification, got %d", stops)
	}
	if info := f.sink.lastStop(); info == nil || info.DurationSeconds != 3 || info.Reason != StopReasonManual {
		t.Errorf("unexpected stop info: %+v", info)
	}
}

func TestController_PauseTimer(t *testing.T) {
	f := newFixture(t, ControllerConfig{})
	ctx := context.Background()

	if err := f.ctrl.PauseTimer(); !errors.Is(err, domain.ErrNotActive) {
		t.Fatalf("expected ErrNotActive while idle, got %v", err)
	}
	if _, err := f.ctrl.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	tk := f.ticker(t)

	if err := f.ctrl.PauseTimer(); err != nil {
		t.Fatalf("PauseTimer: %v", err)
	}
	if !f.ctrl.Snapshot().TimerPaused {
		t.Error("expected timer paused")
	}
	tk.Tick()
	tk.Tick()

	if err := f.ctrl.ResumeTimer(); err != nil {
		t.Fatalf("ResumeTimer: %v", err)
	}
	tk.Tick()
	waitFor(t, "duration 1", func() bool { return f.ctrl.Snapshot().DurationSeconds >= 1 })

	if _, err := f.ctrl.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if info := f.sink.lastStop(); info == nil || info.DurationSeconds > 2 {
		t.Errorf("paused ticks should not count, got %+v", info)
	}
}

func TestController_SettingsLockedWhileLive(t *testing.T) {
	f := newFixture(t, ControllerConfig{})
	ctx := context.Background()

	if _, err := f.ctrl.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.ctrl.SetQuality(domain.QualityLow); !errors.Is(err, domain.ErrSettingsLocked) {
		t.Errorf("expected ErrSettingsLocked, got %v", err)
	}
	if err := f.ctrl.SetMode(domain.CaptureModeScreen); !errors.Is(err, domain.ErrSettingsLocked) {
		t.Errorf("expected ErrSettingsLocked, got %v", err)
	}
	if err := f.ctrl.SelectVideoDevice(ctx, "cam-2"); !errors.Is(err, domain.ErrSettingsLocked) {
		t.Errorf("expected ErrSettingsLocked, got %v", err)
	}

	if _, err := f.ctrl.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := f.ctrl.SetQuality(domain.QualityLow); err != nil {
		t.Errorf("SetQuality after stop: %v", err)
	}
	if got := f.ctrl.Snapshot().Quality; got != domain.QualityLow {
		t.Errorf("expected low quality, got %s", got)
	}
}

func TestController_ApplySettingsInvalid(t *testing.T) {
	f := newFixture(t, ControllerConfig{})

	mode := domain.CaptureMode("webcam")
	if _, err := f.ctrl.ApplySettings(context.Background(), Settings{Mode: &mode}); !errors.Is(err, domain.ErrInvalidSetting) {
		t.Errorf("expected ErrInvalidSetting, got %v", err)
	}
	quality := domain.QualityProfile("ultra")
	if _, err := f.ctrl.ApplySettings(context.Background(), Settings{Quality: &quality}); !errors.Is(err, domain.ErrInvalidSetting) {
		t.Errorf("expected ErrInvalidSetting, got %v", err)
	}
}

func TestController_StaleDeviceReenumeratesOnce(t *testing.T) {
	f := newFixture(t, ControllerConfig{})
	ctx := context.Background()

	f.host.SetDevices(cam1, mic1)
	if _, err := f.ctrl.ListDevices(ctx); err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	f.host.SetDevices(cam1, cam2, mic1)

	if err := f.ctrl.SelectVideoDevice(ctx, "cam-2"); err != nil {
		t.Fatalf("SelectVideoDevice: %v", err)
	}
	if _, _, enumerate := f.host.Calls(); enumerate != 2 {
		t.Errorf("expected one re-enumeration, got %d enumerations", enumerate)
	}

	if err := f.ctrl.SelectVideoDevice(ctx, "cam-9"); !errors.Is(err, domain.ErrDeviceNotFound) {
		t.Errorf("expected ErrDeviceNotFound, got %v", err)
	}
	if _, _, enumerate := f.host.Calls(); enumerate != 3 {
		t.Errorf("expected exactly one more enumeration, got %d", enumerate)
	}
	if got := f.ctrl.Snapshot().VideoDeviceID; got != "cam-2" {
		t.Errorf("failed selection should keep cam-2, got %q", got)
	}

	if _, err := f.ctrl.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := f.host.Constraints().Video.DeviceID; got != "cam-2" {
		t.Errorf("expected capture on cam-2, got %q", got)
	}
}

func TestController_UnpluggedDeviceFailsStart(t *testing.T) {
	f := newFixture(t, ControllerConfig{})
	ctx := context.Background()

	if err := f.ctrl.SelectVideoDevice(ctx, "cam-2"); err != nil {
		t.Fatalf("SelectVideoDevice: %v", err)
	}
	f.host.SetDevices(cam1, mic1)
	f.ctrl.DevicesChanged()

	snap, err := f.ctrl.Start(ctx)
	if !errors.Is(err, domain.ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound, got %v", err)
	}
	assertIdle(t, snap)
	if user, _, _ := f.host.Calls(); user != 0 {
		t.Errorf("capture should not be opened, got %d calls", user)
	}
}

func TestController_RecordingFinalizedOnce(t *testing.T) {
	f := newFixture(t, ControllerConfig{})
	ctx := context.Background()

	if _, err := f.ctrl.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	video, _ := f.host.Sources()
	video.Emit(capturetest.VP8Keyframe(), 33*time.Millisecond)
	video.Emit(capturetest.VP8Interframe(), 33*time.Millisecond)
	video.Emit(capturetest.VP8Interframe(), 33*time.Millisecond)

	artifact, err := f.ctrl.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if artifact == nil || artifact.Size == 0 {
		t.Fatalf("expected non-empty artifact, got %+v", artifact)
	}
	if artifact.SessionID != "session-1" || artifact.MimeType != recorder.WebMMimeType {
		t.Errorf("unexpected artifact: %+v", artifact)
	}

	if _, err := f.ctrl.Stop(ctx); !errors.Is(err, domain.ErrNotActive) {
		t.Errorf("second Stop should fail with ErrNotActive, got %v", err)
	}
	if starts, stops := f.rec.counts(); starts != 1 || stops != 1 {
		t.Errorf("expected one recorder start and stop, got %d/%d", starts, stops)
	}
	if info := f.sink.lastStop(); info == nil || info.Artifact != artifact {
		t.Error("stop notification should carry the artifact")
	}
}

func TestController_RecordingDisabled(t *testing.T) {
	f := newFixture(t, ControllerConfig{}, WithRecorder(nil))
	ctx := context.Background()

	snap, err := f.ctrl.Start(ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if snap.Recording {
		t.Error("expected no recording")
	}
	artifact, err := f.ctrl.Stop(ctx)
	if err != nil || artifact != nil {
		t.Errorf("expected nil artifact, got %v, %v", artifact, err)
	}
}

func TestController_TrackEndedKeepsSession(t *testing.T) {
	f := newFixture(t, ControllerConfig{})
	if _, err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	events, cancel := f.ctrl.Subscribe(16)
	defer cancel()

	_, audio := f.host.Sources()
	audio.Fail(errors.New("usb unplugged"))

	waitFor(t, "audio unavailable", func() bool { return !f.ctrl.Snapshot().AudioAvailable })
	snap := f.ctrl.Snapshot()
	if snap.State != domain.SessionStateLive || !snap.VideoEnabled || snap.AudioEnabled {
		t.Errorf("expected live session with video only, got %+v", snap)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == domain.EventError {
				if ev.ErrorKind != domain.KindCaptureUnavailable {
					t.Errorf("expected CAPTURE_UNAVAILABLE, got %s", ev.ErrorKind)
				}
				if f.ctrl.ToggleAudio() {
					t.Error("ended audio track should not toggle")
				}
				return
			}
		case <-deadline:
			t.Fatal("no error event for ended track")
		}
	}
}

func TestController_SessionRecords(t *testing.T) {
	f := newFixture(t, ControllerConfig{RoomID: "room-9"})
	ctx := context.Background()

	if _, err := f.ctrl.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	live, err := f.store.GetLive(ctx, "room-9")
	if err != nil || live == nil {
		t.Fatalf("expected live record, got %v, %v", live, err)
	}
	if live.SessionID != "session-1" || live.Mode != domain.CaptureModeCamera {
		t.Errorf("unexpected live record: %+v", live)
	}

	if _, err := f.ctrl.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if live, _ := f.store.GetLive(ctx, "room-9"); live != nil {
		t.Errorf("room should not be live, got %+v", live)
	}

	records, err := f.ctrl.Sessions(ctx, 10)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(records) != 1 || records[0].Status != domain.RecordStatusCompleted || records[0].EndedAt == nil {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestController_CloseStopsSession(t *testing.T) {
	f := newFixture(t, ControllerConfig{})
	ctx := context.Background()

	events, _ := f.ctrl.Subscribe(64)
	if _, err := f.ctrl.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := f.ctrl.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	assertIdle(t, f.ctrl.Snapshot())
	if info := f.sink.lastStop(); info == nil || info.Reason != StopReasonShutdown {
		t.Errorf("expected shutdown stop, got %+v", info)
	}
	if _, err := f.ctrl.Start(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}

	for range events {
	}
}

func TestController_SinkErrorsIgnored(t *testing.T) {
	f := newFixture(t, ControllerConfig{})
	f.sink.err = errors.New("broker down")
	ctx := context.Background()

	if _, err := f.ctrl.Start(ctx); err != nil {
		t.Fatalf("Start should ignore sink errors: %v", err)
	}
	if _, err := f.ctrl.Stop(ctx); err != nil {
		t.Fatalf("Stop should ignore sink errors: %v", err)
	}
	assertIdle(t, f.ctrl.Snapshot())
}

type failingStore struct {
	*MemorySessionStore
}

func (s failingStore) Save(ctx context.Context, record *domain.SessionRecord) error {
	return errors.New("store unavailable")
}

func TestController_StoreErrorsIgnored(t *testing.T) {
	f := newFixture(t, ControllerConfig{}, WithSessionStore(failingStore{NewMemorySessionStore()}))
	ctx := context.Background()

	if _, err := f.ctrl.Start(ctx); err != nil {
		t.Fatalf("Start should ignore store errors: %v", err)
	}
	if _, err := f.ctrl.Stop(ctx); err != nil {
		t.Fatalf("Stop should ignore store errors: %v", err)
	}
	if starts, stops := f.sink.counts(); starts != 1 || stops != 1 {
		t.Errorf("sinks should still be notified, got %d/%d", starts, stops)
	}
}

// lateAcquirer hands out a handle only after its context was cancelled,
// like a host that finishes opening devices just as the user stops.
type lateAcquirer struct {
	entered chan struct{}
	handle  *capture.Handle
}

func (a *lateAcquirer) Acquire(ctx context.Context, req capture.Request) (*capture.Handle, error) {
	close(a.entered)
	<-ctx.Done()
	return a.handle, nil
}

func TestController_StopBeatsLateAcquisition(t *testing.T) {
	f := newFixture(t, ControllerConfig{})
	acq := &lateAcquirer{
		entered: make(chan struct{}),
		handle: capture.NewHandle(domain.CaptureModeCamera, domain.QualityLow, []capture.TrackSpec{
			{Kind: capture.TrackKindAudio, MimeType: "audio/opus", Source: capturetest.NewSource()},
		}),
	}
	ctrl := NewController(ControllerConfig{RoomID: "room-1"}, f.registry, acq,
		WithTicker(f.ticks.New), WithRecorder(f.rec), WithPublishSink(f.sink))
	defer ctrl.Close(context.Background())
	ctx := context.Background()

	result := make(chan error, 1)
	go func() {
		_, err := ctrl.Start(ctx)
		result <- err
	}()
	<-acq.entered

	if artifact, err := ctrl.Stop(ctx); err != nil || artifact != nil {
		t.Fatalf("expected a clean cancel, got %v, %v", artifact, err)
	}
	assertIdle(t, ctrl.Snapshot())
	if !acq.handle.Released() {
		t.Error("handle acquired after cancellation must be released")
	}
	if err := <-result; !errors.Is(err, domain.ErrCaptureAborted) {
		t.Errorf("expected ErrCaptureAborted, got %v", err)
	}
	if starts, _ := f.rec.counts(); starts != 0 {
		t.Errorf("recorder should not start, got %d", starts)
	}
}

func TestController_HistoryPruned(t *testing.T) {
	f := newFixture(t, ControllerConfig{HistoryLimit: 2})
	ctx := context.Background()

	now := time.UnixMilli(1_700_000_000_000)
	f.ctrl.now = func() time.Time {
		now = now.Add(time.Minute)
		return now
	}
	for i := 0; i < 3; i++ {
		if _, err := f.ctrl.Start(ctx); err != nil {
			t.Fatalf("Start %d: %v", i, err)
		}
		if _, err := f.ctrl.Stop(ctx); err != nil {
			t.Fatalf("Stop %d: %v", i, err)
		}
	}

	records, err := f.ctrl.Sessions(ctx, 0)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(records) != 2 || records[0].SessionID != "session-3" || records[1].SessionID != "session-2" {
		t.Fatalf("expected the two newest records, got %+v", records)
	}
	if _, err := f.ctrl.Session(ctx, "session-1"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("oldest record should be pruned, got %v", err)
	}
}

func TestController_RecoverInterrupted(t *testing.T) {
	f := newFixture(t, ControllerConfig{})
	ctx := context.Background()

	orphan := &domain.SessionRecord{
		SessionID: "crashed",
		RoomID:    "room-1",
		Status:    domain.RecordStatusLive,
		StartedAt: time.UnixMilli(1_700_000_000_000),
	}
	if err := f.store.Save(ctx, orphan); err != nil {
		t.Fatal(err)
	}

	rec, err := f.ctrl.RecoverInterrupted(ctx)
	if err != nil {
		t.Fatalf("RecoverInterrupted: %v", err)
	}
	if rec == nil || rec.Status != domain.RecordStatusInterrupted || rec.EndedAt == nil {
		t.Fatalf("unexpected repaired record: %+v", rec)
	}
	if live, _ := f.store.GetLive(ctx, "room-1"); live != nil {
		t.Errorf("room should no longer be live, got %+v", live)
	}
	if rec, err := f.ctrl.RecoverInterrupted(ctx); err != nil || rec != nil {
		t.Errorf("second call should be a no-op, got %+v, %v", rec, err)
	}

	if _, err := f.ctrl.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if rec, err := f.ctrl.RecoverInterrupted(ctx); err != nil || rec != nil {
		t.Errorf("running session must not be marked interrupted, got %+v, %v", rec, err)
	}
}

func TestController_SessionAndClearArtifact(t *testing.T) {
	f := newFixture(t, ControllerConfig{})
	ctx := context.Background()

	if err := f.store.Save(ctx, &domain.SessionRecord{
		SessionID:        "s1",
		RoomID:           "room-1",
		Status:           domain.RecordStatusCompleted,
		ArtifactName:     "stream-1.webm",
		ArtifactSize:     42,
		ArtifactLocation: "/recordings/s1/stream-1.webm",
	}); err != nil {
		t.Fatal(err)
	}
	if err := f.store.Save(ctx, &domain.SessionRecord{SessionID: "other", RoomID: "room-2"}); err != nil {
		t.Fatal(err)
	}

	rec, err := f.ctrl.Session(ctx, "s1")
	if err != nil || rec.ArtifactName != "stream-1.webm" {
		t.Fatalf("Session: %+v, %v", rec, err)
	}
	if _, err := f.ctrl.Session(ctx, "other"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("record of another room should be hidden, got %v", err)
	}

	if err := f.ctrl.ClearArtifact(ctx, "s1"); err != nil {
		t.Fatalf("ClearArtifact: %v", err)
	}
	rec, _ = f.ctrl.Session(ctx, "s1")
	if rec.ArtifactName != "" || rec.ArtifactSize != 0 || rec.ArtifactLocation != "" || rec.Status != domain.RecordStatusCompleted {
		t.Errorf("artifact not cleared: %+v", rec)
	}
	if err := f.ctrl.ClearArtifact(ctx, "missing"); err != nil {
		t.Errorf("missing record should be ignored: %v", err)
	}
}
