package recorder

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/weiawesome/wes-io-live/studio-service/internal/capture"
	"github.com/weiawesome/wes-io-live/studio-service/internal/capture/capturetest"
	"github.com/weiawesome/wes-io-live/studio-service/internal/clock"
	"github.com/weiawesome/wes-io-live/studio-service/internal/domain"
	"github.com/weiawesome/wes-io-live/studio-service/pkg/storage"
)

var ebmlMagic = []byte{0x1a, 0x45, 0xdf, 0xa3}

type fixture struct {
	sink    *Sink
	ticks   *clock.ManualFactory
	handle  *capture.Handle
	video   *capturetest.Source
	audio   *capturetest.Source
	started time.Time
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		ticks:   clock.NewManualFactory(),
		video:   capturetest.NewSource(),
		audio:   capturetest.NewSource(),
		started: time.UnixMilli(1_700_000_000_000),
	}
	f.handle = capture.NewHandle(domain.CaptureModeCamera, domain.QualityMedium, []capture.TrackSpec{
		{Kind: capture.TrackKindVideo, MimeType: webrtc.MimeTypeVP8, Source: f.video},
		{Kind: capture.TrackKindAudio, MimeType: webrtc.MimeTypeOpus, Source: f.audio},
	})
	t.Cleanup(f.handle.Release)

	now := f.started
	opts = append([]Option{
		WithTicker(f.ticks.New),
		WithNow(func() time.Time {
			now = now.Add(time.Second)
			return now
		}),
	}, opts...)
	f.sink = NewSink(opts...)
	return f
}

func (f *fixture) ticker(t *testing.T) *clock.ManualTicker {
	t.Helper()
	tk := f.ticks.Wait(1, time.Second)
	if tk == nil {
		t.Fatal("flush ticker never created")
	}
	return tk
}

// tickUntilChunks ticks the flush ticker until n chunks are collected.
func tickUntilChunks(t *testing.T, tk *clock.ManualTicker, sess *Session, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for sess.ChunkCount() < n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d chunks, got %d", n, sess.ChunkCount())
		}
		tk.Tick()
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSink_StartIsIdempotentPerHandle(t *testing.T) {
	f := newFixture(t)

	a := f.sink.Start(f.handle, "s1")
	b := f.sink.Start(f.handle, "s1")
	if a != b {
		t.Fatal("second Start should return the active session")
	}
	if f.ticks.Count() != 1 {
		t.Errorf("expected one flush ticker, got %d", f.ticks.Count())
	}
	if f.ticker(t).Interval != time.Second {
		t.Errorf("expected 1s flush cadence, got %s", f.ticker(t).Interval)
	}

	if _, err := f.sink.Stop(context.Background(), a); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if c := f.sink.Start(f.handle, "s2"); c == a {
		t.Error("Start after Stop should create a new session")
	}
}

func TestSink_RecordsWebM(t *testing.T) {
	f := newFixture(t)
	sess := f.sink.Start(f.handle, "s1")
	tk := f.ticker(t)

	// Audio before the first keyframe is held and written ahead of it.
	f.audio.Emit([]byte{0xfc, 0x01}, 20*time.Millisecond)
	f.video.Emit(capturetest.VP8Keyframe(), 33*time.Millisecond)
	f.audio.Emit([]byte{0xfc, 0x02}, 20*time.Millisecond)
	tickUntilChunks(t, tk, sess, 1)

	a, err := f.sink.Stop(context.Background(), sess)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !bytes.HasPrefix(a.Data, ebmlMagic) {
		t.Errorf("artifact should start with the EBML header, got %x", a.Data[:min(4, len(a.Data))])
	}
	if a.MimeType != WebMMimeType || a.SessionID != "s1" {
		t.Errorf("unexpected artifact metadata: %+v", a)
	}
	if a.Name != ArtifactName(a.EndedAt) {
		t.Errorf("unexpected name %s", a.Name)
	}
	if a.Size != int64(len(a.Data)) || a.Chunks < 1 {
		t.Errorf("inconsistent size/chunks: size=%d len=%d chunks=%d", a.Size, len(a.Data), a.Chunks)
	}
	if !a.EndedAt.After(a.StartedAt) {
		t.Error("ended should follow started")
	}
	if sess.Active() {
		t.Error("session should be terminated")
	}
	if !f.ticker(t).Stopped() {
		t.Error("flush ticker should stop with the session")
	}
}

func TestSink_AudioRecordedWithoutKeyframe(t *testing.T) {
	f := newFixture(t)
	sess := f.sink.Start(f.handle, "s1")
	tk := f.ticker(t)

	// No keyframe within a flush interval: held audio is muxed on the tick.
	f.audio.Emit([]byte{0xfc, 0x01}, 20*time.Millisecond)
	f.audio.Emit([]byte{0xfc, 0x02}, 20*time.Millisecond)
	tickUntilChunks(t, tk, sess, 1)

	// Video joining later is still recorded.
	f.video.Emit(capturetest.VP8Interframe(), 33*time.Millisecond)
	f.video.Emit(capturetest.VP8Keyframe(), 33*time.Millisecond)
	tk.Tick()

	a, err := f.sink.Stop(context.Background(), sess)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !bytes.HasPrefix(a.Data, ebmlMagic) {
		t.Errorf("expected an audio recording, got %d bytes", len(a.Data))
	}
}

func TestSink_AudioRecordedWhenVideoUnusable(t *testing.T) {
	tests := []struct {
		name    string
		disable func(f *fixture)
	}{
		{
			name:    "video failed",
			disable: func(f *fixture) { f.video.Fail(errors.New("device unplugged")) },
		},
		{
			name:    "video toggled off",
			disable: func(f *fixture) { f.handle.Toggle(capture.TrackKindVideo) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			sess := f.sink.Start(f.handle, "s1")
			tk := f.ticker(t)

			tt.disable(f)
			deadline := time.Now().Add(2 * time.Second)
			for f.handle.Video().Enabled() {
				if time.Now().After(deadline) {
					t.Fatal("video track still enabled")
				}
				time.Sleep(5 * time.Millisecond)
			}

			f.audio.Emit([]byte{0xfc, 0x01}, 20*time.Millisecond)
			tickUntilChunks(t, tk, sess, 1)

			a, err := f.sink.Stop(context.Background(), sess)
			if err != nil {
				t.Fatalf("Stop: %v", err)
			}
			if a.Size == 0 || !bytes.HasPrefix(a.Data, ebmlMagic) {
				t.Errorf("audio should be recorded, got %d bytes", a.Size)
			}
		})
	}
}

func TestSink_HandleFailureKeepsChunks(t *testing.T) {
	f := newFixture(t)
	sess := f.sink.Start(f.handle, "s1")
	tk := f.ticker(t)

	f.video.Emit(capturetest.VP8Keyframe(), 33*time.Millisecond)
	tickUntilChunks(t, tk, sess, 1)
	f.video.Emit(capturetest.VP8Interframe(), 33*time.Millisecond)
	f.audio.Emit([]byte{0xfc, 0x03}, 20*time.Millisecond)
	tk.Tick()

	// The device fails, then the handle is released before finalizing.
	f.video.Fail(errors.New("device unplugged"))
	f.handle.Release()

	a, err := f.sink.Stop(context.Background(), sess)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if a.Size == 0 || len(a.Data) == 0 {
		t.Fatal("collected chunks must survive a failing handle")
	}

	again, err := f.sink.Stop(context.Background(), sess)
	if err != nil || again != a {
		t.Error("second Stop should return the same artifact")
	}
}

type fakeExporter struct {
	calls atomic.Int32
	err   error
}

func (e *fakeExporter) Export(ctx context.Context, a *Artifact) (string, error) {
	e.calls.Add(1)
	if e.err != nil {
		return "", e.err
	}
	return "mem://" + a.Name, nil
}

func TestSink_Export(t *testing.T) {
	exp := &fakeExporter{}
	f := newFixture(t, WithExporter(exp))
	sess := f.sink.Start(f.handle, "s1")

	f.video.Emit(capturetest.VP8Keyframe(), 33*time.Millisecond)
	tickUntilChunks(t, f.ticker(t), sess, 1)

	a, _ := f.sink.Stop(context.Background(), sess)
	if a.Location != "mem://"+a.Name || a.ExportError != "" {
		t.Errorf("unexpected export result: %+v", a)
	}
	f.sink.Stop(context.Background(), sess)
	if exp.calls.Load() != 1 {
		t.Errorf("expected one export, got %d", exp.calls.Load())
	}
}

func TestSink_ExportFailureDoesNotBlockFinalize(t *testing.T) {
	exp := &fakeExporter{err: errors.New("bucket gone")}
	f := newFixture(t, WithExporter(exp))
	sess := f.sink.Start(f.handle, "s1")

	f.video.Emit(capturetest.VP8Keyframe(), 33*time.Millisecond)
	tickUntilChunks(t, f.ticker(t), sess, 1)

	a, err := f.sink.Stop(context.Background(), sess)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if a.ExportError == "" || a.Location != "" {
		t.Errorf("export failure should be reported on the artifact: %+v", a)
	}
	if a.Size == 0 {
		t.Error("artifact should still hold the recording")
	}
}

func TestSink_EmptyRecordingSkipsExport(t *testing.T) {
	exp := &fakeExporter{}
	f := newFixture(t, WithExporter(exp))
	sess := f.sink.Start(f.handle, "s1")

	a, err := f.sink.Stop(context.Background(), sess)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if a.Size != 0 || a.Chunks != 0 {
		t.Errorf("expected empty artifact, got %+v", a)
	}
	if exp.calls.Load() != 0 {
		t.Error("empty artifact should not be exported")
	}
}

func TestSink_StopNil(t *testing.T) {
	if _, err := NewSink().Stop(context.Background(), nil); !errors.Is(err, ErrNilSession) {
		t.Errorf("expected ErrNilSession, got %v", err)
	}
}

func TestStorageExporter_Local(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: dir})
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}

	a := &Artifact{
		SessionID: "s1",
		Name:      ArtifactName(time.UnixMilli(1_700_000_000_123)),
		MimeType:  WebMMimeType,
		Data:      []byte("webm"),
		Size:      4,
	}
	loc, err := NewStorageExporter(store, "recordings").Export(context.Background(), a)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if loc != "/recordings/s1/stream-1700000000123.webm" {
		t.Errorf("unexpected location %s", loc)
	}

	data, err := os.ReadFile(filepath.Join(dir, "recordings", "s1", "stream-1700000000123.webm"))
	if err != nil || string(data) != "webm" {
		t.Errorf("exported file = %q, %v", data, err)
	}
}

func TestVP8Helpers(t *testing.T) {
	if !isVP8Keyframe(capturetest.VP8Keyframe()) || isVP8Keyframe(capturetest.VP8Interframe()) {
		t.Error("keyframe bit misread")
	}
	if isVP8Keyframe(nil) {
		t.Error("empty payload is not a keyframe")
	}

	// 640x360 keyframe header.
	kf := []byte{0x50, 0x42, 0x00, 0x9d, 0x01, 0x2a, 0x80, 0x02, 0x68, 0x01}
	w, h, ok := vp8Dimensions(kf)
	if !ok || w != 640 || h != 360 {
		t.Errorf("vp8Dimensions = %d, %d, %v", w, h, ok)
	}
	if _, _, ok := vp8Dimensions(capturetest.VP8Keyframe()); ok {
		t.Error("short header should not yield dimensions")
	}
}

func TestCodecID(t *testing.T) {
	if id, ok := codecID("video/vp8"); !ok || id != "V_VP8" {
		t.Errorf("codecID(vp8) = %q, %v", id, ok)
	}
	if id, ok := codecID(webrtc.MimeTypeOpus); !ok || id != "A_OPUS" {
		t.Errorf("codecID(opus) = %q, %v", id, ok)
	}
	// VP9 keyframes are not detected, so VP9 tracks are not recorded.
	if _, ok := codecID(webrtc.MimeTypeVP9); ok {
		t.Error("VP9 should not be recordable")
	}
}
