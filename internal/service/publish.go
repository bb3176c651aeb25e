package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/weiawesome/wes-io-live/studio-service/internal/capture"
	"github.com/weiawesome/wes-io-live/studio-service/internal/domain"
	"github.com/weiawesome/wes-io-live/studio-service/internal/recorder"
	pkglog "github.com/weiawesome/wes-io-live/studio-service/pkg/log"
	"github.com/weiawesome/wes-io-live/studio-service/pkg/pubsub"
)

// SessionStartInfo describes a session that just went live.
type SessionStartInfo struct {
	SessionID string
	RoomID    string
	Mode      domain.CaptureMode
	Quality   domain.QualityProfile
	StartedAt time.Time
	// Handle is live for the duration of the session. Sinks may Subscribe to it
	// but must not Release it.
	Handle *capture.Handle
}

// SessionStopInfo describes a session that just ended.
type SessionStopInfo struct {
	SessionID       string
	RoomID          string
	DurationSeconds int64
	EndedAt         time.Time
	Reason          string
	Artifact        *recorder.Artifact
}

// Stop reasons.
const (
	StopReasonManual   = "manual"
	StopReasonShutdown = "shutdown"
)

// PublishSink is notified when a session starts and ends.
// OnSessionStop is only called for sessions whose OnSessionStart was called.
type PublishSink interface {
	OnSessionStart(ctx context.Context, info SessionStartInfo) error
	OnSessionStop(ctx context.Context, info SessionStopInfo) error
}

// MultiSink fans notifications out to several sinks in order.
// A failing sink is logged and does not stop the others.
type MultiSink struct {
	sinks  []PublishSink
	logger zerolog.Logger
}

// NewMultiSink creates a sink notifying every non-nil sink.
func NewMultiSink(sinks ...PublishSink) *MultiSink {
	m := &MultiSink{logger: pkglog.Component("publish")}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Len returns the number of sinks.
func (m *MultiSink) Len() int {
	return len(m.sinks)
}

func (m *MultiSink) OnSessionStart(ctx context.Context, info SessionStartInfo) error {
	for _, s := range m.sinks {
		if err := s.OnSessionStart(ctx, info); err != nil {
			m.logger.Warn().Err(err).Str(pkglog.FieldSessionID, info.SessionID).Msg("publish sink start failed")
		}
	}
	return nil
}

func (m *MultiSink) OnSessionStop(ctx context.Context, info SessionStopInfo) error {
	for _, s := range m.sinks {
		if err := s.OnSessionStop(ctx, info); err != nil {
			m.logger.Warn().Err(err).Str(pkglog.FieldSessionID, info.SessionID).Msg("publish sink stop failed")
		}
	}
	return nil
}

// EventBusSink announces sessions on the studio -> signal channel.
type EventBusSink struct {
	publisher pubsub.Publisher
}

// NewEventBusSink creates a sink publishing through publisher.
func NewEventBusSink(publisher pubsub.Publisher) *EventBusSink {
	return &EventBusSink{publisher: publisher}
}

func (s *EventBusSink) OnSessionStart(ctx context.Context, info SessionStartInfo) error {
	return s.publish(ctx, info.RoomID, info.SessionID, info.StartedAt, pubsub.EventStudioSessionStarted, pubsub.StudioSessionStartedPayload{
		RoomID:    info.RoomID,
		SessionID: info.SessionID,
		Mode:      string(info.Mode),
		Quality:   string(info.Quality),
		Timestamp: info.StartedAt.UnixMilli(),
	})
}

func (s *EventBusSink) OnSessionStop(ctx context.Context, info SessionStopInfo) error {
	return s.publish(ctx, info.RoomID, info.SessionID, info.EndedAt, pubsub.EventStudioSessionStopped, pubsub.StudioSessionStoppedPayload{
		RoomID:          info.RoomID,
		SessionID:       info.SessionID,
		DurationSeconds: info.DurationSeconds,
		Reason:          info.Reason,
		Timestamp:       info.EndedAt.UnixMilli(),
	})
}

func (s *EventBusSink) publish(ctx context.Context, roomID, sessionID string, at time.Time, eventType string, payload any) error {
	event, err := pubsub.NewEvent(eventType, roomID, payload,
		pubsub.ForSession(sessionID), pubsub.FromSource(pubsub.SourceStudio), pubsub.At(at))
	if err != nil {
		return err
	}
	return s.publisher.Publish(ctx, pubsub.StudioToSignalChannel(roomID), event)
}

var (
	_ PublishSink = (*MultiSink)(nil)
	_ PublishSink = (*EventBusSink)(nil)
)
