package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/wes-io-live/studio-service/internal/config"
	"github.com/weiawesome/wes-io-live/studio-service/internal/domain"
	"github.com/weiawesome/wes-io-live/studio-service/internal/hub"
	"github.com/weiawesome/wes-io-live/studio-service/internal/recorder"
	"github.com/weiawesome/wes-io-live/studio-service/internal/service"
	"github.com/weiawesome/wes-io-live/studio-service/pkg/log"
	"github.com/weiawesome/wes-io-live/studio-service/pkg/middleware"
	"github.com/weiawesome/wes-io-live/studio-service/pkg/response"
)

const (
	defaultSessionsLimit = 20
	maxSessionsLimit     = 100
)

// Recordings serves exported session recordings.
type Recordings interface {
	List(ctx context.Context, limit int) ([]recorder.Recording, error)
	Open(ctx context.Context, sessionID string) (io.ReadCloser, recorder.Recording, error)
	Delete(ctx context.Context, sessionID string) error
}

// Handler handles HTTP requests for the studio.
type Handler struct {
	studio         service.StudioService
	recordings     Recordings
	hub            *hub.Hub
	authMiddleware *middleware.AuthMiddleware
	wsCfg          config.WebSocketConfig
}

// NewHandler creates a new HTTP handler. A nil authMiddleware leaves the API
// open; nil recordings answers the recording routes with RECORDINGS_DISABLED.
func NewHandler(studio service.StudioService, recordings Recordings, h *hub.Hub, authMiddleware *middleware.AuthMiddleware, wsCfg config.WebSocketConfig) *Handler {
	return &Handler{
		studio:         studio,
		recordings:     recordings,
		hub:            h,
		authMiddleware: authMiddleware,
		wsCfg:          wsCfg,
	}
}

// RegisterRoutes registers all routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)

	api := r.Group("/api/v1")
	{
		studio := api.Group("/studio")
		if h.authMiddleware != nil {
			studio.Use(h.authMiddleware.RequireAuth())
		}
		{
			studio.GET("/state", h.GetState)
			studio.GET("/devices", h.ListDevices)
			studio.PUT("/settings", h.UpdateSettings)
			studio.POST("/start", h.Start)
			studio.POST("/stop", h.Stop)
			studio.POST("/video/toggle", h.ToggleVideo)
			studio.POST("/audio/toggle", h.ToggleAudio)
			studio.POST("/timer/pause", h.PauseTimer)
			studio.POST("/timer/resume", h.ResumeTimer)
			studio.GET("/sessions", h.ListSessions)
			studio.GET("/sessions/:session_id", h.GetSession)
			studio.GET("/recordings", h.ListRecordings)
			studio.GET("/recordings/:session_id", h.DownloadRecording)
			studio.DELETE("/recordings/:session_id", h.DeleteRecording)
			studio.GET("/events", h.HandleWebSocket)
		}
	}
}

// Health reports liveness and the current session state.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"state":  h.studio.Snapshot().State,
	})
}

// GetState returns the current snapshot.
func (h *Handler) GetState(c *gin.Context) {
	response.Success(c, h.studio.Snapshot())
}

// ListDevices enumerates capture devices.
func (h *Handler) ListDevices(c *gin.Context) {
	devices, err := h.studio.ListDevices(c.Request.Context())
	if err != nil {
		writeError(c, err, "failed to list devices")
		return
	}
	if devices == nil {
		devices = []domain.CaptureDevice{}
	}
	response.Success(c, gin.H{"devices": devices})
}

// UpdateSettings changes mode, quality or device selection while idle.
func (h *Handler) UpdateSettings(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	var req service.Settings
	if err := c.ShouldBindJSON(&req); err != nil {
		l.Warn().Err(err).Msg("failed to bind settings request")
		response.BadRequest(c, err.Error())
		return
	}

	snap, err := h.studio.ApplySettings(ctx, req)
	if err != nil {
		writeError(c, err, "failed to update settings")
		return
	}
	response.Success(c, snap)
}

// Start goes live. The request stays open while capture is acquired.
func (h *Handler) Start(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	snap, err := h.studio.Start(ctx)
	if err != nil {
		writeError(c, err, "failed to start session")
		return
	}

	l.Info().Str(log.FieldSessionID, snap.SessionID).Str(log.FieldSubject, middleware.GetUserID(c)).Msg("session started")
	response.Success(c, snap)
}

// Stop ends the session and returns the recording metadata.
func (h *Handler) Stop(c *gin.Context) {
	artifact, err := h.studio.Stop(c.Request.Context())
	if err != nil {
		writeError(c, err, "failed to stop session")
		return
	}
	response.Success(c, gin.H{
		"state":    h.studio.Snapshot(),
		"artifact": artifact,
	})
}

// ToggleVideo flips the video track.
func (h *Handler) ToggleVideo(c *gin.Context) {
	toggled := h.studio.ToggleVideo()
	response.Success(c, gin.H{
		"toggled": toggled,
		"state":   h.studio.Snapshot(),
	})
}

// ToggleAudio flips the audio track.
func (h *Handler) ToggleAudio(c *gin.Context) {
	toggled := h.studio.ToggleAudio()
	response.Success(c, gin.H{
		"toggled": toggled,
		"state":   h.studio.Snapshot(),
	})
}

// PauseTimer suspends the duration counter.
func (h *Handler) PauseTimer(c *gin.Context) {
	if err := h.studio.PauseTimer(); err != nil {
		writeError(c, err, "failed to pause timer")
		return
	}
	response.Success(c, h.studio.Snapshot())
}

// ResumeTimer resumes the duration counter.
func (h *Handler) ResumeTimer(c *gin.Context) {
	if err := h.studio.ResumeTimer(); err != nil {
		writeError(c, err, "failed to resume timer")
		return
	}
	response.Success(c, h.studio.Snapshot())
}

// queryLimit reads ?limit, defaulting and capping it.
func queryLimit(c *gin.Context) (int, bool) {
	s := c.Query("limit")
	if s == "" {
		return defaultSessionsLimit, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		response.BadRequest(c, "limit must be a positive integer")
		return 0, false
	}
	return min(n, maxSessionsLimit), true
}

// ListSessions returns the session history, newest first.
func (h *Handler) ListSessions(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}

	records, err := h.studio.Sessions(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err, "failed to list sessions")
		return
	}
	if records == nil {
		records = []*domain.SessionRecord{}
	}
	response.Success(c, gin.H{"sessions": records})
}

// GetSession returns one session record.
func (h *Handler) GetSession(c *gin.Context) {
	record, err := h.studio.Session(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		writeError(c, err, "failed to get session")
		return
	}
	response.Success(c, record)
}

// ListRecordings returns exported recordings, newest first.
func (h *Handler) ListRecordings(c *gin.Context) {
	if h.recordings == nil {
		writeError(c, domain.ErrRecordingsDisabled, "")
		return
	}
	limit, ok := queryLimit(c)
	if !ok {
		return
	}

	recs, err := h.recordings.List(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err, "failed to list recordings")
		return
	}
	response.Success(c, gin.H{"recordings": recs})
}

// DownloadRecording streams the WebM recording of a session.
func (h *Handler) DownloadRecording(c *gin.Context) {
	if h.recordings == nil {
		writeError(c, domain.ErrRecordingsDisabled, "")
		return
	}

	rc, rec, err := h.recordings.Open(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		writeError(c, err, "failed to open recording")
		return
	}
	defer rc.Close()

	size := rec.Size
	if size <= 0 {
		size = -1
	}
	c.DataFromReader(http.StatusOK, size, rec.MimeType, rc, map[string]string{
		"Content-Disposition": fmt.Sprintf(`attachment; filename="%s"`, rec.Name),
	})
}

// DeleteRecording removes the recordings of a session.
func (h *Handler) DeleteRecording(c *gin.Context) {
	if h.recordings == nil {
		writeError(c, domain.ErrRecordingsDisabled, "")
		return
	}

	ctx := c.Request.Context()
	sessionID := c.Param("session_id")
	if err := h.recordings.Delete(ctx, sessionID); err != nil {
		writeError(c, err, "failed to delete recording")
		return
	}
	if err := h.studio.ClearArtifact(ctx, sessionID); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldSessionID, sessionID).Msg("failed to clear artifact from session record")
	}
	response.Success(c, gin.H{"deleted": sessionID})
}

// statusOf maps an error kind to its HTTP status.
func statusOf(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindSessionActive, domain.KindNotActive, domain.KindSettingsLocked, domain.KindCaptureAborted:
		return http.StatusConflict
	case domain.KindCaptureDenied, domain.KindDeviceAccess:
		return http.StatusForbidden
	case domain.KindCaptureUnavailable, domain.KindDeviceNotFound, domain.KindSessionNotFound, domain.KindRecordingNotFound:
		return http.StatusNotFound
	case domain.KindRecordingsDisabled:
		return http.StatusServiceUnavailable
	case domain.KindInvalidSetting:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error, internalMessage string) {
	kind := domain.KindOf(err)
	status := statusOf(kind)
	if status == http.StatusInternalServerError {
		l := log.Ctx(c.Request.Context())
		l.Error().Err(err).Msg(internalMessage)
		response.InternalError(c, internalMessage)
		return
	}
	response.Error(c, status, string(kind), err.Error())
}
