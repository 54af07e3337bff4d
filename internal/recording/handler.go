package recording

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/prepskul/backend/internal/middleware"
	"github.com/prepskul/backend/internal/models"
	"github.com/prepskul/backend/pkg/response"
)

// SessionStore resolves and mutates session records for recording lifecycle.
type SessionStore interface {
	GetByID(ctx context.Context, id string) (*models.Session, error)
	GetTrialByID(ctx context.Context, id string) (*models.TrialSession, error)
	Upsert(ctx context.Context, s *models.Session) error
	MarkRecordingStarted(ctx context.Context, id, channelName, resourceID, sid string) (bool, error)
	MarkRecordingStopped(ctx context.Context, id string) error
}

// Provider starts and stops cloud recordings for a channel.
type Provider interface {
	StartRecording(ctx context.Context, sessionID, channelName, tutorUID, learnerUID string) (resourceID, sid string, err error)
	StopRecording(ctx context.Context, channelName, resourceID, sid string) error
	QueryRecording(ctx context.Context, resourceID, sid string) (int, error)
}

// Locker serializes recording starts per session.
type Locker interface {
	TryLock(ctx context.Context, sessionID string) (bool, error)
	Unlock(ctx context.Context, sessionID string)
}

// StartRequest is the body for POST /recording/start and /recording/stop.
type StartRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
}

// Handler handles recording lifecycle HTTP endpoints.
type Handler struct {
	store    SessionStore
	provider Provider
	locks    Locker
	defaults DefaultPolicy
	logger   *zap.Logger
}

// NewHandler creates a recording handler.
func NewHandler(store SessionStore, provider Provider, locks Locker, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, provider: provider, locks: locks, defaults: Defaults, logger: logger}
}

// resolve returns the canonical session for an identifier, materializing one
// from the trial record when only that exists. Returns nil when the id is
// unknown to both stores. The upsert is idempotent, so a repeated request
// for the same trial id updates rather than duplicates.
func (h *Handler) resolve(ctx context.Context, sessionID string) (*models.Session, error) {
	session, err := h.store.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session != nil {
		return session, nil
	}

	trial, err := h.store.GetTrialByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if trial == nil {
		return nil, nil
	}

	session = h.defaults.Materialize(trial)
	if err := h.store.Upsert(ctx, session); err != nil {
		return nil, err
	}
	h.logger.Info("trial session promoted for recording",
		zap.String("session_id", sessionID),
		zap.String("channel", session.ChannelName),
	)
	return session, nil
}

// Start handles POST /recording/start. Ensures cloud recording is active for
// the session's channel and reports the provider handles.
func (h *Handler) Start(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(string)

	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "sessionId is required")
		return
	}
	sessionID := req.SessionID
	ctx := c.Request.Context()

	session, err := h.resolve(ctx, sessionID)
	if err != nil {
		h.logger.Error("resolve session failed", zap.Error(err), zap.String("session_id", sessionID))
		response.Internal(c, "failed to start recording")
		return
	}
	if session == nil {
		response.NotFound(c, "session not found")
		return
	}
	if !session.IsParticipant(userID) {
		response.Forbidden(c, "you are not a participant in this session")
		return
	}

	if replied := h.replayIfRecording(c, session); replied {
		return
	}

	ok, err := h.locks.TryLock(ctx, sessionID)
	if err != nil {
		h.logger.Error("acquire start lock failed", zap.Error(err), zap.String("session_id", sessionID))
		response.Internal(c, "failed to start recording")
		return
	}
	if !ok {
		response.Conflict(c, "recording start already in progress")
		return
	}
	defer h.locks.Unlock(ctx, sessionID)

	// Re-check under the lock: another request may have started between
	// the first read and lock acquisition.
	session, err = h.store.GetByID(ctx, sessionID)
	if err != nil || session == nil {
		h.logger.Error("re-read session failed", zap.Error(err), zap.String("session_id", sessionID))
		response.Internal(c, "failed to start recording")
		return
	}
	if replied := h.replayIfRecording(c, session); replied {
		return
	}

	channelName := session.ChannelName
	if channelName == "" {
		channelName = ChannelName(sessionID)
	}

	resourceID, sid, err := h.provider.StartRecording(ctx, sessionID, channelName, session.TutorID, session.LearnerID)
	if err != nil {
		h.logger.Error("provider start failed", zap.Error(err), zap.String("session_id", sessionID), zap.String("channel", channelName))
		response.BadGateway(c, err.Error())
		return
	}

	updated, err := h.store.MarkRecordingStarted(ctx, sessionID, channelName, resourceID, sid)
	if err != nil {
		h.logger.Error("persist recording handles failed", zap.Error(err), zap.String("session_id", sessionID))
		response.Internal(c, "failed to start recording")
		return
	}
	if !updated {
		// Conditional write lost: a concurrent start slipped past the lock
		// (expired TTL). Report the recording that won.
		h.logger.Warn("recording start lost conditional write", zap.String("session_id", sessionID))
		if current, err := h.store.GetByID(ctx, sessionID); err == nil && current != nil && current.RecordingResourceID != "" {
			response.OK(c, gin.H{
				"resourceId": current.RecordingResourceID,
				"sid":        current.RecordingSID,
				"message":    "Recording already in progress",
			})
			return
		}
		response.Internal(c, "failed to start recording")
		return
	}

	h.logger.Info("recording started",
		zap.String("session_id", sessionID),
		zap.String("channel", channelName),
		zap.String("resource_id", resourceID),
		zap.String("sid", sid),
	)
	response.OK(c, gin.H{
		"resourceId":  resourceID,
		"sid":         sid,
		"channelName": channelName,
	})
}

// replayIfRecording answers the idempotent-guard path: when a recording is
// already in progress for the session, return its handles without a second
// provider invocation.
func (h *Handler) replayIfRecording(c *gin.Context, session *models.Session) bool {
	if session.RecordingStatus != models.RecordingStatusRecording || session.RecordingResourceID == "" {
		return false
	}
	response.OK(c, gin.H{
		"resourceId": session.RecordingResourceID,
		"sid":        session.RecordingSID,
		"message":    "Recording already in progress",
	})
	return true
}

// Stop handles POST /recording/stop. Stops the in-progress recording and
// clears the session's recording fields.
func (h *Handler) Stop(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(string)

	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "sessionId is required")
		return
	}
	sessionID := req.SessionID
	ctx := c.Request.Context()

	session, err := h.store.GetByID(ctx, sessionID)
	if err != nil {
		h.logger.Error("get session failed", zap.Error(err), zap.String("session_id", sessionID))
		response.Internal(c, "failed to stop recording")
		return
	}
	if session == nil {
		response.NotFound(c, "session not found")
		return
	}
	if !session.IsParticipant(userID) {
		response.Forbidden(c, "you are not a participant in this session")
		return
	}
	if session.RecordingStatus != models.RecordingStatusRecording || session.RecordingResourceID == "" {
		response.Conflict(c, "no recording in progress")
		return
	}

	channelName := session.ChannelName
	if channelName == "" {
		channelName = ChannelName(sessionID)
	}
	if err := h.provider.StopRecording(ctx, channelName, session.RecordingResourceID, session.RecordingSID); err != nil {
		h.logger.Error("provider stop failed", zap.Error(err), zap.String("session_id", sessionID))
		response.BadGateway(c, err.Error())
		return
	}
	if err := h.store.MarkRecordingStopped(ctx, sessionID); err != nil {
		h.logger.Error("persist recording stop failed", zap.Error(err), zap.String("session_id", sessionID))
		response.Internal(c, "recording stopped but state update failed")
		return
	}

	h.logger.Info("recording stopped", zap.String("session_id", sessionID), zap.String("channel", channelName))
	response.OK(c, gin.H{
		"sessionId":       sessionID,
		"recordingStatus": models.RecordingStatusStopped,
	})
}

// Status handles GET /recording/status?sessionId=... Reports the stored
// recording state and, while recording, the provider-side status code.
func (h *Handler) Status(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(string)

	sessionID := c.Query("sessionId")
	if sessionID == "" {
		response.BadRequest(c, "sessionId is required")
		return
	}
	ctx := c.Request.Context()

	session, err := h.store.GetByID(ctx, sessionID)
	if err != nil {
		h.logger.Error("get session failed", zap.Error(err), zap.String("session_id", sessionID))
		response.Internal(c, "failed to load session")
		return
	}
	if session == nil {
		response.NotFound(c, "session not found")
		return
	}
	if !session.IsParticipant(userID) {
		response.Forbidden(c, "you are not a participant in this session")
		return
	}

	body := gin.H{
		"sessionId":       sessionID,
		"recordingStatus": session.RecordingStatus,
	}
	if session.RecordingStatus == models.RecordingStatusRecording && session.RecordingResourceID != "" {
		body["resourceId"] = session.RecordingResourceID
		body["sid"] = session.RecordingSID
		providerStatus, err := h.provider.QueryRecording(ctx, session.RecordingResourceID, session.RecordingSID)
		if err != nil {
			h.logger.Error("provider query failed", zap.Error(err), zap.String("session_id", sessionID))
			response.BadGateway(c, err.Error())
			return
		}
		body["providerStatus"] = providerStatus
	}
	response.OK(c, body)
}
