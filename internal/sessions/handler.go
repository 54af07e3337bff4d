package sessions

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/prepskul/backend/internal/middleware"
	"github.com/prepskul/backend/pkg/response"
	"github.com/prepskul/backend/pkg/storage"
)

// Handler handles session read endpoints.
type Handler struct {
	repo   *Repository
	s3     *storage.S3 // optional; nil disables download URLs
	logger *zap.Logger
}

// NewHandler creates a sessions handler.
func NewHandler(repo *Repository, s3 *storage.S3, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, s3: s3, logger: logger}
}

// GetByID handles GET /sessions/:id. Participants only.
func (h *Handler) GetByID(c *gin.Context) {
	sessionID := c.Param("id")
	userID := c.MustGet(middleware.ContextUserID).(string)

	session, err := h.repo.GetByID(c.Request.Context(), sessionID)
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
	response.OK(c, session)
}

// GetRecordingDownloadURL handles GET /sessions/:id/recording/download-url.
// Returns a presigned URL for the transferred recording file. Participants only.
func (h *Handler) GetRecordingDownloadURL(c *gin.Context) {
	sessionID := c.Param("id")
	userID := c.MustGet(middleware.ContextUserID).(string)

	session, err := h.repo.GetByID(c.Request.Context(), sessionID)
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
	if session.RecordingObjectKey == "" {
		response.NotFound(c, "recording not available for download")
		return
	}
	if h.s3 == nil {
		response.ServiceUnavailable(c, "recording storage not configured")
		return
	}

	expire := h.s3.PresignExpire()
	url, err := h.s3.GeneratePresignedDownloadURL(c.Request.Context(), h.s3.RecordingsBucket(), session.RecordingObjectKey, expire)
	if err != nil {
		h.logger.Error("presign recording download failed", zap.Error(err), zap.String("session_id", sessionID))
		response.Internal(c, "failed to generate download URL")
		return
	}
	response.OK(c, gin.H{"download_url": url, "expires_in": int(expire.Seconds())})
}
