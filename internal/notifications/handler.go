package notifications

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/prepskul/backend/internal/middleware"
	"github.com/prepskul/backend/pkg/queue"
	"github.com/prepskul/backend/pkg/response"
)

// Enqueuer enqueues push notification delivery jobs.
type Enqueuer interface {
	EnqueuePushNotification(ctx context.Context, payload queue.PushNotificationPayload) error
}

// SendRequest is the body for POST /notifications/send.
type SendRequest struct {
	DeviceToken string            `json:"deviceToken" binding:"required"`
	Title       string            `json:"title" binding:"required"`
	Body        string            `json:"body" binding:"required"`
	Data        map[string]string `json:"data"`
}

// Handler relays push notifications: validated requests are queued and a
// background worker delivers them to FCM.
type Handler struct {
	queue  Enqueuer
	logger *zap.Logger
}

// NewHandler creates a notifications handler.
func NewHandler(q Enqueuer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{queue: q, logger: logger}
}

// Send handles POST /notifications/send. JWT required.
func (h *Handler) Send(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(string)

	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	err := h.queue.EnqueuePushNotification(c.Request.Context(), queue.PushNotificationPayload{
		DeviceToken: req.DeviceToken,
		Title:       req.Title,
		Body:        req.Body,
		Data:        req.Data,
	})
	if err != nil {
		h.logger.Error("enqueue push notification failed", zap.Error(err), zap.String("user_id", userID))
		response.Internal(c, "failed to queue notification")
		return
	}
	response.OK(c, gin.H{"queued": true})
}
