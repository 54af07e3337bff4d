package recording

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/prepskul/backend/internal/models"
	"github.com/prepskul/backend/pkg/queue"
	"github.com/prepskul/backend/pkg/response"
)

// Provider notification event types (Agora notification center).
const (
	// eventUploaded fires when all recording files have been uploaded to
	// the configured storage vendor.
	eventUploaded = 31
)

// WebhookStore is the session access the webhook needs.
type WebhookStore interface {
	GetByChannelName(ctx context.Context, channelName string) (*models.Session, error)
	SetRecordingObjectKey(ctx context.Context, id, key string) error
}

// TransferEnqueuer enqueues recording transfer jobs.
type TransferEnqueuer interface {
	EnqueueRecordingTransfer(ctx context.Context, payload queue.RecordingTransferPayload) error
}

// EventPayload is the body the recording provider posts to our webhook.
type EventPayload struct {
	NoticeID  string `json:"noticeId"`
	EventType int    `json:"eventType"`
	Payload   struct {
		CName   string `json:"cname"`
		UID     string `json:"uid"`
		SID     string `json:"sid"`
		Details struct {
			FileName string `json:"fileName"`
			FileURL  string `json:"fileUrl"`
			Status   int    `json:"status"`
		} `json:"details"`
	} `json:"payload"`
}

// WebhookHandler handles recording event callbacks from the provider.
type WebhookHandler struct {
	store  WebhookStore
	queue  TransferEnqueuer
	logger *zap.Logger
}

// NewWebhookHandler creates a recording webhook handler.
func NewWebhookHandler(store WebhookStore, q TransferEnqueuer, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{store: store, queue: q, logger: logger}
}

// Events handles POST /webhooks/recording-events. On an upload-complete
// event it records the object key (vendor-storage deployments) or enqueues
// a transfer job (provider-hosted file URLs). Other events are acknowledged
// and ignored so the provider stops redelivering them.
func (h *WebhookHandler) Events(c *gin.Context) {
	var body EventPayload
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if body.EventType != eventUploaded {
		response.OK(c, gin.H{"handled": false})
		return
	}
	if body.Payload.CName == "" {
		response.BadRequest(c, "cname required")
		return
	}

	ctx := c.Request.Context()
	session, err := h.store.GetByChannelName(ctx, body.Payload.CName)
	if err != nil {
		h.logger.Error("webhook session lookup failed", zap.Error(err), zap.String("cname", body.Payload.CName))
		response.Internal(c, "failed to process event")
		return
	}
	if session == nil {
		h.logger.Warn("webhook for unknown channel", zap.String("cname", body.Payload.CName), zap.String("notice_id", body.NoticeID))
		response.NotFound(c, "unknown channel")
		return
	}

	switch {
	case body.Payload.Details.FileURL != "":
		// Provider-hosted file: pull it into our bucket in the background.
		err = h.queue.EnqueueRecordingTransfer(ctx, queue.RecordingTransferPayload{
			SessionID: session.ID,
			FileURL:   body.Payload.Details.FileURL,
		})
		if err != nil {
			h.logger.Error("enqueue recording transfer failed", zap.Error(err), zap.String("session_id", session.ID))
			response.Internal(c, "failed to enqueue transfer")
			return
		}
	case body.Payload.Details.FileName != "":
		// Direct-to-bucket upload: the file name is the object key.
		if err := h.store.SetRecordingObjectKey(ctx, session.ID, body.Payload.Details.FileName); err != nil {
			h.logger.Error("store recording object key failed", zap.Error(err), zap.String("session_id", session.ID))
			response.Internal(c, "failed to store recording reference")
			return
		}
	default:
		response.BadRequest(c, "event carries neither fileUrl nor fileName")
		return
	}

	h.logger.Info("recording upload event processed",
		zap.String("session_id", session.ID),
		zap.String("notice_id", body.NoticeID),
	)
	response.OK(c, gin.H{"handled": true, "sessionId": session.ID})
}
