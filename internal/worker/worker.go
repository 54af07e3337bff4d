package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/prepskul/backend/internal/notifications"
	"github.com/prepskul/backend/pkg/queue"
	"github.com/prepskul/backend/pkg/storage"
)

// SessionStore is the session access the worker needs after a transfer.
type SessionStore interface {
	SetRecordingObjectKey(ctx context.Context, id, key string) error
}

// Processor drains the job queue: recording transfers (provider URL → S3)
// and push notification deliveries (→ FCM).
type Processor struct {
	sessions SessionStore
	s3       *storage.S3 // optional; nil disables transfers
	fcm      *notifications.FCMClient
	queue    *queue.Queue
	logger   *zap.Logger
}

// NewProcessor creates a job processor.
func NewProcessor(sessions SessionStore, s3 *storage.S3, fcm *notifications.FCMClient, q *queue.Queue, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{sessions: sessions, s3: s3, fcm: fcm, queue: q, logger: logger}
}

// Process executes one job.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeRecordingTransfer:
		var payload queue.RecordingTransferPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		return p.transferRecording(ctx, payload)
	case queue.JobTypePushNotification:
		var payload queue.PushNotificationPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		return p.deliverNotification(ctx, payload)
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}

// transferRecording streams a provider-hosted recording file into the
// recordings bucket and stores the object key on the session.
func (p *Processor) transferRecording(ctx context.Context, payload queue.RecordingTransferPayload) error {
	if p.s3 == nil {
		return fmt.Errorf("recording storage not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, payload.FileURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download status: %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mp4"
	}
	key := storage.RecordingKey(payload.SessionID, fileName(payload.FileURL))

	if _, err := p.s3.Upload(ctx, p.s3.RecordingsBucket(), key, contentType, resp.Body, resp.ContentLength); err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}

	if err := p.sessions.SetRecordingObjectKey(ctx, payload.SessionID, key); err != nil {
		return fmt.Errorf("store object key: %w", err)
	}

	p.logger.Info("recording transfer completed",
		zap.String("session_id", payload.SessionID),
		zap.String("s3_key", key),
	)
	return nil
}

// fileName extracts the object file name from a provider download URL.
func fileName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "recording.m4a"
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return "recording.m4a"
	}
	return name
}

// deliverNotification relays one queued push notification to FCM.
func (p *Processor) deliverNotification(ctx context.Context, payload queue.PushNotificationPayload) error {
	if p.fcm == nil || !p.fcm.Configured() {
		return fmt.Errorf("fcm not configured")
	}
	msg := notifications.Message{
		DeviceToken: payload.DeviceToken,
		Data:        payload.Data,
	}
	msg.Notification.Title = payload.Title
	msg.Notification.Body = payload.Body
	if err := p.fcm.Send(ctx, msg); err != nil {
		return fmt.Errorf("fcm send: %w", err)
	}
	p.logger.Info("push notification delivered", zap.String("title", payload.Title))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *Processor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("worker stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
			continue
		}
	}
}
