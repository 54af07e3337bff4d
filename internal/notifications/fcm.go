package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Message is a push notification addressed to a single device token.
type Message struct {
	DeviceToken string            `json:"to"`
	Data        map[string]string `json:"data,omitempty"`
	Notification struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	} `json:"notification"`
}

// FCMClient delivers push notifications through Firebase Cloud Messaging.
type FCMClient struct {
	serverKey string
	endpoint  string
	http      *http.Client
	logger    *zap.Logger
}

// NewFCMClient creates an FCM relay client.
func NewFCMClient(serverKey, endpoint string, logger *zap.Logger) *FCMClient {
	if endpoint == "" {
		endpoint = "https://fcm.googleapis.com/fcm/send"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FCMClient{
		serverKey: serverKey,
		endpoint:  endpoint,
		http:      &http.Client{Timeout: 10 * time.Second},
		logger:    logger,
	}
}

// Configured reports whether a server key is present.
func (c *FCMClient) Configured() bool { return c.serverKey != "" }

// Send delivers one notification. Non-2xx responses are errors so the job
// queue can retry delivery.
func (c *FCMClient) Send(ctx context.Context, msg Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+c.serverKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("fcm request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("fcm status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
