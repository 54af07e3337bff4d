// Package agora implements the Agora Cloud Recording RESTful API
// (acquire/start/stop/query) used to record tutoring session audio.
package agora

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

const (
	defaultBaseURL = "https://api.agora.io"
	// recordings run in individual mode (per-user audio files).
	mode = "individual"
	// resource tokens are valid for this many hours after acquire.
	resourceExpiredHour = 24
)

// Config holds Agora REST credentials and recording storage destination.
type Config struct {
	AppID          string
	CustomerKey    string
	CustomerSecret string
	BaseURL        string
	RecorderUID    string // uid the recording bot joins the channel with
	Storage        StorageConfig
}

// StorageConfig is the cloud recording storage destination (vendor 1 = Amazon S3).
type StorageConfig struct {
	Vendor    int
	Region    int
	Bucket    string
	AccessKey string
	SecretKey string
}

// APIError is a non-2xx response from the Agora API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("agora: %s (status %d)", e.Message, e.StatusCode)
}

// Client calls the Agora Cloud Recording REST API with basic auth.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// NewClient creates an Agora cloud recording client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: 15 * time.Second},
		logger: logger,
	}
}

type acquireResponse struct {
	ResourceID string `json:"resourceId"`
}

type startResponse struct {
	ResourceID string `json:"resourceId"`
	SID        string `json:"sid"`
}

type queryResponse struct {
	ServerResponse struct {
		Status int `json:"status"`
	} `json:"serverResponse"`
}

// StartRecording acquires a recording resource for the channel and starts an
// individual-mode audio recording subscribed to the tutor and learner uids.
// Returns the provider (resourceId, sid) pair identifying the recording.
func (c *Client) StartRecording(ctx context.Context, sessionID, channelName, tutorUID, learnerUID string) (resourceID, sid string, err error) {
	if c.cfg.AppID == "" || c.cfg.CustomerKey == "" || c.cfg.CustomerSecret == "" {
		return "", "", fmt.Errorf("agora: app id and customer credentials required")
	}

	acquireBody := map[string]interface{}{
		"cname": channelName,
		"uid":   c.cfg.RecorderUID,
		"clientRequest": map[string]interface{}{
			"resourceExpiredHour": resourceExpiredHour,
		},
	}
	var acq acquireResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/apps/%s/cloud_recording/acquire", c.cfg.AppID), acquireBody, &acq); err != nil {
		return "", "", err
	}
	if acq.ResourceID == "" {
		return "", "", &APIError{StatusCode: http.StatusBadGateway, Message: "acquire returned empty resourceId"}
	}

	startBody := map[string]interface{}{
		"cname": channelName,
		"uid":   c.cfg.RecorderUID,
		"clientRequest": map[string]interface{}{
			"recordingConfig": map[string]interface{}{
				"channelType":        0, // communication
				"streamTypes":        0, // audio only
				"maxIdleTime":        300,
				"subscribeAudioUids": []string{tutorUID, learnerUID},
				"subscribeUidGroup":  0,
			},
			"recordingFileConfig": map[string]interface{}{
				"avFileType": []string{"hls"},
			},
			"storageConfig": map[string]interface{}{
				"vendor":         c.cfg.Storage.Vendor,
				"region":         c.cfg.Storage.Region,
				"bucket":         c.cfg.Storage.Bucket,
				"accessKey":      c.cfg.Storage.AccessKey,
				"secretKey":      c.cfg.Storage.SecretKey,
				"fileNamePrefix": []string{"recordings", prefixPart(sessionID)},
			},
		},
	}
	var started startResponse
	path := fmt.Sprintf("/v1/apps/%s/cloud_recording/resourceid/%s/mode/%s/start", c.cfg.AppID, acq.ResourceID, mode)
	if err := c.do(ctx, http.MethodPost, path, startBody, &started); err != nil {
		return "", "", err
	}
	if started.SID == "" {
		return "", "", &APIError{StatusCode: http.StatusBadGateway, Message: "start returned empty sid"}
	}

	c.logger.Info("cloud recording started",
		zap.String("session_id", sessionID),
		zap.String("channel", channelName),
		zap.String("sid", started.SID),
	)
	return acq.ResourceID, started.SID, nil
}

// StopRecording stops an in-progress recording identified by (resourceID, sid).
func (c *Client) StopRecording(ctx context.Context, channelName, resourceID, sid string) error {
	body := map[string]interface{}{
		"cname":         channelName,
		"uid":           c.cfg.RecorderUID,
		"clientRequest": map[string]interface{}{},
	}
	path := fmt.Sprintf("/v1/apps/%s/cloud_recording/resourceid/%s/sid/%s/mode/%s/stop", c.cfg.AppID, resourceID, sid, mode)
	if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return err
	}
	c.logger.Info("cloud recording stopped", zap.String("channel", channelName), zap.String("sid", sid))
	return nil
}

// QueryRecording returns the provider-side status code of a recording
// (1-5 in progress, 6+ exiting; see Agora cloud recording docs).
func (c *Client) QueryRecording(ctx context.Context, resourceID, sid string) (int, error) {
	var out queryResponse
	path := fmt.Sprintf("/v1/apps/%s/cloud_recording/resourceid/%s/sid/%s/mode/%s/query", c.cfg.AppID, resourceID, sid, mode)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return 0, err
	}
	return out.ServerResponse.Status, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.cfg.CustomerKey, c.cfg.CustomerSecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("agora request: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: apiMessage(raw)}
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// apiMessage extracts the error message from an Agora error body, falling
// back to the raw body.
func apiMessage(raw []byte) string {
	var body struct {
		Message string `json:"message"`
		Reason  string `json:"reason"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Reason != "" {
			return body.Reason
		}
	}
	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		msg = "request failed"
	}
	return msg
}

// prefixPart strips characters Agora does not allow in fileNamePrefix
// elements (only letters and digits are accepted).
func prefixPart(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "session"
	}
	return b.String()
}
