package recording

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prepskul/backend/internal/models"
	"github.com/prepskul/backend/pkg/queue"
)

type fakeWebhookStore struct {
	byChannel map[string]*models.Session
	keys      map[string]string
}

func (s *fakeWebhookStore) GetByChannelName(_ context.Context, channelName string) (*models.Session, error) {
	if sess, ok := s.byChannel[channelName]; ok {
		return sess, nil
	}
	return nil, nil
}

func (s *fakeWebhookStore) SetRecordingObjectKey(_ context.Context, id, key string) error {
	s.keys[id] = key
	return nil
}

type fakeEnqueuer struct {
	transfers []queue.RecordingTransferPayload
}

func (q *fakeEnqueuer) EnqueueRecordingTransfer(_ context.Context, payload queue.RecordingTransferPayload) error {
	q.transfers = append(q.transfers, payload)
	return nil
}

type webhookFixture struct {
	store  *fakeWebhookStore
	queue  *fakeEnqueuer
	router *gin.Engine
}

func newWebhookFixture() *webhookFixture {
	gin.SetMode(gin.TestMode)
	f := &webhookFixture{
		store: &fakeWebhookStore{
			byChannel: make(map[string]*models.Session),
			keys:      make(map[string]string),
		},
		queue: &fakeEnqueuer{},
	}
	h := NewWebhookHandler(f.store, f.queue, nil)
	f.router = gin.New()
	f.router.POST("/webhooks/recording-events", h.Events)
	return f
}

func (f *webhookFixture) post(t *testing.T, event map[string]interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	raw, err := json.Marshal(event)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/recording-events", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func uploadedEvent(cname string, details map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"noticeId":  "notice-1",
		"eventType": eventUploaded,
		"payload": map[string]interface{}{
			"cname":   cname,
			"uid":     "527841",
			"sid":     "sid-1",
			"details": details,
		},
	}
}

func TestWebhookIgnoresOtherEventTypes(t *testing.T) {
	f := newWebhookFixture()

	w, body := f.post(t, map[string]interface{}{"noticeId": "n", "eventType": 40})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["handled"])
	assert.Empty(t, f.queue.transfers)
}

func TestWebhookUnknownChannel(t *testing.T) {
	f := newWebhookFixture()

	w, _ := f.post(t, uploadedEvent("session_ghost", map[string]interface{}{"fileName": "x.m4a"}))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWebhookStoresObjectKeyFromFileName(t *testing.T) {
	f := newWebhookFixture()
	f.store.byChannel["session_s1"] = &models.Session{ID: "s1", ChannelName: "session_s1"}

	w, body := f.post(t, uploadedEvent("session_s1", map[string]interface{}{
		"fileName": "recordings/s1/audio.m4a",
	}))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["handled"])
	assert.Equal(t, "recordings/s1/audio.m4a", f.store.keys["s1"])
	assert.Empty(t, f.queue.transfers)
}

func TestWebhookEnqueuesTransferFromFileURL(t *testing.T) {
	f := newWebhookFixture()
	f.store.byChannel["session_s1"] = &models.Session{ID: "s1", ChannelName: "session_s1"}

	w, body := f.post(t, uploadedEvent("session_s1", map[string]interface{}{
		"fileUrl": "https://provider.example.com/files/audio.m4a",
	}))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["handled"])
	require.Len(t, f.queue.transfers, 1)
	assert.Equal(t, "s1", f.queue.transfers[0].SessionID)
	assert.Equal(t, "https://provider.example.com/files/audio.m4a", f.queue.transfers[0].FileURL)
	assert.Empty(t, f.store.keys)
}

func TestWebhookEventWithoutFileReference(t *testing.T) {
	f := newWebhookFixture()
	f.store.byChannel["session_s1"] = &models.Session{ID: "s1", ChannelName: "session_s1"}

	w, _ := f.post(t, uploadedEvent("session_s1", map[string]interface{}{}))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
