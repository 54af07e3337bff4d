package recording

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prepskul/backend/internal/middleware"
	"github.com/prepskul/backend/internal/models"
)

type fakeStore struct {
	sessions map[string]*models.Session
	trials   map[string]*models.TrialSession

	calls    int
	upserted []*models.Session
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: make(map[string]*models.Session),
		trials:   make(map[string]*models.TrialSession),
	}
}

func (s *fakeStore) GetByID(_ context.Context, id string) (*models.Session, error) {
	s.calls++
	if sess, ok := s.sessions[id]; ok {
		copied := *sess
		return &copied, nil
	}
	return nil, nil
}

func (s *fakeStore) GetTrialByID(_ context.Context, id string) (*models.TrialSession, error) {
	s.calls++
	if t, ok := s.trials[id]; ok {
		copied := *t
		return &copied, nil
	}
	return nil, nil
}

func (s *fakeStore) Upsert(_ context.Context, sess *models.Session) error {
	s.calls++
	copied := *sess
	s.sessions[sess.ID] = &copied
	s.upserted = append(s.upserted, &copied)
	return nil
}

func (s *fakeStore) MarkRecordingStarted(_ context.Context, id, channelName, resourceID, sid string) (bool, error) {
	s.calls++
	sess, ok := s.sessions[id]
	if !ok || sess.RecordingStatus == models.RecordingStatusRecording {
		return false, nil
	}
	sess.ChannelName = channelName
	sess.RecordingResourceID = resourceID
	sess.RecordingSID = sid
	sess.RecordingStatus = models.RecordingStatusRecording
	return true, nil
}

func (s *fakeStore) MarkRecordingStopped(_ context.Context, id string) error {
	s.calls++
	sess, ok := s.sessions[id]
	if !ok {
		return errors.New("no such session")
	}
	sess.RecordingResourceID = ""
	sess.RecordingSID = ""
	sess.RecordingStatus = models.RecordingStatusStopped
	return nil
}

type providerCall struct {
	sessionID, channelName, tutorUID, learnerUID string
}

type fakeProvider struct {
	resourceID string
	sid        string
	startErr   error
	stopErr    error
	status     int
	queryErr   error

	startCalls []providerCall
	stopCalls  int
	queryCalls int
}

func (p *fakeProvider) StartRecording(_ context.Context, sessionID, channelName, tutorUID, learnerUID string) (string, string, error) {
	p.startCalls = append(p.startCalls, providerCall{sessionID, channelName, tutorUID, learnerUID})
	if p.startErr != nil {
		return "", "", p.startErr
	}
	return p.resourceID, p.sid, nil
}

func (p *fakeProvider) StopRecording(_ context.Context, _, _, _ string) error {
	p.stopCalls++
	return p.stopErr
}

func (p *fakeProvider) QueryRecording(_ context.Context, _, _ string) (int, error) {
	p.queryCalls++
	return p.status, p.queryErr
}

type fakeLock struct {
	allow bool
	err   error
	locks int
}

func (l *fakeLock) TryLock(_ context.Context, _ string) (bool, error) {
	l.locks++
	return l.allow, l.err
}

func (l *fakeLock) Unlock(_ context.Context, _ string) {}

type fixture struct {
	store    *fakeStore
	provider *fakeProvider
	lock     *fakeLock
	router   *gin.Engine
}

func newFixture(userID string) *fixture {
	gin.SetMode(gin.TestMode)
	f := &fixture{
		store:    newFakeStore(),
		provider: &fakeProvider{resourceID: "res-1", sid: "sid-1"},
		lock:     &fakeLock{allow: true},
	}
	h := NewHandler(f.store, f.provider, f.lock, nil)
	f.router = gin.New()
	f.router.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserID, userID)
		c.Next()
	})
	f.router.POST("/recording/start", h.Start)
	f.router.POST("/recording/stop", h.Stop)
	f.router.GET("/recording/status", h.Status)
	return f
}

func (f *fixture) post(t *testing.T, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w, decode(t, w)
}

func (f *fixture) get(t *testing.T, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w, decode(t, w)
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func canonicalSession(id string) *models.Session {
	return &models.Session{
		ID:              id,
		TutorID:         "T1",
		LearnerID:       "L1",
		Status:          models.SessionStatusScheduled,
		ScheduledDate:   "2026-03-01",
		ScheduledTime:   "14:00",
		DurationMinutes: 60,
		Location:        "online",
	}
}

func TestStartMissingSessionID(t *testing.T) {
	f := newFixture("T1")

	w, body := f.post(t, "/recording/start", map[string]string{})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "sessionId is required", body["error"])
	assert.Zero(t, f.store.calls, "no store calls before validation passes")
}

func TestStartSessionNotFound(t *testing.T) {
	f := newFixture("T1")

	w, body := f.post(t, "/recording/start", map[string]string{"sessionId": "missing"})

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "session not found", body["error"])
	assert.Empty(t, f.provider.startCalls)
}

func TestStartNotParticipant(t *testing.T) {
	f := newFixture("intruder")
	f.store.sessions["sess-1"] = canonicalSession("sess-1")

	w, body := f.post(t, "/recording/start", map[string]string{"sessionId": "sess-1"})

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, body["error"], "not a participant")
	assert.Empty(t, f.provider.startCalls)
}

func TestStartSuccess(t *testing.T) {
	f := newFixture("L1")
	f.store.sessions["sess-1"] = canonicalSession("sess-1")

	w, body := f.post(t, "/recording/start", map[string]string{"sessionId": "sess-1"})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "res-1", body["resourceId"])
	assert.Equal(t, "sid-1", body["sid"])
	assert.Equal(t, "session_sess-1", body["channelName"])

	require.Len(t, f.provider.startCalls, 1)
	call := f.provider.startCalls[0]
	assert.Equal(t, "session_sess-1", call.channelName)
	assert.Equal(t, "T1", call.tutorUID)
	assert.Equal(t, "L1", call.learnerUID)

	sess := f.store.sessions["sess-1"]
	assert.Equal(t, models.RecordingStatusRecording, sess.RecordingStatus)
	assert.Equal(t, "res-1", sess.RecordingResourceID)
	assert.Equal(t, "sid-1", sess.RecordingSID)
	assert.Equal(t, "session_sess-1", sess.ChannelName)
}

func TestStartUsesStoredChannelName(t *testing.T) {
	f := newFixture("T1")
	sess := canonicalSession("sess-1")
	sess.ChannelName = "session_custom"
	f.store.sessions["sess-1"] = sess

	w, body := f.post(t, "/recording/start", map[string]string{"sessionId": "sess-1"})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "session_custom", body["channelName"])
	require.Len(t, f.provider.startCalls, 1)
	assert.Equal(t, "session_custom", f.provider.startCalls[0].channelName)
}

func TestStartMaterializesTrialSession(t *testing.T) {
	f := newFixture("T1")
	f.store.trials["trial-42"] = &models.TrialSession{
		ID:              "trial-42",
		TutorID:         "T1",
		LearnerID:       "L1",
		DurationMinutes: 30,
	}

	w, body := f.post(t, "/recording/start", map[string]string{"sessionId": "trial-42"})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "session_trial-42", body["channelName"])

	require.Len(t, f.store.upserted, 1)
	promoted := f.store.upserted[0]
	assert.Equal(t, models.SessionStatusInProgress, promoted.Status)
	assert.Equal(t, "session_trial-42", promoted.ChannelName)
	assert.Equal(t, 30, promoted.DurationMinutes, "trial values are copied, not defaulted")
	assert.Equal(t, Defaults.Location, promoted.Location)
	assert.Equal(t, Defaults.ScheduledTime, promoted.ScheduledTime)
	assert.Equal(t, Defaults.ScheduledDate(), promoted.ScheduledDate)

	sess := f.store.sessions["trial-42"]
	assert.Equal(t, models.RecordingStatusRecording, sess.RecordingStatus)
}

func TestStartIdempotentReplay(t *testing.T) {
	f := newFixture("T1")
	sess := canonicalSession("sess-1")
	sess.RecordingStatus = models.RecordingStatusRecording
	sess.RecordingResourceID = "existing-res"
	sess.RecordingSID = "existing-sid"
	f.store.sessions["sess-1"] = sess

	w, body := f.post(t, "/recording/start", map[string]string{"sessionId": "sess-1"})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "existing-res", body["resourceId"])
	assert.Equal(t, "existing-sid", body["sid"])
	assert.Equal(t, "Recording already in progress", body["message"])
	assert.Empty(t, f.provider.startCalls, "no second provider invocation")
	assert.Zero(t, f.lock.locks, "replay answered before locking")
}

func TestStartSequentialCallsStartOnce(t *testing.T) {
	f := newFixture("T1")
	f.store.sessions["sess-1"] = canonicalSession("sess-1")

	w1, first := f.post(t, "/recording/start", map[string]string{"sessionId": "sess-1"})
	w2, second := f.post(t, "/recording/start", map[string]string{"sessionId": "sess-1"})

	require.Equal(t, http.StatusOK, w1.Code)
	require.Equal(t, http.StatusOK, w2.Code)
	assert.Equal(t, first["resourceId"], second["resourceId"])
	assert.Equal(t, first["sid"], second["sid"])
	assert.Equal(t, "Recording already in progress", second["message"])
	assert.Len(t, f.provider.startCalls, 1)
}

func TestStartLockHeld(t *testing.T) {
	f := newFixture("T1")
	f.store.sessions["sess-1"] = canonicalSession("sess-1")
	f.lock.allow = false

	w, body := f.post(t, "/recording/start", map[string]string{"sessionId": "sess-1"})

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, body["error"], "already in progress")
	assert.Empty(t, f.provider.startCalls)
}

func TestStartProviderFailure(t *testing.T) {
	f := newFixture("T1")
	f.store.sessions["sess-1"] = canonicalSession("sess-1")
	f.provider.startErr = errors.New("agora: invalid appid (status 400)")

	w, body := f.post(t, "/recording/start", map[string]string{"sessionId": "sess-1"})

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, body["error"], "invalid appid")

	sess := f.store.sessions["sess-1"]
	assert.Equal(t, models.RecordingStatusNone, sess.RecordingStatus, "no state mutation on provider failure")
	assert.Empty(t, sess.RecordingResourceID)
}

func TestStopSuccess(t *testing.T) {
	f := newFixture("L1")
	sess := canonicalSession("sess-1")
	sess.ChannelName = "session_sess-1"
	sess.RecordingStatus = models.RecordingStatusRecording
	sess.RecordingResourceID = "res-1"
	sess.RecordingSID = "sid-1"
	f.store.sessions["sess-1"] = sess

	w, body := f.post(t, "/recording/stop", map[string]string{"sessionId": "sess-1"})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.RecordingStatusStopped, body["recordingStatus"])
	assert.Equal(t, 1, f.provider.stopCalls)

	stored := f.store.sessions["sess-1"]
	assert.Equal(t, models.RecordingStatusStopped, stored.RecordingStatus)
	assert.Empty(t, stored.RecordingResourceID)
	assert.Empty(t, stored.RecordingSID)
}

func TestStopNoRecordingInProgress(t *testing.T) {
	f := newFixture("T1")
	f.store.sessions["sess-1"] = canonicalSession("sess-1")

	w, body := f.post(t, "/recording/stop", map[string]string{"sessionId": "sess-1"})

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "no recording in progress", body["error"])
	assert.Zero(t, f.provider.stopCalls)
}

func TestStopProviderFailureKeepsState(t *testing.T) {
	f := newFixture("T1")
	sess := canonicalSession("sess-1")
	sess.RecordingStatus = models.RecordingStatusRecording
	sess.RecordingResourceID = "res-1"
	sess.RecordingSID = "sid-1"
	f.store.sessions["sess-1"] = sess
	f.provider.stopErr = errors.New("agora: resource expired (status 404)")

	w, _ := f.post(t, "/recording/stop", map[string]string{"sessionId": "sess-1"})

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, models.RecordingStatusRecording, f.store.sessions["sess-1"].RecordingStatus)
}

func TestStatusWhileRecording(t *testing.T) {
	f := newFixture("T1")
	sess := canonicalSession("sess-1")
	sess.RecordingStatus = models.RecordingStatusRecording
	sess.RecordingResourceID = "res-1"
	sess.RecordingSID = "sid-1"
	f.store.sessions["sess-1"] = sess
	f.provider.status = 5

	w, body := f.get(t, "/recording/status?sessionId=sess-1")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.RecordingStatusRecording, body["recordingStatus"])
	assert.Equal(t, "res-1", body["resourceId"])
	assert.Equal(t, float64(5), body["providerStatus"])
	assert.Equal(t, 1, f.provider.queryCalls)
}

func TestStatusNoRecording(t *testing.T) {
	f := newFixture("T1")
	f.store.sessions["sess-1"] = canonicalSession("sess-1")

	w, body := f.get(t, "/recording/status?sessionId=sess-1")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "", body["recordingStatus"])
	assert.Zero(t, f.provider.queryCalls)
}
