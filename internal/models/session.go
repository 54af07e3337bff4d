package models

import "time"

// Session lifecycle statuses.
const (
	SessionStatusScheduled  = "scheduled"
	SessionStatusInProgress = "in_progress"
	SessionStatusCompleted  = "completed"
	SessionStatusCancelled  = "cancelled"
)

// RecordingStatus represents recording lifecycle on a session.
const (
	RecordingStatusNone      = ""
	RecordingStatusRecording = "recording"
	RecordingStatusStopped   = "stopped"
)

// Session is the canonical tutoring session record (individual_sessions).
// Trial-origin sessions are promoted into this shape on first recording start.
type Session struct {
	ID                  string    `json:"id"`
	TutorID             string    `json:"tutor_id"`
	LearnerID           string    `json:"learner_id"`
	ParentID            string    `json:"parent_id,omitempty"`
	RecurringSessionID  string    `json:"recurring_session_id,omitempty"`
	Status              string    `json:"status"`
	ScheduledDate       string    `json:"scheduled_date"`
	ScheduledTime       string    `json:"scheduled_time"`
	DurationMinutes     int       `json:"duration_minutes"`
	Location            string    `json:"location"`
	Subject             string    `json:"subject,omitempty"`
	ChannelName         string    `json:"channel_name,omitempty"`
	RecordingResourceID string    `json:"recording_resource_id,omitempty"`
	RecordingSID        string    `json:"recording_sid,omitempty"`
	RecordingStatus     string    `json:"recording_status,omitempty"`
	RecordingObjectKey  string    `json:"-"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// IsParticipant reports whether userID is the session tutor or learner.
func (s *Session) IsParticipant(userID string) bool {
	return userID != "" && (s.TutorID == userID || s.LearnerID == userID)
}

// TrialSession is the lighter-weight free/introductory session record
// (trial_sessions). Scheduling fields may be unset; zero values mean absent.
type TrialSession struct {
	ID              string    `json:"id"`
	TutorID         string    `json:"tutor_id"`
	LearnerID       string    `json:"learner_id"`
	ParentID        string    `json:"parent_id,omitempty"`
	ScheduledDate   string    `json:"scheduled_date,omitempty"`
	ScheduledTime   string    `json:"scheduled_time,omitempty"`
	DurationMinutes int       `json:"duration_minutes,omitempty"`
	Location        string    `json:"location,omitempty"`
	Subject         string    `json:"subject,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}
