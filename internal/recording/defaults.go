package recording

import (
	"time"

	"github.com/prepskul/backend/internal/models"
)

// ChannelName derives the communication channel identifier for a session.
func ChannelName(sessionID string) string {
	return "session_" + sessionID
}

// DefaultPolicy supplies the scheduling values applied when a trial record
// is promoted to a canonical session without them. Tests assert against
// Defaults directly instead of re-deriving expected values.
type DefaultPolicy struct {
	ScheduledTime   string
	DurationMinutes int
	Location        string
	Now             func() time.Time
}

// Defaults is the production default policy.
var Defaults = DefaultPolicy{
	ScheduledTime:   "00:00",
	DurationMinutes: 60,
	Location:        "online",
	Now:             time.Now,
}

// ScheduledDate returns the default scheduled date: the current date, UTC.
func (p DefaultPolicy) ScheduledDate() string {
	return p.Now().UTC().Format("2006-01-02")
}

// Materialize builds the canonical session for a trial-origin record,
// copying its fields and filling any absent scheduling fields from the
// policy. The session starts in_progress with the derived channel name.
func (p DefaultPolicy) Materialize(trial *models.TrialSession) *models.Session {
	s := &models.Session{
		ID:              trial.ID,
		TutorID:         trial.TutorID,
		LearnerID:       trial.LearnerID,
		ParentID:        trial.ParentID,
		Status:          models.SessionStatusInProgress,
		ScheduledDate:   trial.ScheduledDate,
		ScheduledTime:   trial.ScheduledTime,
		DurationMinutes: trial.DurationMinutes,
		Location:        trial.Location,
		Subject:         trial.Subject,
		ChannelName:     ChannelName(trial.ID),
	}
	if s.ScheduledDate == "" {
		s.ScheduledDate = p.ScheduledDate()
	}
	if s.ScheduledTime == "" {
		s.ScheduledTime = p.ScheduledTime
	}
	if s.DurationMinutes == 0 {
		s.DurationMinutes = p.DurationMinutes
	}
	if s.Location == "" {
		s.Location = p.Location
	}
	return s
}
