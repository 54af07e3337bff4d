package recording

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/prepskul/backend/internal/models"
)

func TestChannelName(t *testing.T) {
	assert.Equal(t, "session_trial-42", ChannelName("trial-42"))
	assert.Equal(t, "session_abc", ChannelName("abc"))
}

func fixedPolicy() DefaultPolicy {
	p := Defaults
	p.Now = func() time.Time {
		return time.Date(2026, 3, 15, 23, 30, 0, 0, time.UTC)
	}
	return p
}

func TestMaterializeFillsAbsentFields(t *testing.T) {
	p := fixedPolicy()

	s := p.Materialize(&models.TrialSession{
		ID:        "trial-42",
		TutorID:   "T1",
		LearnerID: "L1",
	})

	assert.Equal(t, "trial-42", s.ID)
	assert.Equal(t, models.SessionStatusInProgress, s.Status)
	assert.Equal(t, "session_trial-42", s.ChannelName)
	assert.Equal(t, "2026-03-15", s.ScheduledDate)
	assert.Equal(t, "00:00", s.ScheduledTime)
	assert.Equal(t, 60, s.DurationMinutes)
	assert.Equal(t, "online", s.Location)
}

func TestMaterializePreservesTrialValues(t *testing.T) {
	p := fixedPolicy()

	s := p.Materialize(&models.TrialSession{
		ID:              "trial-7",
		TutorID:         "T1",
		LearnerID:       "L1",
		ParentID:        "P1",
		ScheduledDate:   "2026-04-01",
		ScheduledTime:   "10:30",
		DurationMinutes: 30,
		Location:        "in_person",
		Subject:         "math",
	})

	assert.Equal(t, "2026-04-01", s.ScheduledDate)
	assert.Equal(t, "10:30", s.ScheduledTime)
	assert.Equal(t, 30, s.DurationMinutes)
	assert.Equal(t, "in_person", s.Location)
	assert.Equal(t, "math", s.Subject)
	assert.Equal(t, "P1", s.ParentID)
}

func TestScheduledDateIsUTC(t *testing.T) {
	p := Defaults
	// 23:30 in UTC-5 is already the next day in UTC.
	loc := time.FixedZone("UTC-5", -5*60*60)
	p.Now = func() time.Time {
		return time.Date(2026, 3, 15, 23, 30, 0, 0, loc)
	}
	assert.Equal(t, "2026-03-16", p.ScheduledDate())
}
