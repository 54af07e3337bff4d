package sessions

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prepskul/backend/internal/models"
)

// Repository handles canonical and trial session persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a sessions repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const sessionColumns = `id, tutor_id, learner_id, COALESCE(parent_id,''), COALESCE(recurring_session_id,''),
	status, scheduled_date, scheduled_time, duration_minutes, location, COALESCE(subject,''),
	COALESCE(channel_name,''), COALESCE(recording_resource_id,''), COALESCE(recording_sid,''),
	COALESCE(recording_status,''), COALESCE(recording_object_key,''), created_at, updated_at`

func scanSession(row pgx.Row) (*models.Session, error) {
	var s models.Session
	err := row.Scan(&s.ID, &s.TutorID, &s.LearnerID, &s.ParentID, &s.RecurringSessionID,
		&s.Status, &s.ScheduledDate, &s.ScheduledTime, &s.DurationMinutes, &s.Location, &s.Subject,
		&s.ChannelName, &s.RecordingResourceID, &s.RecordingSID,
		&s.RecordingStatus, &s.RecordingObjectKey, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// GetByID returns the canonical session, or nil when none exists.
func (r *Repository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	const q = `SELECT ` + sessionColumns + ` FROM individual_sessions WHERE id = $1`
	return scanSession(r.pool.QueryRow(ctx, q, id))
}

// GetByChannelName returns the canonical session using a channel, or nil
// when none exists. Used by provider webhooks, which identify recordings
// by channel name.
func (r *Repository) GetByChannelName(ctx context.Context, channelName string) (*models.Session, error) {
	const q = `SELECT ` + sessionColumns + ` FROM individual_sessions WHERE channel_name = $1`
	return scanSession(r.pool.QueryRow(ctx, q, channelName))
}

// GetTrialByID returns the trial-origin record, or nil when none exists.
// Unset scheduling fields come back as zero values.
func (r *Repository) GetTrialByID(ctx context.Context, id string) (*models.TrialSession, error) {
	const q = `SELECT id, tutor_id, learner_id, COALESCE(parent_id,''),
		COALESCE(scheduled_date,''), COALESCE(scheduled_time,''), COALESCE(duration_minutes,0),
		COALESCE(location,''), COALESCE(subject,''), created_at
		FROM trial_sessions WHERE id = $1`
	var t models.TrialSession
	err := r.pool.QueryRow(ctx, q, id).Scan(&t.ID, &t.TutorID, &t.LearnerID, &t.ParentID,
		&t.ScheduledDate, &t.ScheduledTime, &t.DurationMinutes, &t.Location, &t.Subject, &t.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// Upsert writes a canonical session keyed by id. Re-running with the same id
// updates the row rather than duplicating it, so trial materialization is
// safe to repeat.
func (r *Repository) Upsert(ctx context.Context, s *models.Session) error {
	const q = `INSERT INTO individual_sessions
		(id, tutor_id, learner_id, parent_id, recurring_session_id, status,
		 scheduled_date, scheduled_time, duration_minutes, location, subject, channel_name)
		VALUES ($1, $2, $3, NULLIF($4,''), NULLIF($5,''), $6, $7, $8, $9, $10, NULLIF($11,''), NULLIF($12,''))
		ON CONFLICT (id) DO UPDATE SET
			tutor_id = EXCLUDED.tutor_id,
			learner_id = EXCLUDED.learner_id,
			parent_id = EXCLUDED.parent_id,
			status = EXCLUDED.status,
			scheduled_date = EXCLUDED.scheduled_date,
			scheduled_time = EXCLUDED.scheduled_time,
			duration_minutes = EXCLUDED.duration_minutes,
			location = EXCLUDED.location,
			subject = EXCLUDED.subject,
			channel_name = EXCLUDED.channel_name,
			updated_at = NOW()`
	_, err := r.pool.Exec(ctx, q, s.ID, s.TutorID, s.LearnerID, s.ParentID, s.RecurringSessionID,
		s.Status, s.ScheduledDate, s.ScheduledTime, s.DurationMinutes, s.Location, s.Subject, s.ChannelName)
	return err
}

// MarkRecordingStarted persists the provider handles and flips the session to
// recording. The write is conditional on no recording being in progress;
// returns false when another start already won.
func (r *Repository) MarkRecordingStarted(ctx context.Context, id, channelName, resourceID, sid string) (bool, error) {
	const q = `UPDATE individual_sessions
		SET channel_name = $2, recording_resource_id = $3, recording_sid = $4,
			recording_status = 'recording', updated_at = NOW()
		WHERE id = $1 AND recording_status IS DISTINCT FROM 'recording'`
	ct, err := r.pool.Exec(ctx, q, id, channelName, resourceID, sid)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

// MarkRecordingStopped clears the provider handles and flips the session to stopped.
func (r *Repository) MarkRecordingStopped(ctx context.Context, id string) error {
	const q = `UPDATE individual_sessions
		SET recording_resource_id = NULL, recording_sid = NULL,
			recording_status = 'stopped', updated_at = NOW()
		WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id)
	return err
}

// SetRecordingObjectKey stores the S3 object key of the transferred recording file.
func (r *Repository) SetRecordingObjectKey(ctx context.Context, id, key string) error {
	const q = `UPDATE individual_sessions SET recording_object_key = $2, updated_at = NOW() WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id, key)
	return err
}
