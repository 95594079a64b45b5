package store

import (
	"context"
	"fmt"
	"time"
)

// Status is the session lifecycle state. Free-text in the legacy schema;
// validated on ingress here so unrecognized values fail loudly instead of
// falling through a default branch.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusAbandoned  Status = "abandoned"
)

// ParseStatus validates a status string from an external caller.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusInProgress, StatusCompleted, StatusAbandoned:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown session status %q", s)
}

// Session is one attempted training call.
type Session struct {
	ID                 int64
	UserID             int64
	OrgID              int64
	AssignmentID       *int64
	TemplateID         *int64
	VendorCallID       *string
	Transcript         string
	TranscriptLLMClean *string
	AISummary          *string
	RecordingURL       *string
	Closed             *bool
	ClosedEvidence     *string
	SubmittedForReview bool
	Status             Status
	DurationSeconds    int
	StartedAt          *time.Time
	EndedAt            *time.Time
	CreatedAt          time.Time
}

const sessionColumns = `id, user_id, org_id, assignment_id, template_id, vendor_call_id,
	transcript, transcript_llm_clean, ai_summary, recording_url, closed, closed_evidence,
	submitted_for_review, status, duration_seconds, started_at, ended_at, created_at`

// CreateSession inserts a session row and returns its assigned id.
func (s *Store) CreateSession(ctx context.Context, sess *Session) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO training_sessions
			(user_id, org_id, assignment_id, template_id, vendor_call_id, transcript,
			 status, duration_seconds, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		sess.UserID, sess.OrgID, sess.AssignmentID, sess.TemplateID, sess.VendorCallID,
		sess.Transcript, sess.Status, sess.DurationSeconds, sess.StartedAt, sess.EndedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert session: %w", err)
	}
	return id, nil
}

// GetSession fetches one session by id.
func (s *Store) GetSession(ctx context.Context, id int64) (*Session, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM training_sessions
		WHERE id = $1`,
		id,
	)

	var sess Session
	err := row.Scan(
		&sess.ID, &sess.UserID, &sess.OrgID, &sess.AssignmentID, &sess.TemplateID,
		&sess.VendorCallID, &sess.Transcript, &sess.TranscriptLLMClean, &sess.AISummary,
		&sess.RecordingURL, &sess.Closed, &sess.ClosedEvidence, &sess.SubmittedForReview,
		&sess.Status, &sess.DurationSeconds, &sess.StartedAt, &sess.EndedAt, &sess.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("get session %d: %w", id, err)
	}
	return &sess, nil
}

// SetRecordingURL stores the fetched recording URL on the session.
func (s *Store) SetRecordingURL(ctx context.Context, sessionID int64, url string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE training_sessions SET recording_url = $1, updated_at = now()
		WHERE id = $2`,
		url, sessionID,
	)
	if err != nil {
		return fmt.Errorf("set recording url: %w", err)
	}
	return nil
}

// SetCleanTranscript stores the LLM-cleaned transcript on the session.
func (s *Store) SetCleanTranscript(ctx context.Context, sessionID int64, clean string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE training_sessions SET transcript_llm_clean = $1, updated_at = now()
		WHERE id = $2`,
		clean, sessionID,
	)
	if err != nil {
		return fmt.Errorf("set clean transcript: %w", err)
	}
	return nil
}

// SetSummary stores the coaching summary on the session.
func (s *Store) SetSummary(ctx context.Context, sessionID int64, summary string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE training_sessions SET ai_summary = $1, updated_at = now()
		WHERE id = $2`,
		summary, sessionID,
	)
	if err != nil {
		return fmt.Errorf("set summary: %w", err)
	}
	return nil
}

// SetClosed stores the closed verdict and its evidence together. The two
// fields are never written independently.
func (s *Store) SetClosed(ctx context.Context, sessionID int64, closed bool, evidence string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE training_sessions SET closed = $1, closed_evidence = $2, updated_at = now()
		WHERE id = $3`,
		closed, evidence, sessionID,
	)
	if err != nil {
		return fmt.Errorf("set closed: %w", err)
	}
	return nil
}
