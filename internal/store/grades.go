package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/PitchLabs-AI/debrief/internal/grading"
)

// InsertGrade writes a new grade row. Re-grading inserts a fresh row rather
// than mutating an earlier one.
func (s *Store) InsertGrade(ctx context.Context, g *grading.Grade) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO session_grades
			(id, session_id, user_id, assignment_id, rubric_id, total_score,
			 max_possible_score, criteria_grades, grading_model, manual_override)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		id, g.SessionID, g.UserID, g.AssignmentID, g.RubricID, g.TotalScore,
		g.MaxPossibleScore, g.CriteriaGrades, g.GradingModel, g.ManualOverride,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert grade: %w", err)
	}
	return id, nil
}

// GetLatestGrade returns the most recent grade for a session, or nil when the
// session has never been graded.
func (s *Store) GetLatestGrade(ctx context.Context, sessionID int64) (*grading.Grade, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, session_id, user_id, assignment_id, rubric_id, total_score,
		       max_possible_score, criteria_grades, grading_model, manual_override, created_at
		FROM session_grades
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT 1`,
		sessionID,
	)

	var g grading.Grade
	err := row.Scan(
		&g.ID, &g.SessionID, &g.UserID, &g.AssignmentID, &g.RubricID, &g.TotalScore,
		&g.MaxPossibleScore, &g.CriteriaGrades, &g.GradingModel, &g.ManualOverride, &g.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest grade: %w", err)
	}
	return &g, nil
}

// ApplyManualOverride rewrites the score on the session's existing grade row,
// or inserts a new overridden row when none exists yet.
func (s *Store) ApplyManualOverride(ctx context.Context, sessionID, userID int64, totalScore, maxScore float64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE session_grades
		SET total_score = $1, max_possible_score = $2, manual_override = TRUE, updated_at = now()
		WHERE id = (
			SELECT id FROM session_grades WHERE session_id = $3
			ORDER BY created_at DESC LIMIT 1
		)`,
		totalScore, maxScore, sessionID,
	)
	if err != nil {
		return fmt.Errorf("override grade: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	_, err = s.InsertGrade(ctx, &grading.Grade{
		SessionID:        sessionID,
		UserID:           userID,
		TotalScore:       totalScore,
		MaxPossibleScore: maxScore,
		CriteriaGrades:   []grading.CriterionGrade{},
		GradingModel:     "manual",
		ManualOverride:   true,
	})
	return err
}
