package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/PitchLabs-AI/debrief/internal/grading"
)

// AssignmentRubric resolves the rubric criteria for an assignment. A missing
// assignment or an assignment without a rubric yields empty criteria, not an
// error — the caller skips grading in that case.
func (s *Store) AssignmentRubric(ctx context.Context, assignmentID int64) ([]grading.Criterion, int64, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT r.id, r.criteria
		FROM assignments a
		JOIN rubrics r ON r.id = a.rubric_id
		WHERE a.id = $1`,
		assignmentID,
	)

	var rubricID int64
	var criteria []grading.Criterion
	err := row.Scan(&rubricID, &criteria)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("assignment rubric %d: %w", assignmentID, err)
	}
	return criteria, rubricID, nil
}

// DefaultRubric returns the criteria of the rubric used for practice sessions
// with no assignment: the pinned rubric id when one is configured, otherwise
// the rubric flagged as default. No default configured yields empty criteria.
func (s *Store) DefaultRubric(ctx context.Context) ([]grading.Criterion, int64, error) {
	var row pgx.Row
	if s.defaultRubricID != 0 {
		row = s.pool.QueryRow(ctx, `SELECT id, criteria FROM rubrics WHERE id = $1`, s.defaultRubricID)
	} else {
		row = s.pool.QueryRow(ctx, `
			SELECT id, criteria
			FROM rubrics
			WHERE is_default = TRUE
			ORDER BY id
			LIMIT 1`,
		)
	}

	var rubricID int64
	var criteria []grading.Criterion
	err := row.Scan(&rubricID, &criteria)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("default rubric: %w", err)
	}
	return criteria, rubricID, nil
}
