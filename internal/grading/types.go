package grading

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Criterion is one rubric scoring criterion. Rubrics are read-only input.
type Criterion struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	MaxPoints   float64 `json:"maxPoints"`
}

// CriterionGrade is the model's verdict on one criterion.
type CriterionGrade struct {
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	MaxPoints    float64  `json:"maxPoints"`
	EarnedPoints float64  `json:"earnedPoints"`
	Evidence     []string `json:"evidence"`
	Reasoning    string   `json:"reasoning"`
}

// Grade is one grading outcome for a session. Persisted as a session_grades row.
type Grade struct {
	ID               uuid.UUID
	SessionID        int64
	UserID           int64
	AssignmentID     *int64
	RubricID         *int64
	TotalScore       float64
	MaxPossibleScore float64
	CriteriaGrades   []CriterionGrade
	GradingModel     string
	ManualOverride   bool
	CreatedAt        time.Time
}

// Result is what a grading run hands back to its caller. Closed and its
// evidence live on the session, not the grade row, so they ride alongside.
type Result struct {
	Grade          *Grade
	Closed         bool
	ClosedEvidence string
	WasTruncated   bool
}

// flexBool accepts the closed field as a native boolean or as a string
// "true"/"false" in any case. Absent and null leave Set false.
type flexBool struct {
	Set   bool
	Value bool
}

func (b *flexBool) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if string(trimmed) == "null" {
		return nil
	}
	switch string(trimmed) {
	case "true":
		b.Set, b.Value = true, true
		return nil
	case "false":
		b.Set, b.Value = true, false
		return nil
	}
	if len(trimmed) >= 2 && trimmed[0] == '"' && trimmed[len(trimmed)-1] == '"' {
		switch strings.ToLower(string(trimmed[1 : len(trimmed)-1])) {
		case "true":
			b.Set, b.Value = true, true
			return nil
		case "false":
			b.Set, b.Value = true, false
			return nil
		}
	}
	return fmt.Errorf("closed field is neither boolean nor true/false string: %s", string(data))
}

// gradeResponse is the strict JSON shape the grading prompt demands.
type gradeResponse struct {
	TotalScore       float64          `json:"totalScore"`
	MaxPossibleScore float64          `json:"maxPossibleScore"`
	Closed           flexBool         `json:"closed"`
	ClosedEvidence   string           `json:"closedEvidence"`
	CriteriaGrades   []CriterionGrade `json:"criteriaGrades"`
}
