package grading

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/PitchLabs-AI/debrief/internal/llm"
)

// transcriptCeiling caps how much transcript reaches the grading prompt so
// very long calls still grade; only the retained prefix is scored.
const transcriptCeiling = 200_000

const truncationMarker = "\n[TRUNCATED]"

// noClosePlaceholder fills closed_evidence when the model returned no close
// determination at all.
const noClosePlaceholder = "No close determination was provided by the grading model."

// ErrInvalidFormat means the model's grading response was not valid JSON.
var ErrInvalidFormat = errors.New("grading: model returned invalid grading format")

// Completer is the LLM surface the engine needs. Satisfied by *llm.Client.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
	Model() string
}

// Store is the persistence surface the engine needs. Satisfied by *store.Store.
type Store interface {
	AssignmentRubric(ctx context.Context, assignmentID int64) ([]Criterion, int64, error)
	DefaultRubric(ctx context.Context) ([]Criterion, int64, error)
	InsertGrade(ctx context.Context, g *Grade) (uuid.UUID, error)
	SetClosed(ctx context.Context, sessionID int64, closed bool, evidence string) error
}

type Engine struct {
	llm    Completer
	store  Store
	logger *slog.Logger
}

func New(llm Completer, store Store, logger *slog.Logger) *Engine {
	return &Engine{llm: llm, store: store, logger: logger}
}

// Input carries everything GradeTranscript needs. Criteria must be non-empty;
// rubric resolution is the caller's job (or use GradeSession).
type Input struct {
	SessionID    int64
	UserID       int64
	AssignmentID *int64
	RubricID     *int64
	Criteria     []Criterion
	Transcript   string
}

// GradeSession resolves the applicable rubric and grades the session against
// it. A session with no resolvable rubric has nothing to grade: the returned
// result and error are both nil.
func (e *Engine) GradeSession(ctx context.Context, sessionID, userID int64, assignmentID *int64, transcript string) (*Result, error) {
	criteria, rubricID, err := e.resolveRubric(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if len(criteria) == 0 {
		e.logger.Info("no rubric resolved, skipping grading", "session_id", sessionID)
		return nil, nil
	}

	var rubricRef *int64
	if rubricID != 0 {
		rubricRef = &rubricID
	}

	return e.GradeTranscript(ctx, Input{
		SessionID:    sessionID,
		UserID:       userID,
		AssignmentID: assignmentID,
		RubricID:     rubricRef,
		Criteria:     criteria,
		Transcript:   transcript,
	})
}

func (e *Engine) resolveRubric(ctx context.Context, assignmentID *int64) ([]Criterion, int64, error) {
	if assignmentID != nil {
		criteria, rubricID, err := e.store.AssignmentRubric(ctx, *assignmentID)
		if err != nil {
			return nil, 0, fmt.Errorf("resolve assignment rubric: %w", err)
		}
		if len(criteria) > 0 {
			return criteria, rubricID, nil
		}
	}

	criteria, rubricID, err := e.store.DefaultRubric(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("resolve default rubric: %w", err)
	}
	return criteria, rubricID, nil
}

// GradeTranscript runs one grading completion, validates the structured
// response, persists the grade row, and updates the session's closed fields.
func (e *Engine) GradeTranscript(ctx context.Context, in Input) (*Result, error) {
	transcript, wasTruncated := truncateTranscript(in.Transcript)

	e.logger.Info("grading transcript",
		"session_id", in.SessionID,
		"criteria", len(in.Criteria),
		"transcript_len", len(transcript),
		"truncated", wasTruncated,
	)

	raw, err := e.llm.Complete(ctx, llm.Request{
		System:      gradingSystemPrompt,
		User:        gradingUserPrompt(in.Criteria, transcript),
		MaxTokens:   4096,
		Temperature: 0.1,
		JSONMode:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("grading completion: %w", err)
	}

	var resp gradeResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		e.logger.Error("failed to parse grading response",
			"session_id", in.SessionID,
			"error", err,
			"raw", raw,
		)
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	closed := false
	evidence := noClosePlaceholder
	if resp.Closed.Set {
		closed = resp.Closed.Value
		evidence = resp.ClosedEvidence
	}

	grade := &Grade{
		SessionID:        in.SessionID,
		UserID:           in.UserID,
		AssignmentID:     in.AssignmentID,
		RubricID:         in.RubricID,
		TotalScore:       resp.TotalScore,
		MaxPossibleScore: resp.MaxPossibleScore,
		CriteriaGrades:   resp.CriteriaGrades,
		GradingModel:     e.llm.Model(),
	}
	if grade.CriteriaGrades == nil {
		grade.CriteriaGrades = []CriterionGrade{}
	}

	id, err := e.store.InsertGrade(ctx, grade)
	if err != nil {
		return nil, fmt.Errorf("persist grade: %w", err)
	}
	grade.ID = id

	// Closed and its evidence are written together, always.
	if err := e.store.SetClosed(ctx, in.SessionID, closed, evidence); err != nil {
		return nil, fmt.Errorf("update session closed: %w", err)
	}

	e.logger.Info("grading complete",
		"session_id", in.SessionID,
		"grade_id", id,
		"total_score", grade.TotalScore,
		"max_score", grade.MaxPossibleScore,
		"closed", closed,
	)

	return &Result{
		Grade:          grade,
		Closed:         closed,
		ClosedEvidence: evidence,
		WasTruncated:   wasTruncated,
	}, nil
}

// truncateTranscript caps the transcript at the ceiling and appends the
// truncation marker so the model knows the tail is missing. The cut backs up
// to a rune boundary so a multi-byte character is never split.
func truncateTranscript(transcript string) (string, bool) {
	if len(transcript) <= transcriptCeiling {
		return transcript, false
	}
	cut := transcriptCeiling
	for cut > 0 && !utf8.RuneStart(transcript[cut]) {
		cut--
	}
	return transcript[:cut] + truncationMarker, true
}
