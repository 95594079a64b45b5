package grading

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/PitchLabs-AI/debrief/internal/llm"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeCompleter returns a canned response and records the request.
type fakeCompleter struct {
	response string
	err      error
	requests []llm.Request
}

func (f *fakeCompleter) Complete(ctx context.Context, req llm.Request) (string, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func (f *fakeCompleter) Model() string { return "test-model" }

// fakeStore records writes and serves configured rubrics.
type fakeStore struct {
	assignmentCriteria map[int64][]Criterion
	defaultCriteria    []Criterion

	insertedGrades []*Grade
	closedWrites   []closedWrite
}

type closedWrite struct {
	sessionID int64
	closed    bool
	evidence  string
}

func (f *fakeStore) AssignmentRubric(ctx context.Context, assignmentID int64) ([]Criterion, int64, error) {
	return f.assignmentCriteria[assignmentID], assignmentID * 100, nil
}

func (f *fakeStore) DefaultRubric(ctx context.Context) ([]Criterion, int64, error) {
	if len(f.defaultCriteria) == 0 {
		return nil, 0, nil
	}
	return f.defaultCriteria, 1, nil
}

func (f *fakeStore) InsertGrade(ctx context.Context, g *Grade) (uuid.UUID, error) {
	f.insertedGrades = append(f.insertedGrades, g)
	return uuid.New(), nil
}

func (f *fakeStore) SetClosed(ctx context.Context, sessionID int64, closed bool, evidence string) error {
	f.closedWrites = append(f.closedWrites, closedWrite{sessionID, closed, evidence})
	return nil
}

func twoCriteria() []Criterion {
	return []Criterion{
		{Title: "Rapport", Description: "Builds rapport with the customer", MaxPoints: 10},
		{Title: "Close", Description: "Asks for the close", MaxPoints: 10},
	}
}

func gradedResponse() string {
	return `{
		"totalScore": 15,
		"maxPossibleScore": 20,
		"closed": true,
		"closedEvidence": "customer agreed to proceed",
		"criteriaGrades": [
			{"title": "Rapport", "description": "Builds rapport with the customer", "maxPoints": 10, "earnedPoints": 8, "evidence": ["\"sounds great\""], "reasoning": "warm open"},
			{"title": "Close", "description": "Asks for the close", "maxPoints": 10, "earnedPoints": 7, "evidence": [], "reasoning": "asked but late"}
		]
	}`
}

// checkGradeInvariants flags model-output defects: score sums must match and
// per-criterion scores must stay within bounds.
func checkGradeInvariants(t *testing.T, g *Grade) {
	t.Helper()
	var earned, max float64
	for _, cg := range g.CriteriaGrades {
		if cg.EarnedPoints < 0 || cg.EarnedPoints > cg.MaxPoints {
			t.Errorf("criterion %q earned %g outside [0, %g]", cg.Title, cg.EarnedPoints, cg.MaxPoints)
		}
		earned += cg.EarnedPoints
		max += cg.MaxPoints
	}
	if earned != g.TotalScore {
		t.Errorf("sum of earnedPoints %g != totalScore %g", earned, g.TotalScore)
	}
	if max != g.MaxPossibleScore {
		t.Errorf("sum of maxPoints %g != maxPossibleScore %g", max, g.MaxPossibleScore)
	}
}

func TestGradeSession_AssignmentRubric(t *testing.T) {
	assignmentID := int64(42)
	store := &fakeStore{
		assignmentCriteria: map[int64][]Criterion{42: twoCriteria()},
		defaultCriteria:    []Criterion{{Title: "Default", MaxPoints: 5}},
	}
	completer := &fakeCompleter{response: gradedResponse()}
	e := New(completer, store, discardLogger())

	result, err := e.GradeSession(context.Background(), 7, 3, &assignmentID, "You: hi\nAI Customer: hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result == nil {
		t.Fatal("expected a result")
	}

	if len(store.insertedGrades) != 1 {
		t.Fatalf("expected 1 grade inserted, got %d", len(store.insertedGrades))
	}
	g := store.insertedGrades[0]
	if g.TotalScore != 15 {
		t.Errorf("expected totalScore 15, got %g", g.TotalScore)
	}
	if g.MaxPossibleScore != 20 {
		t.Errorf("expected maxPossibleScore 20, got %g", g.MaxPossibleScore)
	}
	if g.RubricID == nil || *g.RubricID != 4200 {
		t.Errorf("expected rubric id from assignment, got %v", g.RubricID)
	}
	if g.GradingModel != "test-model" {
		t.Errorf("expected grading model audit tag, got %q", g.GradingModel)
	}
	checkGradeInvariants(t, g)

	if len(store.closedWrites) != 1 {
		t.Fatalf("expected 1 closed write, got %d", len(store.closedWrites))
	}
	cw := store.closedWrites[0]
	if !cw.closed || cw.evidence != "customer agreed to proceed" {
		t.Errorf("unexpected closed write: %+v", cw)
	}
	if cw.sessionID != 7 {
		t.Errorf("expected closed write for session 7, got %d", cw.sessionID)
	}

	// Prompt must carry the rendered rubric.
	prompt := completer.requests[0].User
	if !strings.Contains(prompt, "- Rapport: Builds rapport with the customer (Max: 10 points)") {
		t.Errorf("prompt missing rendered criterion:\n%s", prompt)
	}
}

func TestGradeSession_PracticeUsesDefaultRubric(t *testing.T) {
	store := &fakeStore{defaultCriteria: twoCriteria()}
	completer := &fakeCompleter{response: gradedResponse()}
	e := New(completer, store, discardLogger())

	result, err := e.GradeSession(context.Background(), 8, 3, nil, "You: hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result == nil {
		t.Fatal("expected a result for practice session with default rubric")
	}
	if g := store.insertedGrades[0]; g.RubricID == nil || *g.RubricID != 1 {
		t.Errorf("expected default rubric id 1, got %v", g.RubricID)
	}
}

func TestGradeSession_NoRubricSkips(t *testing.T) {
	store := &fakeStore{}
	completer := &fakeCompleter{response: gradedResponse()}
	e := New(completer, store, discardLogger())

	result, err := e.GradeSession(context.Background(), 9, 3, nil, "You: hi")
	if err != nil {
		t.Fatalf("expected no error for missing rubric, got %v", err)
	}
	if result != nil {
		t.Fatal("expected nil result when no rubric resolves")
	}
	if len(store.insertedGrades) != 0 {
		t.Errorf("expected no grade writes, got %d", len(store.insertedGrades))
	}
	if len(store.closedWrites) != 0 {
		t.Errorf("expected no closed writes, got %d", len(store.closedWrites))
	}
	if len(completer.requests) != 0 {
		t.Errorf("expected no LLM calls, got %d", len(completer.requests))
	}
}

func TestGradeSession_EmptyAssignmentRubricFallsBackToDefault(t *testing.T) {
	assignmentID := int64(5)
	store := &fakeStore{defaultCriteria: twoCriteria()}
	completer := &fakeCompleter{response: gradedResponse()}
	e := New(completer, store, discardLogger())

	result, err := e.GradeSession(context.Background(), 10, 3, &assignmentID, "You: hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result == nil {
		t.Fatal("expected default-rubric grading when assignment rubric is empty")
	}
}

func TestGradeTranscript_ClosedNormalization(t *testing.T) {
	tests := []struct {
		name         string
		closedJSON   string
		wantClosed   bool
		wantEvidence string
	}{
		{"uppercase string true", `"closed": "TRUE", "closedEvidence": "agreed",`, true, "agreed"},
		{"string false", `"closed": "false", "closedEvidence": "rejected",`, false, "rejected"},
		{"native true", `"closed": true, "closedEvidence": "agreed",`, true, "agreed"},
		{"absent", ``, false, noClosePlaceholder},
		{"null", `"closed": null, "closedEvidence": "ignored",`, false, noClosePlaceholder},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			response := fmt.Sprintf(`{
				"totalScore": 5, "maxPossibleScore": 10, %s
				"criteriaGrades": [
					{"title": "Rapport", "maxPoints": 10, "earnedPoints": 5, "evidence": [], "reasoning": "ok"}
				]
			}`, tt.closedJSON)

			store := &fakeStore{}
			e := New(&fakeCompleter{response: response}, store, discardLogger())

			result, err := e.GradeTranscript(context.Background(), Input{
				SessionID:  1,
				UserID:     2,
				Criteria:   twoCriteria(),
				Transcript: "You: hi",
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.Closed != tt.wantClosed {
				t.Errorf("expected closed=%v, got %v", tt.wantClosed, result.Closed)
			}
			if result.ClosedEvidence != tt.wantEvidence {
				t.Errorf("expected evidence %q, got %q", tt.wantEvidence, result.ClosedEvidence)
			}

			cw := store.closedWrites[0]
			if cw.closed != tt.wantClosed || cw.evidence != tt.wantEvidence {
				t.Errorf("session write disagrees with result: %+v", cw)
			}
		})
	}
}

func TestGradeTranscript_InvalidJSON(t *testing.T) {
	store := &fakeStore{}
	e := New(&fakeCompleter{response: "not json"}, store, discardLogger())

	_, err := e.GradeTranscript(context.Background(), Input{
		SessionID:  1,
		UserID:     2,
		Criteria:   twoCriteria(),
		Transcript: "You: hi",
	})
	if !errors.Is(err, ErrInvalidFormat) {
		t.Fatalf("expected ErrInvalidFormat, got %v", err)
	}
	if len(store.insertedGrades) != 0 {
		t.Errorf("expected no grade writes on parse failure, got %d", len(store.insertedGrades))
	}
	if len(store.closedWrites) != 0 {
		t.Errorf("expected no closed writes on parse failure, got %d", len(store.closedWrites))
	}
}

func TestGradeTranscript_UpstreamError(t *testing.T) {
	store := &fakeStore{}
	e := New(&fakeCompleter{err: errors.New("connection refused")}, store, discardLogger())

	_, err := e.GradeTranscript(context.Background(), Input{
		SessionID:  1,
		UserID:     2,
		Criteria:   twoCriteria(),
		Transcript: "You: hi",
	})
	if err == nil {
		t.Fatal("expected error for upstream failure")
	}
	if errors.Is(err, ErrInvalidFormat) {
		t.Error("upstream failure should not map to ErrInvalidFormat")
	}
}

func TestGradeTranscript_Truncation(t *testing.T) {
	long := strings.Repeat("a", 250_000)
	completer := &fakeCompleter{response: gradedResponse()}
	store := &fakeStore{}
	e := New(completer, store, discardLogger())

	result, err := e.GradeTranscript(context.Background(), Input{
		SessionID:  1,
		UserID:     2,
		Criteria:   twoCriteria(),
		Transcript: long,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.WasTruncated {
		t.Error("expected WasTruncated to be true")
	}
	checkGradeInvariants(t, result.Grade)

	prompt := completer.requests[0].User
	if !strings.Contains(prompt, truncationMarker) {
		t.Error("expected truncation marker in prompt")
	}
	start := strings.Index(prompt, "---\n") + len("---\n")
	end := strings.Index(prompt, truncationMarker)
	if end-start != transcriptCeiling {
		t.Errorf("expected exactly %d transcript chars before marker, got %d", transcriptCeiling, end-start)
	}
}

func TestGradeTranscript_TruncationKeepsRuneBoundary(t *testing.T) {
	// Position a multi-byte rune so the byte ceiling lands inside it.
	long := strings.Repeat("a", transcriptCeiling-1) + strings.Repeat("é", 100)
	completer := &fakeCompleter{response: gradedResponse()}
	e := New(completer, &fakeStore{}, discardLogger())

	result, err := e.GradeTranscript(context.Background(), Input{
		SessionID:  1,
		UserID:     2,
		Criteria:   twoCriteria(),
		Transcript: long,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.WasTruncated {
		t.Error("expected WasTruncated to be true")
	}

	prompt := completer.requests[0].User
	if !utf8.ValidString(prompt) {
		t.Error("truncation produced invalid UTF-8 in the prompt")
	}
	start := strings.Index(prompt, "---\n") + len("---\n")
	end := strings.Index(prompt, truncationMarker)
	kept := prompt[start:end]
	if len(kept) > transcriptCeiling {
		t.Errorf("kept %d bytes, ceiling is %d", len(kept), transcriptCeiling)
	}
	if !utf8.ValidString(kept) {
		t.Error("truncated transcript is not valid UTF-8")
	}
	if strings.ContainsRune(kept, utf8.RuneError) {
		t.Error("truncated transcript carries a replacement rune from a split character")
	}
}

// The engine trusts the model's arithmetic: out-of-bounds or mismatched scores
// are persisted verbatim so defects stay visible in the data, and it is
// checkGradeInvariants that flags them as model-output defects.
func TestGradeTranscript_OutOfBoundsScoresPersistedUnclamped(t *testing.T) {
	response := `{
		"totalScore": 14,
		"maxPossibleScore": 20,
		"closed": false,
		"closedEvidence": "",
		"criteriaGrades": [
			{"title": "Rapport", "description": "Builds rapport with the customer", "maxPoints": 10, "earnedPoints": 13, "evidence": [], "reasoning": "model overshot"},
			{"title": "Close", "description": "Asks for the close", "maxPoints": 10, "earnedPoints": 4, "evidence": [], "reasoning": "asked"}
		]
	}`
	completer := &fakeCompleter{response: response}
	store := &fakeStore{}
	e := New(completer, store, discardLogger())

	result, err := e.GradeTranscript(context.Background(), Input{
		SessionID:  1,
		UserID:     2,
		Criteria:   twoCriteria(),
		Transcript: "You: hi\nAI Customer: hello",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	g := store.insertedGrades[0]
	if g.CriteriaGrades[0].EarnedPoints != 13 {
		t.Errorf("expected earnedPoints 13 persisted unclamped, got %g", g.CriteriaGrades[0].EarnedPoints)
	}
	if g.TotalScore != 14 {
		t.Errorf("expected totalScore 14 persisted verbatim, got %g", g.TotalScore)
	}
	if g.MaxPossibleScore != 20 {
		t.Errorf("expected maxPossibleScore 20 persisted verbatim, got %g", g.MaxPossibleScore)
	}
	if result.Grade.CriteriaGrades[0].EarnedPoints != 13 || result.Grade.TotalScore != 14 {
		t.Errorf("expected result to carry the model's values verbatim, got %+v", result.Grade)
	}

	// Run the invariant checker against a throwaway T to confirm it flags
	// both the out-of-bounds criterion and the sum mismatch (13+4 != 14).
	scratch := &testing.T{}
	checkGradeInvariants(scratch, g)
	if !scratch.Failed() {
		t.Error("invariant checker must flag out-of-bounds and mismatched-sum grades")
	}
}

func TestGradeTranscript_ShortTranscriptNotTruncated(t *testing.T) {
	completer := &fakeCompleter{response: gradedResponse()}
	e := New(completer, &fakeStore{}, discardLogger())

	result, err := e.GradeTranscript(context.Background(), Input{
		SessionID:  1,
		UserID:     2,
		Criteria:   twoCriteria(),
		Transcript: "You: hi\nAI Customer: hello",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.WasTruncated {
		t.Error("short transcript should not be truncated")
	}
	if strings.Contains(completer.requests[0].User, truncationMarker) {
		t.Error("marker must not appear for short transcripts")
	}
}

func TestGradeTranscript_RequestShape(t *testing.T) {
	completer := &fakeCompleter{response: gradedResponse()}
	e := New(completer, &fakeStore{}, discardLogger())

	if _, err := e.GradeTranscript(context.Background(), Input{
		SessionID:  1,
		UserID:     2,
		Criteria:   twoCriteria(),
		Transcript: "You: hi",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := completer.requests[0]
	if !req.JSONMode {
		t.Error("grading must request JSON mode")
	}
	if req.Temperature > 0.2 {
		t.Errorf("grading should run at low temperature, got %g", req.Temperature)
	}
	if req.System == "" {
		t.Error("expected a system prompt")
	}
}

func TestFlexBool_RejectsGarbage(t *testing.T) {
	var b flexBool
	if err := json.Unmarshal([]byte(`"maybe"`), &b); err == nil {
		t.Fatal("expected error for unrecognized closed value")
	}
	if err := json.Unmarshal([]byte(`42`), &b); err == nil {
		t.Fatal("expected error for numeric closed value")
	}
}
